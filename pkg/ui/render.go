package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

var (
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	pendingStyle        = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#888888"))
	productNameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	productMetaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	productBoxStyle     = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(0, 1)
)

// Renderer formats transcripts for the terminal. Assistant text goes through
// glamour when a markdown renderer is configured.
type Renderer struct {
	markdown *glamour.TermRenderer
}

// NewRenderer builds a renderer wrapping at width. A width <= 0 disables
// markdown rendering.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		return &Renderer{}
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("markdown renderer unavailable")
		return &Renderer{}
	}
	return &Renderer{markdown: md}
}

func (r *Renderer) text(s string) string {
	if r == nil || r.markdown == nil || strings.TrimSpace(s) == "" {
		return s
	}
	out, err := r.markdown.Render(s)
	if err != nil {
		return s
	}
	return strings.Trim(out, "\n")
}

// Transcript renders messages followed by the pending status line, if any.
func (r *Renderer) Transcript(msgs []chat.ChatMessage, pending string) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch m.Role {
		case chat.RoleUser:
			sb.WriteString(userLabelStyle.Render("you"))
			sb.WriteString("\n")
			sb.WriteString(m.Content.Text())
		default:
			sb.WriteString(assistantLabelStyle.Render("assistant"))
			sb.WriteString("\n")
			if m.Content.HasMessage() {
				sb.WriteString(r.text(m.Content.Text()))
			}
			if len(m.Content.Products) > 0 {
				if m.Content.HasMessage() {
					sb.WriteString("\n")
				}
				sb.WriteString(Products(m.Content.Products))
			}
		}
	}
	if pending != "" {
		if len(msgs) > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pendingStyle.Render(pending))
	}
	return sb.String()
}

// Products renders a compact product card list.
func Products(products []chat.Product) string {
	cards := make([]string, 0, len(products))
	for _, p := range products {
		cards = append(cards, productBoxStyle.Render(productCard(p)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func productCard(p chat.Product) string {
	var lines []string
	lines = append(lines, productNameStyle.Render(deref(p.Name, "(unnamed)")))

	var meta []string
	if p.Institution != nil && *p.Institution != "" {
		meta = append(meta, *p.Institution)
	}
	if p.ProductType != nil && *p.ProductType != "" {
		meta = append(meta, *p.ProductType)
	}
	if len(meta) > 0 {
		lines = append(lines, productMetaStyle.Render(strings.Join(meta, " · ")))
	}
	if p.Description != nil && *p.Description != "" {
		lines = append(lines, *p.Description)
	}
	for _, o := range p.Options {
		lines = append(lines, productMetaStyle.Render(fmt.Sprintf("%s: %s", deref(o.Category, "-"), deref(o.Value, "-"))))
	}
	if len(p.Tags) > 0 {
		lines = append(lines, productMetaStyle.Render("#"+strings.Join(p.Tags, " #")))
	}
	return strings.Join(lines, "\n")
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// LastAssistantText returns the text of the latest assistant message.
func LastAssistantText(msgs []chat.ChatMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant && msgs[i].Content.HasMessage() {
			return msgs[i].Content.Text(), true
		}
	}
	return "", false
}
