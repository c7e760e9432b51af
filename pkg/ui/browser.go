package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

const browserListWidth = 40

var (
	browserTitleStyle = lipgloss.NewStyle().MarginLeft(2).Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	transcriptPane    = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(0, 1)
	noSelectionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Align(lipgloss.Center).
				PaddingTop(2)
)

// TranscriptLoader fetches the messages of a chat for the preview pane.
type TranscriptLoader func(ctx context.Context, chatID string) ([]chat.ChatMessage, error)

type chatItem struct {
	chat.ChatPreview
}

func (i chatItem) Title() string {
	if i.ChatPreview.Title == "" {
		return i.ChatID
	}
	return i.ChatPreview.Title
}

func (i chatItem) Description() string {
	return i.UpdatedAt.Local().Format("2006-01-02 15:04") + "  " + i.ChatID
}

func (i chatItem) FilterValue() string { return i.ChatPreview.Title + " " + i.ChatID }

type transcriptLoadedMsg struct {
	chatID string
	msgs   []chat.ChatMessage
	err    error
}

// Browser is a two-pane chat history browser: the chat list on the left,
// the transcript of the selected chat on the right. Enter picks the chat.
type Browser struct {
	ctx      context.Context
	load     TranscriptLoader
	list     list.Model
	viewport viewport.Model
	renderer *Renderer

	cache   map[string][]chat.ChatMessage
	current string
	picked  string

	ready bool
}

func NewBrowser(ctx context.Context, items []chat.ChatPreview, load TranscriptLoader) Browser {
	listItems := make([]list.Item, 0, len(items))
	for _, it := range items {
		listItems = append(listItems, chatItem{it})
	}
	l := list.New(listItems, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Chats"
	l.Styles.Title = browserTitleStyle

	b := Browser{
		ctx:      ctx,
		load:     load,
		list:     l,
		viewport: viewport.New(80, 20),
		renderer: &Renderer{},
		cache:    map[string][]chat.ChatMessage{},
	}
	if len(items) > 0 {
		b.current = items[0].ChatID
	}
	return b
}

// Picked returns the chat chosen with enter, if any.
func (b Browser) Picked() string {
	return b.picked
}

func (b Browser) Init() tea.Cmd {
	if b.current == "" {
		return nil
	}
	return b.loadTranscript(b.current)
}

func (b *Browser) selectionChanged() tea.Cmd {
	it, ok := b.list.SelectedItem().(chatItem)
	if !ok || it.ChatID == b.current {
		return nil
	}
	b.current = it.ChatID
	if msgs, ok := b.cache[it.ChatID]; ok {
		b.show(msgs)
		return nil
	}
	b.viewport.SetContent(noSelectionStyle.Render("loading…"))
	return b.loadTranscript(it.ChatID)
}

func (b *Browser) loadTranscript(chatID string) tea.Cmd {
	ctx, load := b.ctx, b.load
	return func() tea.Msg {
		msgs, err := load(ctx, chatID)
		return transcriptLoadedMsg{chatID: chatID, msgs: msgs, err: err}
	}
}

func (b *Browser) show(msgs []chat.ChatMessage) {
	b.viewport.SetContent(b.renderer.Transcript(msgs, ""))
	b.viewport.GotoTop()
}

func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if b.list.FilterState() != list.Filtering {
			switch msg.String() {
			case "q", "ctrl+c", "esc":
				return b, tea.Quit
			case "enter":
				if it, ok := b.list.SelectedItem().(chatItem); ok {
					b.picked = it.ChatID
				}
				return b, tea.Quit
			case "pgdown", "pgup", "J", "K":
				var cmd tea.Cmd
				b.viewport, cmd = b.viewport.Update(translateScroll(msg))
				return b, cmd
			}
		}

	case tea.WindowSizeMsg:
		b.list.SetSize(browserListWidth, maxInt(1, msg.Height-2))
		b.viewport.Width = maxInt(1, msg.Width-browserListWidth-6)
		b.viewport.Height = maxInt(1, msg.Height-4)
		b.renderer = NewRenderer(b.viewport.Width - 2)
		if msgs, ok := b.cache[b.current]; ok {
			b.show(msgs)
		}
		b.ready = true

	case transcriptLoadedMsg:
		if msg.err != nil {
			if msg.chatID == b.current {
				b.viewport.SetContent(errorStyle.Render(fmt.Sprintf("could not load %s: %v", msg.chatID, msg.err)))
			}
			return b, nil
		}
		b.cache[msg.chatID] = msg.msgs
		if msg.chatID == b.current {
			b.show(msg.msgs)
		}
		return b, nil
	}

	var cmd tea.Cmd
	b.list, cmd = b.list.Update(msg)
	cmds = append(cmds, cmd, b.selectionChanged())
	return b, tea.Batch(cmds...)
}

// translateScroll maps the transcript scroll keys onto viewport keys.
func translateScroll(msg tea.KeyMsg) tea.KeyMsg {
	switch msg.String() {
	case "J":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "K":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return msg
}

func (b Browser) View() string {
	if !b.ready {
		return "Loading..."
	}
	right := b.viewport.View()
	if len(b.list.Items()) == 0 {
		right = noSelectionStyle.Render("no chats")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		b.list.View(),
		transcriptPane.Width(b.viewport.Width+2).Render(right),
	)
}

var _ tea.Model = Browser{}
