// Package ui is the terminal chat front end. It renders session snapshots
// and forwards keystrokes to the session.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/chatlist"
	"github.com/go-go-golems/streamchat/pkg/engine"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62")).Padding(0, 1)
	stateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	listPane    = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	selectedChatStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62"))
)

const listWidth = 28

// Session is the part of engine.Session the model drives.
type Session interface {
	Snapshot() engine.Snapshot
	SendMessageAsync(ctx context.Context, text string) error
	CancelActive() bool
	Reset() error
}

// CopyFunc writes text to the system clipboard.
type CopyFunc func(text string) error

type Model struct {
	ctx     context.Context
	session Session
	bridge  *Bridge
	list    *chatlist.Store
	preview *chatlist.Preview
	copy    CopyFunc

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *Renderer

	snap     engine.Snapshot
	chats    []chat.ChatPreview
	title    string
	status   string
	err      error
	showList bool

	width  int
	height int
}

type ModelOption func(*Model)

func WithChatList(list *chatlist.Store) ModelOption {
	return func(m *Model) {
		m.list = list
	}
}

func WithPreview(p *chatlist.Preview) ModelOption {
	return func(m *Model) {
		m.preview = p
	}
}

func WithCopyFunc(f CopyFunc) ModelOption {
	return func(m *Model) {
		if f != nil {
			m.copy = f
		}
	}
}

func NewModel(ctx context.Context, session Session, bridge *Bridge, options ...ModelOption) Model {
	input := textarea.New()
	input.Placeholder = "Ask something… (enter to send, ctrl+c to stop)"
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		ctx:      ctx,
		session:  session,
		bridge:   bridge,
		copy:     clipboard.WriteAll,
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		renderer: &Renderer{},
		snap:     session.Snapshot(),
	}
	for _, o := range options {
		o(&m)
	}
	if m.list != nil {
		m.chats = m.list.Items()
		if p, ok := m.list.Get(m.snap.ChatID); ok {
			m.title = p.Title
		}
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.bridge.wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.session.CancelActive() {
				m.status = "stopped"
				return m, nil
			}
			return m, tea.Quit
		case "esc":
			if m.session.CancelActive() {
				m.status = "stopped"
			}
			return m, nil
		case "ctrl+d":
			return m, tea.Quit
		case "enter":
			return m, m.send()
		case "ctrl+y":
			m.copyLast()
			return m, nil
		case "ctrl+n":
			m.newChat()
			return m, nil
		case "ctrl+l":
			m.showList = !m.showList
			m.resize(m.width, m.height)
			return m, nil
		}

	case snapshotMsg:
		m.snap = engine.Snapshot(msg)
		if m.snap.State.Terminal() && m.preview != nil {
			m.preview.Reset()
		}
		m.refresh()
		return m, m.bridge.wait()

	case effectMsg:
		switch e := msg.effect.(type) {
		case engine.TitleChanged:
			m.title = e.Title
		case engine.ProductsChanged:
			m.status = fmt.Sprintf("%d product(s) found", len(e.Products))
		}
		m.refresh()
		return m, m.bridge.wait()

	case chatAdoptedMsg:
		m.status = "chat " + msg.chatID
		log.Debug().Str("component", "ui").Str("chat_id", msg.chatID).Msg("chat adopted")
		return m, m.bridge.wait()

	case chatListMsg:
		m.chats = msg.items
		if p, ok := findChat(msg.items, m.snap.ChatID); ok && p.Title != "" {
			m.title = p.Title
		}
		return m, m.bridge.wait()

	case bridgeClosedMsg:
		return m, nil

	case sendFailedMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

type sendFailedMsg struct {
	err error
}

func (m *Model) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if m.snap.State.Active() {
		m.err = engine.ErrStreamActive
		return nil
	}
	m.input.Reset()
	m.err = nil
	m.status = ""
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		if err := session.SendMessageAsync(ctx, text); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (m *Model) copyLast() {
	text, ok := LastAssistantText(m.snap.Messages)
	if !ok {
		m.status = "nothing to copy"
		return
	}
	if err := m.copy(text); err != nil {
		m.err = errors.Wrap(err, "copy to clipboard")
		return
	}
	m.status = "copied last answer"
}

func (m *Model) newChat() {
	if err := m.session.Reset(); err != nil {
		m.err = err
		return
	}
	if m.preview != nil {
		m.preview.Reset()
	}
	m.title = ""
	m.status = "new chat"
	m.err = nil
}

func (m *Model) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	mainWidth := width
	if m.showList {
		mainWidth -= listWidth + 4
	}
	m.input.SetWidth(mainWidth)
	m.viewport.Width = mainWidth
	m.viewport.Height = maxInt(1, height-m.input.Height()-4)
	m.renderer = NewRenderer(mainWidth - 4)
	m.refresh()
}

func (m *Model) refresh() {
	content := m.renderer.Transcript(m.snap.Messages, m.snap.Pending)
	if m.preview != nil && m.snap.State.Active() {
		if ps := m.preview.Products(); len(ps) > 0 {
			content += "\n\n" + Products(ps)
		}
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	title := m.title
	if title == "" {
		title = "new chat"
	}
	state := m.snap.State.String()
	if m.snap.State.Active() {
		state = m.spinner.View() + " " + state
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, headerStyle.Render(title), stateStyle.Render(state))

	footer := statusStyle.Render(m.status)
	if m.err != nil {
		footer = errorStyle.Render(m.err.Error())
	}

	main := lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer, m.input.View())
	if !m.showList {
		return main
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, listPane.Width(listWidth).Render(m.renderList()), main)
}

func (m Model) renderList() string {
	if len(m.chats) == 0 {
		return statusStyle.Render("no chats yet")
	}
	lines := make([]string, 0, len(m.chats))
	for _, c := range m.chats {
		t := c.Title
		if t == "" {
			t = c.ChatID
		}
		if r := []rune(t); len(r) > listWidth-2 {
			t = string(r[:listWidth-3]) + "…"
		}
		if c.ChatID == m.snap.ChatID {
			t = selectedChatStyle.Render(t)
		}
		lines = append(lines, t)
	}
	return strings.Join(lines, "\n")
}

func findChat(items []chat.ChatPreview, chatID string) (chat.ChatPreview, bool) {
	if chatID == "" {
		return chat.ChatPreview{}, false
	}
	for _, it := range items {
		if it.ChatID == chatID {
			return it, true
		}
	}
	return chat.ChatPreview{}, false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ tea.Model = Model{}
