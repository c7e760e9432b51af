package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/engine"
)

type snapshotMsg engine.Snapshot

type effectMsg struct {
	effect engine.Effect
}

type chatAdoptedMsg struct {
	chatID string
}

type chatListMsg struct {
	items []chat.ChatPreview
}

type bridgeClosedMsg struct{}

// Bridge turns session callbacks into tea messages. Callbacks block until
// the program picks the message up, so the UI sees updates in the order the
// session produced them; after Close they are dropped.
type Bridge struct {
	ch        chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

func NewBridge() *Bridge {
	return &Bridge{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

func (b *Bridge) send(msg tea.Msg) {
	select {
	case <-b.done:
	case b.ch <- msg:
	}
}

// Observe is meant for engine.WithObserver.
func (b *Bridge) Observe(snap engine.Snapshot) {
	b.send(snapshotMsg(snap))
}

// HandleEffect is meant for engine.WithEffectHandler.
func (b *Bridge) HandleEffect(e engine.Effect) {
	b.send(effectMsg{effect: e})
}

// AdoptChat implements engine.Router.
func (b *Bridge) AdoptChat(chatID string) {
	b.send(chatAdoptedMsg{chatID: chatID})
}

// ListChanged is meant for chatlist.WithChangeHook.
func (b *Bridge) ListChanged(items []chat.ChatPreview) {
	b.send(chatListMsg{items: items})
}

func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.ch:
			return msg
		case <-b.done:
			return bridgeClosedMsg{}
		}
	}
}

var _ engine.Router = &Bridge{}
