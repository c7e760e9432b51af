package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/engine"
)

func startBus(t *testing.T) (*Bus, <-chan Notification) {
	t.Helper()
	bus, err := NewInMemoryBus(WithTopic("test.notifications"))
	require.NoError(t, err)

	received := make(chan Notification, 16)
	bus.AddHandler("collector", func(n Notification) error {
		received <- n
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		<-done
	})

	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not start")
	}
	return bus, received
}

func next(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestBus_PublishesEffects(t *testing.T) {
	bus, received := startBus(t)
	require.Equal(t, "test.notifications", bus.Topic())

	bus.HandleEffect(engine.ChatBound{ChatID: "c1"})
	n := next(t, received)
	require.Equal(t, KindChatBound, n.Kind)
	require.Equal(t, "c1", n.ChatID)
	require.False(t, n.At.IsZero())

	bus.HandleEffect(engine.TitleChanged{ChatID: "c1", Title: "예금 비교"})
	n = next(t, received)
	require.Equal(t, KindTitleChanged, n.Kind)
	require.Equal(t, "예금 비교", n.Title)

	name := "P"
	bus.HandleEffect(engine.ProductsChanged{ChatID: "c1", Products: []chat.Product{{Name: &name}}})
	n = next(t, received)
	require.Equal(t, KindProductsChanged, n.Kind)
	require.Len(t, n.Products, 1)
	require.Equal(t, "P", *n.Products[0].Name)
}

func TestBus_StreamFinished(t *testing.T) {
	bus, received := startBus(t)

	bus.StreamFinished(engine.Snapshot{
		ChatID:   "c2",
		State:    engine.StateFailed,
		Messages: []chat.ChatMessage{chat.UserMessage("q"), chat.UserMessage("x")},
	})
	n := next(t, received)
	require.Equal(t, KindStreamFinished, n.Kind)
	require.Equal(t, "failed", n.State)
	require.Equal(t, 2, n.Messages)
}

func TestBus_WiredIntoSession(t *testing.T) {
	bus, received := startBus(t)

	body := `data: {"chat_id":"s1","status":"title","content":{"message":"title"}}` + "\n" +
		`data: {"chat_id":"s1","status":"response","content":{"message":"hi"}}` + "\n"
	opener := engine.OpenerFunc(func(context.Context, chat.ChatRequest) (engine.Stream, error) {
		return newStaticStream(body), nil
	})
	s := engine.NewSession(opener,
		engine.WithEffectHandler(bus.HandleEffect),
		engine.WithCompletionHook(bus.StreamFinished),
	)
	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	kinds := []Kind{}
	for i := 0; i < 3; i++ {
		kinds = append(kinds, next(t, received).Kind)
	}
	require.Equal(t, []Kind{KindChatBound, KindTitleChanged, KindStreamFinished}, kinds)
}

func TestNewBus_RequiresPubSub(t *testing.T) {
	_, err := NewBus(nil, nil)
	require.Error(t, err)
}

type staticStream struct {
	ch chan string
}

func newStaticStream(chunks ...string) *staticStream {
	ch := make(chan string, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &staticStream{ch: ch}
}

func (s *staticStream) Chunks() <-chan string { return s.ch }
func (s *staticStream) Cancel()              {}
func (s *staticStream) Err() error           { return nil }
