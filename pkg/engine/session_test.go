package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

type fakeStream struct {
	ch        chan string
	closeOnce sync.Once
	err       error
	// lazy streams keep their channel open on Cancel, like the HTTP
	// transport, which closes it from its reader goroutine.
	lazy bool

	mu       sync.Mutex
	cancelled int
}

// newFakeStream returns a stream preloaded with chunks. When closed is true
// the channel ends after the chunks, otherwise it stays open until Cancel.
func newFakeStream(closed bool, chunks ...string) *fakeStream {
	fs := &fakeStream{ch: make(chan string, len(chunks)+8)}
	for _, c := range chunks {
		fs.ch <- c
	}
	if closed {
		fs.close()
	}
	return fs
}

func (f *fakeStream) close() {
	f.closeOnce.Do(func() { close(f.ch) })
}

func (f *fakeStream) Chunks() <-chan string { return f.ch }

func (f *fakeStream) Cancel() {
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()
	if !f.lazy {
		f.close()
	}
}

func (f *fakeStream) Err() error { return f.err }

func (f *fakeStream) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type recordingOpener struct {
	mu       sync.Mutex
	streams  []*fakeStream
	requests []chat.ChatRequest
	err      error
}

func (o *recordingOpener) Open(_ context.Context, req chat.ChatRequest) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	s := o.streams[0]
	o.streams = o.streams[1:]
	return s, nil
}

type titleRecorder struct {
	mu     sync.Mutex
	titles map[string]string
}

func (t *titleRecorder) UpdateTitle(chatID, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.titles == nil {
		t.titles = map[string]string{}
	}
	t.titles[chatID] = title
}

type previewRecorder struct {
	mu   sync.Mutex
	sets [][]chat.Product
}

func (p *previewRecorder) SetProducts(products []chat.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = append(p.sets, products)
}

type routerRecorder struct {
	mu      sync.Mutex
	adopted []string
}

func (r *routerRecorder) AdoptChat(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adopted = append(r.adopted, chatID)
}

const sampleStream = `data: {"chat_id":"new1","status":"pending","content":{"message":"상품을 찾고 있어요"}}
data: {"chat_id":"new1","status":"title","content":{"message":"예금 추천"}}
data: {"chat_id":"new1","status":"pending","content":{"products":[{"name":"P","product_type":null,"description":null,"institution":"bank","details":null,"tags":["a"],"options":[]}]}}
data: {"chat_id":"new1","status":"response","content":{"message":"추천 "}}
data: {"chat_id":"new1","status":"response","content":{"message":"상품입니다"}}
data: {"chat_id":"new1","status":"response","content":{"products":[{"name":"P","product_type":null,"description":null,"institution":"bank","details":null,"tags":["a"],"options":[]}]}}
data: {"chat_id":"new1","status":"stop","content":null}
`

func TestSession_FullStream(t *testing.T) {
	opener := &recordingOpener{streams: []*fakeStream{newFakeStream(true, sampleStream)}}
	titles := &titleRecorder{}
	previews := &previewRecorder{}
	router := &routerRecorder{}
	var completed []Snapshot
	s := NewSession(opener,
		WithTitleUpdater(titles),
		WithProductPreview(previews),
		WithRouter(router),
		WithCompletionHook(func(snap Snapshot) { completed = append(completed, snap) }),
	)

	require.NoError(t, s.SendMessage(context.Background(), "예금 추천해줘"))

	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Equal(t, "new1", snap.ChatID)
	require.Equal(t, "", snap.Pending)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "추천 상품입니다", *snap.Messages[1].Content.Message)
	require.Len(t, snap.Messages[1].Content.Products, 1)
	require.Equal(t, "P", *snap.Messages[1].Content.Products[0].Name)

	require.Equal(t, map[string]string{"new1": "예금 추천"}, titles.titles)
	require.Equal(t, []string{"new1"}, router.adopted)
	require.Len(t, previews.sets, 2)
	require.Nil(t, previews.sets[0])
	require.Len(t, previews.sets[1], 1)
	require.Len(t, completed, 1)

	require.Len(t, opener.requests, 1)
	require.Nil(t, opener.requests[0].ChatID)
}

func TestSession_ChunkBoundaryIndependence(t *testing.T) {
	run := func(chunks []string) Snapshot {
		opener := &recordingOpener{streams: []*fakeStream{newFakeStream(true, chunks...)}}
		s := NewSession(opener)
		require.NoError(t, s.SendMessage(context.Background(), "q"))
		return s.Snapshot()
	}

	whole := run([]string{sampleStream})

	var bytewise []string
	for i := 0; i < len(sampleStream); i++ {
		bytewise = append(bytewise, sampleStream[i:i+1])
	}
	require.Equal(t, whole, run(bytewise))

	for _, size := range []int{3, 7, 64} {
		var chunks []string
		for i := 0; i < len(sampleStream); i += size {
			end := i + size
			if end > len(sampleStream) {
				end = len(sampleStream)
			}
			chunks = append(chunks, sampleStream[i:end])
		}
		require.Equal(t, whole, run(chunks), "chunk size %d", size)
	}
}

func TestSession_SecondTurnSendsChatID(t *testing.T) {
	opener := &recordingOpener{streams: []*fakeStream{
		newFakeStream(true, sampleStream),
		newFakeStream(true, `data: {"chat_id":"new1","status":"response","content":{"message":"again"}}`+"\n"),
	}}
	router := &routerRecorder{}
	s := NewSession(opener, WithRouter(router))

	require.NoError(t, s.SendMessage(context.Background(), "first"))
	require.NoError(t, s.SendMessage(context.Background(), "second"))

	require.Len(t, opener.requests, 2)
	require.NotNil(t, opener.requests[1].ChatID)
	require.Equal(t, "new1", *opener.requests[1].ChatID)
	require.Equal(t, []string{"new1"}, router.adopted)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 4)
	require.Equal(t, "again", *snap.Messages[3].Content.Message)
	require.Equal(t, StateStopped, snap.State)
}

func TestSession_MalformedFrameIsSkipped(t *testing.T) {
	body := `data: {"chat_id":"c1","status":"response","content":{"message":"A"}}
data: {not json
data: {"chat_id":"c1","status":"response","content":{"message":"B"}}
data: {"chat_id":"c1","status":"stop","content":null}
`
	opener := &recordingOpener{streams: []*fakeStream{newFakeStream(true, body)}}
	s := NewSession(opener)
	require.NoError(t, s.SendMessage(context.Background(), "q"))

	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Equal(t, "AB", *snap.Messages[1].Content.Message)
}

func TestSession_SentinelCancelsTransport(t *testing.T) {
	fs := newFakeStream(false,
		`data: {"chat_id":"c1","status":"response","content":{"message":"A"}}`+"\n",
		"data: [DONE]\n",
		`data: {"chat_id":"c1","status":"response","content":{"message":"late"}}`+"\n",
	)
	opener := &recordingOpener{streams: []*fakeStream{fs}}
	s := NewSession(opener)
	require.NoError(t, s.SendMessage(context.Background(), "q"))

	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Equal(t, "A", *snap.Messages[1].Content.Message)
	require.Equal(t, 1, fs.cancelCount())
}

func TestSession_TransportErrorReplacesPartialAnswer(t *testing.T) {
	fs := newFakeStream(true, `data: {"chat_id":"c1","status":"response","content":{"message":"half"}}`+"\n")
	fs.err = errors.New("connection reset by peer")
	opener := &recordingOpener{streams: []*fakeStream{fs}}
	s := NewSession(opener)
	require.NoError(t, s.SendMessage(context.Background(), "q"))

	snap := s.Snapshot()
	require.Equal(t, StateFailed, snap.State)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, FailureMessage, *snap.Messages[1].Content.Message)
}

func TestSession_OpenErrorFoldsIntoTranscript(t *testing.T) {
	opener := &recordingOpener{err: errors.New("dial tcp: refused")}
	var completed int
	s := NewSession(opener, WithCompletionHook(func(Snapshot) { completed++ }))

	require.NoError(t, s.SendMessage(context.Background(), "q"))
	snap := s.Snapshot()
	require.Equal(t, StateFailed, snap.State)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, chat.RoleUser, snap.Messages[0].Role)
	require.Equal(t, FailureMessage, *snap.Messages[1].Content.Message)
	require.Equal(t, 1, completed)

	require.NoError(t, s.SendMessage(context.Background(), "retry"))
}

func TestSession_RejectsEmptyMessage(t *testing.T) {
	opener := &recordingOpener{}
	s := NewSession(opener)
	require.ErrorIs(t, s.SendMessage(context.Background(), "  \n"), ErrEmptyMessage)
	require.Empty(t, opener.requests)
	require.Empty(t, s.Snapshot().Messages)
}

func TestSession_GuardsConcurrentSend(t *testing.T) {
	fs := newFakeStream(false)
	opener := &recordingOpener{streams: []*fakeStream{fs}}
	s := NewSession(opener)

	require.NoError(t, s.SendMessageAsync(context.Background(), "first"))
	require.ErrorIs(t, s.SendMessage(context.Background(), "second"), ErrStreamActive)
	require.ErrorIs(t, s.Reset(), ErrStreamActive)
	require.Len(t, opener.requests, 1)

	fs.close()
	s.Wait()
	require.Equal(t, StateStopped, s.State())
	require.Len(t, s.Snapshot().Messages, 1)
}

func TestSession_CancelKeepsPartialOutput(t *testing.T) {
	fs := newFakeStream(false)
	opener := &recordingOpener{streams: []*fakeStream{fs}}
	var completed int
	var mu sync.Mutex
	s := NewSession(opener, WithCompletionHook(func(Snapshot) {
		mu.Lock()
		completed++
		mu.Unlock()
	}))

	require.NoError(t, s.SendMessageAsync(context.Background(), "q"))
	fs.ch <- `data: {"chat_id":"c1","status":"response","content":{"message":"Hel"}}` + "\n"
	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, 5*time.Millisecond)

	require.True(t, s.CancelActive())
	require.False(t, s.CancelActive())
	s.Wait()

	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "Hel", *snap.Messages[1].Content.Message)
	require.Equal(t, 1, fs.cancelCount())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, completed)
}

func TestSession_ResendAfterCancelIsNotFinalizedByOldStream(t *testing.T) {
	first := newFakeStream(false)
	first.lazy = true
	second := newFakeStream(false)
	opener := &recordingOpener{streams: []*fakeStream{first, second}}
	var mu sync.Mutex
	var completed []Snapshot
	s := NewSession(opener, WithCompletionHook(func(snap Snapshot) {
		mu.Lock()
		completed = append(completed, snap)
		mu.Unlock()
	}))
	lastText := func() string {
		msgs := s.Snapshot().Messages
		return msgs[len(msgs)-1].Content.Text()
	}

	require.NoError(t, s.SendMessageAsync(context.Background(), "q1"))
	first.ch <- `data: {"chat_id":"c1","status":"response","content":{"message":"A"}}` + "\n"
	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, 5*time.Millisecond)
	require.True(t, s.CancelActive())

	// leftover frame of the cancelled stream, still buffered
	first.ch <- `data: {"chat_id":"c1","status":"response","content":{"message":"B"}}` + "\n"

	require.NoError(t, s.SendMessageAsync(context.Background(), "q2"))
	second.ch <- `data: {"chat_id":"c1","status":"response","content":{"message":"X"}}` + "\n"
	require.Eventually(t, func() bool {
		return s.State() == StateStreaming && lastText() == "X"
	}, time.Second, 5*time.Millisecond)

	first.close()
	require.Never(t, func() bool { return s.State() != StateStreaming }, 50*time.Millisecond, 5*time.Millisecond)

	second.ch <- `data: {"chat_id":"c1","status":"response","content":{"message":"Y"}}` + "\n" +
		`data: {"chat_id":"c1","status":"stop","content":null}` + "\n"
	second.close()
	s.Wait()

	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Len(t, snap.Messages, 4)
	require.Equal(t, "A", snap.Messages[1].Content.Text())
	require.Equal(t, "XY", snap.Messages[3].Content.Text())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completed, 2)
	require.Equal(t, "A", completed[0].Messages[1].Content.Text())
	require.Equal(t, "XY", completed[1].Messages[3].Content.Text())
}

func TestSession_CancelWithNothingOpen(t *testing.T) {
	s := NewSession(&recordingOpener{})
	require.False(t, s.CancelActive())
	require.Equal(t, StateIdle, s.State())
}

func TestSession_LoadAndReset(t *testing.T) {
	s := NewSession(&recordingOpener{})
	history := []chat.ChatMessage{
		chat.UserMessage("hi"),
		{Role: chat.RoleAssistant, Content: chat.MessageContent{Message: chat.String("hello")}},
	}
	require.NoError(t, s.Load("c9", history))
	require.Equal(t, "c9", s.ChatID())
	require.Equal(t, history, s.Snapshot().Messages)

	require.NoError(t, s.Reset())
	require.Equal(t, "", s.ChatID())
	require.Empty(t, s.Snapshot().Messages)
}

func TestSession_ObserverSeesProgress(t *testing.T) {
	opener := &recordingOpener{streams: []*fakeStream{newFakeStream(true, sampleStream)}}
	var states []State
	s := NewSession(opener, WithObserver(func(snap Snapshot) { states = append(states, snap.State) }))
	require.NoError(t, s.SendMessage(context.Background(), "q"))

	require.Equal(t, StatePending, states[0])
	require.Contains(t, states, StateStreaming)
	require.Equal(t, StateStopped, states[len(states)-1])
}

func TestSession_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range strings.SplitAfter(sampleStream, "\n") {
			_, _ = w.Write([]byte(line))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	client := transport.NewClient(srv.URL, transport.WithReadSize(16))
	titles := &titleRecorder{}
	s := NewSession(HTTPOpener(client), WithTitleUpdater(titles))
	require.NoError(t, s.SendMessage(context.Background(), "q"))

	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Equal(t, "추천 상품입니다", *snap.Messages[1].Content.Message)
	require.Equal(t, "예금 추천", titles.titles["new1"])
}
