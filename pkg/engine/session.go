package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/sse"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

var (
	ErrStreamActive = errors.New("a stream is already open for this session")
	ErrEmptyMessage = errors.New("message is empty")
)

// Stream is an open response body delivered as text chunks. Chunks is closed
// when the connection ends; Err is only meaningful afterwards.
type Stream interface {
	Chunks() <-chan string
	Cancel()
	Err() error
}

type StreamOpener interface {
	Open(ctx context.Context, req chat.ChatRequest) (Stream, error)
}

type OpenerFunc func(ctx context.Context, req chat.ChatRequest) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, req chat.ChatRequest) (Stream, error) {
	return f(ctx, req)
}

// HTTPOpener opens streams with the HTTP transport client.
func HTTPOpener(c *transport.Client) StreamOpener {
	return OpenerFunc(func(ctx context.Context, req chat.ChatRequest) (Stream, error) {
		s, err := c.Open(ctx, req)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

type TitleUpdater interface {
	UpdateTitle(chatID string, title string)
}

// ProductPreview receives the working product set of a pending turn; nil
// clears it.
type ProductPreview interface {
	SetProducts(products []chat.Product)
}

// Router adopts a newly assigned chat id as the active conversation.
type Router interface {
	AdoptChat(chatID string)
}

// Snapshot is a read-only copy of the session for rendering code.
type Snapshot struct {
	ChatID   string
	State    State
	Pending  string
	Messages []chat.ChatMessage
}

// Session owns one conversation: its reducer, the cancellation controller
// and the collaborators notified about side-channel updates. Reducer calls
// are serialized by mu; collaborators and observers run outside the lock.
type Session struct {
	opener  StreamOpener
	cancels CancellationController

	mu      sync.Mutex
	reducer *Reducer
	// current is the token of the stream allowed to mutate the reducer;
	// zero when none is open.
	current uint64

	titles         []TitleUpdater
	previews       []ProductPreview
	routers        []Router
	effectHandlers []func(Effect)
	observers      []func(Snapshot)
	completions    []func(Snapshot)
	reducerOptions []ReducerOption

	wg sync.WaitGroup
}

type Option func(*Session)

func WithTitleUpdater(t TitleUpdater) Option {
	return func(s *Session) {
		if t != nil {
			s.titles = append(s.titles, t)
		}
	}
}

func WithProductPreview(p ProductPreview) Option {
	return func(s *Session) {
		if p != nil {
			s.previews = append(s.previews, p)
		}
	}
}

func WithRouter(r Router) Option {
	return func(s *Session) {
		if r != nil {
			s.routers = append(s.routers, r)
		}
	}
}

// WithEffectHandler receives every side-channel effect in order.
func WithEffectHandler(h func(Effect)) Option {
	return func(s *Session) {
		if h != nil {
			s.effectHandlers = append(s.effectHandlers, h)
		}
	}
}

// WithObserver is called with a fresh snapshot after every state change.
func WithObserver(o func(Snapshot)) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithCompletionHook is called once per stream after it was finalized.
func WithCompletionHook(h func(Snapshot)) Option {
	return func(s *Session) {
		if h != nil {
			s.completions = append(s.completions, h)
		}
	}
}

func WithReducerOptions(options ...ReducerOption) Option {
	return func(s *Session) {
		s.reducerOptions = append(s.reducerOptions, options...)
	}
}

func NewSession(opener StreamOpener, options ...Option) *Session {
	s := &Session{opener: opener}
	for _, o := range options {
		o(s)
	}
	s.reducer = NewReducer(s.reducerOptions...)
	return s
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ChatID:   s.reducer.ChatID(),
		State:    s.reducer.State(),
		Pending:  s.reducer.Pending(),
		Messages: s.reducer.Messages(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reducer.State()
}

func (s *Session) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reducer.Pending()
}

func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reducer.ChatID()
}

// Load switches the session to an existing conversation.
func (s *Session) Load(chatID string, msgs []chat.ChatMessage) error {
	s.mu.Lock()
	if s.reducer.State().Active() {
		s.mu.Unlock()
		return ErrStreamActive
	}
	s.reducer.Load(chatID, msgs)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap, nil)
	return nil
}

// Reset starts a new, id-less conversation.
func (s *Session) Reset() error {
	return s.Load("", nil)
}

// SendMessage sends text and consumes the response stream on the calling
// goroutine until it is finalized. Transport failures are folded into the
// transcript and do not produce an error.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	stream, token, err := s.start(ctx, text)
	if err != nil || stream == nil {
		return err
	}
	s.consume(stream, token)
	return nil
}

// SendMessageAsync validates and starts the send synchronously, then
// consumes the stream on a new goroutine. Wait blocks until it is done.
func (s *Session) SendMessageAsync(ctx context.Context, text string) error {
	stream, token, err := s.start(ctx, text)
	if err != nil || stream == nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consume(stream, token)
	}()
	return nil
}

// Wait blocks until all streams started with SendMessageAsync are finalized.
func (s *Session) Wait() {
	s.wg.Wait()
}

// CancelActive aborts the open stream, keeping partial output. It reports
// whether a stream was cancelled; calling it with nothing open is a no-op.
func (s *Session) CancelActive() bool {
	s.mu.Lock()
	if !s.cancels.CancelActive() {
		s.mu.Unlock()
		return false
	}
	s.current = 0
	s.reducer.Finish()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().Str("component", "engine").Str("chat_id", snap.ChatID).Msg("stream cancelled by user")
	s.notify(snap, nil)
	s.complete(snap)
	return true
}

func (s *Session) isCurrent(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token != 0 && s.current == token
}

func (s *Session) start(ctx context.Context, text string) (Stream, uint64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.reducer.State().Active() {
		s.mu.Unlock()
		return nil, 0, ErrStreamActive
	}
	s.reducer.Begin(text)
	req := chat.ChatRequest{Message: text}
	if id := s.reducer.ChatID(); id != "" {
		req.ChatID = chat.String(id)
	}

	stream, err := s.opener.Open(ctx, req)
	if err != nil {
		s.reducer.Fail(errors.Wrap(err, "open stream"))
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap, nil)
		s.complete(snap)
		return nil, 0, nil
	}
	token := s.cancels.StartSession(stream.Cancel)
	s.current = token
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().Str("component", "engine").Str("chat_id", snap.ChatID).Msg("stream started")
	s.notify(snap, nil)
	return stream, token, nil
}

func (s *Session) consume(stream Stream, token uint64) {
	parser := sse.NewParser()
	for chunk := range stream.Chunks() {
		// Chunks still buffered after a cancel belong to a finalized stream.
		if !s.isCurrent(token) {
			log.Debug().Str("component", "engine").Msg("dropping chunks of a superseded stream")
			return
		}
		res := parser.Feed(chunk)
		s.apply(token, res.Events)
		if res.Done {
			stream.Cancel()
			break
		}
	}
	if !parser.Done() {
		res := parser.Flush()
		s.apply(token, res.Events)
		if res.Done {
			stream.Cancel()
		}
	}

	var err error
	if !parser.Done() {
		err = stream.Err()
	}
	s.finish(token, err)
}

func (s *Session) apply(token uint64, events []chat.SSEEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	if s.current != token {
		s.mu.Unlock()
		return
	}
	var effects []Effect
	for _, ev := range events {
		effects = append(effects, s.reducer.Apply(ev)...)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap, effects)
}

func (s *Session) finish(token uint64, err error) {
	s.mu.Lock()
	s.cancels.Release(token)
	if s.current != token {
		s.mu.Unlock()
		return
	}
	s.current = 0
	if err != nil {
		s.reducer.Fail(err)
	} else {
		s.reducer.Finish()
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().
		Str("component", "engine").
		Str("chat_id", snap.ChatID).
		Str("state", snap.State.String()).
		Int("messages", len(snap.Messages)).
		Msg("stream finished")
	s.notify(snap, nil)
	s.complete(snap)
}

func (s *Session) notify(snap Snapshot, effects []Effect) {
	for _, e := range effects {
		s.dispatch(e)
	}
	for _, o := range s.observers {
		o(snap)
	}
}

func (s *Session) dispatch(e Effect) {
	switch e := e.(type) {
	case ChatBound:
		for _, r := range s.routers {
			r.AdoptChat(e.ChatID)
		}
	case TitleChanged:
		for _, t := range s.titles {
			t.UpdateTitle(e.ChatID, e.Title)
		}
	case ProductsChanged:
		for _, p := range s.previews {
			p.SetProducts(chat.CloneProducts(e.Products))
		}
	}
	for _, h := range s.effectHandlers {
		h(e)
	}
}

func (s *Session) complete(snap Snapshot) {
	for _, h := range s.completions {
		h(snap)
	}
}
