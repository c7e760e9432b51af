// Package transport opens the streaming chat request and yields the response
// body as decoded text chunks in network arrival order.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/credentials"
)

const (
	DefaultStreamPath = "/api/v1/chats"
	defaultReadSize   = 4096
	maxErrorBody      = 4096
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat stream: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat stream: unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	creds      credentials.Store
	readSize   int
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithCredentials(s credentials.Store) Option {
	return func(cl *Client) {
		cl.creds = s
	}
}

func WithStreamPath(p string) Option {
	return func(cl *Client) {
		if p != "" {
			cl.path = p
		}
	}
}

// WithReadSize sets the size of a single body read. Small values are useful
// in tests to force frames to straddle chunk boundaries.
func WithReadSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.readSize = n
		}
	}
}

func NewClient(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultStreamPath,
		httpClient: &http.Client{},
		readSize:   defaultReadSize,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Authorize attaches the bearer token if one is available. Lookup failures
// are logged and the request proceeds unauthenticated.
func (c *Client) Authorize(ctx context.Context, req *http.Request) {
	if c.creds == nil {
		return
	}
	tok, err := c.creds.Token(ctx)
	if err != nil {
		if !errors.Is(err, credentials.ErrNoToken) {
			log.Warn().Err(err).Str("component", "transport").Msg("credential lookup failed, sending unauthenticated")
		}
		return
	}
	req.Header.Set("Authorization", "Bearer "+tok)
}

// Stream is a single in-flight chat request. Chunks is closed when the
// connection ends, either naturally, on failure or after Cancel.
type Stream struct {
	requestID string
	chunks    chan string
	done      chan struct{}
	cancel    context.CancelFunc

	mu        sync.Mutex
	err       error
	cancelled bool
}

// Open starts the request and returns immediately. The request itself, its
// status check and the body reads happen on a background goroutine so that
// Cancel works before the response headers arrive.
func (c *Client) Open(ctx context.Context, body chat.ChatRequest) (*Stream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode chat request")
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "build chat request")
	}
	s := &Stream{
		requestID: uuid.NewString(),
		chunks:    make(chan string, 16),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", s.requestID)
	c.Authorize(ctx, req)

	go s.run(ctx, c.httpClient, req, c.readSize)
	return s, nil
}

func (s *Stream) RequestID() string {
	return s.requestID
}

func (s *Stream) Chunks() <-chan string {
	return s.chunks
}

// Done is closed after Chunks was closed and Err is final.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Cancel aborts the connection. It is safe to call more than once and from
// any goroutine; a cancelled stream never reports an error.
func (s *Stream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Stream) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Err reports the transport failure, if any. Only meaningful after Chunks
// was closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || ctx.Err() != nil {
		return
	}
	s.err = err
}

func (s *Stream) run(ctx context.Context, hc *http.Client, req *http.Request, readSize int) {
	defer close(s.done)
	defer close(s.chunks)
	defer s.cancel()

	logger := log.With().Str("component", "transport").Str("request_id", s.requestID).Logger()
	started := time.Now()

	resp, err := hc.Do(req)
	if err != nil {
		s.fail(ctx, errors.Wrap(err, "open chat stream"))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Warn().Int("status", resp.StatusCode).Msg("chat stream rejected")
		s.fail(ctx, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))})
		return
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("ttfb", time.Since(started)).Msg("chat stream opened")

	buf := make([]byte, readSize)
	var pending []byte
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var text string
			text, pending = splitUTF8(pending)
			if text != "" && !s.emit(ctx, text) {
				return
			}
		}
		if rerr == io.EOF {
			if len(pending) > 0 {
				s.emit(ctx, string(pending))
			}
			logger.Debug().Dur("elapsed", time.Since(started)).Msg("chat stream closed")
			return
		}
		if rerr != nil {
			s.fail(ctx, errors.Wrap(rerr, "read chat stream"))
			if ctx.Err() != nil {
				logger.Debug().Msg("chat stream aborted")
			}
			return
		}
	}
}

func (s *Stream) emit(ctx context.Context, text string) bool {
	select {
	case s.chunks <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitUTF8 returns the longest prefix of b that does not end in the middle
// of a multi-byte sequence, and the held-back remainder.
func splitUTF8(b []byte) (string, []byte) {
	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}
	text := string(b[:cut])
	rest := append([]byte(nil), b[cut:]...)
	return text, rest
}
