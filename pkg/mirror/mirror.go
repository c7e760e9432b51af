// Package mirror streams live session snapshots to websocket observers, so a
// conversation running in the terminal can be followed from another screen.
package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/engine"
)

type FrameType string

const (
	FrameSnapshot FrameType = "snapshot"
	FrameTitle    FrameType = "title"
	FrameProducts FrameType = "products"
)

// Frame is the JSON document written to observers.
type Frame struct {
	Type     FrameType          `json:"type"`
	ChatID   string             `json:"chat_id,omitempty"`
	State    string             `json:"state,omitempty"`
	Pending  string             `json:"pending,omitempty"`
	Title    string             `json:"title,omitempty"`
	Messages []chat.ChatMessage `json:"messages,omitempty"`
	Products []chat.Product     `json:"products,omitempty"`
}

type Mirror struct {
	pool     *ConnectionPool
	upgrader websocket.Upgrader

	mu   sync.Mutex
	last []byte
}

func New() *Mirror {
	return &Mirror{
		pool: NewConnectionPool(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Observe broadcasts a session snapshot. It is meant for engine.WithObserver.
func (m *Mirror) Observe(snap engine.Snapshot) {
	data, err := json.Marshal(Frame{
		Type:     FrameSnapshot,
		ChatID:   snap.ChatID,
		State:    snap.State.String(),
		Pending:  snap.Pending,
		Messages: snap.Messages,
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "mirror").Msg("failed to marshal snapshot")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = data
	m.pool.Broadcast(data)
}

// HandleEffect forwards title and product side channels. It is meant for
// engine.WithEffectHandler.
func (m *Mirror) HandleEffect(e engine.Effect) {
	var f Frame
	switch e := e.(type) {
	case engine.TitleChanged:
		f = Frame{Type: FrameTitle, ChatID: e.ChatID, Title: e.Title}
	case engine.ProductsChanged:
		f = Frame{Type: FrameProducts, ChatID: e.ChatID, Products: e.Products}
	default:
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		log.Warn().Err(err).Str("component", "mirror").Msg("failed to marshal frame")
		return
	}
	m.pool.Broadcast(data)
}

func (m *Mirror) Observers() int {
	return m.pool.Count()
}

// Handler upgrades the request to a websocket, sends the latest snapshot and
// keeps the connection registered until the peer goes away.
func (m *Mirror) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := m.upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "mirror").Msg("websocket upgrade failed")
			return
		}
		m.mu.Lock()
		m.pool.Add(conn)
		if m.last != nil {
			m.pool.SendToOne(conn, m.last)
		}
		m.mu.Unlock()
		log.Debug().Str("component", "mirror").Str("remote", req.RemoteAddr).Msg("observer connected")

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		m.pool.Remove(conn)
		log.Debug().Str("component", "mirror").Str("remote", req.RemoteAddr).Msg("observer disconnected")
	}
}

// Serve listens on addr until ctx is cancelled.
func (m *Mirror) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "mirror").Str("addr", addr).Msg("mirror listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.pool.CloseAll()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "mirror server")
	}
}
