package mirror

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

type poolClient struct {
	send chan []byte
	done chan struct{}
}

// ConnectionPool fans frames out to websocket observers. Every connection has
// its own buffered writer; a connection whose buffer is full or whose write
// fails is dropped.
type ConnectionPool struct {
	mu           sync.Mutex
	conns        map[wsConn]*poolClient
	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{
		conns:        map[wsConn]*poolClient{},
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	c := &poolClient{send: make(chan []byte, cp.sendBuffer), done: make(chan struct{})}
	cp.mu.Lock()
	cp.conns[conn] = c
	cp.mu.Unlock()
	go cp.writeLoop(conn, c)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.dropLocked(conn)
	cp.mu.Unlock()
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn, c := range cp.conns {
		cp.enqueueLocked(conn, c, data)
	}
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if c, ok := cp.conns[conn]; ok {
		cp.enqueueLocked(conn, c, data)
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		cp.dropLocked(conn)
	}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) enqueueLocked(conn wsConn, c *poolClient, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Warn().Str("component", "mirror").Msg("ws send buffer full, dropping connection")
		cp.dropLocked(conn)
	}
}

func (cp *ConnectionPool) dropLocked(conn wsConn) {
	c, ok := cp.conns[conn]
	if !ok {
		return
	}
	delete(cp.conns, conn)
	close(c.done)
	_ = conn.Close()
}

func (cp *ConnectionPool) writeLoop(conn wsConn, c *poolClient) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if cp.writeTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "mirror").Msg("ws write failed, dropping connection")
				cp.Remove(conn)
				return
			}
		}
	}
}
