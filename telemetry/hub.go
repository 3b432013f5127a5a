package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	// clientBuffer bounds the per-subscriber backlog. A console that falls
	// this far behind gets evicted instead of waited on.
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// client is one websocket subscriber with its own bounded outbox, drained
// by a dedicated writer goroutine. The hub never writes to the socket
// itself, so a stalled connection can only fill its outbox, not block the
// broadcast loop.
type client struct {
	conn *websocket.Conn
	out  chan []byte
}

// Hub broadcasts operator events to connected websocket clients. Publish is
// non-blocking: when the broadcast buffer is full the event is dropped and
// counted, and slow subscribers are evicted, so an operator console can
// never stall the trading path.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	send    chan Event
	drops   int
	closed  bool
	log     *logrus.Logger
}

func NewHub(buffer int, log *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[*client]bool),
		send:    make(chan Event, buffer),
		log:     log,
	}
}

// Run drains the broadcast queue until the channel is closed by Close. It
// only ever hands payloads to client outboxes; socket writes happen in the
// per-client writer goroutines.
func (h *Hub) Run() {
	for e := range h.send {
		payload, err := json.Marshal(e)
		if err != nil {
			h.log.WithError(err).Error("telemetry: marshal event")
			continue
		}
		h.mu.Lock()
		for c := range h.clients {
			select {
			case c.out <- payload:
			default:
				// Full backlog means the writer is stuck or the reader
				// is gone. Evict; closing out stops the writer.
				delete(h.clients, c)
				close(c.out)
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.out)
	}
	h.mu.Unlock()
}

// writeClient pushes one subscriber's backlog onto its socket. Exits when
// the outbox is closed (eviction or shutdown) or a write fails or times
// out.
func (h *Hub) writeClient(c *client) {
	defer c.conn.Close()
	for payload := range c.out {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
			return
		}
	}
}

// drop unregisters a client. The map membership check keeps eviction from
// Run and a failing writer from closing the same outbox twice.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.out)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.send <- e:
	default:
		h.drops++
	}
}

// Drops reports events discarded because the broadcast buffer was full.
func (h *Hub) Drops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drops
}

// Close stops the Run loop and disconnects all clients. Publishes after
// Close are silently dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.send)
}

// Handler upgrades HTTP requests to websocket subscriptions.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("telemetry: websocket upgrade failed")
			return
		}
		c := &client{conn: conn, out: make(chan []byte, clientBuffer)}
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.clients[c] = true
		h.mu.Unlock()
		go h.writeClient(c)
	})
}
