// Package status broadcasts sequencer progress to WebSocket subscribers.
package status

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

const (
	TypeTransition = "transition"
	TypePoint      = "point"

	sendBuffer = 64
	writeWait  = 5 * time.Second
)

// Message is the JSON document sent to subscribers
type Message struct {
	Type      string    `json:"type"`
	Channel   int       `json:"channel"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Point     int       `json:"point"`
	Label     string    `json:"label,omitempty"`
	File      string    `json:"file,omitempty"`
	Amplitude float64   `json:"amplitude"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// writePump forwards hub messages to the connection until send is closed
func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// WithLogger sets the logger for the hub
func WithLogger(logger *slog.Logger) func(h *Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "status"))
	}
}

// Hub fans sequencer events out to WebSocket clients. New clients receive
// the last transition of every channel first. Slow clients drop messages
// rather than stall the sweep.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	last    map[int]Message
	closed  bool

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

var _ sequencer.Observer = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub(options ...func(h *Hub)) *Hub {
	h := Hub{
		clients: make(map[*client]struct{}),
		last:    make(map[int]Message),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// ServeHTTP upgrades the request and subscribes the connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := client{conn: conn, send: make(chan Message, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, msg := range h.last {
		c.send <- msg
	}
	h.clients[&c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscriber connected", slog.String("remote", r.RemoteAddr))

	go c.writePump()
	go h.readPump(&c)
}

// readPump discards client input and unsubscribes on disconnect
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every subscriber
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("subscriber too slow, message dropped", slog.String("type", msg.Type))
		}
	}
}

func (h *Hub) OnTransition(t sequencer.Transition) {
	msg := Message{
		Type:      TypeTransition,
		Channel:   t.Channel,
		From:      t.From.String(),
		To:        t.To.String(),
		Point:     t.Point,
		Amplitude: t.Amplitude,
		At:        t.At,
	}

	h.mu.Lock()
	h.last[t.Channel] = msg
	h.mu.Unlock()

	h.Broadcast(msg)
}

func (h *Hub) OnPoint(r sequencer.PointResult) {
	msg := Message{
		Type:      TypePoint,
		Channel:   r.Channel,
		Point:     r.Index,
		Label:     r.Point.Label,
		File:      r.Point.File,
		Amplitude: r.Amplitude,
		At:        r.Finished,
	}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}

	h.Broadcast(msg)
}

// Close disconnects every subscriber and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
