package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/k1networth/cb-testclient/internal/callback"
)

const (
	DefaultKeepAlive = 30 * time.Second
	DefaultBuffer    = 16
)

const (
	EventConnection = "connection"
	EventPing       = "ping"
	EventCallback   = "callback"
)

type Event struct {
	Type         string           `json:"type"`
	ConnectionID string           `json:"connectionId,omitempty"`
	Data         *callback.Record `json:"data,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

var errQueueFull = errors.New("event queue full")

// ConnectionError reports a delivery that could not be queued for a connection.
// The connection is dropped; the error never reaches other connections.
type ConnectionError struct {
	ConnectionID string
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.ConnectionID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type Conn struct {
	ID       string
	OpenedAt time.Time
	events   chan Event
}

// Events is closed when the hub drops or closes the connection.
func (c *Conn) Events() <-chan Event { return c.events }

type Stats struct {
	Open    int   `json:"open"`
	Dropped int64 `json:"dropped"`
}

type Hub struct {
	Log *slog.Logger

	mu        sync.Mutex
	clock     clock.Clock
	conns     map[string]*Conn
	buffer    int
	keepAlive time.Duration
	dropped   int64
}

func NewHub(log *slog.Logger, clk clock.Clock, keepAlive time.Duration, buffer int) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		Log:       log,
		clock:     clk,
		conns:     make(map[string]*Conn),
		buffer:    buffer,
		keepAlive: keepAlive,
	}
}

// Open registers a connection and queues its connection event.
func (h *Hub) Open() *Conn {
	c := &Conn{
		ID:       uuid.NewString(),
		OpenedAt: h.clock.Now(),
		events:   make(chan Event, h.buffer),
	}
	c.events <- Event{Type: EventConnection, ConnectionID: c.ID, Timestamp: c.OpenedAt}

	h.mu.Lock()
	h.conns[c.ID] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.Log.Info("stream_open", slog.String("connection_id", c.ID), slog.Int("open", n))
	return c
}

// Push queues rec for every open connection and returns how many accepted it.
func (h *Hub) Push(rec callback.Record) int {
	return h.send(Event{Type: EventCallback, Data: &rec, Timestamp: h.clock.Now()})
}

func (h *Hub) Ping() int {
	return h.send(Event{Type: EventPing, Timestamp: h.clock.Now()})
}

func (h *Hub) Close(id string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	if ok {
		h.Log.Info("stream_closed", slog.String("connection_id", id), slog.Int64("age_ms", h.clock.Now().Sub(c.OpenedAt).Milliseconds()))
	}
	return ok
}

// Drop removes a connection whose writer failed, e.g. on a broken pipe.
func (h *Hub) Drop(id string, cause error) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		h.removeLocked(c)
		h.dropped++
	}
	h.mu.Unlock()

	if ok {
		err := &ConnectionError{ConnectionID: id, Err: cause}
		h.Log.Warn("stream_dropped", slog.String("err", err.Error()))
	}
	return ok
}

// CloseAll ends every stream, used on shutdown.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.conns)
	for _, c := range h.conns {
		h.removeLocked(c)
	}
	return n
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Open: len(h.conns), Dropped: h.dropped}
}

// Run sends keep-alive pings until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Ping()
		}
	}
}

func (h *Hub) send(ev Event) int {
	var failed []error

	h.mu.Lock()
	delivered := 0
	for _, c := range h.conns {
		select {
		case c.events <- ev:
			delivered++
		default:
			h.removeLocked(c)
			h.dropped++
			failed = append(failed, &ConnectionError{ConnectionID: c.ID, Err: errQueueFull})
		}
	}
	h.mu.Unlock()

	for _, err := range failed {
		h.Log.Warn("stream_dropped", slog.String("event", ev.Type), slog.String("err", err.Error()))
	}
	return delivered
}

// removeLocked closes the queue under the hub lock, so no send can follow it.
func (h *Hub) removeLocked(c *Conn) {
	delete(h.conns, c.ID)
	close(c.events)
}
