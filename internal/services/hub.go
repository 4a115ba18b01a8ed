package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dpup/prefab/logging"

	"github.com/gravewalk/server/internal/lib/navigation"
	"github.com/gravewalk/server/internal/metrics"
)

// Message types sent to stream clients
const (
	MessageSnapshot = "snapshot"
	MessageClosed   = "session_closed"
)

// StreamMessage is the envelope written to WebSocket clients
type StreamMessage struct {
	Type     string               `json:"type"`
	Snapshot *navigation.Snapshot `json:"snapshot,omitempty"`
}

type outbound struct {
	sessionID string
	data      []byte
	closing   bool

	// final messages (arrival, session closed) are never dropped from the queue
	final bool
}

// maxQueued bounds the outbound queue for ordinary snapshots
const maxQueued = 256

// Hub fans session snapshots out to the WebSocket clients watching each session
type Hub struct {
	ctx context.Context

	// sessionID -> clients
	clients map[string]map[*Client]struct{}

	// Outbound messages in publish order, drained by Run
	queueMu sync.Mutex
	queue   []outbound
	wake    chan struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a Hub logging through ctx. Run must be called before clients connect.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		ctx:        logging.EnsureLogger(ctx),
		clients:    make(map[string]map[*Client]struct{}),
		wake:       make(chan struct{}, 1),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop; it returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if logging.FromContext(ctx) == nil {
		ctx = h.ctx
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, set := range h.clients {
				for c := range set {
					h.dropLocked(c)
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.sessionID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.sessionID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			metrics.ActiveStreams.Inc()
			logging.Debugw(ctx, "Stream client connected", "session_id", c.sessionID)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.sessionID][c]; ok {
				h.dropLocked(c)
			}
			h.mu.Unlock()

		case <-h.wake:
			for _, msg := range h.drain() {
				h.deliver(ctx, msg)
			}
		}
	}
}

func (h *Hub) drain() []outbound {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	msgs := h.queue
	h.queue = nil
	return msgs
}

func (h *Hub) deliver(ctx context.Context, msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[msg.sessionID] {
		select {
		case c.send <- msg.data:
		default:
			// Client buffer full, disconnect
			h.dropLocked(c)
			logging.Warnw(ctx, "Stream client too slow, disconnecting", "session_id", msg.sessionID)
		}
	}
	if msg.closing {
		for c := range h.clients[msg.sessionID] {
			h.dropLocked(c)
		}
	}
}

// dropLocked removes c and closes its send channel, which ends its write pump
func (h *Hub) dropLocked(c *Client) {
	set := h.clients[c.sessionID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	close(c.send)
	metrics.ActiveStreams.Dec()
}

// Publish queues a snapshot for every client of the session. It never blocks:
// sessions call it with their lock held. When the queue is full an ordinary
// snapshot is dropped, but an arrival is always kept.
func (h *Hub) Publish(sessionID string, snap navigation.Snapshot) {
	data, err := json.Marshal(StreamMessage{Type: MessageSnapshot, Snapshot: &snap})
	if err != nil {
		logging.Errorw(h.ctx, "Failed to marshal snapshot", "session_id", sessionID, "error", err)
		return
	}
	h.enqueue(outbound{sessionID: sessionID, data: data, final: snap.Phase == navigation.PhaseArrived})
}

// CloseSession tells the session's clients it is gone and disconnects them
func (h *Hub) CloseSession(sessionID string) {
	data, _ := json.Marshal(StreamMessage{Type: MessageClosed})
	h.enqueue(outbound{sessionID: sessionID, data: data, closing: true, final: true})
}

func (h *Hub) enqueue(msg outbound) {
	h.queueMu.Lock()
	if !msg.final && len(h.queue) >= maxQueued {
		h.queueMu.Unlock()
		logging.Warnw(h.ctx, "Stream queue full, dropping snapshot", "session_id", msg.sessionID)
		return
	}
	h.queue = append(h.queue, msg)
	h.queueMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// queued returns the number of messages waiting to be delivered
func (h *Hub) queued() int {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	return len(h.queue)
}

func (h *Hub) clientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
