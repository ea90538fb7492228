// Package hub fans job events out to the connections subscribed to each
// job.
//
// Every connection owns one bounded FIFO channel. Publish does a
// non-blocking send into the channel of each subscriber of the job, so
// events for one job reach a given connection in publish order and a slow
// connection never stalls the publisher. When a connection's channel is
// full the event is dropped and the connection is flagged for resync; its
// writer then tells the client to refetch, since there is no replay log.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/domain"
)

// DefaultBuffer is the per-connection event buffer.
const DefaultBuffer = 64

type Conn struct {
	events chan domain.Event
	done   chan struct{}
	resync atomic.Bool

	// jobs is guarded by Hub.mu.
	jobs map[string]struct{}
}

// Events delivers the connection's events in publish order.
func (c *Conn) Events() <-chan domain.Event { return c.events }

// Done is closed when the connection is disconnected from the hub.
func (c *Conn) Done() <-chan struct{} { return c.done }

// TakeResync reports whether events were dropped since the last call and
// clears the flag.
func (c *Conn) TakeResync() bool { return c.resync.Swap(false) }

type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Conn]struct{}
	conns  map[*Conn]struct{}
	closed bool
	buffer int
	log    *zap.Logger
}

func New(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		groups: make(map[string]map[*Conn]struct{}),
		conns:  make(map[*Conn]struct{}),
		buffer: buffer,
		log:    log,
	}
}

func (h *Hub) Connect() *Conn {
	c := &Conn{
		events: make(chan domain.Event, h.buffer),
		done:   make(chan struct{}),
		jobs:   make(map[string]struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.done)
		return c
	}
	h.conns[c] = struct{}{}
	return c
}

// Close disconnects every connection. Connections made afterwards start
// out disconnected.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		for jobID := range c.jobs {
			h.leave(c, jobID)
		}
		delete(h.conns, c)
		close(c.done)
	}
}

// Disconnect removes c from every job group and closes Done. Calling it
// more than once is harmless.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}
	for jobID := range c.jobs {
		h.leave(c, jobID)
	}
	delete(h.conns, c)
	close(c.done)
}

// Subscribe adds c to jobID's group. Subscribing twice is a no-op. It
// returns false when c is already disconnected.
func (h *Hub) Subscribe(c *Conn, jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	group, ok := h.groups[jobID]
	if !ok {
		group = make(map[*Conn]struct{})
		h.groups[jobID] = group
	}
	group[c] = struct{}{}
	c.jobs[jobID] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(c *Conn, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, jobID)
}

// leave must be called with h.mu held.
func (h *Hub) leave(c *Conn, jobID string) {
	delete(c.jobs, jobID)
	group := h.groups[jobID]
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, jobID)
	}
}

// Publish delivers ev to every connection subscribed to jobID. It never
// blocks on a subscriber and never fails.
func (h *Hub) Publish(_ context.Context, jobID string, ev domain.Event) {
	// The read lock is enough: the sends are non-blocking, and Disconnect
	// takes the write lock, so no send races a removal.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.groups[jobID] {
		select {
		case c.events <- ev:
		default:
			if !c.resync.Swap(true) {
				h.log.Warn("subscriber buffer full, dropping events",
					zap.String("job_id", jobID), zap.Int64("seq", ev.Seq))
			}
		}
	}
}

// Subscribers returns the size of jobID's group.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[jobID])
}

// Groups returns the number of jobs with at least one subscriber.
func (h *Hub) Groups() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}
