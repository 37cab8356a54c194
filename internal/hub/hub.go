// Package hub maintains the set of live dashboard subscribers and fans state
// change envelopes out to them. Fan-out is best-effort and isolated: a
// failed or slow subscriber never blocks or fails the pipeline that
// triggered the broadcast.
package hub

import (
	"log/slog"
	"sync"

	"github.com/triagebot/triage/internal/events"
)

// Subscriber is an opaque live-connection handle. A subscriber is removed
// from the hub the first time delivery to it fails.
type Subscriber interface {
	// ID uniquely identifies this subscriber within the hub
	ID() string
	// Send delivers one envelope; an error marks the subscriber dead
	Send(env *events.Envelope) error
	// Close releases the underlying connection
	Close() error
}

// Hub is the concurrent broadcast hub. The subscriber set is the only state
// it owns; mutation is serialized, and fan-out iterates a stable snapshot so
// the set is never mutated mid-pass.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
	log  *slog.Logger
}

// New creates an empty hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs: make(map[string]Subscriber),
		log:  log,
	}
}

// Subscribe registers a subscriber and sends it a connection
// acknowledgement. There is no replay of history. If even the
// acknowledgement cannot be delivered the subscriber is dropped immediately.
func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	total := len(h.subs)
	h.mu.Unlock()

	h.log.Info("subscriber connected", "subscriber", sub.ID(), "total", total)

	if err := sub.Send(events.NewConnectionAck()); err != nil {
		h.log.Warn("dropping subscriber, ack failed", "subscriber", sub.ID(), "error", err)
		h.Unsubscribe(sub.ID())
	}
}

// Unsubscribe removes a subscriber and closes its connection. Unknown IDs
// are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	total := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = sub.Close()
	h.log.Info("subscriber disconnected", "subscriber", id, "total", total)
}

// Broadcast fans one envelope out to every live subscriber. Delivery
// failures are collected during the pass and the dead subscribers pruned
// only after the pass completes, so one failure cannot hide the event from
// the rest of the set.
func (h *Hub) Broadcast(env *events.Envelope) {
	h.mu.RLock()
	snapshot := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	var dead []string
	for _, sub := range snapshot {
		if err := sub.Send(env); err != nil {
			h.log.Warn("broadcast delivery failed", "subscriber", sub.ID(), "type", env.Type, "error", err)
			dead = append(dead, sub.ID())
		}
	}

	for _, id := range dead {
		h.Unsubscribe(id)
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
