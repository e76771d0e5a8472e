// Package notify implements the supplementary subscribe/notify surface
// described in SPEC_FULL.md §10: clients register a key pattern and
// receive a best-effort push every time a write commits a key matching
// it. There is no durability across a gateway restart — a subscriber
// that reconnects only sees writes committed after it resubscribes,
// same as the teacher's own posture on everything outside the core
// consensus log ("learner state doesn't need to be durable").
package notify

import (
	"path"
	"sync"

	"github.com/google/uuid"
)

// Event is one committed write delivered to a matching subscriber.
type Event struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	Slot  int64  `json:"slot"`
}

type subscriber struct {
	id      string
	pattern string
	ch      chan Event
}

// Hub fans out committed writes to subscribers whose pattern matches
// the write's key, using path.Match (shell-glob-style: "orders/*"
// matches "orders/42" but not "orders/42/items").
type Hub struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

// Subscribe registers pattern and returns an id (used to Unsubscribe
// later) and a channel of matching events. The channel is buffered
// (64 events); once a slow subscriber's buffer is full, new events are
// dropped for it rather than blocking Publish — see Publish's comment.
func (h *Hub) Subscribe(pattern string) (string, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan Event, 64)
	h.subs[id] = &subscriber{id: id, pattern: pattern, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		close(s.ch)
		delete(h.subs, id)
	}
}

// Publish delivers evt to every subscriber whose pattern matches
// evt.Key. Delivery is best-effort and non-blocking, not guaranteed: a
// subscriber whose buffer is full has the event dropped for it (it is
// not retried or redelivered) rather than
// stalling every other subscriber's delivery or the writer that
// triggered Publish.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		matched, err := path.Match(s.pattern, evt.Key)
		if err != nil || !matched {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Count reports the number of live subscriptions, for /status.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

