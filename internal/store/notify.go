package store

import (
	"context"
	"errors"
	"sync"

	"forum/internal/models"
)

// ErrStreamClosed is reported when a change stream ends without the
// subscriber asking for it.
var ErrStreamClosed = errors.New("change stream closed")

// Signal says that a topic's comments changed, or, with Err set, that the
// listener is dead.
type Signal struct {
	Err error
}

// Notifier carries per-topic change signals from writers to subscribers.
type Notifier interface {
	Publish(ctx context.Context, topicID string) error
	// Listen is registered by the time it returns. The channel is closed
	// when ctx is done, right after an error Signal.
	Listen(ctx context.Context, topicID string) (<-chan Signal, error)
}

// Hub is an in-process Notifier. Signals coalesce: a listener that has not
// drained its last signal does not receive another one.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Signal]struct{}
	closed bool
	done   chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Signal]struct{}),
		done: make(chan struct{}),
	}
}

func (h *Hub) Publish(_ context.Context, topicID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for ch := range h.subs[topicID] {
		select {
		case ch <- Signal{}:
		default:
		}
	}
	return nil
}

func (h *Hub) Listen(ctx context.Context, topicID string) (<-chan Signal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	ch := make(chan Signal, 1)
	set, ok := h.subs[topicID]
	if !ok {
		set = make(map[chan Signal]struct{})
		h.subs[topicID] = set
	}
	set[ch] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[topicID][ch]; !ok {
			return // already closed by Close
		}
		delete(h.subs[topicID], ch)
		if len(h.subs[topicID]) == 0 {
			delete(h.subs, topicID)
		}
		close(ch)
	}()
	return ch, nil
}

// Listeners reports how many listeners a topic has.
func (h *Hub) Listeners(topicID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topicID])
}

// Close ends every listener with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for topicID, set := range h.subs {
		for ch := range set {
			select {
			case <-ch:
			default:
			}
			ch <- Signal{Err: ErrClosed}
			close(ch)
		}
		delete(h.subs, topicID)
	}
}

// Feed turns a signal stream into the snapshot stream of a subscription:
// one snapshot right away, then one per signal. It stops after the first
// error, which is delivered as the last event.
func Feed(ctx context.Context, signals <-chan Signal, load func(ctx context.Context) ([]models.Comment, error)) <-chan SnapshotEvent {
	out := make(chan SnapshotEvent, 1)
	go func() {
		defer close(out)
		send := func(ev SnapshotEvent) bool {
			select {
			case out <- ev:
				return ev.Err == nil
			case <-ctx.Done():
				return false
			}
		}
		emit := func() bool {
			cs, err := load(ctx)
			if err != nil && ctx.Err() != nil {
				return false
			}
			return send(SnapshotEvent{Comments: cs, Err: err})
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-signals:
				if !ok {
					if ctx.Err() == nil {
						send(SnapshotEvent{Err: ErrStreamClosed})
					}
					return
				}
				if s.Err != nil {
					send(SnapshotEvent{Err: s.Err})
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}
