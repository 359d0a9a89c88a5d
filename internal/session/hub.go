package session

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"cartsync/internal/coordinator"
	"cartsync/internal/surface"
)

// Event types on the stream.
const (
	EventDiff   = "diff"
	EventNotice = "notice"
	EventClosed = "closed"
)

// Event is one frame of a session stream.
type Event struct {
	Type     string              `json:"type"`
	Revision uint64              `json:"revision"`
	Diff     *surface.Diff       `json:"diff,omitempty"`
	Notice   *coordinator.Notice `json:"notice,omitempty"`
}

// SubscriptionID identifies a stream subscriber.
type SubscriptionID uint64

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Event
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

// Hub fans session events out to stream subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	buffer  int
	metrics *hubMetrics

	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscriber
	nextID SubscriptionID
	closed bool
}

type hubMetrics struct {
	subscribers metric.Int64UpDownCounter
	blocked     metric.Int64Counter
}

const meterName = "cartsync/session"

func newHubMetrics(meter metric.Meter) (*hubMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &hubMetrics{}
	var subErr, blockErr error
	m.subscribers, subErr = meter.Int64UpDownCounter("session.stream.subscribers",
		metric.WithDescription("Number of attached event stream clients"),
		metric.WithUnit("{subscriber}"))
	m.blocked, blockErr = meter.Int64Counter("session.stream.blocked",
		metric.WithDescription("Events dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))
	return m, errors.Join(subErr, blockErr)
}

// newHub returns a hub whose subscribers buffer up to buffer events. The
// instruments are shared by every hub of a registry.
func newHub(buffer int, m *hubMetrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer:  buffer,
		metrics: m,
		subs:    make(map[SubscriptionID]*subscriber),
	}
}

// Subscribe registers a subscriber. The channel closes when ctx ends, on
// Unsubscribe, or when the hub closes.
func (h *Hub) Subscribe(ctx context.Context) (SubscriptionID, <-chan Event) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{ctx: ctx, cancel: cancel, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return 0, sub.ch
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()
	h.metrics.subscribers.Add(context.Background(), 1)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(id)
	}()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		sub.close()
	}
	h.mu.Unlock()
	if ok {
		h.metrics.subscribers.Add(context.Background(), -1)
	}
}

// Publish delivers evt to every subscriber with room for it.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case <-sub.ctx.Done():
		case sub.ch <- evt:
		default:
			h.metrics.blocked.Add(context.Background(), 1)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close sends a final closed event and detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[SubscriptionID]*subscriber)
	for _, sub := range subs {
		select {
		case sub.ch <- Event{Type: EventClosed}:
		default:
		}
		sub.close()
	}
	h.mu.Unlock()
	h.metrics.subscribers.Add(context.Background(), -int64(len(subs)))
}
