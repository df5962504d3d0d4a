// Package subscription keeps track of live subscribers per context and fans
// out entry updates to them.
package subscription

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/localrivet/sharedcontext/internal/telemetry"
)

// MessageTypeUpdate is the type of the message sent for a new entry.
const MessageTypeUpdate = "update"

// Message is the payload delivered to subscribers.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Sink receives messages for one subscriber. A failing Deliver counts as a
// failed delivery; the sink stays registered until it is unsubscribed.
type Sink interface {
	Deliver(msg Message) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(msg Message) error

// Deliver calls f(msg).
func (f SinkFunc) Deliver(msg Message) error {
	return f(msg)
}

type subscriber struct {
	id   string
	sink Sink
}

// Subscription describes a registered subscriber.
type Subscription struct {
	ID        string `json:"id"`
	ContextID string `json:"contextId"`
}

// Registry maps context ids to their subscribers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string][]subscriber
	logger  *slog.Logger
	metrics *telemetry.MetricsCollector
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics records subscription activity on m.
func WithMetrics(m *telemetry.MetricsCollector) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		subs:   make(map[string][]subscriber),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers sink for contextID and returns the subscription id.
func (r *Registry) Subscribe(contextID string, sink Sink) string {
	id := ulid.Make().String()

	r.mu.Lock()
	r.subs[contextID] = append(r.subs[contextID], subscriber{id: id, sink: sink})
	total := r.countLocked()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.IncrementCounter(telemetry.MetricSubscribeTotal, 1)
		r.metrics.SetGauge(telemetry.MetricSubscribers, float64(total))
	}
	r.logger.Debug("Subscriber added", "context_id", contextID, "subscription_id", id)
	return id
}

// Unsubscribe removes a subscription. It reports whether anything was removed,
// so calling it twice is harmless.
func (r *Registry) Unsubscribe(contextID, subscriptionID string) bool {
	r.mu.Lock()
	list := r.subs[contextID]
	removed := false
	kept := list[:0:0]
	for _, s := range list {
		if s.id == subscriptionID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if removed {
		if len(kept) == 0 {
			delete(r.subs, contextID)
		} else {
			r.subs[contextID] = kept
		}
	}
	total := r.countLocked()
	r.mu.Unlock()

	if removed {
		if r.metrics != nil {
			r.metrics.IncrementCounter(telemetry.MetricUnsubscribeTotal, 1)
			r.metrics.SetGauge(telemetry.MetricSubscribers, float64(total))
		}
		r.logger.Debug("Subscriber removed", "context_id", contextID, "subscription_id", subscriptionID)
	}
	return removed
}

// Broadcast delivers msg to every subscriber of contextID and returns the
// number of successful deliveries. Sinks are called outside the lock, so
// a sink may unsubscribe itself.
func (r *Registry) Broadcast(contextID string, msg Message) int {
	r.mu.RLock()
	snapshot := append([]subscriber(nil), r.subs[contextID]...)
	r.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		if err := deliver(s.sink, msg); err != nil {
			r.logger.Warn("Failed to deliver update",
				"context_id", contextID, "subscription_id", s.id, "error", err)
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.IncrementCounter(telemetry.MetricBroadcasts, 1)
		r.metrics.IncrementCounter(telemetry.MetricDeliveriesSucceeded, int64(delivered))
		r.metrics.IncrementCounter(telemetry.MetricDeliveriesFailed, int64(len(snapshot)-delivered))
	}
	return delivered
}

func deliver(sink Sink, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return sink.Deliver(msg)
}

// SubscriberCount returns the number of subscribers of contextID.
func (r *Registry) SubscriberCount(contextID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[contextID])
}

// AllSubscriptions returns a copy of the subscriptions per context.
func (r *Registry) AllSubscriptions() map[string][]Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Subscription, len(r.subs))
	for contextID, list := range r.subs {
		subs := make([]Subscription, len(list))
		for i, s := range list {
			subs[i] = Subscription{ID: s.id, ContextID: contextID}
		}
		out[contextID] = subs
	}
	return out
}

// ClearAll drops every subscription.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.subs = make(map[string][]subscriber)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetGauge(telemetry.MetricSubscribers, 0)
	}
}

func (r *Registry) countLocked() int {
	n := 0
	for _, list := range r.subs {
		n += len(list)
	}
	return n
}
