package subscription

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/sharedcontext/internal/telemetry"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
}

func (s *recordingSink) Deliver(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func update(id string) Message {
	return Message{Type: MessageTypeUpdate, ID: id, Content: "c-" + id, Timestamp: 1}
}

func TestSubscribeReturnsDistinctIDs(t *testing.T) {
	r := NewRegistry()

	a := r.Subscribe("ctx", &recordingSink{})
	b := r.Subscribe("ctx", &recordingSink{})

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.SubscriberCount("ctx"))
}

func TestBroadcastDeliversToEverySubscriber(t *testing.T) {
	r := NewRegistry()

	sinks := make([]*recordingSink, 3)
	for i := range sinks {
		sinks[i] = &recordingSink{}
		r.Subscribe("ctx", sinks[i])
	}

	n := r.Broadcast("ctx", update("e1"))
	assert.Equal(t, 3, n)
	for _, s := range sinks {
		require.Len(t, s.Messages(), 1)
		assert.Equal(t, "e1", s.Messages()[0].ID)
	}
}

func TestBroadcastIsolatedPerContext(t *testing.T) {
	r := NewRegistry()
	a := &recordingSink{}
	b := &recordingSink{}
	r.Subscribe("a", a)
	r.Subscribe("b", b)

	assert.Equal(t, 1, r.Broadcast("a", update("x")))
	assert.Len(t, a.Messages(), 1)
	assert.Empty(t, b.Messages())

	assert.Equal(t, 0, r.Broadcast("nobody", update("y")))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.Subscribe("ctx", &recordingSink{})

	assert.True(t, r.Unsubscribe("ctx", id))
	assert.False(t, r.Unsubscribe("ctx", id))
	assert.False(t, r.Unsubscribe("other", id))
	assert.Equal(t, 0, r.SubscriberCount("ctx"))
	assert.NotContains(t, r.AllSubscriptions(), "ctx")
}

func TestFailingSinkDoesNotStopOthers(t *testing.T) {
	metrics := telemetry.NewMetricsCollector()
	r := NewRegistry(WithMetrics(metrics))

	ok := &recordingSink{}
	r.Subscribe("ctx", SinkFunc(func(Message) error { return errors.New("gone") }))
	r.Subscribe("ctx", SinkFunc(func(Message) error { panic("boom") }))
	r.Subscribe("ctx", ok)

	assert.Equal(t, 1, r.Broadcast("ctx", update("e1")))
	assert.Len(t, ok.Messages(), 1)

	// Failed sinks stay registered.
	assert.Equal(t, 3, r.SubscriberCount("ctx"))
	assert.Equal(t, int64(1), metrics.GetCounter(telemetry.MetricDeliveriesSucceeded))
	assert.Equal(t, int64(2), metrics.GetCounter(telemetry.MetricDeliveriesFailed))
}

func TestSinkMayUnsubscribeDuringBroadcast(t *testing.T) {
	r := NewRegistry()

	var id string
	id = r.Subscribe("ctx", SinkFunc(func(Message) error {
		r.Unsubscribe("ctx", id)
		return nil
	}))
	other := &recordingSink{}
	r.Subscribe("ctx", other)

	assert.Equal(t, 2, r.Broadcast("ctx", update("e1")))
	assert.Equal(t, 1, r.SubscriberCount("ctx"))
	assert.Len(t, other.Messages(), 1)
}

func TestAllSubscriptionsIsACopy(t *testing.T) {
	r := NewRegistry()
	id := r.Subscribe("ctx", &recordingSink{})

	want := []Subscription{{ID: id, ContextID: "ctx"}}
	all := r.AllSubscriptions()
	require.Equal(t, want, all["ctx"])
	all["ctx"][0].ID = "mutated"
	delete(all, "ctx")

	assert.Equal(t, want, r.AllSubscriptions()["ctx"])
}

func TestClearAll(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("a", &recordingSink{})
	r.Subscribe("b", &recordingSink{})

	r.ClearAll()
	assert.Empty(t, r.AllSubscriptions())
	assert.Equal(t, 0, r.Broadcast("a", update("x")))
}

func TestConcurrentSubscribeBroadcastUnsubscribe(t *testing.T) {
	r := NewRegistry()
	var delivered atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Subscribe("ctx", SinkFunc(func(Message) error {
				delivered.Add(1)
				return nil
			}))
			r.Broadcast("ctx", update("e"))
			r.Unsubscribe("ctx", id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.SubscriberCount("ctx"))
	assert.GreaterOrEqual(t, delivered.Load(), int64(20))
}
