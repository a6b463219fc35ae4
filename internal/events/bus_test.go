package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewEvent(TypeSent, "msg-1", "task_request", "worker_1", "coordinator"))

	e := recv(t, ch)
	assert.Equal(t, TypeSent, e.Type)
	assert.Equal(t, "msg-1", e.MessageID)
	assert.Equal(t, "worker_1", e.FromAgent)
	assert.Equal(t, "coordinator", e.ToAgent)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestSubscribeFiltersTypes(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe(TypeExpired)
	bus.Publish(NewEvent(TypeSent, "msg-1", "task_request", "a", "b"))
	bus.Publish(NewEvent(TypeExpired, "msg-2", "task_request", "a", "b"))

	e := recv(t, ch)
	assert.Equal(t, TypeExpired, e.Type)
	assert.Equal(t, "msg-2", e.MessageID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %v", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	bus.Subscribe()
	bus.Publish(NewEvent(TypeSent, "msg-1", "task_request", "a", "b"))
	bus.Publish(NewEvent(TypeSent, "msg-2", "task_request", "a", "b"))

	m := bus.Metrics()
	assert.Equal(t, int64(2), m.Published)
	assert.Equal(t, int64(1), m.Delivered)
	assert.Equal(t, int64(1), m.Dropped)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	bus.Publish(NewEvent(TypeSent, "msg-1", "task_request", "a", "b"))

	_, open := <-ch
	assert.False(t, open, "unsubscribed channel is closed")
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	ch := bus.Subscribe()

	bus.Close()
	bus.Publish(NewEvent(TypeSent, "msg-1", "task_request", "a", "b"))

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, int64(0), bus.Metrics().Published)
}

func TestPublishNilIsNoop(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()
	bus.Publish(nil)
	assert.Equal(t, int64(0), bus.Metrics().Published)
}
