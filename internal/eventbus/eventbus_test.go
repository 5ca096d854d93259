package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := New()

	var got Event
	unsub := bus.Subscribe(func(evt Event) { got = evt })
	defer unsub()

	bus.Emit(Event{Type: TaskStatusChanged, WorkspaceID: "ws-1", Payload: map[string]any{"taskId": "t-1"}})

	assert.Equal(t, TaskStatusChanged, got.Type)
	assert.Equal(t, "ws-1", got.WorkspaceID)
	assert.Equal(t, "t-1", got.Payload["taskId"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()

	calls := 0
	unsub := bus.Subscribe(func(Event) { calls++ })

	bus.Emit(Event{Type: ChatMessageAdded})
	unsub()
	bus.Emit(Event{Type: ChatMessageAdded})

	assert.Equal(t, 1, calls)
}

func TestEmitDeliversToAllSubscribersInOrder(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	bus.Emit(Event{Type: AgentExecutionStarted})

	require.Len(t, order, 3)
	assert.Equal(t, []int{0, 1, 2}, order)
}

// A panicking handler must not prevent other subscribers from receiving the
// event, and must not crash Emit's caller (spec.md §4.1).
func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := New()

	bus.Subscribe(func(Event) { panic("boom") })

	secondCalled := false
	bus.Subscribe(func(Event) { secondCalled = true })

	assert.NotPanics(t, func() {
		bus.Emit(Event{Type: TaskErrorOccurred})
	})
	assert.True(t, secondCalled)
}

func TestSubscriberCount(t *testing.T) {
	bus := New()
	assert.Equal(t, 0, bus.SubscriberCount())

	unsub1 := bus.Subscribe(func(Event) {})
	unsub2 := bus.Subscribe(func(Event) {})
	assert.Equal(t, 2, bus.SubscriberCount())

	unsub1()
	assert.Equal(t, 1, bus.SubscriberCount())
	unsub2()
	assert.Equal(t, 0, bus.SubscriberCount())
}
