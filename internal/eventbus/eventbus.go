// Package eventbus implements the runner's process-wide publish/subscribe bus
// (C1): a closed set of typed events fanned out synchronously to subscribers,
// with panic isolation so one bad handler never blocks or crashes delivery to
// the rest.
package eventbus

import (
	"sync"

	"github.com/malamar-dev/malamar/internal/logx"
)

// Type is one of the closed set of event types named in spec.md §4.1.
type Type string

const (
	TaskStatusChanged       Type = "task.status_changed"
	TaskCommentAdded        Type = "task.comment_added"
	TaskErrorOccurred       Type = "task.error_occurred"
	AgentExecutionStarted   Type = "agent.execution_started"
	AgentExecutionFinished  Type = "agent.execution_finished"
	ChatMessageAdded        Type = "chat.message_added"
	ChatProcessingStarted   Type = "chat.processing_started"
	ChatProcessingFinished  Type = "chat.processing_finished"
)

// Event is a single typed payload emitted on the bus. Payload carries the
// type-specific fields from spec.md §6.3; WorkspaceID is always present.
type Event struct {
	Type        Type
	WorkspaceID string
	Payload     map[string]any
}

// Handler receives every event delivered after it subscribes. Handlers must
// be non-blocking and must not panic out past the bus (panics are recovered
// and logged, delivery to remaining subscribers continues).
type Handler func(Event)

// Bus is the process-wide publisher. The zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	subscribers []subscriber
	nextID      uint64
	log         *logx.Logger
}

type subscriber struct {
	id      uint64
	handler Handler
}

// New returns an empty bus ready to accept subscribers.
func New() *Bus {
	return &Bus{log: logx.NewLogger("eventbus")}
}

// Unsubscribe detaches a previously subscribed handler.
type Unsubscribe func()

// Subscribe registers handler to receive all future emissions, in
// subscription order relative to other live subscribers. Late subscribers
// miss events emitted before they subscribed; the bus has no replay buffer.
func (b *Bus) Subscribe(handler Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers = append(b.subscribers, subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subscribers {
			if sub.id == id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers evt synchronously to every current subscriber, in
// subscription order. A subscriber that panics is recovered and logged; it
// does not prevent delivery to the remaining subscribers and does not
// propagate back to the caller.
func (b *Bus) Emit(evt Event) {
	b.mu.Lock()
	handlers := make([]subscriber, len(b.subscribers))
	copy(handlers, b.subscribers)
	b.mu.Unlock()

	for _, sub := range handlers {
		b.dispatch(sub, evt)
	}
}

func (b *Bus) dispatch(sub subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber %d panicked handling %s: %v", sub.id, evt.Type, r)
		}
	}()
	sub.handler(evt)
}

// SubscriberCount reports the number of live subscribers, for tests verifying
// panic isolation (Testable Property 8).
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
