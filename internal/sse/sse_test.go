package sse

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malamar-dev/malamar/internal/eventbus"
)

type bufWriter struct {
	strings.Builder
	flushed int
}

func (b *bufWriter) Flush() { b.flushed++ }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (failingWriter) Flush()                     {}

// flakyWriter accepts the connection preamble, then fails every later write.
type flakyWriter struct{ writes int }

func (f *flakyWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > 1 {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}
func (f *flakyWriter) Flush() {}

func TestRegisterClientSendsPreambleAndIncrementsCount(t *testing.T) {
	r := New()
	w := &bufWriter{}
	cleanup := r.RegisterClient(w)
	defer cleanup()

	assert.Equal(t, 1, r.GetClientCount())
	assert.Contains(t, w.String(), "retry: 3000")
	assert.Contains(t, w.String(), ": ok")
	assert.Equal(t, 1, w.flushed)
}

func TestCleanupEvictsClient(t *testing.T) {
	r := New()
	w := &bufWriter{}
	cleanup := r.RegisterClient(w)

	cleanup()
	assert.Equal(t, 0, r.GetClientCount())
}

func TestRegisterClientEvictsOnPreambleWriteFailure(t *testing.T) {
	r := New()
	r.RegisterClient(failingWriter{})
	assert.Equal(t, 0, r.GetClientCount())
}

func TestInitSubscribesOnceAndBroadcastsOnEvent(t *testing.T) {
	bus := eventbus.New()
	r := New()
	r.Init(bus)
	r.Init(bus) // second call must be a no-op, not a double subscription

	w := &bufWriter{}
	cleanup := r.RegisterClient(w)
	defer cleanup()

	bus.Emit(eventbus.Event{
		Type:        eventbus.TaskStatusChanged,
		WorkspaceID: "ws-1",
		Payload:     map[string]any{"taskId": "t-1"},
	})

	out := w.String()
	assert.Contains(t, out, "event: task.status_changed")
	assert.Contains(t, out, `"workspaceId":"ws-1"`)
	assert.Contains(t, out, `"taskId":"t-1"`)
}

func TestBroadcastEvictsFailingWriterButKeepsOthers(t *testing.T) {
	bus := eventbus.New()
	r := New()
	r.Init(bus)

	good := &bufWriter{}
	r.RegisterClient(good)
	r.RegisterClient(&flakyWriter{})
	require.Equal(t, 2, r.GetClientCount())

	bus.Emit(eventbus.Event{Type: eventbus.ChatMessageAdded, WorkspaceID: "ws-1"})

	assert.Equal(t, 1, r.GetClientCount())
	assert.Contains(t, good.String(), "event: chat.message_added")
}

func TestShutdownClearsClientsAndUnsubscribes(t *testing.T) {
	bus := eventbus.New()
	r := New()
	r.Init(bus)

	w := &bufWriter{}
	r.RegisterClient(w)
	require.Equal(t, 1, r.GetClientCount())

	r.Shutdown()
	assert.Equal(t, 0, r.GetClientCount())

	// The bus should no longer reach this registry after shutdown.
	bus.Emit(eventbus.Event{Type: eventbus.TaskStatusChanged, WorkspaceID: "ws-1"})
	assert.Equal(t, 0, r.GetClientCount())
}
