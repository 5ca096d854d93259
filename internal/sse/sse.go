// Package sse implements the runner's SSE connection registry (C2): it owns
// the set of live stream writers, subscribes once to the event bus, and
// formats/broadcasts events to every connected writer, evicting writers whose
// next write fails.
//
// The registration/count surface is grounded on the SSEBroadcaster interface
// shape (RegisterClient/UnregisterClient/GetClientCount) found elsewhere in
// the retrieved pack; the formatting and eviction rules follow spec.md §4.2.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/malamar-dev/malamar/internal/eventbus"
	"github.com/malamar-dev/malamar/internal/logx"
)

// Writer is anything an SSE frame can be written to and flushed through.
type Writer interface {
	io.Writer
	Flush()
}

// Registry is the process-wide SSE broadcaster. The zero value is not usable;
// use New.
type Registry struct {
	mu      sync.Mutex
	clients map[uint64]Writer
	nextID  uint64

	bus        *eventbus.Bus
	unsubscribe eventbus.Unsubscribe
	log        *logx.Logger
}

// New creates a registry. Call Init to subscribe it to bus.
func New() *Registry {
	return &Registry{
		clients: make(map[uint64]Writer),
		log:     logx.NewLogger("sse"),
	}
}

// Init subscribes the registry to bus exactly once. Calling Init again after
// Shutdown re-subscribes; calling it while already subscribed is a no-op.
func (r *Registry) Init(bus *eventbus.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.bus = bus
	r.unsubscribe = bus.Subscribe(r.onEvent)
}

func (r *Registry) onEvent(evt eventbus.Event) {
	payload := map[string]any{"workspaceId": evt.WorkspaceID}
	for k, v := range evt.Payload {
		payload[k] = v
	}
	r.broadcast(evt.Type, payload)
}

// RegisterClient adds writer to the live set and sends the connection
// preamble (`retry: 3000\n` then `: ok\n\n`). The returned cleanup function
// evicts the writer; callers should defer it.
func (r *Registry) RegisterClient(w Writer) (cleanup func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.clients[id] = w
	r.mu.Unlock()

	if _, err := io.WriteString(w, "retry: 3000\n: ok\n\n"); err != nil {
		r.evict(id)
	} else {
		w.Flush()
	}

	return func() { r.evict(id) }
}

func (r *Registry) evict(id uint64) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// GetClientCount reports the number of currently live writers.
func (r *Registry) GetClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// broadcast formats an SSE frame (`event: <type>\ndata: <json>\n\n`) and
// writes it to every live client, evicting any whose write fails.
func (r *Registry) broadcast(evtType eventbus.Type, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("marshal SSE payload for %s: %v", evtType, err)
		return
	}

	var frame bytes.Buffer
	fmt.Fprintf(&frame, "event: %s\ndata: %s\n\n", evtType, data)

	r.mu.Lock()
	targets := make(map[uint64]Writer, len(r.clients))
	for id, w := range r.clients {
		targets[id] = w
	}
	r.mu.Unlock()

	for id, w := range targets {
		if _, err := w.Write(frame.Bytes()); err != nil {
			r.evict(id)
			continue
		}
		w.Flush()
	}
}

// Shutdown unsubscribes from the bus and drops every live writer. Idempotent.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.clients = make(map[uint64]Writer)
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
