// Package procreg implements the subprocess lifecycle registry (C3): two
// keyed maps of live child processes, by task id and by chat id, supporting
// targeted, workspace-wide, and global kill.
package procreg

import (
	"sync"

	"github.com/malamar-dev/malamar/internal/cliadapter"
	"github.com/malamar-dev/malamar/internal/logx"
)

type entry struct {
	workspaceID string
	proc        *cliadapter.Process
}

// Registry tracks live CLI subprocesses by task id and by chat id. The zero
// value is not usable; use New.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]entry
	chats map[string]entry
	log   *logx.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		tasks: make(map[string]entry),
		chats: make(map[string]entry),
		log:   logx.NewLogger("procreg"),
	}
}

// TrackTask registers proc under taskID. If a prior entry exists for taskID
// it is killed first (spec.md §4.3: tracking is idempotent, a second track
// kills the first).
func (r *Registry) TrackTask(taskID, workspaceID string, proc *cliadapter.Process) {
	r.mu.Lock()
	prior, existed := r.tasks[taskID]
	r.tasks[taskID] = entry{workspaceID: workspaceID, proc: proc}
	r.mu.Unlock()

	if existed {
		r.killEntry(prior)
	}
}

// TrackChat is TrackTask's chat counterpart.
func (r *Registry) TrackChat(chatID, workspaceID string, proc *cliadapter.Process) {
	r.mu.Lock()
	prior, existed := r.chats[chatID]
	r.chats[chatID] = entry{workspaceID: workspaceID, proc: proc}
	r.mu.Unlock()

	if existed {
		r.killEntry(prior)
	}
}

// UntrackTask removes taskID's entry without killing it (normal completion).
func (r *Registry) UntrackTask(taskID string) {
	r.mu.Lock()
	delete(r.tasks, taskID)
	r.mu.Unlock()
}

// UntrackChat is UntrackTask's chat counterpart.
func (r *Registry) UntrackChat(chatID string) {
	r.mu.Lock()
	delete(r.chats, chatID)
	r.mu.Unlock()
}

// KillTask best-effort kills and untracks taskID's process, reporting
// whether an entry existed.
func (r *Registry) KillTask(taskID string) bool {
	r.mu.Lock()
	e, ok := r.tasks[taskID]
	delete(r.tasks, taskID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.killEntry(e)
	return true
}

// KillChat is KillTask's chat counterpart.
func (r *Registry) KillChat(chatID string) bool {
	r.mu.Lock()
	e, ok := r.chats[chatID]
	delete(r.chats, chatID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.killEntry(e)
	return true
}

// KillWorkspace kills every tracked process (task or chat) belonging to
// workspaceID. Keys are snapshotted before mutation to avoid
// iterate-while-modify hazards (spec.md §4.3).
func (r *Registry) KillWorkspace(workspaceID string) {
	r.mu.Lock()
	var toKill []entry
	for id, e := range r.tasks {
		if e.workspaceID == workspaceID {
			toKill = append(toKill, e)
			delete(r.tasks, id)
		}
	}
	for id, e := range r.chats {
		if e.workspaceID == workspaceID {
			toKill = append(toKill, e)
			delete(r.chats, id)
		}
	}
	r.mu.Unlock()

	for _, e := range toKill {
		r.killEntry(e)
	}
}

// KillAll kills every tracked process, used by graceful shutdown.
func (r *Registry) KillAll() {
	r.mu.Lock()
	var toKill []entry
	for id, e := range r.tasks {
		toKill = append(toKill, e)
		delete(r.tasks, id)
	}
	for id, e := range r.chats {
		toKill = append(toKill, e)
		delete(r.chats, id)
	}
	r.mu.Unlock()

	for _, e := range toKill {
		r.killEntry(e)
	}
}

func (r *Registry) killEntry(e entry) {
	if e.proc == nil {
		return
	}
	if err := e.proc.Kill(); err != nil {
		// Kill failures (process already exited) are swallowed per spec.md §4.3.
		r.log.Debug("kill swallowed: %v", err)
	}
}

// TaskCount and ChatCount report the number of currently tracked entries, for
// tests asserting idempotent tracking (Testable Property 10).
func (r *Registry) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) ChatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}
