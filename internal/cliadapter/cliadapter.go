// Package cliadapter implements the CLI adapter capability set (C4): one
// launcher per external CLI kind with a uniform invoke contract, plus a
// process-scoped override point so tests can substitute a fake adapter.
//
// Grounded on the teacher's pkg/exec Executor/Opts/Result shape, narrowed to
// the single start/track/wait/untrack lifecycle the runner core needs instead
// of the teacher's general local/Docker executor split.
package cliadapter

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/malamar-dev/malamar/internal/model"
)

// Kind distinguishes a task invocation from a chat invocation; it travels
// with the Request and the adapters in this package do not act on it.
type Kind string

const (
	KindTask Kind = "task"
	KindChat Kind = "chat"
)

// Request describes one CLI invocation.
type Request struct {
	InputPath  string
	OutputPath string
	WorkDir    string
	Kind       Kind
	CLIType    model.CLIKind
}

// Result is what the child reported, per spec.md §4.4: success, exit code,
// captured stderr. The adapter never reads the output file itself; C5 does.
type Result struct {
	Success  bool
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// HealthStatus is the health-check outcome for a CLI kind.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthNotFound  HealthStatus = "not_found"
)

// Health is the cached health-check snapshot for one CLI kind.
type Health struct {
	Status     HealthStatus
	Version    string
	Error      string
	DurationMS int64
}

// Process is a handle to a started, not-yet-reaped child process. It is what
// the subprocess registry (C3) tracks and kills.
type Process struct {
	cmd     *exec.Cmd
	waitFn  func() (Result, error)
	killed  bool
	mu      sync.Mutex
}

// Wait blocks until the process exits and returns the captured result.
func (p *Process) Wait() (Result, error) {
	return p.waitFn()
}

// Kill best-effort terminates the process. Calling Kill on an already-exited
// or already-killed process is a harmless no-op (spec.md §4.3: "kill calls
// that fail... must be swallowed").
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed || p.cmd.Process == nil {
		return nil
	}
	p.killed = true
	_ = p.cmd.Process.Kill()
	return nil
}

// Adapter is the per-CLI-kind launcher. Launching (Start) is split from
// reaping (Process.Wait) so callers can register the child with the
// subprocess registry in between.
type Adapter interface {
	CLIType() model.CLIKind
	// Start launches the child without waiting for it to exit, returning a
	// Process the caller registers with the subprocess registry before
	// calling Process.Wait.
	Start(ctx context.Context, req Request) (*Process, error)
	// HealthCheck reports the cached or live health of the underlying binary.
	HealthCheck(ctx context.Context) Health
}

// Registry holds one Adapter per CLI kind plus an optional process-scoped
// override used by tests (the "fake CLI adapter" substitution point named in
// spec.md §4.4 and the Design Notes' singleton guidance).
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.CLIKind]Adapter
	override Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.CLIKind]Adapter)}
}

// Register installs adapter under its own CLIType.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.CLIType()] = adapter
}

// Get returns the adapter for kind, or the test override if one is set.
// The second return value is false if no adapter is available for that kind.
func (r *Registry) Get(kind model.CLIKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.override != nil {
		return r.override, true
	}
	a, ok := r.adapters[kind]
	return a, ok
}

// SetOverride installs a is a process-scoped adapter used for every kind,
// regardless of what's registered — the substitution point tests use in
// place of launching real CLI binaries. Pass nil to clear it.
func (r *Registry) SetOverride(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = adapter
}

// Available reports whether an adapter (real or overridden) exists for kind.
func (r *Registry) Available(kind model.CLIKind) bool {
	_, ok := r.Get(kind)
	return ok
}

// errUnavailable is the sentinel that ErrUnavailable wraps.
var errUnavailable = fmt.Errorf("no adapter available")

// ErrUnavailable returns an error, wrapping errUnavailable, stating that the
// given CLI kind has no adapter available.
func ErrUnavailable(kind model.CLIKind) error {
	return fmt.Errorf("cli kind %s: %w", kind, errUnavailable)
}
