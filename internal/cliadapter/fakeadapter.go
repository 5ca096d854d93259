package cliadapter

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/malamar-dev/malamar/internal/model"
)

// FakeAdapter is the test-double CLI adapter named in spec.md §4.4 ("a test
// adapter variant is substitutable through a process-scoped override"). It
// never shells out; each fake serves one CLI kind from a queue of scripted
// FakeResponses and, when a response carries OutputJSON, writes the CLI's
// JSON output file itself (the role a real CLI binary plays) so
// output-parser tests can exercise the full path.
type FakeAdapter struct {
	mu        sync.Mutex
	cliType   model.CLIKind
	responses []FakeResponse
	next      int
	started   []Request
}

var _ Adapter = (*FakeAdapter)(nil)

// FakeResponse is one scripted invocation outcome.
type FakeResponse struct {
	Result Result
	// OutputJSON, if non-empty, is written verbatim to req.OutputPath before
	// the scripted Result is returned, emulating a CLI that wrote its response.
	OutputJSON string
}

// NewFakeAdapter returns a fake adapter for cliType that serves responses in
// order, one per Start call; the last response repeats once exhausted.
func NewFakeAdapter(cliType model.CLIKind, responses ...FakeResponse) *FakeAdapter {
	return &FakeAdapter{cliType: cliType, responses: responses}
}

func (f *FakeAdapter) CLIType() model.CLIKind { return f.cliType }

func (f *FakeAdapter) Start(_ context.Context, req Request) (*Process, error) {
	f.mu.Lock()
	f.started = append(f.started, req)
	idx := f.next
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	var resp FakeResponse
	if idx >= 0 {
		resp = f.responses[idx]
	}
	if f.next < len(f.responses) {
		f.next++
	}
	f.mu.Unlock()

	if resp.OutputJSON != "" {
		if err := os.WriteFile(req.OutputPath, []byte(resp.OutputJSON), 0o600); err != nil {
			return nil, err
		}
	}

	result := resp.Result
	return &Process{
		cmd:    &exec.Cmd{},
		waitFn: func() (Result, error) { return result, nil },
	}, nil
}

func (f *FakeAdapter) HealthCheck(context.Context) Health {
	return Health{Status: HealthHealthy, Version: "fake"}
}

// Invocations returns every request this adapter has started, for assertions.
func (f *FakeAdapter) Invocations() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.started))
	copy(out, f.started)
	return out
}
