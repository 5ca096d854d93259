package cliadapter

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/malamar-dev/malamar/internal/model"
)

// LocalAdapter launches a real CLI binary on the local machine, grounded on
// the teacher's LocalExec (direct os/exec.Command, captured stdout/stderr,
// exit code extracted from *exec.ExitError).
type LocalAdapter struct {
	cliType model.CLIKind
	binary  string
	// argsFn builds the invocation arguments given the input file path; each
	// CLI kind has its own established invocation convention (spec.md §6.2).
	argsFn func(inputPath string) []string
}

var _ Adapter = (*LocalAdapter)(nil)

// NewLocalAdapter returns an adapter that shells out to binary, passing the
// input file path through argsFn's convention.
func NewLocalAdapter(cliType model.CLIKind, binary string, argsFn func(inputPath string) []string) *LocalAdapter {
	return &LocalAdapter{cliType: cliType, binary: binary, argsFn: argsFn}
}

func (a *LocalAdapter) CLIType() model.CLIKind { return a.cliType }

func (a *LocalAdapter) Start(ctx context.Context, req Request) (*Process, error) {
	args := a.argsFn(req.InputPath)
	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = req.WorkDir

	var stderr strings.Builder
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &Process{cmd: cmd}
	proc.waitFn = func() (Result, error) {
		err := cmd.Wait()
		duration := time.Since(started)

		exitCode := 0
		success := true
		if err != nil {
			success = false
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}

		return Result{
			Success:  success,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Duration: duration,
		}, nil
	}

	return proc, nil
}

func (a *LocalAdapter) HealthCheck(ctx context.Context) Health {
	started := time.Now()
	path, err := exec.LookPath(a.binary)
	if err != nil {
		return Health{Status: HealthNotFound, Error: err.Error(), DurationMS: time.Since(started).Milliseconds()}
	}

	cmd := exec.CommandContext(ctx, path, "--version")
	out, err := cmd.Output()
	durationMS := time.Since(started).Milliseconds()
	if err != nil {
		return Health{Status: HealthUnhealthy, Error: err.Error(), DurationMS: durationMS}
	}
	return Health{Status: HealthHealthy, Version: strings.TrimSpace(string(out)), DurationMS: durationMS}
}

// DefaultAdapters returns a LocalAdapter for each of the four recognised CLI
// kinds, using each program's established invocation convention of passing
// the input file as a positional argument.
func DefaultAdapters() []Adapter {
	withInputArg := func(inputPath string) []string { return []string{inputPath} }
	return []Adapter{
		NewLocalAdapter(model.CLIClaude, "claude", withInputArg),
		NewLocalAdapter(model.CLIGemini, "gemini", withInputArg),
		NewLocalAdapter(model.CLICodex, "codex", withInputArg),
		NewLocalAdapter(model.CLIOpenCode, "opencode", withInputArg),
	}
}
