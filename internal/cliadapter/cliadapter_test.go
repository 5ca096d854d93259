package cliadapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malamar-dev/malamar/internal/model"
)

func TestRegistryGetReturnsRegisteredAdapter(t *testing.T) {
	r := NewRegistry()
	fake := NewFakeAdapter(model.CLIClaude)
	r.Register(fake)

	got, ok := r.Get(model.CLIClaude)
	require.True(t, ok)
	assert.Same(t, fake, got)

	_, ok = r.Get(model.CLIGemini)
	assert.False(t, ok)
}

func TestRegistryOverrideWinsRegardlessOfKind(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFakeAdapter(model.CLIClaude))
	override := NewFakeAdapter(model.CLIGemini)
	r.SetOverride(override)

	got, ok := r.Get(model.CLIClaude)
	require.True(t, ok)
	assert.Same(t, override, got)

	r.SetOverride(nil)
	got, ok = r.Get(model.CLIGemini)
	require.False(t, ok)
	assert.Nil(t, got)
}

func TestRegistryAvailable(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Available(model.CLIClaude))
	r.Register(NewFakeAdapter(model.CLIClaude))
	assert.True(t, r.Available(model.CLIClaude))
}

func TestErrUnavailableWrapsSentinel(t *testing.T) {
	err := ErrUnavailable(model.CLICodex)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Contains(t, err.Error(), "codex")
}

func TestFakeAdapterServesResponsesInOrderThenRepeatsLast(t *testing.T) {
	fake := NewFakeAdapter(model.CLIClaude,
		FakeResponse{Result: Result{Success: true, ExitCode: 0}},
		FakeResponse{Result: Result{Success: false, ExitCode: 1}},
	)

	proc1, err := fake.Start(context.Background(), Request{})
	require.NoError(t, err)
	res1, _ := proc1.Wait()
	assert.True(t, res1.Success)

	proc2, err := fake.Start(context.Background(), Request{})
	require.NoError(t, err)
	res2, _ := proc2.Wait()
	assert.False(t, res2.Success)
	assert.Equal(t, 1, res2.ExitCode)

	proc3, err := fake.Start(context.Background(), Request{})
	require.NoError(t, err)
	res3, _ := proc3.Wait()
	assert.Equal(t, res2, res3)

	assert.Len(t, fake.Invocations(), 3)
}

func TestFakeAdapterWritesOutputJSON(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.json")
	fake := NewFakeAdapter(model.CLIClaude, FakeResponse{
		Result:     Result{Success: true},
		OutputJSON: `{"message":"hi"}`,
	})

	proc, err := fake.Start(context.Background(), Request{OutputPath: outputPath})
	require.NoError(t, err)
	_, _ = proc.Wait()

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"hi"}`, string(data))
}

func TestProcessKillIsIdempotent(t *testing.T) {
	fake := NewFakeAdapter(model.CLIClaude, FakeResponse{Result: Result{Success: true}})
	proc, err := fake.Start(context.Background(), Request{})
	require.NoError(t, err)

	assert.NoError(t, proc.Kill())
	assert.NoError(t, proc.Kill())
}

func TestLocalAdapterRunsRealSubprocess(t *testing.T) {
	adapter := NewLocalAdapter(model.CLIClaude, "true", func(string) []string { return nil })
	proc, err := adapter.Start(context.Background(), Request{WorkDir: t.TempDir()})
	require.NoError(t, err)

	res, err := proc.Wait()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalAdapterReportsNonZeroExit(t *testing.T) {
	adapter := NewLocalAdapter(model.CLIClaude, "false", func(string) []string { return nil })
	proc, err := adapter.Start(context.Background(), Request{WorkDir: t.TempDir()})
	require.NoError(t, err)

	res, err := proc.Wait()
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
}

func TestLocalAdapterHealthCheckNotFound(t *testing.T) {
	adapter := NewLocalAdapter(model.CLIClaude, "definitely-not-a-real-binary-xyz", func(string) []string { return nil })
	health := adapter.HealthCheck(context.Background())
	assert.Equal(t, HealthNotFound, health.Status)
}

func TestDefaultAdaptersRegistersAllFourKinds(t *testing.T) {
	adapters := DefaultAdapters()
	require.Len(t, adapters, 4)

	r := NewRegistry()
	for _, a := range adapters {
		r.Register(a)
	}
	for _, kind := range []model.CLIKind{model.CLIClaude, model.CLIGemini, model.CLICodex, model.CLIOpenCode} {
		assert.True(t, r.Available(kind))
	}
}
