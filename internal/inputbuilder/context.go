package inputbuilder

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/malamar-dev/malamar/internal/model"
)

// CLIHealthSnapshot is the cached health-check result an external poller
// writes to <tempDir>/malamar_cli_health.yaml (SPEC_FULL.md §4.14); the
// runner only deserializes it, it never performs the health check itself.
type CLIHealthSnapshot struct {
	Statuses          map[string]string `yaml:"statuses"`
	MailgunConfigured bool              `yaml:"mailgun_configured"`
}

// cliHealthFileName is the fixed name of the cached snapshot within tempDir.
const cliHealthFileName = "malamar_cli_health.yaml"

// LoadCLIHealthSnapshot reads the cached snapshot. A missing file is not an
// error: it yields an empty snapshot so health indicators render as unknown.
func LoadCLIHealthSnapshot(tempDir string) (CLIHealthSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(tempDir, cliHealthFileName))
	if os.IsNotExist(err) {
		return CLIHealthSnapshot{}, nil
	}
	if err != nil {
		return CLIHealthSnapshot{}, fmt.Errorf("read cli health snapshot: %w", err)
	}

	var snap CLIHealthSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return CLIHealthSnapshot{}, fmt.Errorf("parse cli health snapshot: %w", err)
	}
	return snap, nil
}

func (s CLIHealthSnapshot) indicator(kind model.CLIKind) string {
	switch s.Statuses[string(kind)] {
	case "healthy":
		return "✓"
	case "unhealthy", "not_found":
		return "✗"
	default:
		return "?"
	}
}

// ChatContextRequest bundles everything buildChatContext needs.
type ChatContextRequest struct {
	Workspace *model.Workspace
	Agents    []model.Agent
	Health    CLIHealthSnapshot
}

type agentView struct {
	ID          string
	Name        string
	CLIType     model.CLIKind
	Instruction string
}

type cliHealthView struct {
	Kind      model.CLIKind
	Indicator string
}

type chatContextView struct {
	WorkspaceTitle       string
	WorkspaceDescription string
	WorkingDirectoryMode model.WorkingDirectoryMode
	AutoDeleteDoneTasks  bool
	Agents               []agentView
	CLIHealth            []cliHealthView
	MailgunConfigured    bool
}

var knownCLIKinds = []model.CLIKind{model.CLIClaude, model.CLIGemini, model.CLICodex, model.CLIOpenCode}

// BuildChatContext renders the workspace context markdown (spec.md §4.6): the
// document agents read on demand for workspace settings, the ordered agent
// roster, per-CLI health, and whether outbound mail is configured.
func (b *Builder) BuildChatContext(req ChatContextRequest) (string, error) {
	agents := make([]agentView, len(req.Agents))
	for i, a := range req.Agents {
		agents[i] = agentView{ID: a.ID, Name: a.Name, CLIType: a.CLIType, Instruction: a.Instruction}
	}

	health := make([]cliHealthView, len(knownCLIKinds))
	for i, kind := range knownCLIKinds {
		health[i] = cliHealthView{Kind: kind, Indicator: req.Health.indicator(kind)}
	}

	view := chatContextView{
		WorkspaceTitle:       req.Workspace.Title,
		WorkspaceDescription: req.Workspace.Description,
		WorkingDirectoryMode: req.Workspace.WorkingDirectoryMode,
		AutoDeleteDoneTasks:  req.Workspace.AutoDeleteDoneTasks,
		Agents:               agents,
		CLIHealth:            health,
		MailgunConfigured:    req.Health.MailgunConfigured,
	}

	return b.render(chatContextTemplate, view)
}
