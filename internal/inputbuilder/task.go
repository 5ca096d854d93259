package inputbuilder

import (
	"fmt"
	"path/filepath"

	"github.com/malamar-dev/malamar/internal/model"
)

// TaskInputRequest bundles everything buildTaskInput needs.
type TaskInputRequest struct {
	Workspace       *model.Workspace
	Agent           *model.Agent
	Task            *model.Task
	Comments        []model.TaskComment
	Logs            []model.TaskLog
	OtherAgentNames []string
	TempDir         string
}

// BuildResult is a rendered document plus the output path the CLI is told to
// write its JSON response to.
type BuildResult struct {
	Content    string
	OutputPath string
}

type taskInputView struct {
	WorkspaceInstruction string
	AgentInstruction     string
	OtherAgentNames      []string
	Summary              string
	Description           string
	CommentsJSONL         []string
	ActivityJSONL         []string
	OutputPath            string
}

// BuildTaskInput renders the task input markdown (spec.md §4.6) and mints a
// fresh output path keyed by a 21-char URL-safe id.
func (b *Builder) BuildTaskInput(req TaskInputRequest) (BuildResult, error) {
	outputPath := filepath.Join(req.TempDir, fmt.Sprintf("malamar_output_%s.json", newOutputID()))

	view := taskInputView{
		WorkspaceInstruction: req.Workspace.Description,
		AgentInstruction:     req.Agent.Instruction,
		OtherAgentNames:      req.OtherAgentNames,
		Summary:              req.Task.Summary,
		Description:          req.Task.Description,
		CommentsJSONL:        commentLines(req.Comments),
		ActivityJSONL:        logLines(req.Logs),
		OutputPath:           outputPath,
	}

	content, err := b.render(taskInputTemplate, view)
	if err != nil {
		return BuildResult{}, err
	}
	return BuildResult{Content: content, OutputPath: outputPath}, nil
}

// TaskInputPath returns the fixed task input file path for taskID, per
// spec.md §6.2: <tempDir>/malamar_task_<taskId>.md.
func TaskInputPath(tempDir, taskID string) string {
	return filepath.Join(tempDir, fmt.Sprintf("malamar_task_%s.md", taskID))
}
