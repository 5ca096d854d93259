// Package taskworker implements the task worker (C9): it orchestrates one
// task through its ordered agents, driving the restart-on-comment iteration
// loop with per-agent failure isolation.
package taskworker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/malamar-dev/malamar/internal/cliadapter"
	"github.com/malamar-dev/malamar/internal/eventbus"
	"github.com/malamar-dev/malamar/internal/inputbuilder"
	"github.com/malamar-dev/malamar/internal/logx"
	"github.com/malamar-dev/malamar/internal/metrics"
	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/outputparser"
	"github.com/malamar-dev/malamar/internal/procreg"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/runnererr"
	"github.com/malamar-dev/malamar/internal/taskexec"
)

// maxIterations is the defensive safety cap on the agent iteration loop
// (spec.md §4.9); a runaway comment/restart cycle is a bug in the agent's
// CLI, not a normal operating mode.
const maxIterations = 100

// Worker processes task-queue items.
type Worker struct {
	taskQueue  repo.TaskQueueRepo
	tasks      repo.TaskRepo
	workspaces repo.WorkspaceRepo
	agents     repo.AgentRepo
	adapters   *cliadapter.Registry
	procs      *procreg.Registry
	builder    *inputbuilder.Builder
	exec       *taskexec.Executor
	bus        *eventbus.Bus
	log        *logx.Logger
}

// New wires a task worker from its dependencies.
func New(
	taskQueue repo.TaskQueueRepo,
	tasks repo.TaskRepo,
	workspaces repo.WorkspaceRepo,
	agents repo.AgentRepo,
	adapters *cliadapter.Registry,
	procs *procreg.Registry,
	builder *inputbuilder.Builder,
	exec *taskexec.Executor,
	bus *eventbus.Bus,
) *Worker {
	return &Worker{
		taskQueue: taskQueue, tasks: tasks, workspaces: workspaces, agents: agents,
		adapters: adapters, procs: procs, builder: builder, exec: exec, bus: bus,
		log: logx.NewLogger("taskworker"),
	}
}

// ProcessTask runs the flow of spec.md §4.9 for one claimed queue item.
func (w *Worker) ProcessTask(ctx context.Context, item model.TaskQueueItem, tempDir string) error {
	task, err := w.tasks.FindByID(ctx, item.TaskID)
	if err != nil {
		_ = w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return fmt.Errorf("load task %s: %w", item.TaskID, err)
	}

	workspace, err := w.workspaces.FindByID(ctx, task.WorkspaceID)
	if err != nil {
		_ = w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return fmt.Errorf("load workspace %s: %w", task.WorkspaceID, err)
	}

	agents, err := w.agents.FindByWorkspaceID(ctx, workspace.ID)
	if err != nil {
		_ = w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return fmt.Errorf("load agents for workspace %s: %w", workspace.ID, err)
	}

	if len(agents) == 0 {
		if err := w.exec.UpdateTaskStatusWithLog(ctx, task, workspace, model.TaskInReview); err != nil {
			w.log.Error("force in_review on empty-agent task %s: %v", task.ID, err)
		}
		return w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueCompleted)
	}

	if task.Status == model.TaskTodo {
		if err := w.exec.UpdateTaskStatusWithLog(ctx, task, workspace, model.TaskInProgress); err != nil {
			_ = w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
			return fmt.Errorf("force in_progress on task %s: %w", task.ID, err)
		}
	}

	if err := w.runIterationLoop(ctx, task, workspace, agents, tempDir); err != nil {
		_ = w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueFailed)
		return err
	}

	return w.taskQueue.UpdateQueueStatus(ctx, item.ID, model.QueueCompleted)
}

func (w *Worker) runIterationLoop(ctx context.Context, task *model.Task, workspace *model.Workspace, agents []model.Agent, tempDir string) error {
	for iteration := 0; iteration < maxIterations; iteration++ {
		invoked := 0
		commentsAdded := 0
		allSkipped := true

		for _, agent := range agents {
			adapter, ok := w.adapters.Get(agent.CLIType)
			if !ok {
				// Unavailable CLI kind: skip, but not counted toward the
				// all-skipped rule (spec.md §4.9).
				continue
			}

			invoked++
			result, status, err := w.runAgent(ctx, task, workspace, &agent, agents, adapter, tempDir)
			if err != nil {
				return err
			}

			commentsAdded += result.CommentsAdded
			if !result.Skipped {
				allSkipped = false
			}

			if result.StatusChanged && status != model.TaskInProgress {
				return nil
			}
		}

		if invoked == 0 {
			// No configured agent had an available adapter this iteration;
			// nothing more can be done.
			return nil
		}

		reloaded, err := w.tasks.FindByID(ctx, task.ID)
		if err != nil {
			if errors.Is(err, runnererr.ErrNotFound) {
				return fmt.Errorf("task %s deleted mid-iteration: %w", task.ID, err)
			}
			return fmt.Errorf("reload task %s: %w", task.ID, err)
		}
		*task = *reloaded

		switch {
		case commentsAdded > 0:
			continue
		case allSkipped:
			return w.exec.UpdateTaskStatusWithLog(ctx, task, workspace, model.TaskInReview)
		default:
			return nil
		}
	}

	w.log.Warn("task %s hit the %d-iteration safety cap", task.ID, maxIterations)
	return nil
}

// runAgent invokes one agent once: builds input, launches and tracks the CLI
// subprocess, parses output, and applies its actions, per spec.md §4.9.
func (w *Worker) runAgent(ctx context.Context, task *model.Task, workspace *model.Workspace, agent *model.Agent, agents []model.Agent, adapter cliadapter.Adapter, tempDir string) (taskexec.Result, model.TaskStatus, error) {
	w.logAndEmitStart(ctx, task, agent)

	comments, err := w.tasks.FindCommentsByTaskID(ctx, task.ID)
	if err != nil {
		return taskexec.Result{}, task.Status, fmt.Errorf("load comments for task %s: %w", task.ID, err)
	}
	logs, err := w.tasks.FindLogsByTaskID(ctx, task.ID)
	if err != nil {
		return taskexec.Result{}, task.Status, fmt.Errorf("load logs for task %s: %w", task.ID, err)
	}

	otherNames := otherAgentNames(agents, agent)
	build, err := w.builder.BuildTaskInput(inputbuilder.TaskInputRequest{
		Workspace: workspace, Agent: agent, Task: task,
		Comments: comments, Logs: logs, OtherAgentNames: otherNames, TempDir: tempDir,
	})
	if err != nil {
		return taskexec.Result{}, task.Status, fmt.Errorf("build input for task %s: %w", task.ID, err)
	}

	inputPath := inputbuilder.TaskInputPath(tempDir, task.ID)
	if err := writeFile(inputPath, build.Content); err != nil {
		return taskexec.Result{}, task.Status, fmt.Errorf("write input for task %s: %w", task.ID, err)
	}

	workDir := tempDir
	if workspace.WorkingDirectoryMode == model.WorkingDirStatic {
		workDir = workspace.WorkingDirectoryPath
	}

	proc, err := adapter.Start(ctx, cliadapter.Request{
		InputPath: inputPath, OutputPath: build.OutputPath, WorkDir: workDir,
		Kind: cliadapter.KindTask, CLIType: agent.CLIType,
	})
	if err != nil {
		return w.handleAgentFailure(ctx, task, workspace, agent, fmt.Sprintf("failed to start: %s", err))
	}

	w.procs.TrackTask(task.ID, workspace.ID, proc)
	metrics.AgentInvocationsTotal.Inc()
	cliResult, _ := proc.Wait()
	w.procs.UntrackTask(task.ID)

	w.logAndEmitFinish(ctx, task, agent, cliResult.Success, cliResult.Stderr)

	if !cliResult.Success {
		metrics.CLIFailuresTotal.Inc()
		return w.handleAgentFailure(ctx, task, workspace, agent, outputparser.GenerateErrorComment(cliResult.ExitCode, cliResult.Stderr))
	}

	output, err := outputparser.ParseTaskOutputFile(build.OutputPath)
	if err != nil {
		return w.handleAgentFailure(ctx, task, workspace, agent, err.Error())
	}

	result, err := w.exec.Apply(ctx, task, workspace, agent, output.Actions)
	if err != nil {
		return taskexec.Result{}, task.Status, fmt.Errorf("apply actions for task %s: %w", task.ID, err)
	}

	status := task.Status
	if result.StatusChanged {
		status = result.NewStatus
	}
	return result, status, nil
}

func (w *Worker) handleAgentFailure(ctx context.Context, task *model.Task, workspace *model.Workspace, agent *model.Agent, message string) (taskexec.Result, model.TaskStatus, error) {
	content := fmt.Sprintf("[%s] Error: %s", agent.Name, message)
	if err := w.exec.AddSystemComment(ctx, task, workspace, content); err != nil {
		w.log.Error("record agent failure comment on task %s: %v", task.ID, err)
	}
	w.bus.Emit(eventbus.Event{
		Type:        eventbus.TaskErrorOccurred,
		WorkspaceID: task.WorkspaceID,
		Payload: map[string]any{
			"taskId":       task.ID,
			"taskSummary":  task.Summary,
			"errorMessage": message,
		},
	})
	return taskexec.Result{}, task.Status, fmt.Errorf("agent %s failed on task %s: %s", agent.Name, task.ID, message)
}

func (w *Worker) logAndEmitStart(ctx context.Context, task *model.Task, agent *model.Agent) {
	if err := w.tasks.CreateLog(ctx, &model.TaskLog{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		EventType:   model.LogAgentStarted,
		ActorType:   model.ActorAgent,
		ActorID:     agent.ID,
	}); err != nil {
		w.log.Error("log agent_started on task %s: %v", task.ID, err)
	}
	w.bus.Emit(eventbus.Event{
		Type:        eventbus.AgentExecutionStarted,
		WorkspaceID: task.WorkspaceID,
		Payload: map[string]any{
			"taskId":      task.ID,
			"taskSummary": task.Summary,
			"agentName":   agent.Name,
		},
	})
}

func (w *Worker) logAndEmitFinish(ctx context.Context, task *model.Task, agent *model.Agent, success bool, errDetail string) {
	metadata := map[string]any{"success": success}
	payload := map[string]any{
		"taskId":      task.ID,
		"taskSummary": task.Summary,
		"agentName":   agent.Name,
	}
	if !success {
		metadata["error"] = errDetail
		payload["error"] = errDetail
	}
	if err := w.tasks.CreateLog(ctx, &model.TaskLog{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		EventType:   model.LogAgentFinished,
		ActorType:   model.ActorAgent,
		ActorID:     agent.ID,
		Metadata:    metadata,
	}); err != nil {
		w.log.Error("log agent_finished on task %s: %v", task.ID, err)
	}
	w.bus.Emit(eventbus.Event{Type: eventbus.AgentExecutionFinished, WorkspaceID: task.WorkspaceID, Payload: payload})
}

func otherAgentNames(agents []model.Agent, self *model.Agent) []string {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.ID == self.ID {
			continue
		}
		names = append(names, a.Name)
	}
	return names
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
