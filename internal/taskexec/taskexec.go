// Package taskexec implements the task action executor (C7): it applies
// validated task actions atomically against the store, logs activity, bumps
// workspace activity, and emits events.
package taskexec

import (
	"context"
	"fmt"

	"github.com/malamar-dev/malamar/internal/eventbus"
	"github.com/malamar-dev/malamar/internal/logx"
	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/outputparser"
	"github.com/malamar-dev/malamar/internal/repo"
)

// Result is what the caller (the task worker, C9) needs to know after a
// batch of actions has been applied.
type Result struct {
	CommentsAdded int
	StatusChanged bool
	NewStatus     model.TaskStatus
	Skipped       bool
}

// Executor applies task actions against the store.
type Executor struct {
	tasks      repo.TaskRepo
	workspaces repo.WorkspaceRepo
	bus        *eventbus.Bus
	log        *logx.Logger
}

// New returns an executor wired against the given repositories and bus.
func New(tasks repo.TaskRepo, workspaces repo.WorkspaceRepo, bus *eventbus.Bus) *Executor {
	return &Executor{tasks: tasks, workspaces: workspaces, bus: bus, log: logx.NewLogger("taskexec")}
}

// Apply executes actions against task on behalf of agent within workspace,
// per the semantics of spec.md §4.7.
func (e *Executor) Apply(ctx context.Context, task *model.Task, workspace *model.Workspace, agent *model.Agent, actions []outputparser.TaskAction) (Result, error) {
	var result Result
	skippableCount := 0
	currentStatus := task.Status

	for _, action := range actions {
		switch action.Type {
		case outputparser.TaskActionSkip:
			skippableCount++

		case outputparser.TaskActionComment:
			comment := &model.TaskComment{
				TaskID:      task.ID,
				WorkspaceID: task.WorkspaceID,
				AgentID:     agent.ID,
				Content:     action.Content,
			}
			if err := e.tasks.CreateComment(ctx, comment); err != nil {
				return result, fmt.Errorf("create comment on task %s: %w", task.ID, err)
			}
			if err := e.tasks.CreateLog(ctx, &model.TaskLog{
				TaskID:      task.ID,
				WorkspaceID: task.WorkspaceID,
				EventType:   model.LogCommentAdded,
				ActorType:   model.ActorAgent,
				ActorID:     agent.ID,
			}); err != nil {
				return result, fmt.Errorf("log comment on task %s: %w", task.ID, err)
			}
			result.CommentsAdded++
			e.bus.Emit(eventbus.Event{
				Type:        eventbus.TaskCommentAdded,
				WorkspaceID: task.WorkspaceID,
				Payload: map[string]any{
					"taskId":      task.ID,
					"taskSummary": task.Summary,
					"authorName":  agent.Name,
				},
			})

		case outputparser.TaskActionChangeStatus:
			if action.Status == currentStatus {
				continue
			}
			oldStatus := currentStatus
			if err := e.tasks.UpdateStatus(ctx, task.ID, action.Status); err != nil {
				return result, fmt.Errorf("change status on task %s: %w", task.ID, err)
			}
			if err := e.tasks.CreateLog(ctx, &model.TaskLog{
				TaskID:      task.ID,
				WorkspaceID: task.WorkspaceID,
				EventType:   model.LogStatusChanged,
				ActorType:   model.ActorAgent,
				ActorID:     agent.ID,
				Metadata: map[string]any{
					"oldStatus": oldStatus,
					"newStatus": action.Status,
					"agentName": agent.Name,
				},
			}); err != nil {
				return result, fmt.Errorf("log status change on task %s: %w", task.ID, err)
			}
			currentStatus = action.Status
			result.StatusChanged = true
			result.NewStatus = action.Status
			e.bus.Emit(eventbus.Event{
				Type:        eventbus.TaskStatusChanged,
				WorkspaceID: task.WorkspaceID,
				Payload: map[string]any{
					"taskId":      task.ID,
					"taskSummary": task.Summary,
					"oldStatus":   oldStatus,
					"newStatus":   action.Status,
				},
			})
		}
	}

	result.Skipped = len(actions) > 0 && skippableCount == len(actions)

	if len(actions) > 0 {
		if err := e.workspaces.UpdateLastActivity(ctx, workspace.ID); err != nil {
			e.log.Warn("bump workspace %s activity: %v", workspace.ID, err)
		}
	}

	return result, nil
}

// AddSystemComment persists a system-attributed comment (neither user nor
// agent) and bumps workspace activity, per spec.md §4.7's ancillary helpers.
func (e *Executor) AddSystemComment(ctx context.Context, task *model.Task, workspace *model.Workspace, content string) error {
	if err := e.tasks.CreateComment(ctx, &model.TaskComment{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		Content:     content,
	}); err != nil {
		return fmt.Errorf("add system comment on task %s: %w", task.ID, err)
	}
	if err := e.tasks.CreateLog(ctx, &model.TaskLog{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		EventType:   model.LogCommentAdded,
		ActorType:   model.ActorSystem,
	}); err != nil {
		return fmt.Errorf("log system comment on task %s: %w", task.ID, err)
	}
	if err := e.workspaces.UpdateLastActivity(ctx, workspace.ID); err != nil {
		e.log.Warn("bump workspace %s activity: %v", workspace.ID, err)
	}
	e.bus.Emit(eventbus.Event{
		Type:        eventbus.TaskCommentAdded,
		WorkspaceID: task.WorkspaceID,
		Payload: map[string]any{
			"taskId":      task.ID,
			"taskSummary": task.Summary,
			"authorName":  "system",
		},
	})
	return nil
}

// UpdateTaskStatusWithLog is a no-op when newStatus equals task.Status;
// otherwise it persists the change, appends a system status_changed log, and
// emits task.status_changed, per spec.md §4.7.
func (e *Executor) UpdateTaskStatusWithLog(ctx context.Context, task *model.Task, workspace *model.Workspace, newStatus model.TaskStatus) error {
	if task.Status == newStatus {
		return nil
	}
	oldStatus := task.Status
	if err := e.tasks.UpdateStatus(ctx, task.ID, newStatus); err != nil {
		return fmt.Errorf("update task %s status: %w", task.ID, err)
	}
	if err := e.tasks.CreateLog(ctx, &model.TaskLog{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		EventType:   model.LogStatusChanged,
		ActorType:   model.ActorSystem,
		Metadata: map[string]any{
			"oldStatus": oldStatus,
			"newStatus": newStatus,
		},
	}); err != nil {
		return fmt.Errorf("log system status change on task %s: %w", task.ID, err)
	}
	task.Status = newStatus
	e.bus.Emit(eventbus.Event{
		Type:        eventbus.TaskStatusChanged,
		WorkspaceID: task.WorkspaceID,
		Payload: map[string]any{
			"taskId":      task.ID,
			"taskSummary": task.Summary,
			"oldStatus":   oldStatus,
			"newStatus":   newStatus,
		},
	})
	return nil
}
