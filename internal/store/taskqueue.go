package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

// TaskQueueStore implements repo.TaskQueueRepo.
type TaskQueueStore struct {
	db *sql.DB
}

var _ repo.TaskQueueRepo = (*TaskQueueStore)(nil)

func NewTaskQueueStore(db *sql.DB) *TaskQueueStore {
	return &TaskQueueStore{db: db}
}

func scanTaskQueueItem(r rowScanner) (model.TaskQueueItem, error) {
	var q model.TaskQueueItem
	var createdAt, updatedAt string
	err := r.Scan(&q.ID, &q.TaskID, &q.WorkspaceID, &q.Status, &q.IsPriority, &q.Attempt, &createdAt, &updatedAt)
	if err != nil {
		return model.TaskQueueItem{}, err
	}
	q.CreatedAt = parseTime(createdAt)
	q.UpdatedAt = parseTime(updatedAt)
	return q, nil
}

const taskQueueColumns = `id, task_id, workspace_id, status, is_priority, attempt, created_at, updated_at`

func (s *TaskQueueStore) FindQueuedByWorkspace(ctx context.Context, workspaceID string) ([]model.TaskQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskQueueColumns+` FROM task_queue WHERE workspace_id = ? AND status = 'queued'
		ORDER BY updated_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("find queued task_queue rows for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []model.TaskQueueItem
	for rows.Next() {
		item, err := scanTaskQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task_queue row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *TaskQueueStore) FindQueueItemByID(ctx context.Context, id string) (*model.TaskQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskQueueColumns+` FROM task_queue WHERE id = ?`, id)
	item, err := scanTaskQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runnererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task_queue row %s: %w", id, err)
	}
	return &item, nil
}

// ClaimQueueItem is the atomic claim primitive from spec.md §4.11: an
// UPDATE-WHERE-status statement that succeeds iff changes==1, guaranteeing
// at-most-one worker ever advances a given row to in_progress.
func (s *TaskQueueStore) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_queue SET status = 'in_progress', attempt = attempt + 1, updated_at = ?
		WHERE id = ? AND status = 'queued'`, nowRFC3339(), id)
	if err != nil {
		return false, fmt.Errorf("claim task_queue row %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected claiming task_queue row %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *TaskQueueStore) UpdateQueueStatus(ctx context.Context, id string, status model.QueueStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_queue SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("update task_queue row %s status: %w", id, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *TaskQueueStore) WorkspacesWithQueued(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workspace_id FROM task_queue WHERE status = 'queued'`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces with queued tasks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workspace id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MostRecentResolvedTaskID returns the task id whose most recently updated
// completed/failed queue row is newest in this workspace, used by
// pickNextTaskQueueItem to prefer continuing an in-flight pipeline.
func (s *TaskQueueStore) MostRecentResolvedTaskID(ctx context.Context, workspaceID string) (string, bool, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id FROM task_queue
		WHERE workspace_id = ? AND status IN ('completed', 'failed')
		ORDER BY updated_at DESC LIMIT 1`, workspaceID).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("most recent resolved task for workspace %s: %w", workspaceID, err)
	}
	return taskID, true, nil
}

// RecoverInProgress is the startup-recovery step of spec.md §4.11: every
// in_progress row reverts to queued with a refreshed updated_at so LIFO
// ordering prefers recent work after a restart.
func (s *TaskQueueStore) RecoverInProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE task_queue SET status = 'queued', updated_at = ? WHERE status = 'in_progress'`, nowRFC3339())
	if err != nil {
		return fmt.Errorf("recover in-progress task_queue rows: %w", err)
	}
	return nil
}

// CreateQueueItem is a convenience used by tests and the (out-of-scope) HTTP
// layer to enqueue a task without going through the full create-task path.
func (s *TaskQueueStore) CreateQueueItem(ctx context.Context, item *model.TaskQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_queue (id, task_id, workspace_id, status, is_priority, attempt, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, 0, ?, ?)`,
		item.ID, item.TaskID, item.WorkspaceID, item.IsPriority, now, now)
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", item.TaskID, err)
	}
	return nil
}
