package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

// TaskStore implements repo.TaskRepo.
type TaskStore struct {
	db *sql.DB
}

var _ repo.TaskRepo = (*TaskStore)(nil)

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) FindByID(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, summary, description, status, created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	var t model.Task
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Summary, &t.Description, &t.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runnererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (s *TaskStore) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("update task %s status: %w", id, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *TaskStore) CreateComment(ctx context.Context, comment *model.TaskComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_comments (id, task_id, workspace_id, user_id, agent_id, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		comment.ID, comment.TaskID, comment.WorkspaceID, comment.UserID, comment.AgentID, comment.Content, now, now)
	if err != nil {
		return fmt.Errorf("create comment on task %s: %w", comment.TaskID, err)
	}
	return nil
}

func (s *TaskStore) CreateLog(ctx context.Context, log *model.TaskLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	metadata := "{}"
	if log.Metadata != nil {
		buf, err := json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata for task %s: %w", log.TaskID, err)
		}
		metadata = string(buf)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (id, task_id, workspace_id, event_type, actor_type, actor_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.TaskID, log.WorkspaceID, log.EventType, log.ActorType, log.ActorID, metadata, nowRFC3339())
	if err != nil {
		return fmt.Errorf("create log on task %s: %w", log.TaskID, err)
	}
	return nil
}

func (s *TaskStore) FindCommentsByTaskID(ctx context.Context, taskID string) ([]model.TaskComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, workspace_id, user_id, agent_id, content, created_at, updated_at
		FROM task_comments WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("find comments for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []model.TaskComment
	for rows.Next() {
		var c model.TaskComment
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.TaskID, &c.WorkspaceID, &c.UserID, &c.AgentID, &c.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan comment for task %s: %w", taskID, err)
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *TaskStore) FindLogsByTaskID(ctx context.Context, taskID string) ([]model.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, workspace_id, event_type, actor_type, actor_id, metadata, created_at
		FROM task_logs WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("find logs for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []model.TaskLog
	for rows.Next() {
		var l model.TaskLog
		var metadata, createdAt string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.WorkspaceID, &l.EventType, &l.ActorType, &l.ActorID, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log for task %s: %w", taskID, err)
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log metadata for task %s: %w", taskID, err)
			}
		}
		l.CreatedAt = parseTime(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
