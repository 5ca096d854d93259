package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

// WorkspaceStore implements repo.WorkspaceRepo against the singleton connection.
type WorkspaceStore struct {
	db *sql.DB
}

var _ repo.WorkspaceRepo = (*WorkspaceStore)(nil)

// NewWorkspaceStore wraps db for workspace access.
func NewWorkspaceStore(db *sql.DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

func (s *WorkspaceStore) FindByID(ctx context.Context, id string) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, working_directory_mode, working_directory_path,
		       retention_days, auto_delete_done_tasks, notify_on_error, notify_on_in_review,
		       last_activity_at, created_at, updated_at
		FROM workspaces WHERE id = ?`, id)

	var ws model.Workspace
	var lastActivity, createdAt, updatedAt string
	err := row.Scan(&ws.ID, &ws.Title, &ws.Description, &ws.WorkingDirectoryMode, &ws.WorkingDirectoryPath,
		&ws.RetentionDays, &ws.AutoDeleteDoneTasks, &ws.NotifyOnError, &ws.NotifyOnInReview,
		&lastActivity, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runnererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find workspace %s: %w", id, err)
	}
	ws.LastActivityAt = parseTime(lastActivity)
	ws.CreatedAt = parseTime(createdAt)
	ws.UpdatedAt = parseTime(updatedAt)
	return &ws, nil
}

func (s *WorkspaceStore) UpdateLastActivity(ctx context.Context, id string) error {
	now := nowRFC3339()
	res, err := s.db.ExecContext(ctx, `UPDATE workspaces SET last_activity_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("bump workspace activity %s: %w", id, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *WorkspaceStore) Update(ctx context.Context, ws *model.Workspace) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET title = ?, description = ?, working_directory_mode = ?, working_directory_path = ?,
		    retention_days = ?, auto_delete_done_tasks = ?, notify_on_error = ?, notify_on_in_review = ?,
		    updated_at = ?
		WHERE id = ?`,
		ws.Title, ws.Description, ws.WorkingDirectoryMode, ws.WorkingDirectoryPath,
		ws.RetentionDays, ws.AutoDeleteDoneTasks, ws.NotifyOnError, ws.NotifyOnInReview,
		nowRFC3339(), ws.ID)
	if err != nil {
		return fmt.Errorf("update workspace %s: %w", ws.ID, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nowRFC3339() string {
	// Fixed-width fractional seconds keep text order equal to time order,
	// which the ORDER BY created_at/updated_at queries rely on.
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, v)
	}
	return t
}
