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

// ChatQueueStore implements repo.ChatQueueRepo.
type ChatQueueStore struct {
	db *sql.DB
}

var _ repo.ChatQueueRepo = (*ChatQueueStore)(nil)

func NewChatQueueStore(db *sql.DB) *ChatQueueStore {
	return &ChatQueueStore{db: db}
}

const chatQueueColumns = `id, chat_id, workspace_id, status, attempt, created_at, updated_at`

func scanChatQueueItem(r rowScanner) (model.ChatQueueItem, error) {
	var q model.ChatQueueItem
	var createdAt, updatedAt string
	err := r.Scan(&q.ID, &q.ChatID, &q.WorkspaceID, &q.Status, &q.Attempt, &createdAt, &updatedAt)
	if err != nil {
		return model.ChatQueueItem{}, err
	}
	q.CreatedAt = parseTime(createdAt)
	q.UpdatedAt = parseTime(updatedAt)
	return q, nil
}

// FindQueuedItems returns every queued chat queue row, FIFO by created_at
// ascending per spec.md §4.11.
func (s *ChatQueueStore) FindQueuedItems(ctx context.Context) ([]model.ChatQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatQueueColumns+` FROM chat_queue WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("find queued chat_queue rows: %w", err)
	}
	defer rows.Close()

	var out []model.ChatQueueItem
	for rows.Next() {
		item, err := scanChatQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat_queue row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *ChatQueueStore) FindInProgressByChatID(ctx context.Context, chatID string) (*model.ChatQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chatQueueColumns+` FROM chat_queue WHERE chat_id = ? AND status = 'in_progress' LIMIT 1`, chatID)
	item, err := scanChatQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runnererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in-progress chat_queue row for chat %s: %w", chatID, err)
	}
	return &item, nil
}

// ClaimQueueItem mirrors TaskQueueStore.ClaimQueueItem for chat rows.
func (s *ChatQueueStore) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_queue SET status = 'in_progress', attempt = attempt + 1, updated_at = ?
		WHERE id = ? AND status = 'queued'`, nowRFC3339(), id)
	if err != nil {
		return false, fmt.Errorf("claim chat_queue row %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected claiming chat_queue row %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *ChatQueueStore) UpdateQueueStatus(ctx context.Context, id string, status model.QueueStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_queue SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("update chat_queue row %s status: %w", id, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *ChatQueueStore) RecoverInProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chat_queue SET status = 'queued', updated_at = ? WHERE status = 'in_progress'`, nowRFC3339())
	if err != nil {
		return fmt.Errorf("recover in-progress chat_queue rows: %w", err)
	}
	return nil
}

// CreateQueueItem enqueues a chat turn; used by the (out-of-scope) HTTP
// handler for POST .../messages and by tests.
func (s *ChatQueueStore) CreateQueueItem(ctx context.Context, item *model.ChatQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_queue (id, chat_id, workspace_id, status, attempt, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', 0, ?, ?)`,
		item.ID, item.ChatID, item.WorkspaceID, now, now)
	if err != nil {
		return fmt.Errorf("enqueue chat %s: %w", item.ChatID, err)
	}
	return nil
}
