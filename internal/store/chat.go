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

// ChatStore implements repo.ChatRepo.
type ChatStore struct {
	db *sql.DB
}

var _ repo.ChatRepo = (*ChatStore)(nil)

func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, agent_id, cli_type, title, created_at, updated_at
		FROM chats WHERE id = ?`, id)

	var c model.Chat
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.AgentID, &c.CLIType, &c.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runnererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat %s: %w", id, err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func (s *ChatStore) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("rename chat %s: %w", id, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *ChatStore) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, message, actions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Message, nullableBytes(msg.Actions), nowRFC3339())
	if err != nil {
		return fmt.Errorf("create message on chat %s: %w", msg.ChatID, err)
	}
	return nil
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func (s *ChatStore) FindAllMessagesByChatID(ctx context.Context, chatID string) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, message, actions, created_at
		FROM chat_messages WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("find messages for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var actions sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Message, &actions, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message for chat %s: %w", chatID, err)
		}
		if actions.Valid {
			m.Actions = []byte(actions.String)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ChatStore) CountAgentMessages(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE chat_id = ? AND role = 'agent'`, chatID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count agent messages for chat %s: %w", chatID, err)
	}
	return count, nil
}

func (s *ChatStore) HasActiveQueueItem(ctx context.Context, chatID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_queue WHERE chat_id = ? AND status IN ('queued', 'in_progress')`, chatID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check active queue item for chat %s: %w", chatID, err)
	}
	return count > 0, nil
}
