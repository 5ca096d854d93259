package store

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is bumped whenever a migration is appended below.
const CurrentSchemaVersion = 1

// statements holds the DDL for schema version 1. The core never runs a
// migration framework of its own (that lives in the out-of-scope `cmd/`
// bootstrap per spec.md §1); it only needs enough schema to exercise the
// nine tables it reads and writes (spec.md §6.5).
var statements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS workspaces (
		id                      TEXT PRIMARY KEY,
		title                   TEXT NOT NULL,
		description             TEXT NOT NULL DEFAULT '',
		working_directory_mode  TEXT NOT NULL CHECK (working_directory_mode IN ('static','temp')),
		working_directory_path  TEXT NOT NULL DEFAULT '',
		retention_days          INTEGER NOT NULL DEFAULT 0,
		auto_delete_done_tasks  INTEGER NOT NULL DEFAULT 0,
		notify_on_error         INTEGER NOT NULL DEFAULT 0,
		notify_on_in_review     INTEGER NOT NULL DEFAULT 0,
		last_activity_at        TEXT NOT NULL,
		created_at              TEXT NOT NULL,
		updated_at              TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id           TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		instruction  TEXT NOT NULL DEFAULT '',
		cli_type     TEXT NOT NULL CHECK (cli_type IN ('claude','gemini','codex','opencode')),
		agent_order  INTEGER NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		UNIQUE (workspace_id, name),
		UNIQUE (workspace_id, agent_order)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_workspace ON agents(workspace_id)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		summary      TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL CHECK (status IN ('todo','in_progress','in_review','done')),
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id)`,

	`CREATE TABLE IF NOT EXISTS task_comments (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL DEFAULT '',
		agent_id     TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_comments_task ON task_comments(task_id)`,

	`CREATE TABLE IF NOT EXISTS task_logs (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		event_type   TEXT NOT NULL,
		actor_type   TEXT NOT NULL CHECK (actor_type IN ('user','agent','system')),
		actor_id     TEXT NOT NULL DEFAULT '',
		metadata     TEXT NOT NULL DEFAULT '{}',
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(task_id)`,

	`CREATE TABLE IF NOT EXISTS task_queue (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		status       TEXT NOT NULL CHECK (status IN ('queued','in_progress','completed','failed')),
		is_priority  INTEGER NOT NULL DEFAULT 0,
		attempt      INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_queue_workspace_status ON task_queue(workspace_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_task_queue_task ON task_queue(task_id)`,

	`CREATE TABLE IF NOT EXISTS chats (
		id           TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		agent_id     TEXT NOT NULL DEFAULT '',
		cli_type     TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_workspace ON chats(workspace_id)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role       TEXT NOT NULL CHECK (role IN ('user','agent','system')),
		message    TEXT NOT NULL DEFAULT '',
		actions    TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS chat_queue (
		id           TEXT PRIMARY KEY,
		chat_id      TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		status       TEXT NOT NULL CHECK (status IN ('queued','in_progress','completed','failed')),
		attempt      INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_queue_status ON chat_queue(status)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_queue_chat ON chat_queue(chat_id)`,
}

// applySchema runs the full DDL inside a transaction, then records the
// current schema version if the database is fresh.
func applySchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("count schema_version rows: %w", err)
	}
	if count == 0 {
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("insert schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
