// Package repo declares the repository contracts (C12) the runner core calls
// directly: row <-> entity mapping, transactional pickup primitives, and the
// finders/counters the workers and executors need. Concrete implementations
// live in internal/store, backed by modernc.org/sqlite.
package repo

import (
	"context"

	"github.com/malamar-dev/malamar/internal/model"
)

// WorkspaceRepo covers the workspace reads/writes the core performs.
type WorkspaceRepo interface {
	FindByID(ctx context.Context, id string) (*model.Workspace, error)
	UpdateLastActivity(ctx context.Context, id string) error
	Update(ctx context.Context, ws *model.Workspace) error
}

// AgentRepo covers agent CRUD delegated to by the chat action executor (C8)
// plus the ordered lookups the task worker (C9) needs.
type AgentRepo interface {
	FindByWorkspaceID(ctx context.Context, workspaceID string) ([]model.Agent, error)
	FindByID(ctx context.Context, id string) (*model.Agent, error)
	Create(ctx context.Context, agent *model.Agent) error
	Update(ctx context.Context, agent *model.Agent) error
	DeleteByID(ctx context.Context, id string) error
	ExistsByNameInWorkspace(ctx context.Context, workspaceID, name string, excludeID string) (bool, error)
	GetMaxOrder(ctx context.Context, workspaceID string) (int, error)
	Reorder(ctx context.Context, workspaceID string, orderedAgentIDs []string) error
	ValidateAgentIDs(ctx context.Context, workspaceID string, agentIDs []string) error
}

// TaskRepo covers the task lifecycle and its comments/logs.
type TaskRepo interface {
	FindByID(ctx context.Context, id string) (*model.Task, error)
	UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error
	CreateComment(ctx context.Context, comment *model.TaskComment) error
	CreateLog(ctx context.Context, log *model.TaskLog) error
	FindCommentsByTaskID(ctx context.Context, taskID string) ([]model.TaskComment, error)
	FindLogsByTaskID(ctx context.Context, taskID string) ([]model.TaskLog, error)
}

// TaskQueueRepo covers the task queue pickup and status primitives (C11).
type TaskQueueRepo interface {
	FindQueuedByWorkspace(ctx context.Context, workspaceID string) ([]model.TaskQueueItem, error)
	FindQueueItemByID(ctx context.Context, id string) (*model.TaskQueueItem, error)
	ClaimQueueItem(ctx context.Context, id string) (bool, error)
	UpdateQueueStatus(ctx context.Context, id string, status model.QueueStatus) error
	WorkspacesWithQueued(ctx context.Context) ([]string, error)
	MostRecentResolvedTaskID(ctx context.Context, workspaceID string) (string, bool, error)
	RecoverInProgress(ctx context.Context) error
}

// ChatQueueRepo covers the chat queue pickup and status primitives (C11).
type ChatQueueRepo interface {
	FindQueuedItems(ctx context.Context) ([]model.ChatQueueItem, error)
	FindInProgressByChatID(ctx context.Context, chatID string) (*model.ChatQueueItem, error)
	ClaimQueueItem(ctx context.Context, id string) (bool, error)
	UpdateQueueStatus(ctx context.Context, id string, status model.QueueStatus) error
	RecoverInProgress(ctx context.Context) error
}

// ChatRepo covers chat reads/writes, including the message history feeding
// C6's context builder and the canRename computation in C10/C8.
type ChatRepo interface {
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	UpdateTitle(ctx context.Context, id, title string) error
	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	FindAllMessagesByChatID(ctx context.Context, chatID string) ([]model.ChatMessage, error)
	CountAgentMessages(ctx context.Context, chatID string) (int, error)
	HasActiveQueueItem(ctx context.Context, chatID string) (bool, error)
}
