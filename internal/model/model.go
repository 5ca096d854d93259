// Package model defines the entities the runner core reads and mutates: workspaces, agents,
// tasks and their comments/logs, chats and their messages, and the two work queues.
package model

import "time"

// WorkingDirectoryMode selects how a workspace's CLI invocations resolve their cwd.
type WorkingDirectoryMode string

const (
	WorkingDirStatic WorkingDirectoryMode = "static"
	WorkingDirTemp   WorkingDirectoryMode = "temp"
)

// CLIKind is one of the supported external agentic CLI tools.
type CLIKind string

const (
	CLIClaude   CLIKind = "claude"
	CLIGemini   CLIKind = "gemini"
	CLICodex    CLIKind = "codex"
	CLIOpenCode CLIKind = "opencode"
)

// ValidCLIKind reports whether kind is one of the recognised CLI kinds.
func ValidCLIKind(kind string) bool {
	switch CLIKind(kind) {
	case CLIClaude, CLIGemini, CLICodex, CLIOpenCode:
		return true
	default:
		return false
	}
}

// TaskStatus is the 4-state task lifecycle.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskDone       TaskStatus = "done"
)

// ValidTaskStatus reports whether status is one of the four lifecycle states.
func ValidTaskStatus(status string) bool {
	switch TaskStatus(status) {
	case TaskTodo, TaskInProgress, TaskInReview, TaskDone:
		return true
	default:
		return false
	}
}

// QueueStatus is shared by TaskQueueItem and ChatQueueItem.
type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// ActorType attributes a TaskComment or TaskLog to its source.
type ActorType string

const (
	ActorUser  ActorType = "user"
	ActorAgent ActorType = "agent"
	ActorSystem ActorType = "system"
)

// ChatRole attributes a ChatMessage to its source.
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleAgent ChatRole = "agent"
	RoleSystem ChatRole = "system"
)

// Workspace is the top-level tenant owning agents, tasks, chats, and their queues.
type Workspace struct {
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastActivityAt        time.Time
	ID                    string
	Title                 string
	Description           string
	WorkingDirectoryMode  WorkingDirectoryMode
	WorkingDirectoryPath  string
	RetentionDays         int
	AutoDeleteDoneTasks   bool
	NotifyOnError         bool
	NotifyOnInReview      bool
}

// Agent is an ordered, named binding of a CLI kind to an instruction string within a workspace.
type Agent struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string
	WorkspaceID string
	Name        string
	Instruction string
	CLIType     CLIKind
	Order       int
}

// Task is a structured work unit with a 4-state lifecycle.
type Task struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string
	WorkspaceID string
	Summary     string
	Description string
	Status      TaskStatus
}

// TaskComment is attributed to a user, an agent, or neither (a system comment).
type TaskComment struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string
	TaskID      string
	WorkspaceID string
	UserID      string
	AgentID     string
	Content     string
}

// IsSystem reports whether the comment has neither a user nor an agent author.
func (c TaskComment) IsSystem() bool {
	return c.UserID == "" && c.AgentID == ""
}

// TaskLog is an append-only activity record for a task.
type TaskLog struct {
	CreatedAt time.Time
	ID        string
	TaskID    string
	WorkspaceID string
	EventType string
	ActorType ActorType
	ActorID   string
	Metadata  map[string]any
}

// Log event types emitted by the core.
const (
	LogStatusChanged = "status_changed"
	LogCommentAdded  = "comment_added"
	LogAgentStarted  = "agent_started"
	LogAgentFinished = "agent_finished"
)

// TaskQueueItem is one row of the task queue.
type TaskQueueItem struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string
	TaskID      string
	WorkspaceID string
	Status      QueueStatus
	IsPriority  bool
	Attempt     int
}

// Chat is a conversational session with a configured agent or the built-in management agent.
type Chat struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string
	WorkspaceID string
	AgentID     string // empty means the built-in management agent
	CLIType     CLIKind
	Title       string
}

// IsManagementAgent reports whether this chat uses the built-in management agent.
func (c Chat) IsManagementAgent() bool {
	return c.AgentID == ""
}

// ChatMessage is one turn of a chat, ordered by CreatedAt ascending.
type ChatMessage struct {
	CreatedAt time.Time
	ID        string
	ChatID    string
	Role      ChatRole
	Message   string
	Actions   []byte // JSON array, or nil
}

// ChatQueueItem is one row of the chat queue.
type ChatQueueItem struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string
	ChatID      string
	WorkspaceID string
	Status      QueueStatus
	Attempt     int
}
