package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

// openTestDB opens a fresh singleton database backed by a temp file and
// registers cleanup to reset the singleton so subsequent tests in this
// package get their own isolated database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	require.NoError(t, Reset())
	path := filepath.Join(t.TempDir(), "malamar.db")
	require.NoError(t, Open(path))
	t.Cleanup(func() { _ = Reset() })
	return DB()
}

func insertWorkspace(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO workspaces (id, title, description, working_directory_mode, working_directory_path,
			retention_days, auto_delete_done_tasks, notify_on_error, notify_on_in_review,
			last_activity_at, created_at, updated_at)
		VALUES (?, 'Acme', '', 'static', '/tmp/acme', 0, 0, 0, 0, ?, ?, ?)`,
		id, nowRFC3339(), nowRFC3339(), nowRFC3339())
	require.NoError(t, err)
}

func insertTask(t *testing.T, db *sql.DB, id, workspaceID string, status model.TaskStatus) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO tasks (id, workspace_id, summary, description, status, created_at, updated_at)
		VALUES (?, ?, 'Fix the bug', '', ?, ?, ?)`,
		id, workspaceID, status, nowRFC3339(), nowRFC3339())
	require.NoError(t, err)
}

func insertChat(t *testing.T, db *sql.DB, id, workspaceID string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO chats (id, workspace_id, agent_id, cli_type, title, created_at, updated_at)
		VALUES (?, ?, '', '', 'Untitled', ?, ?)`,
		id, workspaceID, nowRFC3339(), nowRFC3339())
	require.NoError(t, err)
}

func TestOpenIsIdempotentAndAppliesSchema(t *testing.T) {
	db := openTestDB(t)

	var version int
	require.NoError(t, db.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, CurrentSchemaVersion, version)
	assert.True(t, IsOpen())

	// A second Open is a no-op that keeps the existing connection.
	require.NoError(t, Open(filepath.Join(t.TempDir(), "other.db")))
	assert.Same(t, db, DB())
}

func TestWorkspaceStoreFindUpdate(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	s := NewWorkspaceStore(db)

	ws, err := s.FindByID(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", ws.Title)
	assert.Equal(t, model.WorkingDirStatic, ws.WorkingDirectoryMode)

	ws.Title = "Acme Renamed"
	ws.NotifyOnError = true
	require.NoError(t, s.Update(context.Background(), ws))

	reloaded, err := s.FindByID(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", reloaded.Title)
	assert.True(t, reloaded.NotifyOnError)
}

func TestWorkspaceStoreFindByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewWorkspaceStore(db)

	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, runnererr.ErrNotFound)
}

func TestWorkspaceStoreUpdateLastActivityNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewWorkspaceStore(db)

	err := s.UpdateLastActivity(context.Background(), "missing")
	assert.ErrorIs(t, err, runnererr.ErrNotFound)
}

func TestAgentStoreCreateRejectsDuplicateName(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	s := NewAgentStore(db)

	require.NoError(t, s.Create(context.Background(), &model.Agent{
		WorkspaceID: "ws1", Name: "Coder", Instruction: "write code", CLIType: model.CLIClaude, Order: 1,
	}))

	err := s.Create(context.Background(), &model.Agent{
		WorkspaceID: "ws1", Name: "Coder", Instruction: "dup", CLIType: model.CLIClaude, Order: 2,
	})
	assert.ErrorIs(t, err, runnererr.ErrConflict)
}

func TestAgentStoreReorderValidatesIDSet(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	s := NewAgentStore(db)

	a1 := &model.Agent{WorkspaceID: "ws1", Name: "A1", CLIType: model.CLIClaude, Order: 1}
	a2 := &model.Agent{WorkspaceID: "ws1", Name: "A2", CLIType: model.CLIClaude, Order: 2}
	require.NoError(t, s.Create(context.Background(), a1))
	require.NoError(t, s.Create(context.Background(), a2))

	err := s.Reorder(context.Background(), "ws1", []string{a1.ID})
	assert.ErrorIs(t, err, runnererr.ErrConflict)

	require.NoError(t, s.Reorder(context.Background(), "ws1", []string{a2.ID, a1.ID}))

	agents, err := s.FindByWorkspaceID(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, a2.ID, agents[0].ID)
	assert.Equal(t, 1, agents[0].Order)
	assert.Equal(t, a1.ID, agents[1].ID)
	assert.Equal(t, 2, agents[1].Order)
}

func TestAgentStoreGetMaxOrderEmptyWorkspace(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	s := NewAgentStore(db)

	max, err := s.GetMaxOrder(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, 0, max)
}

func TestAgentStoreDeleteByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewAgentStore(db)
	err := s.DeleteByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, runnererr.ErrNotFound)
}

func TestTaskStoreCommentsAndLogsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertTask(t, db, "t1", "ws1", model.TaskInProgress)
	s := NewTaskStore(db)

	require.NoError(t, s.CreateComment(context.Background(), &model.TaskComment{
		TaskID: "t1", WorkspaceID: "ws1", AgentID: "a1", Content: "looks good",
	}))
	require.NoError(t, s.CreateLog(context.Background(), &model.TaskLog{
		TaskID: "t1", WorkspaceID: "ws1", EventType: model.LogStatusChanged, ActorType: model.ActorAgent,
		ActorID: "a1", Metadata: map[string]any{"oldStatus": "todo", "newStatus": "in_progress"},
	}))

	comments, err := s.FindCommentsByTaskID(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "looks good", comments[0].Content)

	logs, err := s.FindLogsByTaskID(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActorAgent, logs[0].ActorType)
	assert.Equal(t, "todo", logs[0].Metadata["oldStatus"])

	require.NoError(t, s.UpdateStatus(context.Background(), "t1", model.TaskInReview))
	task, err := s.FindByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskInReview, task.Status)
}

func TestTaskStoreUpdateStatusNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewTaskStore(db)
	err := s.UpdateStatus(context.Background(), "missing", model.TaskDone)
	assert.ErrorIs(t, err, runnererr.ErrNotFound)
}

func TestTaskQueueStoreClaimIsAtMostOnce(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertTask(t, db, "t1", "ws1", model.TaskTodo)
	s := NewTaskQueueStore(db)

	item := &model.TaskQueueItem{TaskID: "t1", WorkspaceID: "ws1"}
	require.NoError(t, s.CreateQueueItem(context.Background(), item))

	claimed, err := s.ClaimQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimedAgain, err := s.ClaimQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, claimedAgain)
}

func TestTaskQueueStoreWorkspacesWithQueuedAndMostRecentResolved(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertTask(t, db, "t1", "ws1", model.TaskTodo)
	insertTask(t, db, "t2", "ws1", model.TaskTodo)
	s := NewTaskQueueStore(db)

	item1 := &model.TaskQueueItem{TaskID: "t1", WorkspaceID: "ws1"}
	require.NoError(t, s.CreateQueueItem(context.Background(), item1))

	workspaces, err := s.WorkspacesWithQueued(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ws1"}, workspaces)

	_, found, err := s.MostRecentResolvedTaskID(context.Background(), "ws1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpdateQueueStatus(context.Background(), item1.ID, model.QueueCompleted))
	taskID, found, err := s.MostRecentResolvedTaskID(context.Background(), "ws1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t1", taskID)
}

func TestTaskQueueStoreRecoverInProgress(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertTask(t, db, "t1", "ws1", model.TaskTodo)
	s := NewTaskQueueStore(db)

	item := &model.TaskQueueItem{TaskID: "t1", WorkspaceID: "ws1"}
	require.NoError(t, s.CreateQueueItem(context.Background(), item))
	claimed, err := s.ClaimQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.RecoverInProgress(context.Background()))

	reloaded, err := s.FindQueueItemByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueQueued, reloaded.Status)
}

func TestChatStoreMessagesAndRename(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertChat(t, db, "c1", "ws1")
	s := NewChatStore(db)

	require.NoError(t, s.CreateMessage(context.Background(), &model.ChatMessage{ChatID: "c1", Role: model.RoleUser, Message: "hi"}))
	require.NoError(t, s.CreateMessage(context.Background(), &model.ChatMessage{ChatID: "c1", Role: model.RoleAgent, Message: "hello"}))

	messages, err := s.FindAllMessagesByChatID(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hi", messages[0].Message)

	count, err := s.CountAgentMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.UpdateTitle(context.Background(), "c1", "New Title"))
	chat, err := s.FindByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", chat.Title)
}

func TestChatStoreHasActiveQueueItem(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertChat(t, db, "c1", "ws1")
	chats := NewChatStore(db)
	queue := NewChatQueueStore(db)

	active, err := chats.HasActiveQueueItem(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, active)

	item := &model.ChatQueueItem{ChatID: "c1", WorkspaceID: "ws1"}
	require.NoError(t, queue.CreateQueueItem(context.Background(), item))

	active, err = chats.HasActiveQueueItem(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestChatQueueStoreClaimAndRecover(t *testing.T) {
	db := openTestDB(t)
	insertWorkspace(t, db, "ws1")
	insertChat(t, db, "c1", "ws1")
	s := NewChatQueueStore(db)

	item := &model.ChatQueueItem{ChatID: "c1", WorkspaceID: "ws1"}
	require.NoError(t, s.CreateQueueItem(context.Background(), item))

	items, err := s.FindQueuedItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	claimed, err := s.ClaimQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	inProgress, err := s.FindInProgressByChatID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, item.ID, inProgress.ID)

	require.NoError(t, s.RecoverInProgress(context.Background()))
	_, err = s.FindInProgressByChatID(context.Background(), "c1")
	assert.True(t, errors.Is(err, runnererr.ErrNotFound))
}
