package taskworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malamar-dev/malamar/internal/cliadapter"
	"github.com/malamar-dev/malamar/internal/eventbus"
	"github.com/malamar-dev/malamar/internal/inputbuilder"
	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/procreg"
	"github.com/malamar-dev/malamar/internal/runnererr"
	"github.com/malamar-dev/malamar/internal/taskexec"
)

type fakeTaskQueueRepo struct {
	statuses map[string]model.QueueStatus
}

func newFakeTaskQueueRepo() *fakeTaskQueueRepo {
	return &fakeTaskQueueRepo{statuses: map[string]model.QueueStatus{}}
}

func (f *fakeTaskQueueRepo) FindQueuedByWorkspace(context.Context, string) ([]model.TaskQueueItem, error) {
	return nil, nil
}
func (f *fakeTaskQueueRepo) FindQueueItemByID(context.Context, string) (*model.TaskQueueItem, error) {
	return nil, runnererr.ErrNotFound
}
func (f *fakeTaskQueueRepo) ClaimQueueItem(context.Context, string) (bool, error) { return true, nil }
func (f *fakeTaskQueueRepo) UpdateQueueStatus(_ context.Context, id string, status model.QueueStatus) error {
	f.statuses[id] = status
	return nil
}
func (f *fakeTaskQueueRepo) WorkspacesWithQueued(context.Context) ([]string, error) { return nil, nil }
func (f *fakeTaskQueueRepo) MostRecentResolvedTaskID(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeTaskQueueRepo) RecoverInProgress(context.Context) error { return nil }

type fakeTaskRepo struct {
	task     *model.Task
	comments []model.TaskComment
	logs     []model.TaskLog
}

func (f *fakeTaskRepo) FindByID(_ context.Context, id string) (*model.Task, error) {
	if f.task == nil || f.task.ID != id {
		return nil, runnererr.ErrNotFound
	}
	cp := *f.task
	return &cp, nil
}
func (f *fakeTaskRepo) UpdateStatus(_ context.Context, _ string, status model.TaskStatus) error {
	f.task.Status = status
	return nil
}
func (f *fakeTaskRepo) CreateComment(_ context.Context, c *model.TaskComment) error {
	f.comments = append(f.comments, *c)
	return nil
}
func (f *fakeTaskRepo) CreateLog(_ context.Context, l *model.TaskLog) error {
	f.logs = append(f.logs, *l)
	return nil
}
func (f *fakeTaskRepo) FindCommentsByTaskID(context.Context, string) ([]model.TaskComment, error) {
	return f.comments, nil
}
func (f *fakeTaskRepo) FindLogsByTaskID(context.Context, string) ([]model.TaskLog, error) {
	return f.logs, nil
}

type fakeWorkspaceRepo struct {
	ws *model.Workspace
}

func (f *fakeWorkspaceRepo) FindByID(_ context.Context, id string) (*model.Workspace, error) {
	if f.ws == nil || f.ws.ID != id {
		return nil, runnererr.ErrNotFound
	}
	cp := *f.ws
	return &cp, nil
}
func (f *fakeWorkspaceRepo) UpdateLastActivity(context.Context, string) error { return nil }
func (f *fakeWorkspaceRepo) Update(context.Context, *model.Workspace) error  { return nil }

type fakeAgentRepo struct {
	agents []model.Agent
}

func (f *fakeAgentRepo) FindByWorkspaceID(context.Context, string) ([]model.Agent, error) {
	return f.agents, nil
}
func (f *fakeAgentRepo) FindByID(context.Context, string) (*model.Agent, error) {
	return nil, runnererr.ErrNotFound
}
func (f *fakeAgentRepo) Create(context.Context, *model.Agent) error { return nil }
func (f *fakeAgentRepo) Update(context.Context, *model.Agent) error { return nil }
func (f *fakeAgentRepo) DeleteByID(context.Context, string) error   { return nil }
func (f *fakeAgentRepo) ExistsByNameInWorkspace(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (f *fakeAgentRepo) GetMaxOrder(context.Context, string) (int, error) { return 0, nil }
func (f *fakeAgentRepo) Reorder(context.Context, string, []string) error { return nil }
func (f *fakeAgentRepo) ValidateAgentIDs(context.Context, string, []string) error { return nil }

func newFixture(t *testing.T, ws *model.Workspace, task *model.Task, agents []model.Agent) (*Worker, *fakeTaskQueueRepo, *fakeTaskRepo, *cliadapter.Registry) {
	t.Helper()
	builder, err := inputbuilder.NewBuilder()
	require.NoError(t, err)

	taskQueue := newFakeTaskQueueRepo()
	tasks := &fakeTaskRepo{task: task}
	workspaces := &fakeWorkspaceRepo{ws: ws}
	agentRepo := &fakeAgentRepo{agents: agents}
	adapters := cliadapter.NewRegistry()
	procs := procreg.New()
	bus := eventbus.New()
	exec := taskexec.New(tasks, workspaces, bus)

	w := New(taskQueue, tasks, workspaces, agentRepo, adapters, procs, builder, exec, bus)
	return w, taskQueue, tasks, adapters
}

func TestProcessTaskNoAgentsForcesInReview(t *testing.T) {
	ws := &model.Workspace{ID: "ws1", WorkingDirectoryMode: model.WorkingDirTemp}
	task := &model.Task{ID: "t1", WorkspaceID: "ws1", Status: model.TaskTodo}
	w, queue, tasks, _ := newFixture(t, ws, task, nil)

	item := model.TaskQueueItem{ID: "q1", TaskID: "t1", WorkspaceID: "ws1"}
	err := w.ProcessTask(context.Background(), item, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, model.TaskInReview, tasks.task.Status)
	assert.Equal(t, model.QueueCompleted, queue.statuses["q1"])
}

func TestProcessTaskSingleAgentCommentThenAllSkipForcesInReview(t *testing.T) {
	ws := &model.Workspace{ID: "ws1", WorkingDirectoryMode: model.WorkingDirTemp}
	task := &model.Task{ID: "t1", WorkspaceID: "ws1", Status: model.TaskTodo}
	agent := model.Agent{ID: "a1", Name: "Coder", CLIType: model.CLIClaude}

	w, queue, tasks, adapters := newFixture(t, ws, task, []model.Agent{agent})

	fake := cliadapter.NewFakeAdapter(model.CLIClaude,
		cliadapter.FakeResponse{Result: cliadapter.Result{Success: true}, OutputJSON: `{"actions":[{"type":"comment","content":"working on it"}]}`},
		cliadapter.FakeResponse{Result: cliadapter.Result{Success: true}, OutputJSON: `{"actions":[{"type":"skip"}]}`},
	)
	adapters.Register(fake)

	item := model.TaskQueueItem{ID: "q1", TaskID: "t1", WorkspaceID: "ws1"}
	err := w.ProcessTask(context.Background(), item, t.TempDir())
	require.NoError(t, err)

	// Iteration 1 adds a comment and restarts; iteration 2's all-skip
	// response forces the task into review.
	assert.Equal(t, model.TaskInReview, tasks.task.Status)
	assert.Equal(t, model.QueueCompleted, queue.statuses["q1"])
	require.Len(t, tasks.comments, 1)
	assert.Equal(t, "working on it", tasks.comments[0].Content)
	assert.Len(t, fake.Invocations(), 2)

	var started, finished int
	for _, l := range tasks.logs {
		switch l.EventType {
		case model.LogAgentStarted:
			started++
			assert.Equal(t, model.ActorAgent, l.ActorType)
			assert.Equal(t, "a1", l.ActorID)
		case model.LogAgentFinished:
			finished++
			assert.Equal(t, true, l.Metadata["success"])
		}
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, finished)
}

func TestProcessTaskAgentStatusChangeStopsLoop(t *testing.T) {
	ws := &model.Workspace{ID: "ws1", WorkingDirectoryMode: model.WorkingDirTemp}
	task := &model.Task{ID: "t1", WorkspaceID: "ws1", Status: model.TaskTodo}
	agent := model.Agent{ID: "a1", Name: "Coder", CLIType: model.CLIClaude}

	w, queue, tasks, adapters := newFixture(t, ws, task, []model.Agent{agent})
	fake := cliadapter.NewFakeAdapter(model.CLIClaude, cliadapter.FakeResponse{
		Result:     cliadapter.Result{Success: true},
		OutputJSON: `{"actions":[{"type":"change_status","status":"in_review"}]}`,
	})
	adapters.Register(fake)

	item := model.TaskQueueItem{ID: "q1", TaskID: "t1", WorkspaceID: "ws1"}
	err := w.ProcessTask(context.Background(), item, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, model.TaskInReview, tasks.task.Status)
	assert.Equal(t, model.QueueCompleted, queue.statuses["q1"])
	assert.Len(t, fake.Invocations(), 1)
}

func TestProcessTaskCLIFailureFailsQueueItem(t *testing.T) {
	ws := &model.Workspace{ID: "ws1", WorkingDirectoryMode: model.WorkingDirTemp}
	task := &model.Task{ID: "t1", WorkspaceID: "ws1", Status: model.TaskTodo}
	agent := model.Agent{ID: "a1", Name: "Coder", CLIType: model.CLIClaude}

	w, queue, tasks, adapters := newFixture(t, ws, task, []model.Agent{agent})
	fake := cliadapter.NewFakeAdapter(model.CLIClaude, cliadapter.FakeResponse{
		Result: cliadapter.Result{Success: false, ExitCode: 1, Stderr: "boom"},
	})
	adapters.Register(fake)

	item := model.TaskQueueItem{ID: "q1", TaskID: "t1", WorkspaceID: "ws1"}
	err := w.ProcessTask(context.Background(), item, t.TempDir())
	require.Error(t, err)

	assert.Equal(t, model.QueueFailed, queue.statuses["q1"])
	require.Len(t, tasks.comments, 1)
	assert.Contains(t, tasks.comments[0].Content, "Coder")
}

func TestProcessTaskUnavailableCLISkipsAgent(t *testing.T) {
	ws := &model.Workspace{ID: "ws1", WorkingDirectoryMode: model.WorkingDirTemp}
	task := &model.Task{ID: "t1", WorkspaceID: "ws1", Status: model.TaskTodo}
	agent := model.Agent{ID: "a1", Name: "Coder", CLIType: model.CLIGemini}

	w, queue, tasks, _ := newFixture(t, ws, task, []model.Agent{agent})
	// No adapter registered for gemini.

	item := model.TaskQueueItem{ID: "q1", TaskID: "t1", WorkspaceID: "ws1"}
	err := w.ProcessTask(context.Background(), item, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, model.QueueCompleted, queue.statuses["q1"])
	assert.Empty(t, tasks.comments)
}
