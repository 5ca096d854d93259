package chatexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/outputparser"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

type fakeAgentRepo struct {
	byID     map[string]*model.Agent
	created  []model.Agent
	updated  []model.Agent
	deleted  []string
	reorders [][]string
	maxOrder int
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{byID: map[string]*model.Agent{}}
}

func (f *fakeAgentRepo) FindByWorkspaceID(context.Context, string) ([]model.Agent, error) {
	return nil, nil
}
func (f *fakeAgentRepo) FindByID(_ context.Context, id string) (*model.Agent, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, runnererr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
func (f *fakeAgentRepo) Create(_ context.Context, a *model.Agent) error {
	f.created = append(f.created, *a)
	return nil
}
func (f *fakeAgentRepo) Update(_ context.Context, a *model.Agent) error {
	f.updated = append(f.updated, *a)
	f.byID[a.ID] = a
	return nil
}
func (f *fakeAgentRepo) DeleteByID(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeAgentRepo) ExistsByNameInWorkspace(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (f *fakeAgentRepo) GetMaxOrder(context.Context, string) (int, error) {
	return f.maxOrder, nil
}
func (f *fakeAgentRepo) Reorder(_ context.Context, _ string, ids []string) error {
	f.reorders = append(f.reorders, ids)
	return nil
}
func (f *fakeAgentRepo) ValidateAgentIDs(context.Context, string, []string) error { return nil }

type fakeWorkspaceRepo struct {
	updated []model.Workspace
}

func (f *fakeWorkspaceRepo) FindByID(context.Context, string) (*model.Workspace, error) {
	return nil, runnererr.ErrNotFound
}
func (f *fakeWorkspaceRepo) UpdateLastActivity(context.Context, string) error { return nil }
func (f *fakeWorkspaceRepo) Update(_ context.Context, ws *model.Workspace) error {
	f.updated = append(f.updated, *ws)
	return nil
}

type fakeChatRepo struct {
	titles   map[string]string
	messages []model.ChatMessage
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{titles: map[string]string{}}
}

func (f *fakeChatRepo) FindByID(context.Context, string) (*model.Chat, error) {
	return nil, runnererr.ErrNotFound
}
func (f *fakeChatRepo) UpdateTitle(_ context.Context, id, title string) error {
	f.titles[id] = title
	return nil
}
func (f *fakeChatRepo) CreateMessage(_ context.Context, m *model.ChatMessage) error {
	f.messages = append(f.messages, *m)
	return nil
}
func (f *fakeChatRepo) FindAllMessagesByChatID(context.Context, string) ([]model.ChatMessage, error) {
	return f.messages, nil
}
func (f *fakeChatRepo) CountAgentMessages(context.Context, string) (int, error) { return 0, nil }
func (f *fakeChatRepo) HasActiveQueueItem(context.Context, string) (bool, error) {
	return false, nil
}

func newFixture() (*Executor, *fakeAgentRepo, *fakeWorkspaceRepo, *fakeChatRepo) {
	agents := newFakeAgentRepo()
	workspaces := &fakeWorkspaceRepo{}
	chats := newFakeChatRepo()
	return New(agents, workspaces, chats), agents, workspaces, chats
}

func TestApplyCreateAgentDefaultsOrderAndCLIType(t *testing.T) {
	exec, agents, _, _ := newFixture()
	agents.maxOrder = 3
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.CreateAgentAction{Name: "Reviewer", Instruction: "review"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	require.Len(t, agents.created, 1)
	assert.Equal(t, 4, agents.created[0].Order)
	assert.Equal(t, model.CLIClaude, agents.created[0].CLIType)
}

func TestApplyRenameChatSkippedWhenNotAllowed(t *testing.T) {
	exec, _, _, chats := newFixture()
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.RenameChatAction{Title: "New Title"},
	}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Empty(t, chats.titles)
	// A rejected rename is not a real failure, so no trailing summary message.
	assert.Empty(t, chats.messages)
}

func TestApplyRenameChatAppliedWhenAllowed(t *testing.T) {
	exec, _, _, chats := newFixture()
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.RenameChatAction{Title: "New Title"},
	}, true)
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	assert.Equal(t, "New Title", chats.titles["c1"])
}

func TestApplyUpdateAgentClearsCLIType(t *testing.T) {
	exec, agents, _, _ := newFixture()
	agents.byID["a1"] = &model.Agent{ID: "a1", Name: "Coder", CLIType: model.CLIGemini}
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.UpdateAgentAction{AgentID: "a1", ClearCLIType: true},
	}, true)
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	require.Len(t, agents.updated, 1)
	assert.Equal(t, model.CLIClaude, agents.updated[0].CLIType)
}

func TestApplyUpdateAgentNotFoundFails(t *testing.T) {
	exec, _, _, _ := newFixture()
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.UpdateAgentAction{AgentID: "missing"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestApplyContinuesPastFailureAndAppendsSummary(t *testing.T) {
	exec, agents, _, chats := newFixture()
	agents.maxOrder = 0
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.UpdateAgentAction{AgentID: "missing"},
		outputparser.CreateAgentAction{Name: "Reviewer", Instruction: "review"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)

	require.Len(t, chats.messages, 1)
	assert.Equal(t, model.RoleSystem, chats.messages[0].Role)
	assert.Contains(t, chats.messages[0].Message, "Some actions failed:")
}

func TestApplyRejectsNonRenameActionsOutsideManagementAgentChat(t *testing.T) {
	exec, agents, _, chats := newFixture()
	workspace := &model.Workspace{ID: "ws1"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1", AgentID: "a1"}

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.CreateAgentAction{Name: "Reviewer", Instruction: "review"},
		outputparser.RenameChatAction{Title: "New Title"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)

	assert.Empty(t, agents.created)
	assert.Equal(t, "New Title", chats.titles["c1"])
}

func TestApplyDeleteAndReorderAndUpdateWorkspace(t *testing.T) {
	exec, agents, workspaces, _ := newFixture()
	workspace := &model.Workspace{ID: "ws1", Title: "Old"}
	chat := &model.Chat{ID: "c1", WorkspaceID: "ws1"}
	newTitle := "Fresh"

	results, err := exec.Apply(context.Background(), chat, workspace, []outputparser.ChatAction{
		outputparser.DeleteAgentAction{AgentID: "a1"},
		outputparser.ReorderAgentsAction{AgentIDs: []string{"a2", "a1"}},
		outputparser.UpdateWorkspaceAction{Title: &newTitle},
	}, true)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Success)
	}

	assert.Equal(t, []string{"a1"}, agents.deleted)
	require.Len(t, agents.reorders, 1)
	assert.Equal(t, []string{"a2", "a1"}, agents.reorders[0])
	require.Len(t, workspaces.updated, 1)
	assert.Equal(t, "Fresh", workspaces.updated[0].Title)
}
