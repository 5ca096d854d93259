// Package chatexec implements the chat action executor (C8): it applies
// validated chat actions, one at a time, continuing past any single
// action's failure, then appends one trailing system message summarising
// any failures.
package chatexec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malamar-dev/malamar/internal/logx"
	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/outputparser"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

// ActionResult records whether one action succeeded.
type ActionResult struct {
	Action  outputparser.ChatAction
	Success bool
	Error   string
}

// Executor applies chat actions against the store.
type Executor struct {
	agents     repo.AgentRepo
	workspaces repo.WorkspaceRepo
	chats      repo.ChatRepo
	log        *logx.Logger
}

// New returns an executor wired against the given repositories.
func New(agents repo.AgentRepo, workspaces repo.WorkspaceRepo, chats repo.ChatRepo) *Executor {
	return &Executor{agents: agents, workspaces: workspaces, chats: chats, log: logx.NewLogger("chatexec")}
}

// Apply executes actions against chat within workspace. canRename must be
// computed by the caller before any new chat message is written (spec.md
// §4.8). Each action runs independently; one failure never aborts the rest.
func (e *Executor) Apply(ctx context.Context, chat *model.Chat, workspace *model.Workspace, actions []outputparser.ChatAction, canRename bool) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(actions))
	anyFailed := false

	for _, action := range actions {
		err := e.applyOne(ctx, chat, workspace, action, canRename)
		if err != nil {
			// A skipped rename_chat is a rejected-by-design outcome, not a
			// failure worth surfacing in the trailing summary (spec.md §4.8
			// / S5: implementations MAY suppress the summary for it).
			if !errors.Is(err, errActionSkipped) {
				anyFailed = true
			}
			results = append(results, ActionResult{Action: action, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, ActionResult{Action: action, Success: true})
	}

	if anyFailed {
		if err := e.appendFailureSummary(ctx, chat, results); err != nil {
			e.log.Warn("append failure summary for chat %s: %v", chat.ID, err)
		}
	}

	return results, nil
}

func (e *Executor) applyOne(ctx context.Context, chat *model.Chat, workspace *model.Workspace, action outputparser.ChatAction, canRename bool) error {
	if _, ok := action.(outputparser.RenameChatAction); !ok && !chat.IsManagementAgent() {
		return fmt.Errorf("%s is only permitted in the management agent's chat", action.ChatActionType())
	}

	switch a := action.(type) {
	case outputparser.CreateAgentAction:
		return e.createAgent(ctx, workspace, a)
	case outputparser.UpdateAgentAction:
		return e.updateAgent(ctx, a)
	case outputparser.DeleteAgentAction:
		return e.agents.DeleteByID(ctx, a.AgentID)
	case outputparser.ReorderAgentsAction:
		return e.agents.Reorder(ctx, workspace.ID, a.AgentIDs)
	case outputparser.UpdateWorkspaceAction:
		return e.updateWorkspace(ctx, workspace, a)
	case outputparser.RenameChatAction:
		if !canRename {
			return errActionSkipped
		}
		return e.chats.UpdateTitle(ctx, chat.ID, a.Title)
	default:
		return fmt.Errorf("unrecognised chat action %T", action)
	}
}

// errActionSkipped is the sentinel message recorded when rename_chat is
// rejected because a prior agent message already exists for the chat.
var errActionSkipped = errors.New("Action skipped")

func (e *Executor) createAgent(ctx context.Context, workspace *model.Workspace, a outputparser.CreateAgentAction) error {
	order := 0
	if a.Order != nil {
		order = *a.Order
	} else {
		max, err := e.agents.GetMaxOrder(ctx, workspace.ID)
		if err != nil {
			return err
		}
		order = max + 1
	}
	cliType := model.CLIClaude
	if a.CLIType != nil {
		cliType = *a.CLIType
	}
	agent := &model.Agent{
		WorkspaceID: workspace.ID,
		Name:        a.Name,
		Instruction: a.Instruction,
		CLIType:     cliType,
		Order:       order,
	}
	if err := e.agents.Create(ctx, agent); err != nil {
		if errors.Is(err, runnererr.ErrConflict) {
			return fmt.Errorf("agent name %q already exists", a.Name)
		}
		return err
	}
	return nil
}

func (e *Executor) updateAgent(ctx context.Context, a outputparser.UpdateAgentAction) error {
	existing, err := e.agents.FindByID(ctx, a.AgentID)
	if err != nil {
		if errors.Is(err, runnererr.ErrNotFound) {
			return fmt.Errorf("agent %s not found", a.AgentID)
		}
		return err
	}

	if a.Name != nil {
		existing.Name = *a.Name
	}
	if a.Instruction != nil {
		existing.Instruction = *a.Instruction
	}
	if a.ClearCLIType {
		existing.CLIType = model.CLIClaude
	} else if a.CLIType != nil {
		existing.CLIType = *a.CLIType
	}
	if a.Order != nil {
		existing.Order = *a.Order
	}

	if err := e.agents.Update(ctx, existing); err != nil {
		if errors.Is(err, runnererr.ErrConflict) {
			return fmt.Errorf("agent name %q already exists", existing.Name)
		}
		return err
	}
	return nil
}

func (e *Executor) updateWorkspace(ctx context.Context, workspace *model.Workspace, a outputparser.UpdateWorkspaceAction) error {
	if a.Title != nil {
		workspace.Title = *a.Title
	}
	if a.Description != nil {
		workspace.Description = *a.Description
	}
	if a.WorkingDirectory != nil {
		workspace.WorkingDirectoryPath = *a.WorkingDirectory
	}
	if a.NotifyOnError != nil {
		workspace.NotifyOnError = *a.NotifyOnError
	}
	if a.NotifyOnInReview != nil {
		workspace.NotifyOnInReview = *a.NotifyOnInReview
	}
	return e.workspaces.Update(ctx, workspace)
}

// appendFailureSummary writes one system message aggregating every failed
// action as "Some actions failed:\n- <type>: <error>\n...".
func (e *Executor) appendFailureSummary(ctx context.Context, chat *model.Chat, results []ActionResult) error {
	var b strings.Builder
	b.WriteString("Some actions failed:\n")
	for _, r := range results {
		if r.Success {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Action.ChatActionType(), r.Error)
	}

	return e.chats.CreateMessage(ctx, &model.ChatMessage{
		ChatID:  chat.ID,
		Role:    model.RoleSystem,
		Message: strings.TrimRight(b.String(), "\n"),
	})
}
