package outputparser

import (
	"encoding/json"

	"github.com/malamar-dev/malamar/internal/model"
)

// ChatActionType is the tag of the chat action sum type.
type ChatActionType string

const (
	ChatActionCreateAgent    ChatActionType = "create_agent"
	ChatActionUpdateAgent    ChatActionType = "update_agent"
	ChatActionDeleteAgent    ChatActionType = "delete_agent"
	ChatActionReorderAgents  ChatActionType = "reorder_agents"
	ChatActionUpdateWorkspace ChatActionType = "update_workspace"
	ChatActionRenameChat     ChatActionType = "rename_chat"
)

// ChatAction is a sealed interface implemented only by the six concrete
// action structs below; the chat action executor (C8) type-switches on it.
type ChatAction interface {
	ChatActionType() ChatActionType
}

// CreateAgentAction is spec.md §4.5's create_agent action.
type CreateAgentAction struct {
	Name        string
	Instruction string
	CLIType     *model.CLIKind // nil if omitted
	Order       *int           // nil if omitted
}

func (CreateAgentAction) ChatActionType() ChatActionType { return ChatActionCreateAgent }

// UpdateAgentAction is spec.md §4.5's update_agent action. A nil pointer
// means "field not present"; CLIType additionally distinguishes "present and
// null" (clear) via ClearCLIType.
type UpdateAgentAction struct {
	AgentID      string
	Name         *string
	Instruction  *string
	CLIType      *model.CLIKind
	ClearCLIType bool
	Order        *int
}

func (UpdateAgentAction) ChatActionType() ChatActionType { return ChatActionUpdateAgent }

// DeleteAgentAction is spec.md §4.5's delete_agent action.
type DeleteAgentAction struct {
	AgentID string
}

func (DeleteAgentAction) ChatActionType() ChatActionType { return ChatActionDeleteAgent }

// ReorderAgentsAction is spec.md §4.5's reorder_agents action.
type ReorderAgentsAction struct {
	AgentIDs []string
}

func (ReorderAgentsAction) ChatActionType() ChatActionType { return ChatActionReorderAgents }

// UpdateWorkspaceAction is spec.md §4.5's update_workspace action; every
// field is optional, present only when the CLI supplied it.
type UpdateWorkspaceAction struct {
	Title             *string
	Description       *string
	WorkingDirectory   *string
	NotifyOnError     *bool
	NotifyOnInReview  *bool
}

func (UpdateWorkspaceAction) ChatActionType() ChatActionType { return ChatActionUpdateWorkspace }

// RenameChatAction is spec.md §4.5's rename_chat action.
type RenameChatAction struct {
	Title string
}

func (RenameChatAction) ChatActionType() ChatActionType { return ChatActionRenameChat }

// ChatOutput is the parsed shape of a chat CLI response (spec.md §6.2).
type ChatOutput struct {
	Message *string
	Actions []ChatAction
}

// MarshalChatActions serialises actions back to the wire shape they were
// parsed from, for storage alongside the agent message that produced them
// (spec.md §4.10 step 12).
func MarshalChatActions(actions []ChatAction) ([]byte, error) {
	raw := make([]map[string]any, 0, len(actions))
	for _, action := range actions {
		m := map[string]any{"type": string(action.ChatActionType())}
		switch a := action.(type) {
		case CreateAgentAction:
			m["name"] = a.Name
			m["instruction"] = a.Instruction
			if a.CLIType != nil {
				m["cliType"] = *a.CLIType
			}
			if a.Order != nil {
				m["order"] = *a.Order
			}
		case UpdateAgentAction:
			m["agentId"] = a.AgentID
			if a.Name != nil {
				m["name"] = *a.Name
			}
			if a.Instruction != nil {
				m["instruction"] = *a.Instruction
			}
			switch {
			case a.ClearCLIType:
				m["cliType"] = nil
			case a.CLIType != nil:
				m["cliType"] = *a.CLIType
			}
			if a.Order != nil {
				m["order"] = *a.Order
			}
		case DeleteAgentAction:
			m["agentId"] = a.AgentID
		case ReorderAgentsAction:
			m["agentIds"] = a.AgentIDs
		case UpdateWorkspaceAction:
			if a.Title != nil {
				m["title"] = *a.Title
			}
			if a.Description != nil {
				m["description"] = *a.Description
			}
			if a.WorkingDirectory != nil {
				m["workingDirectory"] = *a.WorkingDirectory
			}
			if a.NotifyOnError != nil {
				m["notifyOnError"] = *a.NotifyOnError
			}
			if a.NotifyOnInReview != nil {
				m["notifyOnInReview"] = *a.NotifyOnInReview
			}
		case RenameChatAction:
			m["title"] = a.Title
		}
		raw = append(raw, m)
	}
	return json.Marshal(raw)
}
