package outputparser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/malamar-dev/malamar/internal/model"
)

// rawChatAction captures the union of every field any chat action may carry,
// so a single json.Unmarshal can feed per-type field validation below.
type rawChatAction struct {
	Type        string          `json:"type"`
	Name        *string         `json:"name"`
	Instruction *string         `json:"instruction"`
	CLIType     json.RawMessage `json:"cliType"`
	Order       *json.Number    `json:"order"`
	AgentID     *string         `json:"agentId"`
	AgentIDs    []string        `json:"agentIds"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	WorkingDir  *string         `json:"workingDirectory"`
	NotifyError *bool           `json:"notifyOnError"`
	NotifyInRev *bool           `json:"notifyOnInReview"`
}

func parseChatAction(raw json.RawMessage) (ChatAction, error) {
	var a rawChatAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("malformed action: %s", err)
	}

	switch ChatActionType(a.Type) {
	case ChatActionCreateAgent:
		return parseCreateAgent(a)
	case ChatActionUpdateAgent:
		return parseUpdateAgent(a)
	case ChatActionDeleteAgent:
		if a.AgentID == nil || strings.TrimSpace(*a.AgentID) == "" {
			return nil, fmt.Errorf("delete_agent requires non-empty agentId")
		}
		return DeleteAgentAction{AgentID: *a.AgentID}, nil
	case ChatActionReorderAgents:
		if len(a.AgentIDs) == 0 {
			return nil, fmt.Errorf("reorder_agents requires agentIds")
		}
		for i, id := range a.AgentIDs {
			if strings.TrimSpace(id) == "" {
				return nil, fmt.Errorf("reorder_agents.agentIds[%d] must be non-empty", i)
			}
		}
		return ReorderAgentsAction{AgentIDs: a.AgentIDs}, nil
	case ChatActionUpdateWorkspace:
		return parseUpdateWorkspace(a)
	case ChatActionRenameChat:
		if a.Title == nil || strings.TrimSpace(*a.Title) == "" {
			return nil, fmt.Errorf("rename_chat requires non-empty title")
		}
		return RenameChatAction{Title: *a.Title}, nil
	default:
		return nil, fmt.Errorf("unrecognised action type %q", a.Type)
	}
}

func parseCreateAgent(a rawChatAction) (ChatAction, error) {
	if a.Name == nil || strings.TrimSpace(*a.Name) == "" {
		return nil, fmt.Errorf("create_agent requires non-empty name")
	}
	if a.Instruction == nil || strings.TrimSpace(*a.Instruction) == "" {
		return nil, fmt.Errorf("create_agent requires non-empty instruction")
	}

	out := CreateAgentAction{Name: *a.Name, Instruction: *a.Instruction}

	if len(a.CLIType) > 0 {
		kind, _, err := parseOptionalCLIType(&a.CLIType)
		if err != nil {
			return nil, fmt.Errorf("create_agent.cliType: %s", err)
		}
		out.CLIType = kind
	}
	if a.Order != nil {
		order, err := nonNegativeInt(*a.Order)
		if err != nil {
			return nil, fmt.Errorf("create_agent.order: %s", err)
		}
		out.Order = &order
	}
	return out, nil
}

func parseUpdateAgent(a rawChatAction) (ChatAction, error) {
	if a.AgentID == nil || strings.TrimSpace(*a.AgentID) == "" {
		return nil, fmt.Errorf("update_agent requires non-empty agentId")
	}
	out := UpdateAgentAction{AgentID: *a.AgentID}

	if a.Name != nil {
		if strings.TrimSpace(*a.Name) == "" {
			return nil, fmt.Errorf("update_agent.name must be non-empty when present")
		}
		out.Name = a.Name
	}
	if a.Instruction != nil {
		if strings.TrimSpace(*a.Instruction) == "" {
			return nil, fmt.Errorf("update_agent.instruction must be non-empty when present")
		}
		out.Instruction = a.Instruction
	}
	if len(a.CLIType) > 0 {
		kind, isNull, err := parseOptionalCLIType(&a.CLIType)
		if err != nil {
			return nil, fmt.Errorf("update_agent.cliType: %s", err)
		}
		if isNull {
			out.ClearCLIType = true
		} else {
			out.CLIType = kind
		}
	}
	if a.Order != nil {
		order, err := nonNegativeInt(*a.Order)
		if err != nil {
			return nil, fmt.Errorf("update_agent.order: %s", err)
		}
		out.Order = &order
	}
	return out, nil
}

func parseUpdateWorkspace(a rawChatAction) (ChatAction, error) {
	out := UpdateWorkspaceAction{}
	if a.Title != nil {
		if strings.TrimSpace(*a.Title) == "" {
			return nil, fmt.Errorf("update_workspace.title must be non-empty when present")
		}
		out.Title = a.Title
	}
	out.Description = a.Description
	out.WorkingDirectory = a.WorkingDir
	out.NotifyOnError = a.NotifyError
	out.NotifyOnInReview = a.NotifyInRev
	return out, nil
}

// parseOptionalCLIType handles a JSON field that may be absent (caller
// checks for an empty raw value), explicit null (clear), or a recognised kind.
func parseOptionalCLIType(raw *json.RawMessage) (kind *model.CLIKind, isNull bool, err error) {
	if string(*raw) == "null" {
		return nil, true, nil
	}
	var s string
	if err := json.Unmarshal(*raw, &s); err != nil {
		return nil, false, fmt.Errorf("must be a string or null")
	}
	if !model.ValidCLIKind(s) {
		return nil, false, fmt.Errorf("unrecognised cli kind %q", s)
	}
	k := model.CLIKind(s)
	return &k, false, nil
}

func nonNegativeInt(n json.Number) (int, error) {
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if v < 0 {
		return 0, fmt.Errorf("must be non-negative")
	}
	return int(v), nil
}
