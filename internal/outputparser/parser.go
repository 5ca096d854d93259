// Package outputparser implements the output parser (C5): validation of CLI
// JSON output against the task/chat schemas of spec.md §4.5, with a fixed
// error-kind precedence (file_missing, file_empty, json_parse,
// schema_validation) enforced by hand-written precondition checks rather than
// a schema engine, per the Design Notes.
package outputparser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/malamar-dev/malamar/internal/model"
)

// ParseTaskOutputFile reads path and parses it as task output, applying the
// file_missing -> file_empty -> json_parse -> schema_validation precedence.
func ParseTaskOutputFile(path string) (TaskOutput, error) {
	raw, err := readOutputFile(path)
	if err != nil {
		return TaskOutput{}, err
	}
	return ParseTaskOutput(raw)
}

// ParseTaskOutput parses raw JSON content already in memory. It has no
// file_missing stage; blank content is reported as file_empty.
func ParseTaskOutput(raw string) (TaskOutput, error) {
	if strings.TrimSpace(raw) == "" {
		return TaskOutput{}, fileEmpty("<in-memory>")
	}

	var doc struct {
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return TaskOutput{}, jsonParse(err.Error())
	}

	actions := make([]TaskAction, 0, len(doc.Actions))
	for i, rawAction := range doc.Actions {
		action, err := parseTaskAction(rawAction)
		if err != nil {
			return TaskOutput{}, schemaInvalid(fmt.Sprintf("actions[%d]: %s", i, err))
		}
		actions = append(actions, action)
	}
	return TaskOutput{Actions: actions}, nil
}

func parseTaskAction(raw json.RawMessage) (TaskAction, error) {
	var tagged struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return TaskAction{}, fmt.Errorf("malformed action: %s", err)
	}

	switch TaskActionType(tagged.Type) {
	case TaskActionSkip:
		return TaskAction{Type: TaskActionSkip}, nil
	case TaskActionComment:
		if strings.TrimSpace(tagged.Content) == "" {
			return TaskAction{}, fmt.Errorf("comment action requires non-empty content")
		}
		return TaskAction{Type: TaskActionComment, Content: tagged.Content}, nil
	case TaskActionChangeStatus:
		if !model.ValidTaskStatus(tagged.Status) {
			return TaskAction{}, fmt.Errorf("change_status action has invalid status %q", tagged.Status)
		}
		return TaskAction{Type: TaskActionChangeStatus, Status: model.TaskStatus(tagged.Status)}, nil
	default:
		return TaskAction{}, fmt.Errorf("unrecognised action type %q", tagged.Type)
	}
}

// ParseChatOutputFile reads path and parses it as chat output, applying the
// same error-kind precedence as ParseTaskOutputFile.
func ParseChatOutputFile(path string) (ChatOutput, error) {
	raw, err := readOutputFile(path)
	if err != nil {
		return ChatOutput{}, err
	}
	return ParseChatOutput(raw)
}

// ParseChatOutput parses raw JSON content already in memory.
func ParseChatOutput(raw string) (ChatOutput, error) {
	if strings.TrimSpace(raw) == "" {
		return ChatOutput{}, fileEmpty("<in-memory>")
	}

	var doc struct {
		Message *string           `json:"message"`
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ChatOutput{}, jsonParse(err.Error())
	}

	actions := make([]ChatAction, 0, len(doc.Actions))
	for i, rawAction := range doc.Actions {
		action, err := parseChatAction(rawAction)
		if err != nil {
			return ChatOutput{}, schemaInvalid(fmt.Sprintf("actions[%d]: %s", i, err))
		}
		actions = append(actions, action)
	}
	return ChatOutput{Message: doc.Message, Actions: actions}, nil
}

func readOutputFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fileMissing(path)
		}
		return "", fileMissing(path)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fileEmpty(path)
	}
	return string(data), nil
}
