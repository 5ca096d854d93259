package inputbuilder

import (
	"encoding/json"

	"github.com/malamar-dev/malamar/internal/model"
)

// commentLines renders task comments as JSONL, keys author/content/created_at
// per spec.md §4.6.
func commentLines(comments []model.TaskComment) []string {
	lines := make([]string, 0, len(comments))
	for _, c := range comments {
		author := "system"
		switch {
		case c.UserID != "":
			author = c.UserID
		case c.AgentID != "":
			author = c.AgentID
		}
		line, _ := json.Marshal(map[string]any{
			"author":     author,
			"content":    c.Content,
			"created_at": c.CreatedAt,
		})
		lines = append(lines, string(line))
	}
	return lines
}

// logLines renders task logs as JSONL, keys
// event_type/actor_type/created_at/(actor_id)/(metadata) per spec.md §4.6.
func logLines(logs []model.TaskLog) []string {
	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		entry := map[string]any{
			"event_type": l.EventType,
			"actor_type": l.ActorType,
			"created_at": l.CreatedAt,
		}
		if l.ActorID != "" {
			entry["actor_id"] = l.ActorID
		}
		if len(l.Metadata) > 0 {
			entry["metadata"] = l.Metadata
		}
		line, _ := json.Marshal(entry)
		lines = append(lines, string(line))
	}
	return lines
}

// messageLines renders chat messages as JSONL, keys role/content/created_at
// per spec.md §4.6.
func messageLines(messages []model.ChatMessage) []string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		line, _ := json.Marshal(map[string]any{
			"role":       m.Role,
			"content":    m.Message,
			"created_at": m.CreatedAt,
		})
		lines = append(lines, string(line))
	}
	return lines
}
