package outputparser

import "github.com/malamar-dev/malamar/internal/model"

// TaskActionType is the tag of the task action sum type.
type TaskActionType string

const (
	TaskActionSkip         TaskActionType = "skip"
	TaskActionComment      TaskActionType = "comment"
	TaskActionChangeStatus TaskActionType = "change_status"
)

// TaskAction is the validated, tagged task action the output parser produces;
// downstream code (C7) switches on Type and reads only the fields that tag
// implies, never re-inspecting raw JSON.
type TaskAction struct {
	Type    TaskActionType
	Content string          // set iff Type == TaskActionComment
	Status  model.TaskStatus // set iff Type == TaskActionChangeStatus
}

// TaskOutput is the parsed shape of a task CLI response (spec.md §6.2).
type TaskOutput struct {
	Actions []TaskAction
}
