package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority ranks a task. Only the three named values are valid.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

const (
	// DefaultDescription replaces an omitted description.
	DefaultDescription = "No description"
	// DefaultColumn is the workflow tag every new task starts in.
	DefaultColumn = "todo"
)

// Valid reports whether p is one of low, medium or high.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single item on the list.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Priority    Priority  `json:"priority"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Completed   bool      `json:"completed"`
	Column      string    `json:"column"`
}

// Validate checks the invariants every stored task must hold.
func (t Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !t.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	return nil
}

func newTaskID() string {
	return "task-" + uuid.NewString()
}

// newTask validates raw input and builds a task that is not yet stored.
func newTask(id, title string, priority Priority, description string, now time.Time) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, &ValidationError{Field: "title", Reason: "task title is required"}
	}
	if !priority.Valid() {
		return Task{}, &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = DefaultDescription
	}
	return Task{
		ID:          id,
		Title:       title,
		Priority:    priority,
		Description: description,
		CreatedAt:   now.UTC(),
		Completed:   false,
		Column:      DefaultColumn,
	}, nil
}

func cloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}
