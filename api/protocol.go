package api

import (
	"time"

	"tasklist/domain"
)

const postTaskMaxSize = 16 * 1024 // 16 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /api/tasks request body
type createTaskRequest struct {
	Title       string `json:"title"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// PUT /api/filter request body
type filterRequest struct {
	Filter string `json:"filter"`
}

type tasksResponse struct {
	Filter domain.FilterMode `json:"filter"`
	Tasks  []taskView        `json:"tasks"`
	Stats  domain.Stats      `json:"stats"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// taskView is a task as rendered by clients.
type taskView struct {
	domain.Task
	CreatedLabel string `json:"createdLabel"`
}

func newTaskView(t domain.Task, now time.Time) taskView {
	return taskView{Task: t, CreatedLabel: createdLabel(t.CreatedAt, now)}
}

func newTaskViews(tasks []domain.Task, now time.Time) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskView(t, now))
	}
	return out
}

// createdLabel renders "today" for tasks created on now's calendar day and a
// short month/day label otherwise.
func createdLabel(created, now time.Time) string {
	c := created.In(now.Location())
	cy, cm, cd := c.Date()
	ny, nm, nd := now.Date()
	if cy == ny && cm == nm && cd == nd {
		return "today"
	}
	return c.Format("Jan 2")
}
