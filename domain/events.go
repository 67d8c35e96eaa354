package domain

import (
	"context"
	"time"
)

const (
	TaskAdded     = "task-added"
	TaskToggled   = "task-toggled"
	TaskDeleted   = "task-deleted"
	FilterChanged = "filter-changed"
	TasksLoaded   = "tasks-loaded"
)

// Change describes a state transition the presentation layer should render.
type Change struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"`
	Task    *Task      `json:"task,omitempty"`
	Filter  FilterMode `json:"filter"`
	Stats   Stats      `json:"stats"`
	Time    time.Time  `json:"time"`
}

// Notifier receives changes after they have been persisted. Implementations
// must not block; they are called while the store is locked.
type Notifier interface {
	Notify(ctx context.Context, ch Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ch Change)

func (f NotifierFunc) Notify(ctx context.Context, ch Change) { f(ctx, ch) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Change) {}

// Notifiers fans a change out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, ch Change) {
	for _, x := range n {
		if x != nil {
			x.Notify(ctx, ch)
		}
	}
}
