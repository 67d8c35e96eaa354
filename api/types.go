package api

import (
	"context"

	"tasklist/domain"
)

// Board abstracts the task store for handlers.
type Board interface {
	Add(ctx context.Context, title string, priority domain.Priority, description string) (domain.Task, error)
	ToggleComplete(ctx context.Context, id string) (domain.Task, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	View(filter string) domain.View
	Stats() domain.Stats
	SetFilter(ctx context.Context, filter string) domain.View
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, key string) error
}
