package domain

import (
	"context"
	"errors"
)

type fakeSlot struct {
	saved   []Task
	saves   int
	loadErr error
	saveErr error
	stored  bool
}

func (f *fakeSlot) Save(ctx context.Context, tasks []Task) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.saved = cloneTasks(tasks)
	f.stored = true
	return nil
}

func (f *fakeSlot) Load(ctx context.Context) ([]Task, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if !f.stored {
		return []Task{}, nil
	}
	return cloneTasks(f.saved), nil
}

var errSlotDown = errors.New("slot down")
