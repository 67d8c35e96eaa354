package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const maxIDAttempts = 5

// Slot persists the whole task collection under a single key.
type Slot interface {
	Save(ctx context.Context, tasks []Task) error
	Load(ctx context.Context) ([]Task, error)
}

// Store owns the authoritative task collection. Every mutation is written
// through to the slot before it becomes visible; a failed write leaves the
// collection untouched.
type Store struct {
	mu       sync.Mutex
	slot     Slot
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
	newID    func() string

	tasks  []Task
	issued map[string]struct{}
	filter filterState
}

// Option customizes a Store.
type Option func(*Store)

// WithNotifier sets the receiver of change notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger used for mutation diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the task id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewStore creates an empty store backed by slot. Call Hydrate to load
// previously saved tasks.
func NewStore(slot Slot, opts ...Option) *Store {
	if slot == nil {
		panic("domain.NewStore: slot is nil")
	}
	s := &Store{
		slot:     slot,
		notifier: nopNotifier{},
		logger:   log.StandardLogger(),
		now:      time.Now,
		newID:    newTaskID,
		tasks:    []Task{},
		issued:   map[string]struct{}{},
		filter:   newFilterState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate replaces the in-memory collection with the persisted one. Missing
// data yields an empty collection; malformed data is a PersistenceError and
// leaves the store unchanged.
func (s *Store) Hydrate(ctx context.Context) error {
	loaded, err := s.slot.Load(ctx)
	if err != nil {
		return NewPersistenceError("load", err)
	}
	if err := ValidateCollection(loaded); err != nil {
		return NewPersistenceError("load", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = cloneTasks(loaded)
	for _, t := range s.tasks {
		s.issued[t.ID] = struct{}{}
	}
	s.logger.WithField("tasks", len(s.tasks)).Debug("task store hydrated")
	s.notifyLocked(ctx, Change{Type: TasksLoaded})
	return nil
}

// Add validates input, appends a new task and persists the collection.
func (s *Store) Add(ctx context.Context, title string, priority Priority, description string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.allocateIDLocked()
	if err != nil {
		return Task{}, err
	}
	task, err := newTask(id, title, priority, description, s.now())
	if err != nil {
		return Task{}, err
	}

	next := make([]Task, 0, len(s.tasks)+1)
	next = append(next, s.tasks...)
	next = append(next, task)
	if err := s.commitLocked(ctx, "save", next); err != nil {
		return Task{}, err
	}
	s.issued[task.ID] = struct{}{}

	s.logger.WithFields(log.Fields{"task": task.ID, "priority": task.Priority}).Debug("task added")
	added := task
	s.notifyLocked(ctx, Change{Type: TaskAdded, Message: "Task added!", Task: &added})
	return task, nil
}

// ToggleComplete flips the completion flag of the task with id. It reports
// false without error when no task matches.
func (s *Store) ToggleComplete(ctx context.Context, id string) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Task{}, false, nil
	}
	next := cloneTasks(s.tasks)
	next[idx].Completed = !next[idx].Completed
	if err := s.commitLocked(ctx, "save", next); err != nil {
		return Task{}, false, err
	}

	task := next[idx]
	s.logger.WithFields(log.Fields{"task": id, "completed": task.Completed}).Debug("task toggled")
	toggled := task
	s.notifyLocked(ctx, Change{Type: TaskToggled, Task: &toggled})
	return task, true, nil
}

// Delete removes the task with id. It reports false without error when no
// task matches; nothing is written in that case.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false, nil
	}
	removed := s.tasks[idx]
	next := make([]Task, 0, len(s.tasks)-1)
	next = append(next, s.tasks[:idx]...)
	next = append(next, s.tasks[idx+1:]...)
	if err := s.commitLocked(ctx, "save", next); err != nil {
		return false, err
	}

	s.logger.WithField("task", id).Debug("task deleted")
	s.notifyLocked(ctx, Change{Type: TaskDeleted, Message: "Task deleted!", Task: &removed})
	return true, nil
}

// All returns a snapshot of the collection in creation order.
func (s *Store) All() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTasks(s.tasks)
}

// Get returns the task with id if present.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.tasks[idx], true
	}
	return Task{}, false
}

// Filtered returns the tasks visible under mode.
func (s *Store) Filtered(mode FilterMode) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterTasks(s.tasks, mode)
}

// Visible returns the tasks visible under the current filter mode.
func (s *Store) Visible() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterTasks(s.tasks, s.filter.current)
}

// View is a consistent read of the visible tasks and the collection stats.
type View struct {
	Filter FilterMode `json:"filter"`
	Tasks  []Task     `json:"tasks"`
	Stats  Stats      `json:"stats"`
}

// View returns the tasks visible under raw together with the stats, taken
// under one lock. An empty raw uses the current filter mode.
func (s *Store) View(raw string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := s.filter.current
	if raw != "" {
		mode = ParseFilterMode(raw)
	}
	return View{Filter: mode, Tasks: FilterTasks(s.tasks, mode), Stats: ComputeStats(s.tasks)}
}

// Stats returns counts for the whole collection.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeStats(s.tasks)
}

// Filter returns the current filter mode.
func (s *Store) Filter() FilterMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.current
}

// SetFilter switches the current filter mode and returns the view it
// selects, taken under the same lock as the switch. Unknown modes select
// FilterAll.
func (s *Store) SetFilter(ctx context.Context, raw string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode, changed := s.filter.transition(raw)
	if changed {
		s.notifyLocked(ctx, Change{Type: FilterChanged})
	}
	return View{Filter: mode, Tasks: FilterTasks(s.tasks, mode), Stats: ComputeStats(s.tasks)}
}

func (s *Store) commitLocked(ctx context.Context, op string, next []Task) error {
	if err := s.slot.Save(ctx, next); err != nil {
		s.logger.WithError(err).WithField("tasks", len(next)).Error("failed to persist tasks")
		return NewPersistenceError(op, err)
	}
	s.tasks = next
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) allocateIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, taken := s.issued[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

func (s *Store) notifyLocked(ctx context.Context, ch Change) {
	ch.Filter = s.filter.current
	ch.Stats = ComputeStats(s.tasks)
	if ch.Time.IsZero() {
		ch.Time = s.now().UTC()
	}
	s.notifier.Notify(ctx, ch)
}

// ValidateCollection checks the invariants of a loaded collection: every task
// is valid and ids are unique.
func ValidateCollection(tasks []Task) error {
	seen := make(map[string]struct{}, len(tasks))
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: task %d: %v", ErrCorruptPayload, i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %q", ErrCorruptPayload, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
