package domain

import "strings"

// FilterMode selects which tasks are visible.
type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterActive    FilterMode = "active"
	FilterCompleted FilterMode = "completed"
	FilterHigh      FilterMode = "high"
)

// ParseFilterMode maps raw input to a known mode. Unknown values fall back to
// FilterAll.
func ParseFilterMode(raw string) FilterMode {
	switch m := FilterMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case FilterAll, FilterActive, FilterCompleted, FilterHigh:
		return m
	}
	return FilterAll
}

func (m FilterMode) match(t Task) bool {
	switch m {
	case FilterActive:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	case FilterHigh:
		return t.Priority == PriorityHigh
	}
	return true
}

// FilterTasks returns the tasks visible under mode in collection order. The
// result never aliases the input slice.
func FilterTasks(tasks []Task, mode FilterMode) []Task {
	mode = ParseFilterMode(string(mode))
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if mode.match(t) {
			out = append(out, t)
		}
	}
	return out
}

// filterState holds the process-local view selector. It is not persisted.
type filterState struct {
	current FilterMode
}

func newFilterState() filterState {
	return filterState{current: FilterAll}
}

// transition moves to the requested mode and reports whether it changed.
func (s *filterState) transition(raw string) (FilterMode, bool) {
	next := ParseFilterMode(raw)
	changed := next != s.current
	s.current = next
	return next, changed
}
