package domain

// Stats summarizes a task collection.
type Stats struct {
	Total     int `json:"total"`
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
	Completed int `json:"completed"`
	Active    int `json:"active"`
}

// ComputeStats counts tasks by priority and completion in a single pass.
func ComputeStats(tasks []Task) Stats {
	var s Stats
	for _, t := range tasks {
		s.Total++
		switch t.Priority {
		case PriorityHigh:
			s.High++
		case PriorityMedium:
			s.Medium++
		case PriorityLow:
			s.Low++
		}
		if t.Completed {
			s.Completed++
		} else {
			s.Active++
		}
	}
	return s
}
