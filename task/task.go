package task

import (
	"time"
)

// Status represents the lifecycle state of a subtask.
//
// State transitions are monotonic:
//
//	pending ──────────────────┐
//	    │ (working indicator) │
//	    v                     │
//	in_progress ──────────────┤
//	    ├──> completed        │ (completion indicator or host report)
//	    ├──> failed           │ (host report)
//	    └──> skipped          │ (host report)
//
// Terminal states: completed, failed, skipped. A terminal subtask never
// reverts to pending or in_progress.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Priority represents how aggressively a task's context should be preserved
// during compaction.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// IsUrgent returns true for priorities whose related messages get an extra
// preservation boost.
func (p Priority) IsUrgent() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// SubTask is one discrete step of a detected task. SubTasks are created once
// by the Tracker and mutated only by the Tracker; they are never deleted.
type SubTask struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	Status          Status   `json:"status"`
	EstimatedTokens int      `json:"estimated_tokens"`
	DependencyIDs   []string `json:"dependency_ids,omitempty"`
	MessageIDs      []string `json:"message_ids,omitempty"`
}

// State is a tracked multi-step task detected from a user request.
//
// The Pending, InProgress, and Completed sets are disjoint and their union is
// always exactly the subtask ID set. Terminal subtasks (completed, failed,
// skipped) all live in the Completed set; the per-subtask Status records the
// precise outcome.
type State struct {
	ID string `json:"id"`

	// OriginMessageID keys the task to the user message that produced it,
	// so re-running detection over already-processed history never creates
	// a duplicate State.
	OriginMessageID string `json:"origin_message_id"`

	OriginalRequest string     `json:"original_request"`
	SubTasks        []*SubTask `json:"subtasks"`

	Pending    map[string]struct{} `json:"-"`
	InProgress map[string]struct{} `json:"-"`
	Completed  map[string]struct{} `json:"-"`

	EstimatedTokens int       `json:"estimated_tokens"`
	Priority        Priority  `json:"priority"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Active returns true while the task has subtasks that are not yet terminal.
// A fully completed task becomes inactive but is never destroyed.
func (t *State) Active() bool {
	return len(t.Pending)+len(t.InProgress) > 0
}

// Remaining returns the not-yet-terminal subtasks in their original order.
func (t *State) Remaining() []*SubTask {
	var remaining []*SubTask
	for _, sub := range t.SubTasks {
		if _, done := t.Completed[sub.ID]; !done {
			remaining = append(remaining, sub)
		}
	}
	return remaining
}

// SubTask returns the subtask with the given ID, or nil.
func (t *State) SubTask(id string) *SubTask {
	for _, sub := range t.SubTasks {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

// RebuildSets reconstructs the Pending, InProgress, and Completed sets from
// the per-subtask statuses. Used after loading a State from storage, where
// only the subtask list round-trips.
func (t *State) RebuildSets() {
	t.Pending = make(map[string]struct{})
	t.InProgress = make(map[string]struct{})
	t.Completed = make(map[string]struct{})

	for _, sub := range t.SubTasks {
		switch {
		case sub.Status.IsTerminal():
			t.Completed[sub.ID] = struct{}{}
		case sub.Status == StatusInProgress:
			t.InProgress[sub.ID] = struct{}{}
		default:
			t.Pending[sub.ID] = struct{}{}
		}
	}
}

// moveToInProgress transitions a pending subtask to in_progress. Returns
// false if the subtask is not currently pending.
func (t *State) moveToInProgress(id string) bool {
	if _, ok := t.Pending[id]; !ok {
		return false
	}
	delete(t.Pending, id)
	t.InProgress[id] = struct{}{}
	if sub := t.SubTask(id); sub != nil {
		sub.Status = StatusInProgress
	}
	return true
}

// moveToTerminal transitions a subtask to the given terminal status.
// Returns false if the subtask is already terminal (no backward or sideways
// transitions out of a terminal state).
func (t *State) moveToTerminal(id string, status Status) bool {
	if !status.IsTerminal() {
		return false
	}
	if _, done := t.Completed[id]; done {
		return false
	}
	sub := t.SubTask(id)
	if sub == nil {
		return false
	}
	delete(t.Pending, id)
	delete(t.InProgress, id)
	t.Completed[id] = struct{}{}
	sub.Status = status
	return true
}
