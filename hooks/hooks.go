package hooks

import (
	"context"
	"sync"

	"github.com/contextpg/contextpg/task"
)

// Summary describes one finished compaction, passed to after-compaction
// hooks and persisted by the storage layer.
type Summary struct {
	SessionID         string
	Strategy          string
	OriginalTokens    int
	PreservedTokens   int
	MessagesRemoved   int
	PreservationRatio float64

	// CountedTokens is the API-accurate token count of the preserved
	// messages when the manager has a token counter configured; zero
	// otherwise. PreservedTokens stays the estimator figure the trimming
	// decision was made with.
	CountedTokens int
}

// BeforeCompactionHook is called before context compaction runs.
type BeforeCompactionHook func(ctx context.Context, sessionID string, currentTokens int) error

// AfterCompactionHook is called after context compaction completes.
type AfterCompactionHook func(ctx context.Context, summary *Summary) error

// TaskDetectedHook is called when a new multi-step task is detected.
type TaskDetectedHook func(ctx context.Context, state *task.State) error

// SubTaskCompletedHook is called when a subtask reaches a terminal status.
type SubTaskCompletedHook func(ctx context.Context, state *task.State, sub *task.SubTask) error

// Registry holds all registered hooks
type Registry struct {
	mu               sync.RWMutex
	beforeCompaction []BeforeCompactionHook
	afterCompaction  []AfterCompactionHook
	taskDetected     []TaskDetectedHook
	subTaskCompleted []SubTaskCompletedHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		beforeCompaction: []BeforeCompactionHook{},
		afterCompaction:  []AfterCompactionHook{},
		taskDetected:     []TaskDetectedHook{},
		subTaskCompleted: []SubTaskCompletedHook{},
	}
}

// OnBeforeCompaction registers a hook to be called before compaction
func (r *Registry) OnBeforeCompaction(hook BeforeCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompaction = append(r.beforeCompaction, hook)
}

// OnAfterCompaction registers a hook to be called after compaction
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// OnTaskDetected registers a hook to be called when a task is detected
func (r *Registry) OnTaskDetected(hook TaskDetectedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskDetected = append(r.taskDetected, hook)
}

// OnSubTaskCompleted registers a hook to be called when a subtask finishes
func (r *Registry) OnSubTaskCompleted(hook SubTaskCompletedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subTaskCompleted = append(r.subTaskCompleted, hook)
}

// TriggerBeforeCompaction calls all registered before-compaction hooks
func (r *Registry) TriggerBeforeCompaction(ctx context.Context, sessionID string, currentTokens int) error {
	r.mu.RLock()
	hooks := make([]BeforeCompactionHook, len(r.beforeCompaction))
	copy(hooks, r.beforeCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, currentTokens); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction calls all registered after-compaction hooks
func (r *Registry) TriggerAfterCompaction(ctx context.Context, summary *Summary) error {
	r.mu.RLock()
	hooks := make([]AfterCompactionHook, len(r.afterCompaction))
	copy(hooks, r.afterCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}

// TriggerTaskDetected calls all registered task-detected hooks
func (r *Registry) TriggerTaskDetected(ctx context.Context, state *task.State) error {
	r.mu.RLock()
	hooks := make([]TaskDetectedHook, len(r.taskDetected))
	copy(hooks, r.taskDetected)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// TriggerSubTaskCompleted calls all registered subtask-completed hooks
func (r *Registry) TriggerSubTaskCompleted(ctx context.Context, state *task.State, sub *task.SubTask) error {
	r.mu.RLock()
	hooks := make([]SubTaskCompletedHook, len(r.subTaskCompleted))
	copy(hooks, r.subTaskCompleted)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, state, sub); err != nil {
			return err
		}
	}
	return nil
}
