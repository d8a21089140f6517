package contextpg

import (
	"context"
	"time"

	"github.com/contextpg/contextpg/classify"
	"github.com/contextpg/contextpg/hooks"
	"github.com/contextpg/contextpg/storage"
	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/tokens"
	"github.com/contextpg/contextpg/types"
)

// Manager orchestrates context compaction for one session: it tracks tasks
// across turns, classifies messages, and selects which messages survive a
// token budget.
//
// Manager holds the session's mutable task registry and is not safe for
// concurrent use; the host serializes calls per session, at most one
// compaction in flight at a time.
type Manager struct {
	cfg     Config
	tracker *task.Tracker

	logger  Logger
	hooks   *hooks.Registry
	store   storage.Store
	counter *tokens.Counter
	now     func() time.Time
}

// New creates a Manager for a session.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg.applyDefaults()

	m := &Manager{
		cfg:     cfg,
		tracker: task.NewTracker(cfg.SessionID),
		logger:  noopLogger{},
		hooks:   hooks.NewRegistry(),
		now:     time.Now,
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// SessionID returns the session this manager is scoped to.
func (m *Manager) SessionID() string {
	return m.cfg.SessionID
}

// Tracker exposes the session's task tracker, for host-driven status
// reports (failed or skipped subtasks) and direct task inspection.
func (m *Manager) Tracker() *task.Tracker {
	return m.tracker
}

// CompactContext trims a message history to fit the token budget.
//
// The call advances the session's task state as a side effect: new tasks
// are detected from user messages and subtask progress is read from
// assistant messages before any trimming decision is made. The returned
// history is always a chronologically ordered subsequence of the input.
//
// Compaction itself is pure computation and cannot fail; an error is
// returned only for contract violations in opts.
func (m *Manager) CompactContext(ctx context.Context, messages []*types.Message, opts Options) (*CompactionResult, error) {
	start := time.Now()

	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, NewContextErrorWithSession("CompactContext", m.cfg.SessionID, err)
	}

	progress := m.tracker.Observe(messages)
	m.fireTaskHooks(ctx, progress)

	activeTasks := m.tracker.ActiveTasks()
	now := m.now()

	scored := make([]scoredMessage, 0, len(messages))
	currentTokens := 0
	for i, msg := range messages {
		s := scoredMessage{
			msg:            msg,
			index:          i,
			tokens:         tokens.EstimateMessage(msg),
			classification: classify.Classify(msg, activeTasks, now),
		}
		currentTokens += s.tokens
		scored = append(scored, s)
	}

	if err := m.hooks.TriggerBeforeCompaction(ctx, m.cfg.SessionID, currentTokens); err != nil {
		m.logger.Warn("before-compaction hook failed", "session_id", m.cfg.SessionID, "error", err)
	}

	if currentTokens <= opts.MaxTokens {
		m.logger.Debug("no compaction needed",
			"session_id", m.cfg.SessionID,
			"current_tokens", currentTokens,
			"max_tokens", opts.MaxTokens)
		return &CompactionResult{
			TrimmedMessages:   messages,
			PreservedTasks:    activeTasks,
			TokensPreserved:   currentTokens,
			PreservationRatio: 1.0,
			Strategy:          StrategyNone,
		}, nil
	}

	strategy := StrategyRecentWithImportance
	if opts.PreserveTaskContext || opts.PreserveErrors || opts.PreserveToolOutputs {
		strategy = StrategyCriticalFirst
	}

	var kept []scoredMessage
	switch strategy {
	case StrategyCriticalFirst:
		kept = criticalFirst(scored, opts)
	default:
		kept = recentWithImportance(scored, opts)
	}

	trimmed := make([]*types.Message, 0, len(kept))
	preserved := 0
	for _, s := range kept {
		trimmed = append(trimmed, s.msg)
		preserved += s.tokens
	}

	result := &CompactionResult{
		TrimmedMessages:   trimmed,
		PreservedTasks:    activeTasks,
		TokensRemoved:     currentTokens - preserved,
		TokensPreserved:   preserved,
		PreservationRatio: float64(preserved) / float64(currentTokens),
		Strategy:          strategy,
	}

	if opts.TaskContinuationPrompts {
		result.ContinuationPrompt = m.tracker.ContinuationPrompt(activeTasks)
	}

	m.logger.Info("context compacted",
		"session_id", m.cfg.SessionID,
		"strategy", strategy,
		"original_tokens", currentTokens,
		"preserved_tokens", preserved,
		"messages_removed", len(messages)-len(trimmed))

	summary := &hooks.Summary{
		SessionID:         m.cfg.SessionID,
		Strategy:          strategy.String(),
		OriginalTokens:    currentTokens,
		PreservedTokens:   preserved,
		MessagesRemoved:   len(messages) - len(trimmed),
		PreservationRatio: result.PreservationRatio,
	}
	if m.counter != nil {
		summary.CountedTokens = m.counter.Count(ctx, trimmed)
		m.logger.Debug("counted preserved tokens",
			"session_id", m.cfg.SessionID,
			"estimated_tokens", preserved,
			"counted_tokens", summary.CountedTokens)
	}
	if err := m.hooks.TriggerAfterCompaction(ctx, summary); err != nil {
		m.logger.Warn("after-compaction hook failed", "session_id", m.cfg.SessionID, "error", err)
	}

	m.persist(ctx, result, summary, time.Since(start))

	return result, nil
}

// GetContextMetrics profiles a message history without mutating any state.
// The currently active tasks inform the task-related counts; the tracker is
// not advanced.
func (m *Manager) GetContextMetrics(messages []*types.Message) *ContextMetrics {
	activeTasks := m.tracker.ActiveTasks()
	now := m.now()

	metrics := &ContextMetrics{TotalMessages: len(messages)}
	totalImportance := 0.0

	for _, msg := range messages {
		c := classify.Classify(msg, activeTasks, now)
		metrics.TotalTokens += tokens.EstimateMessage(msg)
		totalImportance += c.Importance.Weight()

		if c.IsTaskRelated {
			metrics.TaskRelatedMessages++
		}
		if c.IsToolOutput {
			metrics.ToolOutputMessages++
		}
		if c.IsError {
			metrics.ErrorMessages++
		}
		if c.Importance == classify.ImportanceMinimal {
			metrics.NoiseMessages++
		}
	}

	if metrics.TotalMessages > 0 {
		metrics.AverageImportance = totalImportance / float64(metrics.TotalMessages)
	}
	if metrics.TotalTokens > 0 {
		metrics.PreservationEfficiency = totalImportance / float64(metrics.TotalTokens)
	}

	return metrics
}

func (m *Manager) fireTaskHooks(ctx context.Context, progress *task.Progress) {
	for _, state := range progress.NewTasks {
		if err := m.hooks.TriggerTaskDetected(ctx, state); err != nil {
			m.logger.Warn("task-detected hook failed", "task_id", state.ID, "error", err)
		}
	}
	for _, ev := range progress.Completed {
		if err := m.hooks.TriggerSubTaskCompleted(ctx, ev.Task, ev.Sub); err != nil {
			m.logger.Warn("subtask-completed hook failed", "task_id", ev.Task.ID, "error", err)
		}
	}
}

// persist writes task state and the compaction event through the optional
// store. Persistence is best effort: compaction already succeeded, so
// storage failures are logged, not returned.
func (m *Manager) persist(ctx context.Context, result *CompactionResult, summary *hooks.Summary, elapsed time.Duration) {
	if m.store == nil {
		return
	}

	if err := m.store.SaveTaskStates(ctx, m.cfg.SessionID, m.tracker.Tasks()); err != nil {
		m.logger.Error("failed to persist task states", "session_id", m.cfg.SessionID, "error", err)
	}

	taskIDs := make([]string, 0, len(result.PreservedTasks))
	for _, t := range result.PreservedTasks {
		taskIDs = append(taskIDs, t.ID)
	}

	event := &storage.CompactionEvent{
		SessionID:          m.cfg.SessionID,
		Strategy:           result.Strategy.String(),
		OriginalTokens:     summary.OriginalTokens,
		PreservedTokens:    summary.PreservedTokens,
		MessagesRemoved:    summary.MessagesRemoved,
		PreservationRatio:  summary.PreservationRatio,
		ContinuationPrompt: result.ContinuationPrompt,
		PreservedTaskIDs:   taskIDs,
		DurationMs:         elapsed.Milliseconds(),
	}
	if err := m.store.SaveCompactionEvent(ctx, event); err != nil {
		m.logger.Error("failed to persist compaction event", "session_id", m.cfg.SessionID, "error", err)
	}
}
