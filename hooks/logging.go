package hooks

import (
	"context"
	"log"

	"github.com/contextpg/contextpg/task"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *log.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *log.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: log.Default()}
}

// BeforeCompaction logs before context compaction
func (h *LoggingHooks) BeforeCompaction(ctx context.Context, sessionID string, currentTokens int) error {
	h.logger.Printf("[ContextPG] Starting compaction for session %s (%d tokens)", sessionID, currentTokens)
	return nil
}

// AfterCompaction logs after context compaction
func (h *LoggingHooks) AfterCompaction(ctx context.Context, summary *Summary) error {
	reduction := float64(0)
	if summary.OriginalTokens > 0 {
		reduction = float64(summary.OriginalTokens-summary.PreservedTokens) / float64(summary.OriginalTokens) * 100
	}

	h.logger.Printf("[ContextPG] Compaction complete: %d → %d tokens (%.1f%% reduction, %d messages removed, strategy: %s)",
		summary.OriginalTokens, summary.PreservedTokens, reduction, summary.MessagesRemoved, summary.Strategy)
	return nil
}

// TaskDetected logs newly detected tasks
func (h *LoggingHooks) TaskDetected(ctx context.Context, state *task.State) error {
	h.logger.Printf("[ContextPG] Detected task %s (%d subtasks, priority %s)",
		state.ID, len(state.SubTasks), state.Priority)
	return nil
}

// SubTaskCompleted logs subtask completions
func (h *LoggingHooks) SubTaskCompleted(ctx context.Context, state *task.State, sub *task.SubTask) error {
	h.logger.Printf("[ContextPG] Subtask %q of task %s is %s", sub.Description, state.ID, sub.Status)
	return nil
}

// MetricsHooks collects metrics for monitoring
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// AfterCompaction records compaction metrics
func (h *MetricsHooks) AfterCompaction(ctx context.Context, summary *Summary) error {
	tags := map[string]string{"strategy": summary.Strategy}

	h.OnMetric("context.compaction.original_tokens", float64(summary.OriginalTokens), tags)
	h.OnMetric("context.compaction.preserved_tokens", float64(summary.PreservedTokens), tags)
	h.OnMetric("context.compaction.messages_removed", float64(summary.MessagesRemoved), tags)
	h.OnMetric("context.compaction.preservation_ratio", summary.PreservationRatio, tags)

	return nil
}

// TaskDetected records task detection metrics
func (h *MetricsHooks) TaskDetected(ctx context.Context, state *task.State) error {
	h.OnMetric("context.tasks.detected", 1, map[string]string{"priority": state.Priority.String()})
	h.OnMetric("context.tasks.subtasks", float64(len(state.SubTasks)), nil)
	return nil
}

// SubTaskCompleted records subtask completion metrics
func (h *MetricsHooks) SubTaskCompleted(ctx context.Context, state *task.State, sub *task.SubTask) error {
	h.OnMetric("context.subtasks.completed", 1, map[string]string{"status": sub.Status.String()})
	return nil
}
