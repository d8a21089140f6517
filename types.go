package contextpg

import (
	"github.com/contextpg/contextpg/classify"
	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/types"
)

// CompactionResult is the outcome of one CompactContext call.
type CompactionResult struct {
	// TrimmedMessages is a chronologically ordered subsequence of the input.
	TrimmedMessages []*types.Message

	// PreservedTasks are the tasks still active after this call.
	PreservedTasks []*task.State

	// ContinuationPrompt reminds the model of unfinished subtasks.
	// Empty when disabled or when nothing remains.
	ContinuationPrompt string

	// TokensRemoved is the estimated token cost of the dropped messages.
	TokensRemoved int

	// TokensPreserved is the estimated token cost of the kept messages.
	TokensPreserved int

	// PreservationRatio is TokensPreserved over the original total.
	// Exactly 1.0 only when no compaction occurred.
	PreservationRatio float64

	// Strategy is the algorithm that produced this result.
	Strategy Strategy
}

// ContextMetrics is a read-only profile of a message history.
type ContextMetrics struct {
	TotalMessages       int
	TotalTokens         int
	TaskRelatedMessages int
	ToolOutputMessages  int
	ErrorMessages       int
	NoiseMessages       int

	// AverageImportance is the mean importance weight across messages.
	AverageImportance float64

	// PreservationEfficiency is total importance weight per token, a
	// density metric for flagging low-value, token-heavy histories.
	PreservationEfficiency float64
}

// scoredMessage pairs a message with its token cost and classification for
// strategy selection. Index is the position in the original history.
type scoredMessage struct {
	msg            *types.Message
	index          int
	tokens         int
	classification *classify.Classification
}
