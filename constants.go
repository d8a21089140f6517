package contextpg

// Strategy identifies which compaction algorithm produced a result.
type Strategy string

const (
	// StrategyNone is reported when the history already fits the budget.
	StrategyNone Strategy = "no-compaction-needed"

	// StrategyCriticalFirst keeps mandatory-preservation messages first,
	// fills the remaining budget by score, then guarantees recency.
	StrategyCriticalFirst Strategy = "critical-first-preservation"

	// StrategyRecentWithImportance walks newest to oldest and keeps recent
	// plus high-scoring messages within the budget.
	StrategyRecentWithImportance Strategy = "recent-with-importance"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// Default option values.
const (
	// DefaultSafetyMargin is the nominal budget overflow fraction the
	// recency guarantee may consume.
	DefaultSafetyMargin = 0.10

	// DefaultMinRecentMessages is how many trailing messages are always
	// retained.
	DefaultMinRecentMessages = 5
)

// Selection thresholds. Tunable heuristics, not calibrated values.
const (
	// mandatoryScoreThreshold marks a message for first-pass preservation
	// regardless of its classification flags.
	mandatoryScoreThreshold = 0.9

	// keepScoreThreshold is the minimum score at which the recency-driven
	// strategy keeps a non-recent message.
	keepScoreThreshold = 0.7
)
