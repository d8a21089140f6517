package contextpg

import (
	"sort"
)

// criticalFirst implements the critical-first preservation strategy.
//
// Pass 1 keeps every message flagged for mandatory preservation while the
// running total fits the budget. Pass 2 fills the remaining budget with the
// next highest scoring messages. Pass 3 force-includes the trailing
// MinRecentMessages even past the budget, then evicts the lowest scoring
// non-mandatory older messages until the total fits
// MaxTokens*(1+SafetyMargin). The result is returned in original
// chronological order.
func criticalFirst(scored []scoredMessage, opts Options) []scoredMessage {
	byScore := make([]scoredMessage, len(scored))
	copy(byScore, scored)
	sort.SliceStable(byScore, func(i, j int) bool {
		return byScore[i].classification.PreservationScore > byScore[j].classification.PreservationScore
	})

	kept := make(map[int]bool, len(scored))
	total := 0

	// Pass 1: mandatory preservation within budget.
	for _, s := range byScore {
		if !mandatory(s, opts) {
			continue
		}
		if total+s.tokens > opts.MaxTokens {
			continue
		}
		kept[s.index] = true
		total += s.tokens
	}

	// Pass 2: fill remaining budget by score.
	for _, s := range byScore {
		if kept[s.index] {
			continue
		}
		if total+s.tokens > opts.MaxTokens {
			continue
		}
		kept[s.index] = true
		total += s.tokens
	}

	// Pass 3: bounded recency guarantee.
	recent := make(map[int]bool, opts.MinRecentMessages)
	for _, s := range lastN(scored, opts.MinRecentMessages) {
		recent[s.index] = true
		if kept[s.index] {
			continue
		}
		kept[s.index] = true
		total += s.tokens
	}

	// Mandatory and recent messages survive the eviction; a history made of
	// nothing but those can therefore still exceed the bound.
	bound := int(float64(opts.MaxTokens) * (1 + opts.SafetyMargin))
	for i := len(byScore) - 1; i >= 0 && total > bound; i-- {
		s := byScore[i]
		if !kept[s.index] || recent[s.index] || mandatory(s, opts) {
			continue
		}
		delete(kept, s.index)
		total -= s.tokens
	}

	result := make([]scoredMessage, 0, len(kept))
	for _, s := range scored {
		if kept[s.index] {
			result = append(result, s)
		}
	}
	return result
}

// mandatory reports whether a message must be preserved under the given
// option flags.
func mandatory(s scoredMessage, opts Options) bool {
	c := s.classification
	if opts.PreserveTaskContext && c.IsTaskRelated {
		return true
	}
	if opts.PreserveErrors && c.IsError {
		return true
	}
	if opts.PreserveToolOutputs && c.IsToolOutput {
		return true
	}
	return c.PreservationScore >= mandatoryScoreThreshold
}

// recentWithImportance walks the history newest to oldest. The trailing
// MinRecentMessages are always kept; older messages are kept while they
// score at or above the keep threshold and fit the remaining budget.
// Prepending keeps the result naturally chronological.
func recentWithImportance(scored []scoredMessage, opts Options) []scoredMessage {
	var result []scoredMessage
	total := 0

	for i := len(scored) - 1; i >= 0; i-- {
		s := scored[i]

		if len(scored)-i <= opts.MinRecentMessages {
			result = append([]scoredMessage{s}, result...)
			total += s.tokens
			continue
		}

		if s.classification.PreservationScore >= keepScoreThreshold && total+s.tokens <= opts.MaxTokens {
			result = append([]scoredMessage{s}, result...)
			total += s.tokens
		}
	}

	return result
}

func lastN(scored []scoredMessage, n int) []scoredMessage {
	if n <= 0 {
		return nil
	}
	if n > len(scored) {
		n = len(scored)
	}
	return scored[len(scored)-n:]
}
