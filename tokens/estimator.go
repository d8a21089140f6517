// Package tokens provides token estimation for conversation messages.
//
// Compaction decisions budget against an approximate token count: Estimate
// uses a fixed characters-per-token ratio and EstimateMessage adds a flat
// overhead per tool invocation. The estimate is deterministic so that every
// component of the subsystem compares the same numbers; absolute accuracy is
// explicitly not a goal. For telemetry that wants real counts, Counter wraps
// the Claude token counting API with a fallback to the same estimator.
package tokens

import (
	"github.com/contextpg/contextpg/types"
)

const (
	// charsPerToken is the assumed average characters per token for
	// English text. Claude tokenizes at roughly 3.5 characters per token.
	charsPerToken = 3.5

	// ToolCallOverhead is the fixed token cost charged for a tool
	// invocation block, modelling the serialization overhead of a
	// structured call in the prompt regardless of payload size.
	ToolCallOverhead = 50
)

// Estimate returns ceil(len(text) / 3.5) using integer arithmetic.
// The empty string costs zero tokens.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	// ceil(n/3.5) == ceil(2n/7) == (2n+6)/7 in integer division
	return (2*len(text) + 6) / 7
}

// EstimateMessage returns the token cost of a message: the sum of Estimate
// over its text blocks plus ToolCallOverhead per tool_use block. Tool result
// content is charged at its text rate; blocks the subsystem does not inspect
// cost nothing.
func EstimateMessage(msg *types.Message) int {
	if msg == nil {
		return 0
	}

	total := 0
	for _, block := range msg.Content {
		switch block.Type {
		case types.ContentTypeText:
			total += Estimate(block.Text)
		case types.ContentTypeToolUse:
			total += ToolCallOverhead
		case types.ContentTypeToolResult:
			total += Estimate(block.ToolContent)
		}
	}
	return total
}

// SumMessages returns the total estimated token cost of a message list.
func SumMessages(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessage(msg)
	}
	return total
}
