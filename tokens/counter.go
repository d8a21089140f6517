package tokens

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/contextpg/contextpg/types"
)

// Counter provides accurate token counts via the Claude token counting API,
// with the deterministic estimator as a silent fallback when the API is
// unavailable. Counts are cached by content hash.
//
// Counter exists for reporting and telemetry only. Compaction decisions
// always use Estimate/EstimateMessage so that budget comparisons stay
// internally consistent.
type Counter struct {
	client *anthropic.Client
	model  string

	mu       sync.Mutex
	cache    map[string]int
	fallback bool // set after the first API failure
}

// NewCounter creates a Counter for the given model.
func NewCounter(client *anthropic.Client, model string) *Counter {
	return &Counter{
		client: client,
		model:  model,
		cache:  make(map[string]int),
	}
}

// Count returns the token count for a message list. The Claude API is used
// when available; on any failure the estimator result is returned and the
// API is not retried for the lifetime of the Counter.
func (c *Counter) Count(ctx context.Context, messages []*types.Message) int {
	if len(messages) == 0 {
		return 0
	}

	if c.client == nil || c.usingFallback() {
		return SumMessages(messages)
	}

	key := c.cacheKey(messages)
	c.mu.Lock()
	if count, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return count
	}
	c.mu.Unlock()

	params := c.convertMessages(messages)
	if len(params) == 0 {
		return SumMessages(messages)
	}

	resp, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(c.model),
		Messages: params,
	})
	if err != nil {
		c.mu.Lock()
		c.fallback = true
		c.mu.Unlock()
		return SumMessages(messages)
	}

	count := int(resp.InputTokens)
	c.mu.Lock()
	c.cache[key] = count
	c.mu.Unlock()
	return count
}

func (c *Counter) usingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

// convertMessages maps the conversation model onto Anthropic message params.
// Blocks the counting API cannot price (ContentTypeOther) are skipped.
func (c *Counter) convertMessages(messages []*types.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		role := anthropic.MessageParamRoleUser
		if msg.Role == types.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		content := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case types.ContentTypeText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case types.ContentTypeToolUse:
				input := block.ToolInput
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolName))
			case types.ContentTypeToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolResultID, block.ToolContent, block.IsError))
			}
		}

		if len(content) > 0 {
			result = append(result, anthropic.MessageParam{
				Role:    role,
				Content: content,
			})
		}
	}

	return result
}

// cacheKey hashes message IDs and content lengths. Message content is
// immutable from this subsystem's point of view, so IDs plus lengths are a
// sufficient identity.
func (c *Counter) cacheKey(messages []*types.Message) string {
	h := sha256.New()
	for _, msg := range messages {
		fmt.Fprintf(h, "%s:%s:%d;", msg.ID, msg.Role, len(msg.Content))
		for _, block := range msg.Content {
			fmt.Fprintf(h, "%s:%d:%d;", block.Type, len(block.Text), len(block.ToolContent))
		}
	}
	return fmt.Sprintf("%s:%x", c.model, h.Sum(nil)[:12])
}
