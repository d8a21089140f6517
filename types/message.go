package types

import (
	"strings"
	"time"
)

// Role represents the message role
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"
)

// Message represents a single conversation message as supplied by the
// conversation store. The context subsystem treats messages as read-only:
// it never mutates, reorders, or fabricates them.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Text returns the concatenated text of all text blocks in the message.
// Messages without text blocks return the empty string.
func (m *Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if block.Type == ContentTypeText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolInvocation reports whether the message contains at least one
// tool_use block.
func (m *Message) HasToolInvocation() bool {
	for _, block := range m.Content {
		if block.Type == ContentTypeToolUse {
			return true
		}
	}
	return false
}

// HasToolResult reports whether the message contains at least one
// tool_result block.
func (m *Message) HasToolResult() bool {
	for _, block := range m.Content {
		if block.Type == ContentTypeToolResult {
			return true
		}
	}
	return false
}

// ContentType represents the type of content block
type ContentType string

const (
	// ContentTypeText represents text content
	ContentTypeText ContentType = "text"

	// ContentTypeToolUse represents a tool invocation block
	ContentTypeToolUse ContentType = "tool_use"

	// ContentTypeToolResult represents a tool result block
	ContentTypeToolResult ContentType = "tool_result"

	// ContentTypeOther represents any block the subsystem does not inspect
	// (images, documents, thinking, provider extensions).
	ContentTypeOther ContentType = "other"
)

// ContentBlock represents a piece of content in a message
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text content
	Text string `json:"text,omitempty"`

	// Tool use content
	ToolUseID string         `json:"id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	ToolInput map[string]any `json:"input,omitempty"`

	// Tool result content
	ToolResultID string `json:"tool_use_id,omitempty"`
	ToolContent  string `json:"content,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

// NewTextMessage builds a message with a single text block. Convenience
// constructor for hosts and tests.
func NewTextMessage(id string, role Role, text string, createdAt time.Time) *Message {
	return &Message{
		ID:        id,
		Role:      role,
		Content:   []ContentBlock{{Type: ContentTypeText, Text: text}},
		CreatedAt: createdAt,
	}
}
