// Package storage provides optional persistence for task states, trimmed
// message histories, and compaction events. The core subsystem is
// in-memory; a Store lets hosts carry task continuity across process
// restarts.
package storage

import (
	"context"
	"time"

	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/types"
)

// Store defines the persistence interface for the compaction subsystem
type Store interface {
	// Task state operations
	SaveTaskStates(ctx context.Context, sessionID string, states []*task.State) error
	GetTaskStates(ctx context.Context, sessionID string) ([]*task.State, error)

	// Message operations. ReplaceMessages swaps the stored history for a
	// session with the given (typically trimmed) one.
	ReplaceMessages(ctx context.Context, sessionID string, messages []*types.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// Compaction operations
	SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error
	GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error)
}

// CompactionEvent records one finished compaction
type CompactionEvent struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	Strategy           string    `json:"strategy"`
	OriginalTokens     int       `json:"original_tokens"`
	PreservedTokens    int       `json:"preserved_tokens"`
	MessagesRemoved    int       `json:"messages_removed"`
	PreservationRatio  float64   `json:"preservation_ratio"`
	ContinuationPrompt string    `json:"continuation_prompt,omitempty"`
	PreservedTaskIDs   []string  `json:"preserved_task_ids"`
	DurationMs         int64     `json:"duration_ms"`
	CreatedAt          time.Time `json:"created_at"`
}
