package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/types"
)

// SQLStore implements Store on database/sql with the lib/pq driver, for
// hosts that already run on database/sql rather than pgx. Same tables as
// PostgresStore; the two are interchangeable.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store backed by an existing *sql.DB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// SaveTaskStates upserts the given task states for a session.
func (s *SQLStore) SaveTaskStates(ctx context.Context, sessionID string, states []*task.State) error {
	if len(states) == 0 {
		return nil
	}

	query := `
		INSERT INTO contextpg_task_states (id, session_id, data, priority, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
		    priority = EXCLUDED.priority,
		    last_updated = EXCLUDED.last_updated
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal task state %s: %w", state.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			state.ID, sessionID, data, state.Priority.String(), state.CreatedAt, state.LastUpdated); err != nil {
			return fmt.Errorf("failed to save task state: %w", err)
		}
	}

	return tx.Commit()
}

// GetTaskStates retrieves all task states for a session, oldest first.
func (s *SQLStore) GetTaskStates(ctx context.Context, sessionID string) ([]*task.State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data
		FROM contextpg_task_states
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task states: %w", err)
	}
	defer rows.Close()

	var states []*task.State
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan task state: %w", err)
		}

		var state task.State
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task state: %w", err)
		}
		state.RebuildSets()
		states = append(states, &state)
	}

	return states, rows.Err()
}

// ReplaceMessages swaps the stored history of a session with the given one.
func (s *SQLStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*types.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contextpg_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	query := `
		INSERT INTO contextpg_messages (id, session_id, position, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to marshal message content: %w", err)
		}
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			msg.ID, sessionID, i, string(msg.Role), content, metadata, msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	return tx.Commit()
}

// GetMessages retrieves the stored history of a session in order.
func (s *SQLStore) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, metadata, created_at
		FROM contextpg_messages
		WHERE session_id = $1
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var (
			msg          types.Message
			role         string
			contentJSON  []byte
			metadataJSON []byte
		)
		if err := rows.Scan(&msg.ID, &role, &contentJSON, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SessionID = sessionID
		msg.Role = types.Role(role)
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message content: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// SaveCompactionEvent records a compaction event. A missing ID is generated.
func (s *SQLStore) SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contextpg_compaction_events
			(id, session_id, strategy, original_tokens, preserved_tokens, messages_removed,
			 preservation_ratio, continuation_prompt, preserved_task_ids, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`,
		event.ID,
		event.SessionID,
		event.Strategy,
		event.OriginalTokens,
		event.PreservedTokens,
		event.MessagesRemoved,
		event.PreservationRatio,
		event.ContinuationPrompt,
		pq.Array(event.PreservedTaskIDs),
		event.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to save compaction event: %w", err)
	}
	return nil
}

// GetCompactionHistory retrieves compaction events for a session, newest first.
func (s *SQLStore) GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, strategy, original_tokens, preserved_tokens, messages_removed,
		       preservation_ratio, continuation_prompt, preserved_task_ids, duration_ms, created_at
		FROM contextpg_compaction_events
		WHERE session_id = $1
		ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get compaction history: %w", err)
	}
	defer rows.Close()

	var events []*CompactionEvent
	for rows.Next() {
		var (
			event  CompactionEvent
			prompt sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Strategy,
			&event.OriginalTokens,
			&event.PreservedTokens,
			&event.MessagesRemoved,
			&event.PreservationRatio,
			&prompt,
			pq.Array(&event.PreservedTaskIDs),
			&event.DurationMs,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		event.ContinuationPrompt = prompt.String
		events = append(events, &event)
	}

	return events, rows.Err()
}
