package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/types"
)

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction. Store calls made
// with the returned context run inside that transaction, so a host can
// persist trimmed history and task state atomically with its own writes.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements Store using PostgreSQL with pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// SaveTaskStates upserts the given task states for a session. The full
// State is stored as JSONB; the id sets are rebuilt on load from the
// per-subtask statuses.
func (s *PostgresStore) SaveTaskStates(ctx context.Context, sessionID string, states []*task.State) error {
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

	batch := &pgx.Batch{}
	for _, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal task state %s: %w", state.ID, err)
		}
		batch.Queue(query, state.ID, sessionID, data, state.Priority.String(), state.CreatedAt, state.LastUpdated)
	}

	results := s.getQuerier(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for range states {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save task state: %w", err)
		}
	}
	return nil
}

// GetTaskStates retrieves all task states for a session, oldest first.
func (s *PostgresStore) GetTaskStates(ctx context.Context, sessionID string) ([]*task.State, error) {
	query := `
		SELECT data
		FROM contextpg_task_states
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
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
func (s *PostgresStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*types.Message) error {
	q := s.getQuerier(ctx)

	if _, err := q.Exec(ctx, `DELETE FROM contextpg_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	query := `
		INSERT INTO contextpg_messages (id, session_id, position, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	batch := &pgx.Batch{}
	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to marshal message content: %w", err)
		}
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		batch.Queue(query, msg.ID, sessionID, i, string(msg.Role), content, metadata, msg.CreatedAt)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for range messages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	return nil
}

// GetMessages retrieves the stored history of a session in order.
func (s *PostgresStore) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	query := `
		SELECT id, role, content, metadata, created_at
		FROM contextpg_messages
		WHERE session_id = $1
		ORDER BY position ASC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
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
func (s *PostgresStore) SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO contextpg_compaction_events
			(id, session_id, strategy, original_tokens, preserved_tokens, messages_removed,
			 preservation_ratio, continuation_prompt, preserved_task_ids, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`

	_, err := s.getQuerier(ctx).Exec(ctx, query,
		event.ID,
		event.SessionID,
		event.Strategy,
		event.OriginalTokens,
		event.PreservedTokens,
		event.MessagesRemoved,
		event.PreservationRatio,
		event.ContinuationPrompt,
		event.PreservedTaskIDs,
		event.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to save compaction event: %w", err)
	}
	return nil
}

// GetCompactionHistory retrieves compaction events for a session, newest first.
func (s *PostgresStore) GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error) {
	query := `
		SELECT id, session_id, strategy, original_tokens, preserved_tokens, messages_removed,
		       preservation_ratio, continuation_prompt, preserved_task_ids, duration_ms, created_at
		FROM contextpg_compaction_events
		WHERE session_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get compaction history: %w", err)
	}
	defer rows.Close()

	var events []*CompactionEvent
	for rows.Next() {
		var (
			event  CompactionEvent
			prompt *string
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
			&event.PreservedTaskIDs,
			&event.DurationMs,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		if prompt != nil {
			event.ContinuationPrompt = *prompt
		}
		events = append(events, &event)
	}

	return events, rows.Err()
}
