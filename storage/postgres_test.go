package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/contextpg/contextpg/internal/testutil"
	"github.com/contextpg/contextpg/storage"
	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/types"
)

func TestPostgresStoreTaskStates(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("CleanTables() error = %v", err)
	}

	store := storage.NewPostgresStore(db.Pool)
	sessionID := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	state := &task.State{
		ID:              uuid.New().String(),
		OriginMessageID: "u1",
		OriginalRequest: "Please help me: 1. add tests 2. fix the bug",
		SubTasks: []*task.SubTask{
			{ID: uuid.New().String(), Description: "add tests", Status: task.StatusCompleted},
			{ID: uuid.New().String(), Description: "fix the bug", Status: task.StatusPending},
		},
		EstimatedTokens: 13,
		Priority:        task.PriorityLow,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	state.RebuildSets()

	if err := store.SaveTaskStates(ctx, sessionID, []*task.State{state}); err != nil {
		t.Fatalf("SaveTaskStates() error = %v", err)
	}

	// Saving again must update, not duplicate.
	state.SubTasks[1].Status = task.StatusInProgress
	state.RebuildSets()
	if err := store.SaveTaskStates(ctx, sessionID, []*task.State{state}); err != nil {
		t.Fatalf("SaveTaskStates() second call error = %v", err)
	}

	loaded, err := store.GetTaskStates(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetTaskStates() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 task state, got %d", len(loaded))
	}

	got := loaded[0]
	if got.ID != state.ID {
		t.Errorf("ID = %s, want %s", got.ID, state.ID)
	}
	if len(got.SubTasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(got.SubTasks))
	}
	if got.SubTasks[1].Status != task.StatusInProgress {
		t.Errorf("subtask status = %s, want %s", got.SubTasks[1].Status, task.StatusInProgress)
	}
	if _, ok := got.Completed[state.SubTasks[0].ID]; !ok {
		t.Error("completed set not rebuilt after load")
	}
	if _, ok := got.InProgress[state.SubTasks[1].ID]; !ok {
		t.Error("in-progress set not rebuilt after load")
	}
	if !got.Active() {
		t.Error("loaded task should still be active")
	}
}

func TestPostgresStoreMessages(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("CleanTables() error = %v", err)
	}

	store := storage.NewPostgresStore(db.Pool)
	// Session IDs are host-assigned and not necessarily UUIDs.
	sessionID := "cli-session-42"
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := []*types.Message{
		types.NewTextMessage("m1", types.RoleUser, "please fix the login bug", now),
		types.NewTextMessage("m2", types.RoleAssistant, "looking into it now", now.Add(time.Minute)),
		types.NewTextMessage("m3", types.RoleAssistant, "done, the fix is deployed", now.Add(2*time.Minute)),
	}
	if err := store.ReplaceMessages(ctx, sessionID, first); err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	// A second replace models persisting the trimmed history.
	trimmed := []*types.Message{first[0], first[2]}
	if err := store.ReplaceMessages(ctx, sessionID, trimmed); err != nil {
		t.Fatalf("ReplaceMessages() second call error = %v", err)
	}

	loaded, err := store.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].ID != "m1" || loaded[1].ID != "m3" {
		t.Errorf("message order = [%s %s], want [m1 m3]", loaded[0].ID, loaded[1].ID)
	}
	if loaded[1].Text() != "done, the fix is deployed" {
		t.Errorf("message text = %q", loaded[1].Text())
	}
	if loaded[0].Role != types.RoleUser {
		t.Errorf("message role = %s, want %s", loaded[0].Role, types.RoleUser)
	}
}

func TestPostgresStoreCompactionEvents(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("CleanTables() error = %v", err)
	}

	store := storage.NewPostgresStore(db.Pool)
	sessionID := uuid.New().String()

	event := &storage.CompactionEvent{
		SessionID:          sessionID,
		Strategy:           "critical-first-preservation",
		OriginalTokens:     10000,
		PreservedTokens:    1900,
		MessagesRemoved:    38,
		PreservationRatio:  0.19,
		ContinuationPrompt: "Continuing work on: \"fix the login bug\"",
		PreservedTaskIDs:   []string{uuid.New().String()},
		DurationMs:         12,
	}
	if err := store.SaveCompactionEvent(ctx, event); err != nil {
		t.Fatalf("SaveCompactionEvent() error = %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected generated event ID")
	}

	history, err := store.GetCompactionHistory(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetCompactionHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 event, got %d", len(history))
	}

	got := history[0]
	if got.Strategy != event.Strategy {
		t.Errorf("Strategy = %s, want %s", got.Strategy, event.Strategy)
	}
	if got.PreservedTokens != 1900 || got.OriginalTokens != 10000 {
		t.Errorf("tokens = %d/%d, want 1900/10000", got.PreservedTokens, got.OriginalTokens)
	}
	if len(got.PreservedTaskIDs) != 1 || got.PreservedTaskIDs[0] != event.PreservedTaskIDs[0] {
		t.Errorf("PreservedTaskIDs = %v, want %v", got.PreservedTaskIDs, event.PreservedTaskIDs)
	}
	if got.ContinuationPrompt != event.ContinuationPrompt {
		t.Errorf("ContinuationPrompt = %q, want %q", got.ContinuationPrompt, event.ContinuationPrompt)
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	db, err := openSQLDB(t)
	if err != nil {
		t.Fatalf("failed to open database/sql connection: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	store := storage.NewSQLStore(db)
	sessionID := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	messages := []*types.Message{
		types.NewTextMessage("m1", types.RoleUser, "please update the docs", now),
	}
	if err := store.ReplaceMessages(ctx, sessionID, messages); err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	loaded, err := store.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].Text() != "please update the docs" {
		t.Errorf("unexpected messages: %+v", loaded)
	}

	event := &storage.CompactionEvent{
		SessionID:         sessionID,
		Strategy:          "recent-with-importance",
		OriginalTokens:    500,
		PreservedTokens:   200,
		MessagesRemoved:   3,
		PreservationRatio: 0.4,
		PreservedTaskIDs:  []string{uuid.New().String(), uuid.New().String()},
	}
	if err := store.SaveCompactionEvent(ctx, event); err != nil {
		t.Fatalf("SaveCompactionEvent() error = %v", err)
	}

	history, err := store.GetCompactionHistory(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetCompactionHistory() error = %v", err)
	}
	if len(history) != 1 || len(history[0].PreservedTaskIDs) != 2 {
		t.Errorf("unexpected history: %+v", history)
	}
}
