// Package contextpg is the context compaction and task-continuity layer of
// a conversational agent backend: it decides, turn by turn, which prior
// messages to keep within a token budget, which to drop, and how to remind
// the model of unfinished work after trimming.
//
// # Overview
//
// A Manager is scoped to one session. Each CompactContext call first
// advances the session's task state (detecting multi-step tasks in user
// messages and reading progress from assistant messages), then classifies
// every message, and finally selects a surviving subset under one of two
// strategies:
//
//   - critical-first-preservation: used when any Preserve* option is set.
//     Mandatory messages (task-related, errors, tool outputs, or very high
//     scoring) are kept first, the rest of the budget fills by score, and
//     the trailing messages are force-included as a recency guarantee.
//   - recent-with-importance: otherwise. Walks newest to oldest keeping
//     recent and high-scoring messages within the budget.
//
// The trimmed history is always a chronologically ordered subsequence of
// the input; nothing is reordered or fabricated.
//
// # Basic usage
//
//	mgr, err := contextpg.New(contextpg.Config{SessionID: sessionID})
//	if err != nil {
//	    return err
//	}
//
//	result, err := mgr.CompactContext(ctx, messages, contextpg.Options{
//	    MaxTokens:               8000,
//	    PreserveTaskContext:     true,
//	    PreserveErrors:          true,
//	    TaskContinuationPrompts: true,
//	})
//	if err != nil {
//	    return err
//	}
//
//	history := result.TrimmedMessages
//	if result.ContinuationPrompt != "" {
//	    // Inject as an additional user message on the next turn.
//	}
//
// # Persistence
//
// The subsystem is in-memory by default. Pass WithStore to persist task
// states and compaction events across process restarts:
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	store := storage.NewPostgresStore(pool)
//	mgr, _ := contextpg.New(cfg, contextpg.WithStore(store))
//
// Persistence is best effort; a storage failure never fails a compaction.
//
// # Thread safety
//
// A Manager owns mutable per-session task state and is not safe for
// concurrent use. Serialize calls per session: at most one CompactContext
// in flight per Manager at a time. Separate sessions use separate Manager
// instances and never interfere.
package contextpg
