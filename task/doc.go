// Package task detects multi-step tasks in user messages and tracks their
// progress across a conversation.
//
// Detection runs an ordered table of text patterns (explicit request lists,
// numbered, lettered, and bulleted lists, sequential connectives) over user
// messages. A message that yields at least one subtask candidate becomes a
// tracked State with one SubTask per candidate.
//
// Progress tracking matches completion and working indicator phrases in
// assistant messages against subtask descriptions by keyword overlap.
// Subtask transitions are monotonic: once a subtask is terminal it never
// reverts, so replaying conversation history is safe.
//
// Basic usage:
//
//	tracker := task.NewTracker(sessionID)
//	progress := tracker.Observe(messages)
//	for _, t := range progress.NewTasks {
//		log.Printf("detected task with %d steps", len(t.SubTasks))
//	}
//
//	prompt := tracker.ContinuationPrompt(tracker.ActiveTasks())
//
// The continuation prompt quotes the original request and lists the
// remaining steps, so a session resuming after compaction knows what is
// still outstanding.
//
// Tracker is not safe for concurrent use; callers serialize access the same
// way they serialize the conversation.
package task
