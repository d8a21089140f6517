package task

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contextpg/contextpg/tokens"
	"github.com/contextpg/contextpg/types"
)

// maxPromptQuoteWords caps how much of the original request is quoted in a
// continuation prompt.
const maxPromptQuoteWords = 10

// Tracker maintains the task states of one session. It detects multi-step
// tasks in user messages, tracks per-subtask progress from assistant
// messages, and produces continuation prompts for work that survives a
// compaction.
//
// Tracker is not safe for concurrent use. The conversation it observes is
// inherently sequential; the caller serializes access the same way it
// serializes the conversation itself.
type Tracker struct {
	sessionID string
	tasks     []*State
	byOrigin  map[string]*State
	now       func() time.Time
}

// NewTracker creates a Tracker for a session.
func NewTracker(sessionID string) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		byOrigin:  make(map[string]*State),
		now:       time.Now,
	}
}

// SubTaskEvent records a subtask status change observed during a single
// Observe call.
type SubTaskEvent struct {
	Task *State
	Sub  *SubTask
}

// Progress summarizes what one Observe call changed.
type Progress struct {
	NewTasks  []*State
	Started   []SubTaskEvent
	Completed []SubTaskEvent
}

// Observe processes a batch of conversation messages in order. User messages
// run task detection; assistant messages update progress on tracked tasks.
//
// Observe is idempotent over message history: a user message that already
// produced a task is keyed by its ID and never produces a second one, so the
// caller may replay overlapping windows of the conversation freely.
func (tr *Tracker) Observe(messages []*types.Message) *Progress {
	progress := &Progress{}

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case types.RoleUser:
			if state := tr.detect(msg); state != nil {
				progress.NewTasks = append(progress.NewTasks, state)
			}
		case types.RoleAssistant:
			tr.applyProgress(msg, progress)
		}
	}

	return progress
}

// Tasks returns all tracked tasks in detection order, active or not.
func (tr *Tracker) Tasks() []*State {
	return tr.tasks
}

// ActiveTasks returns the tasks that still have non-terminal subtasks.
func (tr *Tracker) ActiveTasks() []*State {
	var active []*State
	for _, t := range tr.tasks {
		if t.Active() {
			active = append(active, t)
		}
	}
	return active
}

// Task returns the tracked task with the given ID, or nil.
func (tr *Tracker) Task(id string) *State {
	for _, t := range tr.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// MarkSubTask applies a host-reported status change, for outcomes the
// conversation text does not carry (failed, skipped, or an explicit
// completion signal from tool execution). Transitions are monotonic; marking
// an already terminal subtask is a no-op and returns false.
func (tr *Tracker) MarkSubTask(taskID, subID string, status Status) bool {
	t := tr.Task(taskID)
	if t == nil {
		return false
	}

	var moved bool
	switch status {
	case StatusInProgress:
		moved = t.moveToInProgress(subID)
	case StatusCompleted, StatusFailed, StatusSkipped:
		moved = t.moveToTerminal(subID, status)
	default:
		return false
	}
	if moved {
		t.LastUpdated = tr.now()
	}
	return moved
}

// ContinuationPrompt renders a resumption prompt for the given tasks. Each
// task with remaining subtasks contributes a paragraph quoting the original
// request and listing the outstanding steps. Returns "" when nothing
// remains.
func (tr *Tracker) ContinuationPrompt(states []*State) string {
	var paragraphs []string

	for _, t := range states {
		remaining := t.Remaining()
		if len(remaining) == 0 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Continuing work on: %q\n", truncateWords(t.OriginalRequest, maxPromptQuoteWords))
		b.WriteString("Remaining steps:\n")
		for i, sub := range remaining {
			fmt.Fprintf(&b, "%d. %s", i+1, sub.Description)
			if sub.Status == StatusInProgress {
				b.WriteString(" (in progress)")
			}
			if i+1 < len(remaining) {
				b.WriteByte('\n')
			}
		}
		paragraphs = append(paragraphs, b.String())
	}

	return strings.Join(paragraphs, "\n\n")
}

// detect runs the pattern library over a user message and registers a new
// task when detection yields any subtask candidates. List items that
// deduplicate down to a single candidate still form a task.
func (tr *Tracker) detect(msg *types.Message) *State {
	origin := originKey(msg)
	if _, seen := tr.byOrigin[origin]; seen {
		return nil
	}

	text := msg.Text()
	candidates := DetectSubTasks(text)
	if len(candidates) == 0 {
		return nil
	}

	now := tr.now()
	state := &State{
		ID:              uuid.New().String(),
		OriginMessageID: origin,
		OriginalRequest: text,
		Pending:         make(map[string]struct{}),
		InProgress:      make(map[string]struct{}),
		Completed:       make(map[string]struct{}),
		EstimatedTokens: tokens.Estimate(text),
		Priority:        priorityFor(text, len(candidates)),
		CreatedAt:       now,
		LastUpdated:     now,
	}

	for _, desc := range candidates {
		sub := &SubTask{
			ID:              uuid.New().String(),
			Description:     desc,
			Status:          StatusPending,
			EstimatedTokens: tokens.Estimate(desc),
		}
		if msg.ID != "" {
			sub.MessageIDs = append(sub.MessageIDs, msg.ID)
		}
		state.SubTasks = append(state.SubTasks, sub)
		state.Pending[sub.ID] = struct{}{}
	}

	tr.tasks = append(tr.tasks, state)
	tr.byOrigin[origin] = state
	return state
}

// applyProgress matches indicator phrases in an assistant message against
// the subtasks of active tasks. Completion indicators win over working
// indicators for the same subtask, so "finished analyzing the logs" marks
// the analysis done rather than in progress.
func (tr *Tracker) applyProgress(msg *types.Message, progress *Progress) {
	active := tr.ActiveTasks()
	if len(active) == 0 {
		return
	}

	text := msg.Text()
	now := tr.now()

	completionPhrases := extractIndicatorPhrases(text, completionRes)
	workingPhrases := extractIndicatorPhrases(text, workingRes)

	for _, t := range active {
		for _, phrase := range completionPhrases {
			sub := bestMatch(t.Remaining(), phrase)
			if sub == nil {
				continue
			}
			if t.moveToTerminal(sub.ID, StatusCompleted) {
				if msg.ID != "" {
					sub.MessageIDs = append(sub.MessageIDs, msg.ID)
				}
				progress.Completed = append(progress.Completed, SubTaskEvent{Task: t, Sub: sub})
			}
		}

		for _, phrase := range workingPhrases {
			sub := bestMatch(t.Remaining(), phrase)
			if sub == nil || sub.Status != StatusPending {
				continue
			}
			if t.moveToInProgress(sub.ID) {
				if msg.ID != "" {
					sub.MessageIDs = append(sub.MessageIDs, msg.ID)
				}
				progress.Started = append(progress.Started, SubTaskEvent{Task: t, Sub: sub})
			}
		}
	}

	// Every assistant turn refreshes recency for the session's tasks, matched
	// or not, so long-running work does not age out of preservation.
	for _, t := range tr.tasks {
		t.LastUpdated = now
	}
}

// originKey identifies the user message a task came from. Messages without an
// ID fall back to a content hash, which keeps idempotence for hosts that do
// not assign message IDs.
func originKey(msg *types.Message) string {
	if msg.ID != "" {
		return msg.ID
	}
	h := sha256.Sum256([]byte(msg.Text()))
	return fmt.Sprintf("content:%x", h[:12])
}

func truncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:limit], " ") + "..."
}
