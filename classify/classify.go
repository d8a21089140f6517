// Package classify scores individual conversation messages for preservation
// during context compaction.
//
// Classify is a pure function of the message, the currently active tasks,
// and the evaluation time. It attaches an Importance level from a fixed
// decision table plus a continuous preservation score used for budgeted
// selection. Neither the message nor the tasks are mutated.
package classify

import (
	"regexp"
	"strings"
	"time"

	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/types"
)

// Importance is a closed, ordered set of message importance levels. Each
// level carries a fixed weight used as the base of the preservation score.
type Importance int

const (
	ImportanceMinimal Importance = iota
	ImportanceLow
	ImportanceMedium
	ImportanceHigh
	ImportanceCritical
)

// Weight returns the numeric weight of the level.
func (i Importance) Weight() float64 {
	switch i {
	case ImportanceCritical:
		return 0.95
	case ImportanceHigh:
		return 0.8
	case ImportanceMedium:
		return 0.6
	case ImportanceLow:
		return 0.3
	default:
		return 0.1
	}
}

// String returns the string representation of the level.
func (i Importance) String() string {
	switch i {
	case ImportanceCritical:
		return "critical"
	case ImportanceHigh:
		return "high"
	case ImportanceMedium:
		return "medium"
	case ImportanceLow:
		return "low"
	default:
		return "minimal"
	}
}

// Classification is the derived importance profile of one message. It is
// computed on demand and never persisted.
type Classification struct {
	Importance        Importance
	IsTaskRelated     bool
	IsToolOutput      bool
	IsError           bool
	IsUserRequest     bool
	ContainsResults   bool
	RelatedTaskIDs    []string
	PreserveReason    string
	PreservationScore float64
}

// Classification thresholds. Tunable heuristics, not calibrated values.
const (
	// minTaskDefinitionLength is the minimum text length for a user message
	// to count as defining new tasks.
	minTaskDefinitionLength = 50

	// minSharedTaskWords is the shared-significant-word threshold for task
	// relatedness.
	minSharedTaskWords = 2

	// minTaskWordOverlap is the alternative relatedness threshold: the share
	// of the message's significant words that also occur in an active task's
	// request.
	minTaskWordOverlap = 0.3

	// recentWindow is the age under which a message counts as recent
	// conversation context.
	recentWindow = 30 * time.Minute

	// recencyBonusWindow is the age over which the recency score bonus decays
	// to zero.
	recencyBonusWindow = time.Hour

	// noiseLength is the text length under which a message is noise.
	noiseLength = 10
)

var errorVocab = []string{
	"error:", "failed", "exception", "❌", "cannot", "unable to",
	"not found", "invalid", "compilation error", "runtime error",
	"syntax error",
}

var resultsVocab = []string{
	"here is", "here are", "result", "output", "generated", "created",
	"implemented", "completed", "finished", "done", "✅", "analysis",
	"summary", "conclusion", "recommendation",
}

var ackPhrases = map[string]struct{}{
	"ok": {}, "okay": {}, "yes": {}, "no": {}, "thanks": {},
	"thank you": {}, "hi": {}, "hello": {}, "bye": {}, "goodbye": {},
	"sure": {}, "got it": {}, "sounds good": {}, "great": {}, "cool": {},
	"yep": {}, "nope": {}, "k": {}, "ty": {}, "thx": {},
}

var imperativeLeadRe = regexp.MustCompile(`(?i)^\s*(?:please|can you|could you|help me|i need|add|fix|update|create|implement|refactor|write|build|make|deploy)\b`)

// Classify evaluates one message against the active tasks at the given time.
// The decision table is evaluated top to bottom, first match wins. A zero
// CreatedAt counts as "now"; a message with no text classifies as noise.
func Classify(msg *types.Message, activeTasks []*task.State, now time.Time) *Classification {
	c := &Classification{}
	if msg == nil {
		c.Importance = ImportanceMinimal
		c.PreserveReason = "empty message"
		c.PreservationScore = clamp(c.Importance.Weight())
		return c
	}

	text := msg.Text()
	lower := strings.ToLower(text)
	age := messageAge(msg, now)

	c.IsError = containsAny(lower, errorVocab)
	c.ContainsResults = containsAny(lower, resultsVocab)
	c.IsToolOutput = msg.HasToolInvocation() || msg.HasToolResult()
	c.IsUserRequest = msg.Role == types.RoleUser && definesTasks(text)
	c.IsTaskRelated, c.RelatedTaskIDs = relatedTasks(lower, activeTasks)

	switch {
	case c.IsError:
		c.Importance = ImportanceCritical
		c.PreserveReason = "contains error information"
	case c.IsUserRequest && len(text) > minTaskDefinitionLength:
		c.Importance = ImportanceCritical
		c.PreserveReason = "defines new tasks"
	case c.IsToolOutput && c.ContainsResults:
		c.Importance = ImportanceHigh
		c.PreserveReason = "tool output with results"
	case c.IsTaskRelated && msg.Role == types.RoleUser:
		c.Importance = ImportanceHigh
		c.PreserveReason = "user message related to active task"
	case c.IsTaskRelated:
		c.Importance = ImportanceMedium
		c.PreserveReason = "related to active task"
	case c.ContainsResults:
		c.Importance = ImportanceMedium
		c.PreserveReason = "contains results"
	case age < recentWindow:
		c.Importance = ImportanceMedium
		c.PreserveReason = "recent conversation context"
	case isNoise(text):
		c.Importance = ImportanceMinimal
		c.PreserveReason = "conversational noise"
	default:
		c.Importance = ImportanceLow
		c.PreserveReason = "general conversation"
	}

	c.PreservationScore = clamp(score(c, activeTasks, age))
	return c
}

// score derives the continuous preservation score from the classification
// flags. The base is the importance weight; flags add fixed boosts and
// recency adds a linearly decaying bonus.
func score(c *Classification, activeTasks []*task.State, age time.Duration) float64 {
	s := c.Importance.Weight()

	if c.IsTaskRelated {
		s += 0.2
	}
	if c.IsToolOutput {
		s += 0.15
	}
	if c.IsError {
		s += 0.25
	}

	if age < recencyBonusWindow {
		s += 0.1 * (1 - float64(age)/float64(recencyBonusWindow))
	}

	if relatedToUrgent(c.RelatedTaskIDs, activeTasks) {
		s += 0.2
	}

	return s
}

func relatedToUrgent(ids []string, activeTasks []*task.State) bool {
	for _, id := range ids {
		for _, t := range activeTasks {
			if t.ID == id && t.Priority.IsUrgent() {
				return true
			}
		}
	}
	return false
}

// relatedTasks reports whether the message text overlaps an active task's
// original request, and which tasks it overlaps. A message is related when
// it shares at least minSharedTaskWords significant words with the request,
// or when at least minTaskWordOverlap of its own significant words occur in
// the request.
func relatedTasks(lower string, activeTasks []*task.State) (bool, []string) {
	msgWords := significantWordSet(lower)
	if len(msgWords) == 0 {
		return false, nil
	}

	var ids []string
	for _, t := range activeTasks {
		taskWords := significantWordSet(strings.ToLower(t.OriginalRequest))

		shared := 0
		for w := range msgWords {
			if _, ok := taskWords[w]; ok {
				shared++
			}
		}

		overlap := float64(shared) / float64(len(msgWords))
		if shared >= minSharedTaskWords || overlap >= minTaskWordOverlap {
			ids = append(ids, t.ID)
		}
	}
	return len(ids) > 0, ids
}

var wordRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func significantWordSet(lower string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(lower, -1) {
		if len(w) > 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

// definesTasks reports whether a user message looks like a task definition:
// a detectable multi-step request or imperative phrasing.
func definesTasks(text string) bool {
	if len(task.DetectSubTasks(text)) > 0 {
		return true
	}
	return imperativeLeadRe.MatchString(text)
}

func isNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < noiseLength {
		return true
	}
	normalized := strings.ToLower(strings.Trim(trimmed, " .,!?"))
	_, ok := ackPhrases[normalized]
	return ok
}

func messageAge(msg *types.Message, now time.Time) time.Duration {
	if msg.CreatedAt.IsZero() {
		return 0
	}
	age := now.Sub(msg.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

func containsAny(lower string, vocab []string) bool {
	for _, term := range vocab {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
