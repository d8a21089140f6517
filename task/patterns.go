package task

import (
	"regexp"
	"strings"
)

// minRequestLength is the minimum user message length considered for task
// detection. Shorter messages cannot plausibly describe multi-step work.
const minRequestLength = 20

// pattern is one entry in the ordered task pattern table. Patterns are
// evaluated most specific first; each contributes candidate subtask
// descriptions which are then deduplicated across patterns.
//
// All of this is heuristic text matching. False positives (prose that looks
// like a list) and false negatives (lists in unusual formats) are accepted;
// new formats get a new table entry rather than new control flow.
type pattern struct {
	name   string
	detect func(text string) []string
}

var taskPatterns = []pattern{
	{name: "request-with-delimited-list", detect: detectRequestList},
	{name: "numbered-list", detect: detectNumberedList},
	{name: "lettered-list", detect: detectLetteredList},
	{name: "bulleted-list", detect: detectBulletedList},
	{name: "sequential-connectives", detect: detectConnectives},
}

// DetectSubTasks runs the pattern table over a user request and returns the
// deduplicated candidate subtask descriptions in detection order. Candidates
// are deduplicated by normalized text equality; the first occurrence wins.
// Texts shorter than minRequestLength yield no candidates.
func DetectSubTasks(text string) []string {
	if len(strings.TrimSpace(text)) < minRequestLength {
		return nil
	}

	var candidates []string
	seen := make(map[string]struct{})

	for _, p := range taskPatterns {
		for _, candidate := range p.detect(text) {
			normalized := normalizeCandidate(candidate)
			if len(normalized) < 3 {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			candidates = append(candidates, strings.TrimSpace(strings.Trim(candidate, " \t.,;:!")))
		}
	}

	return candidates
}

var (
	requestLeadRe = regexp.MustCompile(`(?i)\b(?:help me(?: to| with)?|i need(?: you)?(?: to)?|can you(?: please)?|could you(?: please)?|please)\b[:,]?\s*`)

	numberedMarkerRe = regexp.MustCompile(`(?m)(?:^|\s)\d{1,2}[.)]\s+`)
	letteredMarkerRe = regexp.MustCompile(`(?mi)(?:^|[\s:])[a-z][.)]\s+`)
	bulletLineRe     = regexp.MustCompile(`(?m)^\s*[-*•]\s+(.+)$`)
	connectiveRe     = regexp.MustCompile(`(?i)\b(?:first|then|next|after that|finally|also)\b[,:]?\s+`)

	candidateEndRe = regexp.MustCompile(`[.;\n]`)
	clauseEndRe    = regexp.MustCompile(`[.;,\n]`)
)

// detectRequestList handles explicit help/need requests followed by a
// delimited list: "please do A, B, and C". The remainder after the request
// lead must split into at least two items.
func detectRequestList(text string) []string {
	loc := requestLeadRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	remainder := text[loc[1]:]
	// Stop at the end of the sentence; later sentences are matched on
	// their own merits.
	if end := candidateEndRe.FindStringIndex(remainder); end != nil {
		remainder = remainder[:end[0]]
	}

	items := splitDelimited(remainder)
	if len(items) < 2 {
		return nil
	}
	return items
}

// detectNumberedList extracts "1. foo 2. bar" items, inline or one per line.
func detectNumberedList(text string) []string {
	return extractMarkedItems(text, numberedMarkerRe)
}

// detectLetteredList extracts "a) foo b) bar" items.
func detectLetteredList(text string) []string {
	return extractMarkedItems(text, letteredMarkerRe)
}

// detectBulletedList extracts "- foo" / "* foo" lines.
func detectBulletedList(text string) []string {
	matches := bulletLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) < 2 {
		return nil
	}
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		items = append(items, m[1])
	}
	return items
}

// detectConnectives extracts the clauses following sequential connectives
// ("first ..., then ..., finally ..."). A single connective is too weak a
// signal on its own, so at least two clauses are required.
func detectConnectives(text string) []string {
	locs := connectiveRe.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return nil
	}

	items := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		clause := text[loc[1]:end]
		if stop := clauseEndRe.FindStringIndex(clause); stop != nil {
			clause = clause[:stop[0]]
		}
		if strings.TrimSpace(clause) != "" {
			items = append(items, clause)
		}
	}
	if len(items) < 2 {
		return nil
	}
	return items
}

// extractMarkedItems slices the text between successive list markers.
// Items end at the next marker or at the end of the line. At least two
// markers are required for the pattern to fire.
func extractMarkedItems(text string, marker *regexp.Regexp) []string {
	locs := marker.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return nil
	}

	items := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		item := text[loc[1]:end]
		if nl := strings.IndexByte(item, '\n'); nl >= 0 {
			item = item[:nl]
		}
		if strings.TrimSpace(item) != "" {
			items = append(items, item)
		}
	}
	return items
}

// splitDelimited splits a clause on commas and semicolons, stripping leading
// conjunctions from the fragments. Clauses without delimiters are returned
// as a single item.
func splitDelimited(clause string) []string {
	raw := strings.FieldsFunc(clause, func(r rune) bool {
		return r == ',' || r == ';'
	})

	items := make([]string, 0, len(raw))
	for _, fragment := range raw {
		fragment = strings.TrimSpace(fragment)
		for _, lead := range []string{"and then ", "and ", "then ", "also "} {
			if len(fragment) > len(lead) && strings.EqualFold(fragment[:len(lead)], lead) {
				fragment = fragment[len(lead):]
				break
			}
		}
		if fragment != "" {
			items = append(items, fragment)
		}
	}
	return items
}

func normalizeCandidate(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(s, " \t.,;:!?")))
}

// Urgency and importance vocabularies used for priority assignment.
var (
	urgencyWords    = []string{"urgent", "asap", "immediately", "critical", "emergency"}
	importanceWords = []string{"important", "priority", "need", "must", "should"}
)

// priorityFor assigns a preservation priority to a new task from its request
// text and subtask count.
func priorityFor(text string, subtaskCount int) Priority {
	lower := strings.ToLower(text)

	for _, word := range urgencyWords {
		if strings.Contains(lower, word) {
			return PriorityCritical
		}
	}
	for _, word := range importanceWords {
		if strings.Contains(lower, word) {
			return PriorityHigh
		}
	}
	if subtaskCount > 5 {
		return PriorityHigh
	}
	if subtaskCount > 2 {
		return PriorityMedium
	}
	return PriorityLow
}
