package task

import (
	"regexp"
	"strings"
)

// Indicator extraction mirrors the pattern table: an ordered set of
// declarative matchers over assistant text. Completion indicators mark
// subtasks done; working indicators move pending subtasks to in_progress.

var (
	completionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:completed|finished|done(?: with)?|analyzed|implemented|created|generated)\b[:\s]*`),
		regexp.MustCompile(`✅\s*`),
		regexp.MustCompile(`(?i)\bhere(?:'s| is)\b\s*`),
	}

	workingRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:working on|analyzing|implementing|creating|generating)\b\s*`),
		regexp.MustCompile(`(?i)\b(?:i'll|i will|let me)\b\s*`),
	}

	segmentEndRe = regexp.MustCompile(`[.!?\n]`)
	phraseSepRe  = regexp.MustCompile(`(?i)\s*(?:,|;|\band\b)\s*`)
)

// extractIndicatorPhrases returns the phrases following any of the given
// indicator expressions. The segment after each indicator runs to the end of
// the sentence and is additionally split on conjunctions, so "completed X
// and Y" yields both the whole segment and the individual fragments.
func extractIndicatorPhrases(text string, indicators []*regexp.Regexp) []string {
	var phrases []string

	for _, re := range indicators {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			segment := text[loc[1]:]
			if end := segmentEndRe.FindStringIndex(segment); end != nil {
				segment = segment[:end[0]]
			}
			segment = strings.TrimSpace(segment)
			if segment == "" {
				continue
			}

			phrases = append(phrases, segment)
			for _, fragment := range phraseSepRe.Split(segment, -1) {
				fragment = strings.TrimSpace(fragment)
				if fragment != "" && fragment != segment {
					phrases = append(phrases, fragment)
				}
			}
		}
	}

	return phrases
}

// significantWords returns the lowercased words of a text longer than three
// characters. When a text has none (short descriptions like "fix the bug"),
// it falls back to words longer than two characters minus trivial stopwords,
// so short subtasks still carry a usable signal.
func significantWords(text string) []string {
	words := splitWords(text)

	var keywords []string
	for _, w := range words {
		if len(w) > 3 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) > 0 {
		return keywords
	}

	for _, w := range words {
		if len(w) > 2 && !indicatorStopwords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

var indicatorStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "but": true,
	"you": true, "are": true, "was": true, "not": true,
}

var wordSplitRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func splitWords(text string) []string {
	raw := wordSplitRe.FindAllString(strings.ToLower(text), -1)
	return raw
}

// sharedKeywordCount counts the subtask keywords present in the phrase.
// A keyword matches a phrase word exactly or by shared prefix of at least
// three characters, which tolerates simple morphology ("fix"/"fixing",
// "test"/"tests").
func sharedKeywordCount(keywords []string, phrase string) int {
	phraseWords := splitWords(phrase)

	shared := 0
	for _, kw := range keywords {
		for _, pw := range phraseWords {
			if wordsMatch(kw, pw) {
				shared++
				break
			}
		}
	}
	return shared
}

func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 3 || len(b) < 3 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// bestMatch finds the subtask that best matches an indicator phrase.
// A match requires at least two shared keywords, or all of them when the
// subtask description carries fewer than two. Returns nil when nothing
// clears the bar. These thresholds are tunable heuristics, not calibrated
// constants.
func bestMatch(subtasks []*SubTask, phrase string) *SubTask {
	var best *SubTask
	bestShared := 0

	for _, sub := range subtasks {
		keywords := significantWords(sub.Description)
		if len(keywords) == 0 {
			continue
		}

		required := 2
		if len(keywords) < 2 {
			required = len(keywords)
		}

		shared := sharedKeywordCount(keywords, phrase)
		if shared >= required && shared > bestShared {
			best = sub
			bestShared = shared
		}
	}

	return best
}
