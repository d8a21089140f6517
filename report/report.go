// Package report renders human-readable compaction reports. The report is
// assembled as Markdown, converted to HTML, and sanitized, so hosts can
// embed it in dashboards or session inspectors without further escaping.
// Conversation text is untrusted input; sanitization is not optional.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/contextpg/contextpg/storage"
	"github.com/contextpg/contextpg/task"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// Render produces a sanitized HTML report for a compaction event and the
// tasks that survived it.
func Render(event *storage.CompactionEvent, tasks []*task.State) (string, error) {
	md := buildMarkdown(event, tasks)

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	return sanitizer.Sanitize(buf.String()), nil
}

func buildMarkdown(event *storage.CompactionEvent, tasks []*task.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Compaction report\n\n")
	fmt.Fprintf(&b, "Session `%s`, strategy `%s`.\n\n", event.SessionID, event.Strategy)

	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Original tokens | %d |\n", event.OriginalTokens)
	fmt.Fprintf(&b, "| Preserved tokens | %d |\n", event.PreservedTokens)
	fmt.Fprintf(&b, "| Messages removed | %d |\n", event.MessagesRemoved)
	fmt.Fprintf(&b, "| Preservation ratio | %.2f |\n", event.PreservationRatio)

	if len(tasks) > 0 {
		fmt.Fprintf(&b, "\n### Active tasks\n\n")
		for _, t := range tasks {
			remaining := t.Remaining()
			fmt.Fprintf(&b, "- **%s** (%d of %d steps remaining): %s\n",
				t.Priority, len(remaining), len(t.SubTasks), t.OriginalRequest)
			for _, sub := range remaining {
				fmt.Fprintf(&b, "  - %s (%s)\n", sub.Description, sub.Status)
			}
		}
	}

	if event.ContinuationPrompt != "" {
		fmt.Fprintf(&b, "\n### Continuation prompt\n\n")
		for _, line := range strings.Split(event.ContinuationPrompt, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
	}

	return b.String()
}
