package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/service"
)

// isoMillis renders a unix-millisecond timestamp as RFC 3339 UTC with milliseconds.
func isoMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func formatCreated(contextID string) string {
	return fmt.Sprintf("Created context with ID: %s", contextID)
}

func formatAdded(entry *service.EntryView) string {
	return fmt.Sprintf("Added entry %s at %s", entry.ID, isoMillis(entry.Timestamp))
}

func formatReadmeUpdated(contextID string) string {
	return fmt.Sprintf("Updated README for context %s", contextID)
}

func formatToolError(action string, err error) string {
	return fmt.Sprintf("Error %s: %s", action, err.Error())
}

func formatContextList(page *service.ContextsPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d total contexts. ", page.Total)
	if len(page.Contexts) == 0 {
		b.WriteString("No contexts to display.")
		return b.String()
	}

	fmt.Fprintf(&b, "Showing %d contexts:\n", len(page.Contexts))
	for i, c := range page.Contexts {
		if i > 0 {
			b.WriteString("\n")
		}
		readme := "(no readme)"
		if c.Readme != nil && *c.Readme != "" {
			readme = *c.Readme
		}
		fmt.Fprintf(&b, "- %s: %s", c.ID, readme)
	}
	return b.String()
}

// formatContextResource renders the text body of a context:// resource.
func formatContextResource(contextID string, readme *string, order contextstore.Order, page *service.EntriesPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context ID: %s\n\n", contextID)

	if readme != nil && *readme != "" {
		fmt.Fprintf(&b, "## README\n\n%s\n\n", *readme)
	}

	if len(page.Entries) == 0 {
		fmt.Fprintf(&b, "## Entries\n\nNo entries (total: %d)", page.Total)
		return b.String()
	}

	fmt.Fprintf(&b, "## Entries (order: %s, total: %d)\n\n", order, page.Total)
	for i, e := range page.Entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		short := e.ID
		if len(short) > 8 {
			short = short[:8]
		}
		content := strings.ReplaceAll(e.Content, "\n", "\n   ")
		fmt.Fprintf(&b, "%d. Entry %s... (%s)\n   %s", i+1, short, isoMillis(e.Timestamp), content)
	}
	return b.String()
}
