package assistant

import (
	"fmt"
	"strings"
	"time"

	"tilly/api/internal/filter"
	"tilly/api/internal/store"
)

const maxSummaryRunes = 400

// PromptContext is what the assistant knows about the user's data.
type PromptContext struct {
	Now      time.Time
	Language string
	People   []store.Person
	Due      []filter.ReminderEntry
}

func SystemPrompt(pc PromptContext) string {
	var b strings.Builder
	b.WriteString("You are Tilly, a helpful assistant for keeping in touch with the people in the user's life. ")
	b.WriteString("Answer briefly and only use the facts below. If something is not listed, say you do not know.\n")
	if pc.Language == "de" {
		b.WriteString("Reply in German.\n")
	}
	fmt.Fprintf(&b, "\nToday is %s.\n", pc.Now.Format("Monday, 2006-01-02"))

	b.WriteString("\n## People\n")
	if len(pc.People) == 0 {
		b.WriteString("(none)\n")
	}
	for _, person := range pc.People {
		fmt.Fprintf(&b, "- %s", person.Name)
		if summary := truncateRunes(strings.TrimSpace(person.Summary), maxSummaryRunes); summary != "" {
			fmt.Fprintf(&b, ": %s", strings.ReplaceAll(summary, "\n", " "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Due reminders\n")
	if len(pc.Due) == 0 {
		b.WriteString("(none)\n")
	}
	for _, entry := range pc.Due {
		fmt.Fprintf(&b, "- %s (%s, due %s)\n", entry.Reminder.Text, entry.Person.Name, entry.Reminder.DueAtDate)
	}
	return b.String()
}

// HistoryTurns converts stored messages, oldest first, to turns.
func HistoryTurns(messages []store.AssistantMessage) []Turn {
	out := make([]Turn, 0, len(messages))
	for _, m := range messages {
		out = append(out, Turn{Role: m.Role, Content: m.Content})
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
