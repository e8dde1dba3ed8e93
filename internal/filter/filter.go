package filter

import (
	"sort"
	"strings"
	"time"

	"tilly/api/internal/store"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
	StatusDone    Status = "done"
)

// ParseStatus falls back to active for anything unknown.
func ParseStatus(value string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusDeleted:
		return StatusDeleted
	case StatusDone:
		return StatusDone
	default:
		return StatusActive
	}
}

type Options struct {
	Status Status
	// Today is the caller's local date (YYYY-MM-DD), used for due checks.
	Today string
}

type NoteEntry struct {
	Person store.Person
	Note   store.Note
}

type ReminderEntry struct {
	Person   store.Person
	Reminder store.Reminder
}

func FilterPeople(people []store.Person, query string, opts Options) []store.Person {
	q := ParseQuery(query)
	deleted := opts.Status == StatusDeleted
	out := make([]store.Person, 0, len(people))
	for _, person := range people {
		if (person.DeletedAt != nil) != deleted {
			continue
		}
		if !q.matchesList(person.Summary) || !q.matchesText(person.Name, person.Summary) {
			continue
		}
		out = append(out, person)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if deleted {
			return laterOf(a.DeletedAt, b.DeletedAt)
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return out
}

func noteDeletedAt(entry NoteEntry) *time.Time {
	if entry.Note.DeletedAt != nil {
		return entry.Note.DeletedAt
	}
	return entry.Person.DeletedAt
}

func FilterNotes(entries []NoteEntry, query string, opts Options) []NoteEntry {
	q := ParseQuery(query)
	deleted := opts.Status == StatusDeleted
	out := make([]NoteEntry, 0, len(entries))
	for _, entry := range entries {
		if (noteDeletedAt(entry) != nil) != deleted {
			continue
		}
		if !q.matchesList(entry.Person.Summary) || !q.matchesText(entry.Note.Content, entry.Person.Name) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if deleted {
			return laterOf(noteDeletedAt(a), noteDeletedAt(b))
		}
		if a.Note.Pinned != b.Note.Pinned {
			return a.Note.Pinned
		}
		return a.Note.CreatedAt.After(b.Note.CreatedAt)
	})
	return out
}

func reminderDeletedAt(entry ReminderEntry) *time.Time {
	if entry.Reminder.DeletedAt != nil {
		return entry.Reminder.DeletedAt
	}
	return entry.Person.DeletedAt
}

func reminderStatus(entry ReminderEntry) Status {
	switch {
	case reminderDeletedAt(entry) != nil:
		return StatusDeleted
	case entry.Reminder.Done:
		return StatusDone
	default:
		return StatusActive
	}
}

func FilterReminders(entries []ReminderEntry, query string, opts Options) []ReminderEntry {
	q := ParseQuery(query)
	status := opts.Status
	if status == "" {
		status = StatusActive
	}
	out := make([]ReminderEntry, 0, len(entries))
	for _, entry := range entries {
		if reminderStatus(entry) != status {
			continue
		}
		if !q.matchesList(entry.Person.Summary) || !q.matchesText(entry.Reminder.Text, entry.Person.Name) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Reminder, out[j].Reminder
		switch status {
		case StatusDeleted:
			return laterOf(reminderDeletedAt(out[i]), reminderDeletedAt(out[j]))
		case StatusDone:
			return a.UpdatedAt.After(b.UpdatedAt)
		default:
			if a.DueAtDate != b.DueAtDate {
				return a.DueAtDate < b.DueAtDate
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
	return out
}

// IsDue reports whether an open, undeleted reminder falls on or before today.
// Dates compare lexically as YYYY-MM-DD.
func IsDue(reminder store.Reminder, today string) bool {
	return !reminder.Done && reminder.DeletedAt == nil && reminder.DueAtDate != "" && reminder.DueAtDate <= today
}

// DueReminders keeps active entries that are due on today.
func DueReminders(entries []ReminderEntry, today string) []ReminderEntry {
	active := FilterReminders(entries, "", Options{Status: StatusActive, Today: today})
	out := make([]ReminderEntry, 0, len(active))
	for _, entry := range active {
		if entry.Person.DeletedAt == nil && IsDue(entry.Reminder, today) {
			out = append(out, entry)
		}
	}
	return out
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ListTags counts hashtags across the summaries of active people.
func ListTags(people []store.Person) []TagCount {
	counts := map[string]int{}
	for _, person := range people {
		if person.DeletedAt != nil {
			continue
		}
		for _, tag := range ExtractHashtags(person.Summary) {
			counts[tag]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// laterOf orders nil timestamps last.
func laterOf(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}
