package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"tilly/api/internal/filter"
	"tilly/api/internal/store"
)

// DataStore is the read side of the store needed for an export.
type DataStore interface {
	ListPeopleForUser(ctx context.Context, userID string) ([]store.Person, error)
	ListNotesForUser(ctx context.Context, userID string) ([]store.Note, error)
	ListRemindersForUser(ctx context.Context, userID string) ([]store.Reminder, error)
}

type Service struct {
	store DataStore
	now   func() time.Time
}

func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("export: missing user id")
	}
	bundle, err := s.Collect(ctx, req.UserID, req.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	stamp := bundle.ExportedAt.Format("2006-01-02")
	switch req.Format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return &Result{Data: data, ContentType: "application/json", Filename: "tilly-export-" + stamp + ".json"}, nil
	case FormatMarkdown:
		data, err := renderMarkdown(bundle)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, ContentType: "text/markdown; charset=utf-8", Filename: "tilly-export-" + stamp + ".md"}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// Collect loads the user's people with their notes and reminders, people
// sorted by name, notes newest first and reminders by due date.
func (s *Service) Collect(ctx context.Context, userID string, includeDeleted bool) (Bundle, error) {
	people, err := s.store.ListPeopleForUser(ctx, userID)
	if err != nil {
		return Bundle{}, fmt.Errorf("load people: %w", err)
	}
	notes, err := s.store.ListNotesForUser(ctx, userID)
	if err != nil {
		return Bundle{}, fmt.Errorf("load notes: %w", err)
	}
	reminders, err := s.store.ListRemindersForUser(ctx, userID)
	if err != nil {
		return Bundle{}, fmt.Errorf("load reminders: %w", err)
	}

	byPerson := make(map[string]*Person, len(people))
	out := make([]*Person, 0, len(people))
	for _, p := range people {
		if p.DeletedAt != nil && !includeDeleted {
			continue
		}
		item := &Person{
			ID:        p.ID,
			Name:      p.Name,
			Summary:   p.Summary,
			Tags:      filter.ExtractHashtags(p.Summary),
			DeletedAt: p.DeletedAt,
			CreatedAt: p.CreatedAt,
			Notes:     []Note{},
			Reminders: []Reminder{},
		}
		byPerson[p.ID] = item
		out = append(out, item)
	}
	for _, n := range notes {
		person, ok := byPerson[n.PersonID]
		if !ok || (n.DeletedAt != nil && !includeDeleted) {
			continue
		}
		person.Notes = append(person.Notes, Note{ID: n.ID, Content: n.Content, Pinned: n.Pinned, DeletedAt: n.DeletedAt, CreatedAt: n.CreatedAt})
	}
	for _, r := range reminders {
		person, ok := byPerson[r.PersonID]
		if !ok || (r.DeletedAt != nil && !includeDeleted) {
			continue
		}
		person.Reminders = append(person.Reminders, Reminder{
			ID:        r.ID,
			Text:      r.Text,
			DueAtDate: r.DueAtDate,
			Repeat:    describeRepeat(r.Repeat),
			Done:      r.Done,
			DeletedAt: r.DeletedAt,
		})
	}

	bundle := Bundle{ExportedAt: s.now().UTC(), People: make([]Person, 0, len(out))}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for _, p := range out {
		sort.SliceStable(p.Notes, func(i, j int) bool { return p.Notes[i].CreatedAt.After(p.Notes[j].CreatedAt) })
		sort.SliceStable(p.Reminders, func(i, j int) bool { return p.Reminders[i].DueAtDate < p.Reminders[j].DueAtDate })
		bundle.People = append(bundle.People, *p)
	}
	return bundle, nil
}

func describeRepeat(repeat *store.Repeat) string {
	if repeat == nil || repeat.Interval <= 0 {
		return ""
	}
	if repeat.Interval == 1 {
		return "every " + repeat.Unit
	}
	return fmt.Sprintf("every %d %ss", repeat.Interval, repeat.Unit)
}
