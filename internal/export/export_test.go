package export

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tilly/api/internal/store"
)

type fakeStore struct {
	people    []store.Person
	notes     []store.Note
	reminders []store.Reminder
	err       error
}

func (f *fakeStore) ListPeopleForUser(context.Context, string) ([]store.Person, error) {
	return f.people, f.err
}

func (f *fakeStore) ListNotesForUser(context.Context, string) ([]store.Note, error) {
	return f.notes, nil
}

func (f *fakeStore) ListRemindersForUser(context.Context, string) ([]store.Reminder, error) {
	return f.reminders, nil
}

func sampleStore() *fakeStore {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 10, 0, 0, 0, time.UTC) }
	deleted := day(5)
	return &fakeStore{
		people: []store.Person{
			{ID: "per_b", Name: "Ben", Summary: "Climbing buddy #friends", CreatedAt: day(1)},
			{ID: "per_a", Name: "Anna", Summary: "Sister\n#family", CreatedAt: day(1)},
			{ID: "per_x", Name: "Xaver", DeletedAt: &deleted},
		},
		notes: []store.Note{
			{ID: "note_1", PersonID: "per_a", Content: "Started a new job", CreatedAt: day(2)},
			{ID: "note_2", PersonID: "per_a", Content: "Moved to Hamburg", Pinned: true, CreatedAt: day(3)},
			{ID: "note_3", PersonID: "per_a", Content: "gone", DeletedAt: &deleted},
			{ID: "note_4", PersonID: "per_x", Content: "orphan"},
		},
		reminders: []store.Reminder{
			{ID: "rem_2", PersonID: "per_a", Text: "Birthday", DueAtDate: "2026-05-01", Repeat: &store.Repeat{Interval: 1, Unit: "year"}},
			{ID: "rem_1", PersonID: "per_a", Text: "Ask about job", DueAtDate: "2026-03-20", Done: true},
		},
	}
}

func newTestService(fs *fakeStore) *Service {
	svc := NewService(fs)
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestCollect(t *testing.T) {
	bundle, err := newTestService(sampleStore()).Collect(context.Background(), "user_1", false)
	require.NoError(t, err)
	require.Len(t, bundle.People, 2)

	anna := bundle.People[0]
	require.Equal(t, "Anna", anna.Name)
	require.Equal(t, []string{"family"}, anna.Tags)
	require.Equal(t, []string{"note_2", "note_1"}, []string{anna.Notes[0].ID, anna.Notes[1].ID})
	require.Equal(t, "rem_1", anna.Reminders[0].ID)
	require.Equal(t, "every year", anna.Reminders[1].Repeat)

	require.Equal(t, "Ben", bundle.People[1].Name)
	require.Empty(t, bundle.People[1].Notes)
}

func TestCollectIncludeDeleted(t *testing.T) {
	bundle, err := newTestService(sampleStore()).Collect(context.Background(), "user_1", true)
	require.NoError(t, err)
	require.Len(t, bundle.People, 3)
	require.Len(t, bundle.People[0].Notes, 3)
	require.Equal(t, "orphan", bundle.People[2].Notes[0].Content)
}

func TestExportJSON(t *testing.T) {
	res, err := newTestService(sampleStore()).Export(context.Background(), Request{UserID: "user_1", Format: FormatJSON})
	require.NoError(t, err)
	require.Equal(t, "application/json", res.ContentType)
	require.Equal(t, "tilly-export-2026-03-10.json", res.Filename)

	var decoded Bundle
	require.NoError(t, json.Unmarshal(res.Data, &decoded))
	require.Len(t, decoded.People, 2)
}

func TestExportMarkdown(t *testing.T) {
	res, err := newTestService(sampleStore()).Export(context.Background(), Request{UserID: "user_1", Format: FormatMarkdown})
	require.NoError(t, err)
	md := string(res.Data)
	require.Contains(t, md, "# Tilly export")
	require.Contains(t, md, "## Anna\n")
	require.Contains(t, md, "> Sister\n> #family")
	require.Contains(t, md, "- [x] 2026-03-20 Ask about job")
	require.Contains(t, md, "- [ ] 2026-05-01 Birthday (every year)")
	require.Contains(t, md, "#### 2026-03-03 (pinned)\n\nMoved to Hamburg")
	require.NotContains(t, md, "Xaver")
}

func TestExportErrors(t *testing.T) {
	svc := newTestService(&fakeStore{err: errors.New("db down")})
	_, err := svc.Export(context.Background(), Request{UserID: "user_1"})
	require.ErrorContains(t, err, "db down")

	_, err = svc.Export(context.Background(), Request{})
	require.Error(t, err)

	_, err = newTestService(sampleStore()).Export(context.Background(), Request{UserID: "user_1", Format: "pdf"})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)
	_, err = ParseFormat("docx")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDescribeRepeat(t *testing.T) {
	require.Equal(t, "", describeRepeat(nil))
	require.Equal(t, "every week", describeRepeat(&store.Repeat{Interval: 1, Unit: "week"}))
	require.Equal(t, "every 3 months", describeRepeat(&store.Repeat{Interval: 3, Unit: "month"}))
}
