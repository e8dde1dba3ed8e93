package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"tilly/api/internal/filter"
	"tilly/api/internal/rbac"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

const (
	maxNoteLength    = 20000
	maxImagesPerNote = 10
)

type NoteInput struct {
	Content *string `json:"content"`
	Pinned  *bool   `json:"pinned"`
}

func (s *Service) notePayload(ctx context.Context, note store.Note) map[string]any {
	images := make([]map[string]any, 0, len(note.ImageKeys))
	for _, key := range note.ImageKeys {
		images = append(images, map[string]any{"key": key, "url": s.presign(ctx, key)})
	}
	return map[string]any{
		"id":        note.ID,
		"personId":  note.PersonID,
		"content":   note.Content,
		"pinned":    note.Pinned,
		"images":    images,
		"inactive":  note.Inactive,
		"deletedAt": note.DeletedAt,
		"createdAt": note.CreatedAt,
		"updatedAt": note.UpdatedAt,
	}
}

func validateNote(content string) error {
	if content == "" {
		return validationError("content is required")
	}
	if len([]rune(content)) > maxNoteLength {
		return validationError(fmt.Sprintf("content must be at most %d characters", maxNoteLength))
	}
	return nil
}

func (s *Service) loadNote(ctx context.Context, personID, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, personID, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, notFound("Note")
	}
	return note, err
}

// ListPersonNotes returns one person's notes, pinned first.
func (s *Service) ListPersonNotes(ctx context.Context, session Session, personID, status string) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotesForPerson(ctx, person.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]filter.NoteEntry, 0, len(notes))
	for _, note := range notes {
		entries = append(entries, filter.NoteEntry{Person: person, Note: note})
	}
	return s.notesResponse(ctx, filter.FilterNotes(entries, "", filter.Options{Status: filter.ParseStatus(status)})), nil
}

// ListNotes searches notes across every person the caller can read.
func (s *Service) ListNotes(ctx context.Context, session Session, query, status string) (map[string]any, error) {
	people, err := s.store.ListPeopleForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotesForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Person, len(people))
	for _, person := range people {
		byID[person.ID] = person
	}
	entries := make([]filter.NoteEntry, 0, len(notes))
	for _, note := range notes {
		if person, ok := byID[note.PersonID]; ok {
			entries = append(entries, filter.NoteEntry{Person: person, Note: note})
		}
	}
	return s.notesResponse(ctx, filter.FilterNotes(entries, query, filter.Options{Status: filter.ParseStatus(status)})), nil
}

func (s *Service) notesResponse(ctx context.Context, entries []filter.NoteEntry) map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := s.notePayload(ctx, entry.Note)
		item["personName"] = entry.Person.Name
		items = append(items, item)
	}
	return map[string]any{"notes": items}
}

func (s *Service) CreateNote(ctx context.Context, session Session, personID string, input NoteInput) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	note := store.Note{ID: util.NewID(util.PrefixNote), PersonID: person.ID}
	if input.Content != nil {
		note.Content = trimmed(*input.Content)
	}
	if input.Pinned != nil {
		note.Pinned = *input.Pinned
	}
	if err := validateNote(note.Content); err != nil {
		return nil, err
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	created, err := s.store.GetNote(ctx, person.ID, note.ID)
	if err != nil {
		return nil, fmt.Errorf("reload note: %w", err)
	}
	s.indexNote(person, created)
	return map[string]any{"note": s.notePayload(ctx, created)}, nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, personID, noteID string, input NoteInput) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	note, err := s.loadNote(ctx, person.ID, noteID)
	if err != nil {
		return nil, err
	}
	if input.Content != nil {
		note.Content = trimmed(*input.Content)
	}
	if input.Pinned != nil {
		note.Pinned = *input.Pinned
	}
	if err := validateNote(note.Content); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateNote(ctx, note)
	if err != nil {
		return nil, err
	}
	s.indexNote(person, updated)
	return map[string]any{"note": s.notePayload(ctx, updated)}, nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, personID, noteID string) (map[string]any, error) {
	return s.setNoteDeleted(ctx, session, personID, noteID, true)
}

func (s *Service) RestoreNote(ctx context.Context, session Session, personID, noteID string) (map[string]any, error) {
	return s.setNoteDeleted(ctx, session, personID, noteID, false)
}

func (s *Service) setNoteDeleted(ctx context.Context, session Session, personID, noteID string, deleted bool) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	note, err := s.loadNote(ctx, person.ID, noteID)
	if err != nil {
		return nil, err
	}
	if (note.DeletedAt != nil) != deleted {
		if deleted {
			now := s.now().UTC()
			note.DeletedAt = &now
		} else {
			note.DeletedAt = nil
		}
		if note, err = s.store.UpdateNote(ctx, note); err != nil {
			return nil, err
		}
	}
	s.indexNote(person, note)
	return map[string]any{"note": s.notePayload(ctx, note)}, nil
}

// AddNoteImage uploads an image and attaches its key to the note.
func (s *Service) AddNoteImage(ctx context.Context, session Session, personID, noteID, contentType string, body io.Reader) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	note, err := s.loadNote(ctx, person.ID, noteID)
	if err != nil {
		return nil, err
	}
	if len(note.ImageKeys) >= maxImagesPerNote {
		return nil, validationError(fmt.Sprintf("a note holds at most %d images", maxImagesPerNote))
	}
	key, err := s.storeUpload(ctx, "notes", note.ID, contentType, body)
	if err != nil {
		return nil, err
	}
	note.ImageKeys = append(note.ImageKeys, key)
	updated, err := s.store.UpdateNote(ctx, note)
	if err != nil {
		_ = s.blobs.RemoveObjects(ctx, []string{key})
		return nil, err
	}
	return map[string]any{"note": s.notePayload(ctx, updated)}, nil
}

func (s *Service) indexNote(person store.Person, note store.Note) {
	if s.search == nil {
		return
	}
	if note.DeletedAt != nil || person.DeletedAt != nil {
		s.search.Remove(search.ResultNote, note.ID)
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:         note.ID,
		PersonID:   person.ID,
		PersonName: person.Name,
		GroupID:    person.GroupID,
		Content:    note.Content,
	})
}
