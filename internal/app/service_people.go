package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tilly/api/internal/blob"
	"tilly/api/internal/filter"
	"tilly/api/internal/rbac"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

const (
	maxNameLength    = 200
	maxSummaryLength = 5000
	presignTTL       = time.Hour
)

type PersonInput struct {
	Name    *string `json:"name"`
	Summary *string `json:"summary"`
}

func (s *Service) personPayload(ctx context.Context, person store.Person, role rbac.Role) map[string]any {
	payload := map[string]any{
		"id":        person.ID,
		"groupId":   person.GroupID,
		"name":      person.Name,
		"summary":   person.Summary,
		"tags":      filter.ExtractHashtags(person.Summary),
		"avatarKey": person.AvatarKey,
		"inactive":  person.Inactive,
		"deletedAt": person.DeletedAt,
		"createdAt": person.CreatedAt,
		"updatedAt": person.UpdatedAt,
	}
	if role != "" {
		payload["role"] = role
	}
	if person.AvatarKey != "" {
		payload["avatarUrl"] = s.presign(ctx, person.AvatarKey)
	}
	return payload
}

func (s *Service) presign(ctx context.Context, key string) string {
	if s.blobs == nil || key == "" {
		return ""
	}
	url, err := s.blobs.PresignedURL(ctx, key, presignTTL)
	if err != nil {
		logger(ctx).Warn("presign failed", "key", key, "err", err)
		return ""
	}
	return url
}

func validatePerson(name, summary string) error {
	if name == "" {
		return validationError("name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return validationError(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if len([]rune(summary)) > maxSummaryLength {
		return validationError(fmt.Sprintf("summary must be at most %d characters", maxSummaryLength))
	}
	return nil
}

func (s *Service) ListPeople(ctx context.Context, session Session, query, status string) (map[string]any, error) {
	people, err := s.store.ListPeopleForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	filtered := filter.FilterPeople(people, query, filter.Options{Status: filter.ParseStatus(status)})
	items := make([]map[string]any, 0, len(filtered))
	for _, person := range filtered {
		items = append(items, s.personPayload(ctx, person, ""))
	}
	return map[string]any{"people": items}, nil
}

// CreatePerson adds a person to the caller's personal group.
func (s *Service) CreatePerson(ctx context.Context, session Session, input PersonInput) (map[string]any, error) {
	person := store.Person{
		ID:      util.NewID(util.PrefixPerson),
		GroupID: session.PersonalGroupID,
	}
	if input.Name != nil {
		person.Name = trimmed(*input.Name)
	}
	if input.Summary != nil {
		person.Summary = trimmed(*input.Summary)
	}
	if err := validatePerson(person.Name, person.Summary); err != nil {
		return nil, err
	}
	if person.GroupID == "" {
		return nil, fmt.Errorf("create person: user %s has no personal group", session.UserID)
	}
	if err := s.store.InsertPerson(ctx, person); err != nil {
		return nil, err
	}
	created, err := s.store.GetPerson(ctx, person.ID)
	if err != nil {
		return nil, fmt.Errorf("reload person: %w", err)
	}
	s.indexPerson(created)
	logger(ctx).Info("person created", "personId", created.ID, "userId", session.UserID)
	return map[string]any{"person": s.personPayload(ctx, created, rbac.RoleAdmin)}, nil
}

func (s *Service) GetPerson(ctx context.Context, session Session, personID string) (map[string]any, error) {
	person, role, err := s.personAccess(ctx, session, personID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return map[string]any{"person": s.personPayload(ctx, person, role)}, nil
}

func (s *Service) UpdatePerson(ctx context.Context, session Session, personID string, input PersonInput) (map[string]any, error) {
	person, role, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		person.Name = trimmed(*input.Name)
	}
	if input.Summary != nil {
		person.Summary = trimmed(*input.Summary)
	}
	if err := validatePerson(person.Name, person.Summary); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdatePerson(ctx, person)
	if err != nil {
		return nil, err
	}
	s.indexPerson(updated)
	return map[string]any{"person": s.personPayload(ctx, updated, role)}, nil
}

// DeletePerson soft deletes the person; cleanup archives and later purges it.
func (s *Service) DeletePerson(ctx context.Context, session Session, personID string) (map[string]any, error) {
	person, role, err := s.personAccess(ctx, session, personID, rbac.ActionAdmin)
	if err != nil {
		return nil, err
	}
	if person.DeletedAt == nil {
		now := s.now().UTC()
		person.DeletedAt = &now
		if person, err = s.store.UpdatePerson(ctx, person); err != nil {
			return nil, err
		}
	}
	s.reindexPersonTree(ctx, person)
	logger(ctx).Info("person deleted", "personId", person.ID, "userId", session.UserID)
	return map[string]any{"person": s.personPayload(ctx, person, role)}, nil
}

func (s *Service) RestorePerson(ctx context.Context, session Session, personID string) (map[string]any, error) {
	person, role, err := s.personAccess(ctx, session, personID, rbac.ActionAdmin)
	if err != nil {
		return nil, err
	}
	if person.DeletedAt != nil {
		person.DeletedAt = nil
		if person, err = s.store.UpdatePerson(ctx, person); err != nil {
			return nil, err
		}
	}
	s.reindexPersonTree(ctx, person)
	return map[string]any{"person": s.personPayload(ctx, person, role)}, nil
}

// readUpload buffers an upload body, rejecting anything above the object
// size limit.
func readUpload(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, blob.MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > blob.MaxObjectSize {
		return nil, domainError(http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload exceeds 10 MiB", nil)
	}
	if len(data) == 0 {
		return nil, validationError("upload is empty")
	}
	return data, nil
}

func (s *Service) storeUpload(ctx context.Context, scope, ownerID, contentType string, body io.Reader) (string, error) {
	if s.blobs == nil {
		return "", unavailable("STORAGE_UNAVAILABLE", "Object storage is not configured")
	}
	key, err := blob.ObjectKey(scope, ownerID, contentType)
	if err != nil {
		return "", domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", err.Error(), nil)
	}
	data, err := readUpload(body)
	if err != nil {
		return "", err
	}
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return key, nil
}

// SetAvatar replaces the person's avatar and drops the previous object.
func (s *Service) SetAvatar(ctx context.Context, session Session, personID, contentType string, body io.Reader) (map[string]any, error) {
	person, role, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	key, err := s.storeUpload(ctx, "avatars", person.ID, contentType, body)
	if err != nil {
		return nil, err
	}
	previous := person.AvatarKey
	person.AvatarKey = key
	updated, err := s.store.UpdatePerson(ctx, person)
	if err != nil {
		_ = s.blobs.RemoveObjects(ctx, []string{key})
		return nil, err
	}
	if previous != "" {
		if err := s.blobs.RemoveObjects(ctx, []string{previous}); err != nil {
			logger(ctx).Warn("remove previous avatar failed", "key", previous, "err", err)
		}
	}
	return map[string]any{"person": s.personPayload(ctx, updated, role)}, nil
}

func (s *Service) ListTags(ctx context.Context, session Session) (map[string]any, error) {
	people, err := s.store.ListPeopleForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tags": filter.ListTags(people)}, nil
}

func (s *Service) indexPerson(person store.Person) {
	if s.search == nil {
		return
	}
	if person.DeletedAt != nil {
		s.search.Remove(search.ResultPerson, person.ID)
		return
	}
	s.search.IndexPerson(search.PersonRecord{ID: person.ID, GroupID: person.GroupID, Name: person.Name, Summary: person.Summary})
}
