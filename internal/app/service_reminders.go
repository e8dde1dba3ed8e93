package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tilly/api/internal/assistant"
	"tilly/api/internal/filter"
	"tilly/api/internal/rbac"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

const (
	maxReminderLength = 1000
	maxRepeatInterval = 365
)

type RepeatInput struct {
	Interval int    `json:"interval"`
	Unit     string `json:"unit"`
}

type ReminderInput struct {
	Text *string `json:"text"`
	// Due is YYYY-MM-DD or a phrase such as "next friday".
	Due    *string      `json:"due"`
	Repeat *RepeatInput `json:"repeat"`
	// ClearRepeat turns a repeating reminder into a one-off.
	ClearRepeat bool  `json:"clearRepeat"`
	Done        *bool `json:"done"`
}

func reminderPayload(reminder store.Reminder, today string) map[string]any {
	var repeat any
	if reminder.Repeat != nil {
		repeat = map[string]any{"interval": reminder.Repeat.Interval, "unit": reminder.Repeat.Unit}
	}
	return map[string]any{
		"id":        reminder.ID,
		"personId":  reminder.PersonID,
		"text":      reminder.Text,
		"dueAtDate": reminder.DueAtDate,
		"repeat":    repeat,
		"done":      reminder.Done,
		"due":       filter.IsDue(reminder, today),
		"inactive":  reminder.Inactive,
		"deletedAt": reminder.DeletedAt,
		"createdAt": reminder.CreatedAt,
		"updatedAt": reminder.UpdatedAt,
	}
}

func validRepeatUnit(unit string) bool {
	switch unit {
	case "day", "week", "month", "year":
		return true
	}
	return false
}

func parseRepeat(input *RepeatInput) (*store.Repeat, error) {
	if input == nil {
		return nil, nil
	}
	if input.Interval < 1 || input.Interval > maxRepeatInterval {
		return nil, validationError(fmt.Sprintf("repeat interval must be between 1 and %d", maxRepeatInterval))
	}
	if !validRepeatUnit(input.Unit) {
		return nil, validationError("repeat unit must be day, week, month or year")
	}
	return &store.Repeat{Interval: input.Interval, Unit: input.Unit}, nil
}

// addRepeat moves date forward by one repeat step. Month and year steps clamp
// to the last day of the target month, so Jan 31 becomes Feb 28.
func addRepeat(date time.Time, repeat store.Repeat) time.Time {
	switch repeat.Unit {
	case "day":
		return date.AddDate(0, 0, repeat.Interval)
	case "week":
		return date.AddDate(0, 0, 7*repeat.Interval)
	case "month":
		return addMonthsClamped(date, repeat.Interval)
	case "year":
		return addMonthsClamped(date, 12*repeat.Interval)
	}
	return date.AddDate(0, 0, 1)
}

func addMonthsClamped(date time.Time, months int) time.Time {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := date.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// NextDueDate rolls due forward until it is strictly after today.
func NextDueDate(due, today string, repeat store.Repeat) (string, error) {
	current, err := time.Parse(time.DateOnly, due)
	if err != nil {
		return "", fmt.Errorf("parse due date: %w", err)
	}
	limit, err := time.Parse(time.DateOnly, today)
	if err != nil {
		return "", fmt.Errorf("parse today: %w", err)
	}
	next := addRepeat(current, repeat)
	for !next.After(limit) {
		next = addRepeat(next, repeat)
	}
	return next.Format(time.DateOnly), nil
}

func (s *Service) resolveDue(ctx context.Context, userID, raw string) (string, error) {
	now, _ := s.userNow(ctx, userID)
	due, err := assistant.ParseDueDate(raw, now)
	if err != nil {
		return "", validationError(fmt.Sprintf("could not understand due date %q", raw))
	}
	return due, nil
}

func (s *Service) loadReminder(ctx context.Context, personID, reminderID string) (store.Reminder, error) {
	reminder, err := s.store.GetReminder(ctx, personID, reminderID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Reminder{}, notFound("Reminder")
	}
	return reminder, err
}

func (s *Service) ListPersonReminders(ctx context.Context, session Session, personID, status string) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	reminders, err := s.store.ListRemindersForPerson(ctx, person.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]filter.ReminderEntry, 0, len(reminders))
	for _, reminder := range reminders {
		entries = append(entries, filter.ReminderEntry{Person: person, Reminder: reminder})
	}
	today := s.userToday(ctx, session.UserID)
	return remindersResponse(filter.FilterReminders(entries, "", filter.Options{Status: filter.ParseStatus(status), Today: today}), today), nil
}

func (s *Service) reminderEntries(ctx context.Context, userID string) ([]filter.ReminderEntry, error) {
	people, err := s.store.ListPeopleForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	reminders, err := s.store.ListRemindersForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Person, len(people))
	for _, person := range people {
		byID[person.ID] = person
	}
	entries := make([]filter.ReminderEntry, 0, len(reminders))
	for _, reminder := range reminders {
		if person, ok := byID[reminder.PersonID]; ok {
			entries = append(entries, filter.ReminderEntry{Person: person, Reminder: reminder})
		}
	}
	return entries, nil
}

// ListReminders lists reminders across every readable person. status "due"
// narrows active reminders to those due today or earlier.
func (s *Service) ListReminders(ctx context.Context, session Session, query, status string) (map[string]any, error) {
	entries, err := s.reminderEntries(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	today := s.userToday(ctx, session.UserID)
	var filtered []filter.ReminderEntry
	if status == "due" {
		filtered = filter.FilterReminders(filter.DueReminders(entries, today), query, filter.Options{Status: filter.StatusActive, Today: today})
	} else {
		filtered = filter.FilterReminders(entries, query, filter.Options{Status: filter.ParseStatus(status), Today: today})
	}
	return remindersResponse(filtered, today), nil
}

func remindersResponse(entries []filter.ReminderEntry, today string) map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := reminderPayload(entry.Reminder, today)
		item["personName"] = entry.Person.Name
		items = append(items, item)
	}
	return map[string]any{"reminders": items, "today": today}
}

func (s *Service) CreateReminder(ctx context.Context, session Session, personID string, input ReminderInput) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	reminder := store.Reminder{ID: util.NewID(util.PrefixReminder), PersonID: person.ID}
	if input.Text != nil {
		reminder.Text = trimmed(*input.Text)
	}
	if err := validateReminderText(reminder.Text); err != nil {
		return nil, err
	}
	if input.Due == nil || trimmed(*input.Due) == "" {
		return nil, validationError("due is required")
	}
	if reminder.DueAtDate, err = s.resolveDue(ctx, session.UserID, *input.Due); err != nil {
		return nil, err
	}
	if reminder.Repeat, err = parseRepeat(input.Repeat); err != nil {
		return nil, err
	}
	if err := s.store.InsertReminder(ctx, reminder); err != nil {
		return nil, err
	}
	created, err := s.store.GetReminder(ctx, person.ID, reminder.ID)
	if err != nil {
		return nil, fmt.Errorf("reload reminder: %w", err)
	}
	s.indexReminder(person, created)
	return map[string]any{"reminder": reminderPayload(created, s.userToday(ctx, session.UserID))}, nil
}

func validateReminderText(text string) error {
	if text == "" {
		return validationError("text is required")
	}
	if len([]rune(text)) > maxReminderLength {
		return validationError(fmt.Sprintf("text must be at most %d characters", maxReminderLength))
	}
	return nil
}

func (s *Service) UpdateReminder(ctx context.Context, session Session, personID, reminderID string, input ReminderInput) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	reminder, err := s.loadReminder(ctx, person.ID, reminderID)
	if err != nil {
		return nil, err
	}
	if input.Text != nil {
		reminder.Text = trimmed(*input.Text)
	}
	if err := validateReminderText(reminder.Text); err != nil {
		return nil, err
	}
	if input.Due != nil {
		if reminder.DueAtDate, err = s.resolveDue(ctx, session.UserID, *input.Due); err != nil {
			return nil, err
		}
	}
	switch {
	case input.ClearRepeat:
		reminder.Repeat = nil
	case input.Repeat != nil:
		if reminder.Repeat, err = parseRepeat(input.Repeat); err != nil {
			return nil, err
		}
	}
	if input.Done != nil {
		reminder.Done = *input.Done
	}
	updated, err := s.store.UpdateReminder(ctx, reminder)
	if err != nil {
		return nil, err
	}
	s.indexReminder(person, updated)
	return map[string]any{"reminder": reminderPayload(updated, s.userToday(ctx, session.UserID))}, nil
}

// CompleteReminder marks a one-off reminder done. Repeating reminders stay
// open and move to their next due date after today.
func (s *Service) CompleteReminder(ctx context.Context, session Session, personID, reminderID string) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	reminder, err := s.loadReminder(ctx, person.ID, reminderID)
	if err != nil {
		return nil, err
	}
	if reminder.DeletedAt != nil {
		return nil, validationError("deleted reminders cannot be completed")
	}
	today := s.userToday(ctx, session.UserID)
	rolled := false
	if reminder.Repeat != nil {
		next, err := NextDueDate(reminder.DueAtDate, today, *reminder.Repeat)
		if err != nil {
			return nil, err
		}
		reminder.DueAtDate = next
		reminder.Done = false
		rolled = true
	} else {
		reminder.Done = true
	}
	updated, err := s.store.UpdateReminder(ctx, reminder)
	if err != nil {
		return nil, err
	}
	s.indexReminder(person, updated)
	return map[string]any{"reminder": reminderPayload(updated, today), "rolledForward": rolled}, nil
}

func (s *Service) DeleteReminder(ctx context.Context, session Session, personID, reminderID string) (map[string]any, error) {
	return s.setReminderDeleted(ctx, session, personID, reminderID, true)
}

func (s *Service) RestoreReminder(ctx context.Context, session Session, personID, reminderID string) (map[string]any, error) {
	return s.setReminderDeleted(ctx, session, personID, reminderID, false)
}

func (s *Service) setReminderDeleted(ctx context.Context, session Session, personID, reminderID string, deleted bool) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	reminder, err := s.loadReminder(ctx, person.ID, reminderID)
	if err != nil {
		return nil, err
	}
	if (reminder.DeletedAt != nil) != deleted {
		if deleted {
			now := s.now().UTC()
			reminder.DeletedAt = &now
		} else {
			reminder.DeletedAt = nil
		}
		if reminder, err = s.store.UpdateReminder(ctx, reminder); err != nil {
			return nil, err
		}
	}
	s.indexReminder(person, reminder)
	return map[string]any{"reminder": reminderPayload(reminder, s.userToday(ctx, session.UserID))}, nil
}

func (s *Service) indexReminder(person store.Person, reminder store.Reminder) {
	if s.search == nil {
		return
	}
	if reminder.DeletedAt != nil || person.DeletedAt != nil {
		s.search.Remove(search.ResultReminder, reminder.ID)
		return
	}
	s.search.IndexReminder(search.ReminderRecord{
		ID:         reminder.ID,
		PersonID:   person.ID,
		PersonName: person.Name,
		GroupID:    person.GroupID,
		Text:       reminder.Text,
		DueAtDate:  reminder.DueAtDate,
	})
}

// Search runs a full-text query scoped to the caller's groups.
func (s *Service) Search(ctx context.Context, session Session, text, kind string, limit, offset int) (map[string]any, error) {
	if s.search == nil {
		return nil, unavailable("SEARCH_UNAVAILABLE", "Search is not configured")
	}
	resultType, ok := search.ParseResultType(kind)
	if !ok {
		return nil, validationError("type must be person, note or reminder")
	}
	text = trimmed(text)
	if text == "" {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": ""}, nil
	}
	groupIDs, err := s.store.AccessibleGroupIDs(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	response := s.search.Search(ctx, search.Query{
		Text:     text,
		Type:     resultType,
		GroupIDs: groupIDs,
		Limit:    limit,
		Offset:   offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
		"backend": s.search.Backend(),
	}, nil
}
