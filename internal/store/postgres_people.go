package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const selectPersonSQL = `
	SELECT p.id, p.group_id, p.name, p.summary, p.avatar_key, p.inactive, p.deleted_at, p.created_at, p.updated_at
	FROM people p`

func scanPerson(row rowScanner) (Person, error) {
	var (
		item      Person
		deletedAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.GroupID, &item.Name, &item.Summary, &item.AvatarKey, &item.Inactive, &deletedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Person{}, err
	}
	item.DeletedAt = nullTime(deletedAt)
	return item, nil
}

func (s *PostgresStore) InsertPerson(ctx context.Context, item Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (id, group_id, name, summary, avatar_key)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.GroupID, item.Name, item.Summary, item.AvatarKey)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, personID string) (Person, error) {
	return scanPerson(s.db.QueryRowContext(ctx, selectPersonSQL+` WHERE p.id=$1`, personID))
}

// UpdatePerson writes the mutable fields and bumps updated_at.
func (s *PostgresStore) UpdatePerson(ctx context.Context, item Person) (Person, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE people p
		SET name=$2, summary=$3, avatar_key=$4, deleted_at=$5, group_id=$6, updated_at=NOW()
		WHERE p.id=$1
		RETURNING p.id, p.group_id, p.name, p.summary, p.avatar_key, p.inactive, p.deleted_at, p.created_at, p.updated_at
	`, item.ID, item.Name, item.Summary, item.AvatarKey, timeArg(item.DeletedAt), item.GroupID)
	return scanPerson(row)
}

func (s *PostgresStore) ListPeopleForUser(ctx context.Context, userID string) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, selectPersonSQL+`
		WHERE p.group_id IN (`+accessibleGroupsSQL+`)
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()
	items := make([]Person, 0)
	for rows.Next() {
		item, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return items, nil
}

const selectNoteSQL = `
	SELECT n.id, n.person_id, n.content, n.pinned, n.image_keys, n.inactive, n.deleted_at, n.created_at, n.updated_at
	FROM notes n`

func scanNote(row rowScanner) (Note, error) {
	var (
		item      Note
		imageKeys []byte
		deletedAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.PersonID, &item.Content, &item.Pinned, &imageKeys, &item.Inactive, &deletedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Note{}, err
	}
	item.ImageKeys = decodeKeys(imageKeys)
	item.DeletedAt = nullTime(deletedAt)
	return item, nil
}

func decodeKeys(raw []byte) []string {
	keys := make([]string, 0)
	if len(raw) == 0 {
		return keys
	}
	_ = json.Unmarshal(raw, &keys)
	return keys
}

func encodeKeys(keys []string) string {
	if len(keys) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, person_id, content, pinned, image_keys)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, item.ID, item.PersonID, item.Content, item.Pinned, encodeKeys(item.ImageKeys))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, personID, noteID string) (Note, error) {
	return scanNote(s.db.QueryRowContext(ctx, selectNoteSQL+` WHERE n.id=$1 AND n.person_id=$2`, noteID, personID))
}

func (s *PostgresStore) UpdateNote(ctx context.Context, item Note) (Note, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notes n
		SET content=$2, pinned=$3, image_keys=$4::jsonb, deleted_at=$5, updated_at=NOW()
		WHERE n.id=$1
		RETURNING n.id, n.person_id, n.content, n.pinned, n.image_keys, n.inactive, n.deleted_at, n.created_at, n.updated_at
	`, item.ID, item.Content, item.Pinned, encodeKeys(item.ImageKeys), timeArg(item.DeletedAt))
	return scanNote(row)
}

func (s *PostgresStore) ListNotesForPerson(ctx context.Context, personID string) ([]Note, error) {
	return s.queryNotes(ctx, selectNoteSQL+` WHERE n.person_id=$1 ORDER BY n.created_at DESC`, personID)
}

func (s *PostgresStore) ListNotesForUser(ctx context.Context, userID string) ([]Note, error) {
	return s.queryNotes(ctx, selectNoteSQL+`
		JOIN people p ON p.id = n.person_id
		WHERE p.group_id IN (`+accessibleGroupsSQL+`)
		ORDER BY n.created_at DESC
	`, userID)
}

func (s *PostgresStore) queryNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

const selectReminderSQL = `
	SELECT r.id, r.person_id, r.text, r.due_at_date, r.repeat_interval, r.repeat_unit, r.done, r.inactive, r.deleted_at, r.created_at, r.updated_at
	FROM reminders r`

func scanReminder(row rowScanner) (Reminder, error) {
	var (
		item           Reminder
		due            time.Time
		repeatInterval sql.NullInt64
		repeatUnit     sql.NullString
		deletedAt      sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.PersonID, &item.Text, &due, &repeatInterval, &repeatUnit, &item.Done, &item.Inactive, &deletedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Reminder{}, err
	}
	item.DueAtDate = due.Format(time.DateOnly)
	if repeatInterval.Valid && repeatUnit.Valid {
		item.Repeat = &Repeat{Interval: int(repeatInterval.Int64), Unit: repeatUnit.String}
	}
	item.DeletedAt = nullTime(deletedAt)
	return item, nil
}

func repeatArgs(repeat *Repeat) (any, any) {
	if repeat == nil {
		return nil, nil
	}
	return repeat.Interval, repeat.Unit
}

func (s *PostgresStore) InsertReminder(ctx context.Context, item Reminder) error {
	interval, unit := repeatArgs(item.Repeat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, person_id, text, due_at_date, repeat_interval, repeat_unit, done)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
	`, item.ID, item.PersonID, item.Text, item.DueAtDate, interval, unit, item.Done)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReminder(ctx context.Context, personID, reminderID string) (Reminder, error) {
	return scanReminder(s.db.QueryRowContext(ctx, selectReminderSQL+` WHERE r.id=$1 AND r.person_id=$2`, reminderID, personID))
}

func (s *PostgresStore) UpdateReminder(ctx context.Context, item Reminder) (Reminder, error) {
	interval, unit := repeatArgs(item.Repeat)
	row := s.db.QueryRowContext(ctx, `
		UPDATE reminders r
		SET text=$2, due_at_date=$3::date, repeat_interval=$4, repeat_unit=$5, done=$6, deleted_at=$7, updated_at=NOW()
		WHERE r.id=$1
		RETURNING r.id, r.person_id, r.text, r.due_at_date, r.repeat_interval, r.repeat_unit, r.done, r.inactive, r.deleted_at, r.created_at, r.updated_at
	`, item.ID, item.Text, item.DueAtDate, interval, unit, item.Done, timeArg(item.DeletedAt))
	return scanReminder(row)
}

func (s *PostgresStore) ListRemindersForPerson(ctx context.Context, personID string) ([]Reminder, error) {
	return s.queryReminders(ctx, selectReminderSQL+` WHERE r.person_id=$1 ORDER BY r.due_at_date ASC, r.created_at ASC`, personID)
}

func (s *PostgresStore) ListRemindersForUser(ctx context.Context, userID string) ([]Reminder, error) {
	return s.queryReminders(ctx, selectReminderSQL+`
		JOIN people p ON p.id = r.person_id
		WHERE p.group_id IN (`+accessibleGroupsSQL+`)
		ORDER BY r.due_at_date ASC, r.created_at ASC
	`, userID)
}

func (s *PostgresStore) queryReminders(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	items := make([]Reminder, 0)
	for rows.Next() {
		item, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return items, nil
}

// CountDueReminders counts open reminders due on or before localDate across
// every group the user can reach.
func (s *PostgresStore) CountDueReminders(ctx context.Context, userID, localDate string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM reminders r
		JOIN people p ON p.id = r.person_id
		WHERE p.group_id IN (`+accessibleGroupsSQL+`)
			AND r.done = FALSE
			AND r.deleted_at IS NULL
			AND p.deleted_at IS NULL
			AND r.due_at_date <= $2::date
	`, userID, localDate).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count due reminders: %w", err)
	}
	return count, nil
}
