package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Maintenance queries take a userID scope: an empty scope covers every user.

func (s *PostgresStore) ArchiveDeleted(ctx context.Context, userID string) (int64, error) {
	return s.execCounted(ctx, "archive deleted", userID,
		`UPDATE people p SET inactive=TRUE
		WHERE p.deleted_at IS NOT NULL AND p.inactive=FALSE AND `+scopeClause("p.group_id"),
		`UPDATE notes n SET inactive=TRUE FROM people p
		WHERE p.id = n.person_id AND n.deleted_at IS NOT NULL AND n.inactive=FALSE AND `+scopeClause("p.group_id"),
		`UPDATE reminders r SET inactive=TRUE FROM people p
		WHERE p.id = r.person_id AND r.deleted_at IS NOT NULL AND r.inactive=FALSE AND `+scopeClause("p.group_id"),
	)
}

func (s *PostgresStore) RestoreUndeleted(ctx context.Context, userID string) (int64, error) {
	return s.execCounted(ctx, "restore undeleted", userID,
		`UPDATE people p SET inactive=FALSE
		WHERE p.deleted_at IS NULL AND p.inactive=TRUE AND `+scopeClause("p.group_id"),
		`UPDATE notes n SET inactive=FALSE FROM people p
		WHERE p.id = n.person_id AND n.deleted_at IS NULL AND n.inactive=TRUE AND `+scopeClause("p.group_id"),
		`UPDATE reminders r SET inactive=FALSE FROM people p
		WHERE p.id = r.person_id AND r.deleted_at IS NULL AND r.inactive=TRUE AND `+scopeClause("p.group_id"),
	)
}

func (s *PostgresStore) execCounted(ctx context.Context, label, userID string, statements ...string) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, statement := range statements {
			res, err := tx.ExecContext(ctx, statement, userID)
			if err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

// PurgeDeleted hard deletes inactive records soft-deleted before cutoff.
// Purging a person removes its notes, reminders and person group too.
func (s *PostgresStore) PurgeDeleted(ctx context.Context, userID string, cutoff time.Time) (PurgeResult, error) {
	result := PurgeResult{
		BlobKeys:    make([]string, 0),
		PersonIDs:   make([]string, 0),
		NoteIDs:     make([]string, 0),
		ReminderIDs: make([]string, 0),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, keys, err := collectNotes(ctx, tx, `
			DELETE FROM notes n USING people p
			WHERE p.id = n.person_id AND n.inactive=TRUE AND n.deleted_at < $2 AND `+scopeClause("p.group_id")+`
			RETURNING n.id, n.image_keys
		`, userID, cutoff)
		if err != nil {
			return fmt.Errorf("purge notes: %w", err)
		}
		result.Notes = int64(len(ids))
		result.NoteIDs = append(result.NoteIDs, ids...)
		result.BlobKeys = append(result.BlobKeys, keys...)

		ids, err = collectIDs(ctx, tx, `
			DELETE FROM reminders r USING people p
			WHERE p.id = r.person_id AND r.inactive=TRUE AND r.deleted_at < $2 AND `+scopeClause("p.group_id")+`
			RETURNING r.id
		`, userID, cutoff)
		if err != nil {
			return fmt.Errorf("purge reminders: %w", err)
		}
		result.Reminders = int64(len(ids))
		result.ReminderIDs = append(result.ReminderIDs, ids...)

		ids, keys, err = collectNotes(ctx, tx, `
			SELECT n.id, n.image_keys FROM notes n
			JOIN people p ON p.id = n.person_id
			WHERE p.inactive=TRUE AND p.deleted_at < $2 AND `+scopeClause("p.group_id"),
			userID, cutoff)
		if err != nil {
			return fmt.Errorf("collect person notes: %w", err)
		}
		result.NoteIDs = append(result.NoteIDs, ids...)
		result.BlobKeys = append(result.BlobKeys, keys...)

		ids, err = collectIDs(ctx, tx, `
			SELECT r.id FROM reminders r
			JOIN people p ON p.id = r.person_id
			WHERE p.inactive=TRUE AND p.deleted_at < $2 AND `+scopeClause("p.group_id"),
			userID, cutoff)
		if err != nil {
			return fmt.Errorf("collect person reminders: %w", err)
		}
		result.ReminderIDs = append(result.ReminderIDs, ids...)

		rows, err := tx.QueryContext(ctx, `
			DELETE FROM people p
			WHERE p.inactive=TRUE AND p.deleted_at < $2 AND `+scopeClause("p.group_id")+`
			RETURNING p.id, p.avatar_key
		`, userID, cutoff)
		if err != nil {
			return fmt.Errorf("purge people: %w", err)
		}
		for rows.Next() {
			var id, avatarKey string
			if err := rows.Scan(&id, &avatarKey); err != nil {
				rows.Close()
				return fmt.Errorf("scan purged person: %w", err)
			}
			result.PersonIDs = append(result.PersonIDs, id)
			if avatarKey != "" {
				result.BlobKeys = append(result.BlobKeys, avatarKey)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate purged people: %w", err)
		}
		result.People = int64(len(result.PersonIDs))

		if len(result.PersonIDs) > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE kind='person' AND person_id = ANY($1)`, result.PersonIDs); err != nil {
				return fmt.Errorf("purge person groups: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}
	return result, nil
}

// collectNotes reads (id, image_keys) rows.
func collectNotes(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, []string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var ids, keys []string
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		keys = append(keys, decodeKeys(raw)...)
	}
	return ids, keys, rows.Err()
}

func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteStaleInviteGroups removes invite groups created before cutoff that
// nobody joined, along with their pending invite rows.
func (s *PostgresStore) DeleteStaleInviteGroups(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT g.id FROM groups g
			WHERE g.kind='invite'
				AND g.created_at < $2
				AND NOT EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = g.id)
				AND `+scopeClause("g.parent_group_id"),
			userID, cutoff)
		if err != nil {
			return fmt.Errorf("find stale invite groups: %w", err)
		}
		groupIDs := make([]string, 0)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale invite group: %w", err)
			}
			groupIDs = append(groupIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate stale invite groups: %w", err)
		}
		if len(groupIDs) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE group_id = ANY($1) AND accepted_at IS NULL`, groupIDs); err != nil {
			return fmt.Errorf("delete stale invites: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ANY($1)`, groupIDs)
		if err != nil {
			return fmt.Errorf("delete stale invite groups: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
