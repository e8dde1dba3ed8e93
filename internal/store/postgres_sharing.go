package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MovePersonToGroup creates a person group owned by owner and moves the
// person into it in one transaction.
func (s *PostgresStore) MovePersonToGroup(ctx context.Context, personID string, group Group, owner GroupMember) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertGroup(ctx, tx, group); err != nil {
			return err
		}
		if err := upsertMember(ctx, tx, group.ID, owner.UserID, owner.Role); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE people SET group_id=$2, updated_at=NOW() WHERE id=$1`, personID, group.ID)
		if err != nil {
			return fmt.Errorf("move person: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func upsertMember(ctx context.Context, tx *sql.Tx, groupID, userID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, groupID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert group member: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMemberRole(ctx context.Context, groupID, userID, role string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertMember(ctx, tx, groupID, userID, role)
	})
}

// CreateInvite stores the invite group and its invite row together.
func (s *PostgresStore) CreateInvite(ctx context.Context, group Group, invite Invite) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertGroup(ctx, tx, group); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invites (id, group_id, parent_group_id, person_id, role, email, secret_hash, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, invite.ID, invite.GroupID, invite.ParentGroupID, invite.PersonID, invite.Role, invite.Email, invite.SecretHash, nullString(invite.CreatedBy))
		if err != nil {
			return fmt.Errorf("insert invite: %w", err)
		}
		return nil
	})
}

const selectInviteSQL = `
	SELECT id, group_id, parent_group_id, person_id, role, email, secret_hash, COALESCE(created_by, ''),
		created_at, accepted_at, COALESCE(accepted_by, ''), revoked_at
	FROM invites`

func scanInvite(row rowScanner) (Invite, error) {
	var (
		item       Invite
		acceptedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	err := row.Scan(&item.ID, &item.GroupID, &item.ParentGroupID, &item.PersonID, &item.Role, &item.Email, &item.SecretHash, &item.CreatedBy,
		&item.CreatedAt, &acceptedAt, &item.AcceptedBy, &revokedAt)
	if err != nil {
		return Invite{}, err
	}
	item.AcceptedAt = nullTime(acceptedAt)
	item.RevokedAt = nullTime(revokedAt)
	return item, nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (Invite, error) {
	return scanInvite(s.db.QueryRowContext(ctx, selectInviteSQL+` WHERE id=$1`, inviteID))
}

func (s *PostgresStore) ListPendingInvites(ctx context.Context, parentGroupID string) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx, selectInviteSQL+`
		WHERE parent_group_id=$1 AND accepted_at IS NULL AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, parentGroupID)
	if err != nil {
		return nil, fmt.Errorf("list pending invites: %w", err)
	}
	defer rows.Close()
	items := make([]Invite, 0)
	for rows.Next() {
		item, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return items, nil
}

// AcceptInvite grants role on the parent group, marks the invite accepted and
// drops the invite group. The caller decides the final role.
func (s *PostgresStore) AcceptInvite(ctx context.Context, invite Invite, userID, role string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertMember(ctx, tx, invite.ParentGroupID, userID, role); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE invites SET accepted_at=$2, accepted_by=$3
			WHERE id=$1 AND accepted_at IS NULL AND revoked_at IS NULL
		`, invite.ID, at, userID)
		if err != nil {
			return fmt.Errorf("mark invite accepted: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, invite.GroupID); err != nil {
			return fmt.Errorf("delete invite group: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RevokeInvite(ctx context.Context, invite Invite, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE invites SET revoked_at=$2
			WHERE id=$1 AND accepted_at IS NULL AND revoked_at IS NULL
		`, invite.ID, at)
		if err != nil {
			return fmt.Errorf("mark invite revoked: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, invite.GroupID); err != nil {
			return fmt.Errorf("delete invite group: %w", err)
		}
		return nil
	})
}
