package store

import (
	"context"
	"database/sql"
	"fmt"
)

// accessibleGroupsSQL selects every group whose records user $1 can reach:
// direct memberships plus the parents of invite groups the user belongs to.
const accessibleGroupsSQL = `
	SELECT gm.group_id FROM group_members gm WHERE gm.user_id = $1
	UNION
	SELECT g.parent_group_id FROM group_members gm
	JOIN groups g ON g.id = gm.group_id
	WHERE gm.user_id = $1 AND g.parent_group_id IS NOT NULL`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// EnsureUser returns the stored user, creating it together with its personal
// group on first sight. Email and display name are refreshed when provided.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User, personalGroupID string) (User, bool, error) {
	var (
		result  User
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, display_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, user.ID, user.Email, user.DisplayName)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			created = true
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO groups (id, kind, role, created_by) VALUES ($1, 'personal', 'admin', $2)
			`, personalGroupID, user.ID); err != nil {
				return fmt.Errorf("insert personal group: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'admin')
			`, personalGroupID, user.ID); err != nil {
				return fmt.Errorf("insert personal membership: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE users SET personal_group_id=$2 WHERE id=$1`, user.ID, personalGroupID); err != nil {
				return fmt.Errorf("link personal group: %w", err)
			}
		} else if user.Email != "" || user.DisplayName != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE users
				SET email = COALESCE(NULLIF($2, ''), email),
					display_name = COALESCE(NULLIF($3, ''), display_name)
				WHERE id=$1
			`, user.ID, user.Email, user.DisplayName); err != nil {
				return fmt.Errorf("refresh user: %w", err)
			}
		}
		result, err = scanUser(tx.QueryRowContext(ctx, selectUserSQL+` WHERE id=$1`, user.ID))
		if err != nil {
			return fmt.Errorf("read user: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, false, err
	}
	return result, created, nil
}

const selectUserSQL = `SELECT id, email, display_name, COALESCE(personal_group_id, ''), created_at FROM users`

func scanUser(row rowScanner) (User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PersonalGroupID, &user.CreatedAt); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUserSQL+` WHERE id=$1`, userID))
}

const selectGroupSQL = `
	SELECT id, kind, COALESCE(parent_group_id, ''), COALESCE(person_id, ''), role, COALESCE(created_by, ''), created_at
	FROM groups`

func scanGroup(row rowScanner) (Group, error) {
	var group Group
	err := row.Scan(&group.ID, &group.Kind, &group.ParentGroupID, &group.PersonID, &group.Role, &group.CreatedBy, &group.CreatedAt)
	return group, err
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, selectGroupSQL+` WHERE id=$1`, groupID))
}

func insertGroup(ctx context.Context, tx *sql.Tx, group Group) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO groups (id, kind, parent_group_id, person_id, role, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, group.ID, group.Kind, nullString(group.ParentGroupID), nullString(group.PersonID), group.Role, nullString(group.CreatedBy))
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// EffectiveRoles returns every role user holds on group, directly or through an
// invite group. sql.ErrNoRows means no access at all.
func (s *PostgresStore) EffectiveRoles(ctx context.Context, userID, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gm.role FROM group_members gm WHERE gm.user_id=$1 AND gm.group_id=$2
		UNION ALL
		SELECT g.role FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id=$1 AND g.parent_group_id=$2
	`, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("effective role: %w", err)
	}
	defer rows.Close()
	roles := make([]string, 0, 1)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	if len(roles) == 0 {
		return nil, sql.ErrNoRows
	}
	return roles, nil
}

func (s *PostgresStore) GetMemberRole(ctx context.Context, groupID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gm.group_id, gm.user_id, gm.role, u.email, u.display_name, gm.created_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id=$1
		ORDER BY gm.created_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()
	items := make([]GroupMember, 0)
	for rows.Next() {
		var item GroupMember
		if err := rows.Scan(&item.GroupID, &item.UserID, &item.Role, &item.Email, &item.DisplayName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountGroupAdmins(ctx context.Context, groupID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id=$1 AND role='admin'`, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count group admins: %w", err)
	}
	return count, nil
}

// AccessibleGroupIDs lists the groups whose records userID can read.
func (s *PostgresStore) AccessibleGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, accessibleGroupsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list accessible groups: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scopeClause restricts a query to groups reachable by user $1 when the
// placeholder is non-empty.
func scopeClause(column string) string {
	return fmt.Sprintf("($1 = '' OR %s IN (%s))", column, accessibleGroupsSQL)
}
