package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

// openTestDB resets the public schema of TILLY_TEST_DATABASE_URL and applies
// all migrations. Tests skip when the variable is unset.
func openTestDB(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TILLY_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TILLY_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	_, err = ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	return NewPostgresStore(db), ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s, ctx := openTestDB(t)
	db := s.DB()

	require.NoError(t, applyDownMigrations(ctx, db, testMigrationsDir))
	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)

	applied, err := ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	states, err := MigrationStatus(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	for _, state := range states {
		require.True(t, state.Applied, state.Version)
	}

	again, err := ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestSharingAndCleanupPostgres(t *testing.T) {
	s, ctx := openTestDB(t)

	owner, created, err := s.EnsureUser(ctx, User{ID: "user_owner", Email: "owner@example.com", DisplayName: "Owner"}, "grp_owner")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "grp_owner", owner.PersonalGroupID)

	_, created, err = s.EnsureUser(ctx, User{ID: "user_owner", DisplayName: "Owner Renamed"}, "grp_unused")
	require.NoError(t, err)
	require.False(t, created)

	guest, _, err := s.EnsureUser(ctx, User{ID: "user_guest", Email: "guest@example.com"}, "grp_guest")
	require.NoError(t, err)

	require.NoError(t, s.InsertPerson(ctx, Person{ID: "per_ada", GroupID: owner.PersonalGroupID, Name: "Ada", Summary: "#friends"}))
	require.NoError(t, s.InsertReminder(ctx, Reminder{ID: "rem_1", PersonID: "per_ada", Text: "Call", DueAtDate: "2024-03-01"}))

	due, err := s.CountDueReminders(ctx, owner.ID, "2024-03-01")
	require.NoError(t, err)
	require.Equal(t, 1, due)

	require.NoError(t, s.MovePersonToGroup(ctx, "per_ada", Group{ID: "grp_ada", Kind: GroupKindPerson, PersonID: "per_ada", Role: "admin", CreatedBy: owner.ID},
		GroupMember{UserID: owner.ID, Role: "admin"}))

	invite := Invite{ID: "inv_1", GroupID: "grp_inv", ParentGroupID: "grp_ada", PersonID: "per_ada", Role: "writer", SecretHash: "hash", CreatedBy: owner.ID}
	require.NoError(t, s.CreateInvite(ctx, Group{ID: "grp_inv", Kind: GroupKindInvite, ParentGroupID: "grp_ada", Role: "writer", CreatedBy: owner.ID}, invite))

	pending, err := s.ListPendingInvites(ctx, "grp_ada")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.AcceptInvite(ctx, invite, guest.ID, "writer", time.Now().UTC()))
	roles, err := s.EffectiveRoles(ctx, guest.ID, "grp_ada")
	require.NoError(t, err)
	require.Equal(t, []string{"writer"}, roles)

	people, err := s.ListPeopleForUser(ctx, guest.ID)
	require.NoError(t, err)
	require.Len(t, people, 1)

	_, err = s.GetGroup(ctx, "grp_inv")
	require.ErrorIs(t, err, sql.ErrNoRows)

	deletedAt := time.Now().UTC().Add(-40 * 24 * time.Hour)
	person, err := s.GetPerson(ctx, "per_ada")
	require.NoError(t, err)
	person.DeletedAt = &deletedAt
	_, err = s.UpdatePerson(ctx, person)
	require.NoError(t, err)

	archived, err := s.ArchiveDeleted(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, archived)

	purged, err := s.PurgeDeleted(ctx, owner.ID, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged.People)
	require.Equal(t, []string{"per_ada"}, purged.PersonIDs)
	require.Equal(t, []string{"rem_1"}, purged.ReminderIDs)

	_, err = s.GetGroup(ctx, "grp_ada")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}
	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	var downs []string
	for _, entry := range entries {
		if pattern.MatchString(entry.Name()) {
			downs = append(downs, filepath.Join(migrationsDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, path := range downs {
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if text := strings.TrimSpace(string(sqlBytes)); text != "" {
			if _, err := db.ExecContext(ctx, text); err != nil {
				return err
			}
		}
	}
	return nil
}
