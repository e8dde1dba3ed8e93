package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const tsQuery = "plainto_tsquery('simple', $1)"

// searchSQL builds the UNION ALL over the selected entity types. $1 is the
// query text and $2 the visible group IDs.
func searchSQL(q Query) string {
	var subQueries []string
	if q.wants(ResultPerson) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'person'::text AS type, p.id, p.id AS person_id, p.name AS title,
				ts_headline('simple', p.summary, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(p.fts, %[1]s) AS rank
			FROM people p
			WHERE p.fts @@ %[1]s AND p.deleted_at IS NULL AND p.group_id = ANY($2)`, tsQuery))
	}
	if q.wants(ResultNote) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, p.id AS person_id, p.name AS title,
				ts_headline('simple', n.content, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(n.fts, %[1]s) AS rank
			FROM notes n
			JOIN people p ON p.id = n.person_id
			WHERE n.fts @@ %[1]s AND n.deleted_at IS NULL AND p.deleted_at IS NULL AND p.group_id = ANY($2)`, tsQuery))
	}
	if q.wants(ResultReminder) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'reminder'::text AS type, r.id, p.id AS person_id, p.name AS title,
				ts_headline('simple', r.text, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(r.fts, %[1]s) AS rank
			FROM reminders r
			JOIN people p ON p.id = r.person_id
			WHERE r.fts @@ %[1]s AND r.deleted_at IS NULL AND p.deleted_at IS NULL AND p.group_id = ANY($2)`, tsQuery))
	}
	return strings.Join(subQueries, " UNION ALL ")
}

// Search ranks matches with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.GroupIDs) == 0 {
		return nil, 0, nil
	}
	union := searchSQL(q)
	if union == "" {
		return nil, 0, nil
	}
	args := []any{q.Text, q.GroupIDs}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, person_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.PersonID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all active records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PersonRecord, []NoteRecord, []ReminderRecord, error) {
	people := make([]PersonRecord, 0)
	err := p.each(ctx, `
		SELECT id, group_id, name, summary FROM people WHERE deleted_at IS NULL
	`, func(rows *sql.Rows) error {
		var r PersonRecord
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Name, &r.Summary); err != nil {
			return err
		}
		people = append(people, r)
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load people: %w", err)
	}

	notes := make([]NoteRecord, 0)
	err = p.each(ctx, `
		SELECT n.id, p.id, p.name, p.group_id, n.content
		FROM notes n JOIN people p ON p.id = n.person_id
		WHERE n.deleted_at IS NULL AND p.deleted_at IS NULL
	`, func(rows *sql.Rows) error {
		var r NoteRecord
		if err := rows.Scan(&r.ID, &r.PersonID, &r.PersonName, &r.GroupID, &r.Content); err != nil {
			return err
		}
		notes = append(notes, r)
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load notes: %w", err)
	}

	reminders := make([]ReminderRecord, 0)
	err = p.each(ctx, `
		SELECT r.id, p.id, p.name, p.group_id, r.text, to_char(r.due_at_date, 'YYYY-MM-DD')
		FROM reminders r JOIN people p ON p.id = r.person_id
		WHERE r.deleted_at IS NULL AND p.deleted_at IS NULL
	`, func(rows *sql.Rows) error {
		var r ReminderRecord
		if err := rows.Scan(&r.ID, &r.PersonID, &r.PersonName, &r.GroupID, &r.Text, &r.DueAtDate); err != nil {
			return err
		}
		reminders = append(reminders, r)
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load reminders: %w", err)
	}
	return people, notes, reminders, nil
}

func (p *PgFTS) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
