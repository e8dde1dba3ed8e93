package search

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili   *Meili
	pgfts   *PgFTS
	pending sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) Backend() string {
	if s.meiliReady() {
		return "meilisearch"
	}
	return "postgres"
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if len(q.GroupIDs) == 0 {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn("meilisearch failed, falling back to postgres", "err", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Error("postgres search failed", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPerson indexes a person (fire-and-forget to Meilisearch).
func (s *Service) IndexPerson(p PersonRecord) {
	s.async("index person", p.ID, func(m *Meili) error { return m.IndexPeople([]PersonRecord{p}) })
}

// IndexNote indexes a note (fire-and-forget to Meilisearch).
func (s *Service) IndexNote(n NoteRecord) {
	s.async("index note", n.ID, func(m *Meili) error { return m.IndexNotes([]NoteRecord{n}) })
}

// IndexReminder indexes a reminder (fire-and-forget to Meilisearch).
func (s *Service) IndexReminder(r ReminderRecord) {
	s.async("index reminder", r.ID, func(m *Meili) error { return m.IndexReminders([]ReminderRecord{r}) })
}

// Remove drops one entity from the index (fire-and-forget).
func (s *Service) Remove(t ResultType, id string) {
	s.async("remove "+string(t), id, func(m *Meili) error { return m.Delete(t, id) })
}

func (s *Service) async(op, id string, fn func(*Meili) error) {
	if !s.meiliReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(s.meili); err != nil {
			log.Warn("search index update failed", "op", op, "id", id, "err", err)
		}
	}()
}

// ReindexAllFromPG reindexes all active people, notes and reminders from
// PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) error {
	if !s.meiliReady() || s.pgfts == nil {
		return nil
	}
	people, notes, reminders, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.meili.IndexPeople(people); err != nil {
		return err
	}
	if err := s.meili.IndexNotes(notes); err != nil {
		return err
	}
	if err := s.meili.IndexReminders(reminders); err != nil {
		return err
	}
	log.Info("search reindexed", "people", len(people), "notes", len(notes), "reminders", len(reminders))
	return nil
}

// Close waits for pending index updates and stops the health monitor.
func (s *Service) Close() {
	s.pending.Wait()
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
