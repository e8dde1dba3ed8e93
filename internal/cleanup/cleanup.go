// Package cleanup keeps the inactive lists tidy: soft-deleted records move to
// the inactive list, undeleted ones move back, stale records are hard deleted
// and invite groups nobody joined expire.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"tilly/api/internal/metrics"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
)

// ErrBlobsUnavailable reports purged records whose objects could not be
// removed because no blob store is configured.
var ErrBlobsUnavailable = errors.New("cleanup: object storage unavailable")

type Store interface {
	ArchiveDeleted(ctx context.Context, userID string) (int64, error)
	RestoreUndeleted(ctx context.Context, userID string) (int64, error)
	PurgeDeleted(ctx context.Context, userID string, cutoff time.Time) (store.PurgeResult, error)
	DeleteStaleInviteGroups(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

// BlobRemover drops avatar and note image objects of purged records.
type BlobRemover interface {
	RemoveObjects(ctx context.Context, keys []string) error
}

// IndexRemover drops purged records from the search index.
type IndexRemover interface {
	Remove(t search.ResultType, id string)
}

type Report struct {
	Archived     int64 `json:"archived"`
	Restored     int64 `json:"restored"`
	Purged       int64 `json:"purged"`
	StaleInvites int64 `json:"staleInvites"`
}

func (r Report) counts() map[string]int64 {
	return map[string]int64{
		"archived":      r.Archived,
		"restored":      r.Restored,
		"purged":        r.Purged,
		"stale_invites": r.StaleInvites,
	}
}

type Service struct {
	store            Store
	blobs            BlobRemover
	index            IndexRemover
	metrics          *metrics.Metrics
	deletedRetention time.Duration
	inviteRetention  time.Duration
	interval         time.Duration
}

type Options struct {
	DeletedRetention time.Duration
	InviteRetention  time.Duration
	Interval         time.Duration
	// Index is optional; purged ids are removed from it when set.
	Index            IndexRemover
}

func New(s Store, blobs BlobRemover, m *metrics.Metrics, opts Options) *Service {
	if opts.DeletedRetention <= 0 {
		opts.DeletedRetention = 30 * 24 * time.Hour
	}
	if opts.InviteRetention <= 0 {
		opts.InviteRetention = 7 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Service{
		store:            s,
		blobs:            blobs,
		index:            opts.Index,
		metrics:          m,
		deletedRetention: opts.DeletedRetention,
		inviteRetention:  opts.InviteRetention,
		interval:         opts.Interval,
	}
}

// Run cleans up every user's records.
func (s *Service) Run(ctx context.Context, now time.Time) (Report, error) {
	return s.run(ctx, "", now)
}

// RunForUser limits cleanup to groups the user can reach.
func (s *Service) RunForUser(ctx context.Context, userID string, now time.Time) (Report, error) {
	if userID == "" {
		return Report{}, errors.New("cleanup: user id required")
	}
	return s.run(ctx, userID, now)
}

// run executes every step even when an earlier one failed; failures are
// joined into the returned error.
func (s *Service) run(ctx context.Context, userID string, now time.Time) (Report, error) {
	var (
		report Report
		errs   []error
	)

	archived, err := s.store.ArchiveDeleted(ctx, userID)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}
	report.Archived = archived

	restored, err := s.store.RestoreUndeleted(ctx, userID)
	if err != nil {
		errs = append(errs, fmt.Errorf("restore: %w", err))
	}
	report.Restored = restored

	purged, err := s.store.PurgeDeleted(ctx, userID, now.Add(-s.deletedRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge: %w", err))
	}
	report.Purged = purged.Total()
	if len(purged.BlobKeys) > 0 {
		if s.blobs == nil {
			log.Error("purged objects left in storage", "keys", purged.BlobKeys)
			errs = append(errs, fmt.Errorf("%w: %d objects not removed", ErrBlobsUnavailable, len(purged.BlobKeys)))
		} else if err := s.blobs.RemoveObjects(ctx, purged.BlobKeys); err != nil {
			errs = append(errs, fmt.Errorf("remove blobs: %w", err))
		}
	}
	s.unindex(purged)

	stale, err := s.store.DeleteStaleInviteGroups(ctx, userID, now.Add(-s.inviteRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("stale invites: %w", err))
	}
	report.StaleInvites = stale

	joined := errors.Join(errs...)
	s.metrics.ObserveCleanup(report.counts(), joined != nil)

	logger := log.With("scope", scopeLabel(userID))
	if joined != nil {
		logger.Error("cleanup finished with errors", "archived", report.Archived, "restored", report.Restored,
			"purged", report.Purged, "staleInvites", report.StaleInvites, "err", joined)
	} else if report != (Report{}) {
		logger.Info("cleanup finished", "archived", report.Archived, "restored", report.Restored,
			"purged", report.Purged, "staleInvites", report.StaleInvites)
	}
	return report, joined
}

func (s *Service) unindex(purged store.PurgeResult) {
	if s.index == nil {
		return
	}
	for _, id := range purged.PersonIDs {
		s.index.Remove(search.ResultPerson, id)
	}
	for _, id := range purged.NoteIDs {
		s.index.Remove(search.ResultNote, id)
	}
	for _, id := range purged.ReminderIDs {
		s.index.Remove(search.ResultReminder, id)
	}
}

func scopeLabel(userID string) string {
	if userID == "" {
		return "all"
	}
	return userID
}

// Start runs cleanup on every tick until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			_, _ = s.Run(ctx, tick.UTC())
		}
	}
}
