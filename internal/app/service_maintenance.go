package app

import (
	"context"
	"errors"

	"tilly/api/internal/export"
)

func (s *Service) Export(ctx context.Context, session Session, format string, includeDeleted bool) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return nil, validationError("format must be json or markdown")
	}
	result, err := s.exporter.Export(ctx, export.Request{
		UserID:         session.UserID,
		Format:         parsed,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		return nil, err
	}
	logger(ctx).Info("export generated", "userId", session.UserID, "format", parsed, "bytes", len(result.Data))
	return result, nil
}

// RunMaintenance runs the cleanup routines scoped to the caller's groups.
// The web app calls it after sign-in.
func (s *Service) RunMaintenance(ctx context.Context, session Session) (map[string]any, error) {
	if s.cleanup == nil {
		return map[string]any{"report": nil, "skipped": true}, nil
	}
	report, err := s.cleanup.RunForUser(ctx, session.UserID, s.now())
	if err != nil {
		logger(ctx).Warn("maintenance run incomplete", "userId", session.UserID, "err", err)
		return map[string]any{"report": report, "partial": true}, nil
	}
	return map[string]any{"report": report}, nil
}
