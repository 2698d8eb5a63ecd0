package service

import (
	"context"
	"fmt"
	"time"

	"racecal/internal/calendar"
	appLog "racecal/internal/log"
	"racecal/internal/model"
	"racecal/internal/provider"
)

// Where the base calendar of a Result came from.
const (
	SourceStore    = "store"
	SourceProvider = "provider"
	SourceCache    = "cache"
)

// Provider is the capability to validate and fetch raw season records.
type Provider interface {
	CheckSeason(season int) error
	FetchSeason(ctx context.Context, season int) (provider.Result, error)
}

// Store is the optional persistence capability.
type Store interface {
	Upsert(ctx context.Context, cal model.Calendar) (int64, error)
	ReadSeason(ctx context.Context, season int) (model.Calendar, bool, error)
}

// Result is a classified season calendar with its featured event.
type Result struct {
	Calendar    model.Calendar
	Featured    model.Featured
	HasFeatured bool
	Summary     model.Summary
	Source      string
	Stale       bool
}

// Service composes provider, normalizer, classifier and store.
type Service struct {
	provider Provider
	store    Store
}

// New creates a Service. store may be nil to run provider-only.
func New(p Provider, s Store) *Service {
	return &Service{provider: p, store: s}
}

// GetSeasonCalendar builds the classified calendar for season at asOf.
//
// The store is consulted first; on a miss or store failure the provider
// records are normalized and written back best-effort. Only unsupported
// seasons, an unavailable provider without cache, and malformed provider
// data are returned as errors. Store failures are logged and absorbed.
func (s *Service) GetSeasonCalendar(ctx context.Context, season int, asOf time.Time) (Result, error) {
	if err := s.provider.CheckSeason(season); err != nil {
		return Result{}, err
	}

	base, source, stale, err := s.baseCalendar(ctx, season)
	if err != nil {
		return Result{}, err
	}
	return classify(base, source, stale, asOf), nil
}

// Refresh pulls season from the provider, bypassing the store read, writes
// the result back best-effort and classifies it at asOf. Scheduled jobs use
// it to keep the disk cache and the store current.
func (s *Service) Refresh(ctx context.Context, season int, asOf time.Time) (Result, error) {
	if err := s.provider.CheckSeason(season); err != nil {
		return Result{}, err
	}
	base, source, stale, err := s.fetch(ctx, season)
	if err != nil {
		return Result{}, err
	}
	return classify(base, source, stale, asOf), nil
}

func classify(base model.Calendar, source string, stale bool, asOf time.Time) Result {
	classified := calendar.Classify(base, asOf)
	featured, ok := calendar.Feature(classified)

	return Result{
		Calendar:    classified,
		Featured:    featured,
		HasFeatured: ok,
		Summary:     calendar.Summarize(classified),
		Source:      source,
		Stale:       stale,
	}
}

func (s *Service) baseCalendar(ctx context.Context, season int) (model.Calendar, string, bool, error) {
	if s.store != nil {
		cal, ok, err := s.store.ReadSeason(ctx, season)
		switch {
		case err != nil:
			appLog.Warn("store read failed; using provider", "season", season, "err", err)
		case ok && cal.Len() > 0:
			appLog.Debug("calendar served from store", "season", season, "events", cal.Len())
			return cal, SourceStore, false, nil
		}
	}

	return s.fetch(ctx, season)
}

// fetch runs provider, normalizer and the best-effort upsert.
func (s *Service) fetch(ctx context.Context, season int) (model.Calendar, string, bool, error) {
	res, err := s.provider.FetchSeason(ctx, season)
	if err != nil {
		return model.Calendar{}, "", false, err
	}

	cal, err := calendar.Normalize(res.Records)
	if err != nil {
		return model.Calendar{}, "", false, fmt.Errorf("season %d: normalize: %w", season, err)
	}
	if cal.Len() > 0 && cal.Season() != season {
		return model.Calendar{}, "", false, fmt.Errorf("season %d: %w: provider returned season %d", season, calendar.ErrMalformedRecord, cal.Season())
	}
	if cal.Len() == 0 {
		cal = model.NewCalendar(season, nil)
	}

	if s.store != nil && cal.Len() > 0 {
		if n, err := s.store.Upsert(ctx, cal); err != nil {
			appLog.Warn("store upsert failed; continuing without persistence", "season", season, "err", err)
		} else {
			appLog.Debug("calendar persisted", "season", season, "rows_affected", n)
		}
	}

	source := SourceProvider
	if res.FromCache {
		source = SourceCache
	}
	return cal, source, res.Stale, nil
}
