package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	appLog "racecal/internal/log"
	"racecal/internal/model"
)

// Source is a network schedule provider.
type Source interface {
	FetchSeason(ctx context.Context, season int) ([]model.RawEvent, error)
}

// Result is the outcome of Adapter.FetchSeason.
type Result struct {
	Season    int
	Records   []model.RawEvent
	FetchedAt time.Time // when the records were obtained from the network
	FromCache bool      // true if no network fetch happened for this call
	Stale     bool      // true if served from cache after a failed fetch
}

// cacheEntry is the on-disk snapshot of one season.
type cacheEntry struct {
	Season    int              `json:"season"`
	FetchedAt time.Time        `json:"fetched_at"`
	Records   []model.RawEvent `json:"records"`
}

// Options configures an Adapter.
type Options struct {
	// CacheDir holds one JSON file per season.
	CacheDir string
	// Freshness is the maximum cache age served without a network call.
	// Zero disables fresh hits; the cache is then only a fallback.
	Freshness time.Duration
	// MinSeason / MaxSeason bound the supported seasons (inclusive).
	MinSeason int
	MaxSeason int
}

// Adapter wraps a Source with a per-season disk cache.
type Adapter struct {
	src  Source
	opts Options
	now  func() time.Time
}

// NewAdapter creates an Adapter. An empty CacheDir falls back to a relative
// directory so development runs work without extra setup.
func NewAdapter(src Source, opts Options) *Adapter {
	if opts.CacheDir == "" {
		opts.CacheDir = "./var/schedule-cache"
	}
	return &Adapter{src: src, opts: opts, now: time.Now}
}

// WithClock replaces the clock used for freshness checks and cache stamps.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// CheckSeason reports ErrUnsupportedSeason for seasons outside the range.
func (a *Adapter) CheckSeason(season int) error {
	if season < a.opts.MinSeason || (a.opts.MaxSeason > 0 && season > a.opts.MaxSeason) {
		return &SeasonError{
			Season: season,
			Err:    fmt.Errorf("%w: supported range is %d-%d", ErrUnsupportedSeason, a.opts.MinSeason, a.opts.MaxSeason),
		}
	}
	return nil
}

// FetchSeason returns the raw records of a season.
//
//   - A cache entry younger than Options.Freshness is returned without
//     touching the network.
//   - Otherwise the source is queried and the cache rewritten atomically.
//   - If the query fails, any cached entry is returned with Stale set;
//     without one the call fails with ErrProviderUnavailable.
func (a *Adapter) FetchSeason(ctx context.Context, season int) (Result, error) {
	if err := a.CheckSeason(season); err != nil {
		return Result{}, err
	}

	path := a.cachePath(season)
	cached, cacheErr := loadCache(path)
	if cacheErr != nil && !errors.Is(cacheErr, os.ErrNotExist) {
		appLog.Error("schedule cache unreadable; ignoring", cacheErr, "season", season, "path", path)
	}
	haveCache := cacheErr == nil

	if haveCache && a.opts.Freshness > 0 && a.now().Sub(cached.FetchedAt) < a.opts.Freshness {
		appLog.Debug("schedule cache hit", "season", season, "fetched_at", cached.FetchedAt.Format(time.RFC3339))
		return Result{
			Season:    season,
			Records:   cached.Records,
			FetchedAt: cached.FetchedAt,
			FromCache: true,
		}, nil
	}

	appLog.Info("schedule fetch start", "season", season)

	records, err := a.src.FetchSeason(ctx, season)
	if err != nil {
		if haveCache {
			appLog.Error("schedule fetch failed, using cached copy", err, "season", season, "fetched_at", cached.FetchedAt.Format(time.RFC3339))
			return Result{
				Season:    season,
				Records:   cached.Records,
				FetchedAt: cached.FetchedAt,
				FromCache: true,
				Stale:     true,
			}, nil
		}
		return Result{}, &SeasonError{Season: season, Err: fmt.Errorf("%w: %v", ErrProviderUnavailable, err)}
	}

	entry := cacheEntry{Season: season, FetchedAt: a.now().UTC(), Records: records}
	if err := saveCache(path, entry); err != nil {
		// Log but still return the freshly fetched records.
		appLog.Error("schedule cache save failed", err, "season", season, "path", path)
	}

	appLog.Info("schedule fetch success", "season", season, "records", len(records))

	return Result{
		Season:    season,
		Records:   records,
		FetchedAt: entry.FetchedAt,
	}, nil
}

func (a *Adapter) cachePath(season int) string {
	return filepath.Join(a.opts.CacheDir, fmt.Sprintf("season-%04d.json", season))
}

func loadCache(path string) (cacheEntry, error) {
	var entry cacheEntry
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return cacheEntry{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return entry, nil
}

// saveCache writes the entry atomically: temp file in the same directory,
// fsync, then rename over the target. Readers see either the old or the new
// file, never a partial one.
func saveCache(path string, entry cacheEntry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".season-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
