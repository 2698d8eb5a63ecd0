package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"racecal/internal/calendar"
	"racecal/internal/model"
)

// ErrPersistence marks every store failure. Callers treat it as non-fatal.
var ErrPersistence = errors.New("persistence error")

// Error wraps a store failure with the operation and season involved.
type Error struct {
	Op     string
	Season int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s season %d: %v: %v", e.Op, e.Season, ErrPersistence, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrPersistence, e.Err} }

const schema = `CREATE TABLE IF NOT EXISTS race_events (
	season        INTEGER     NOT NULL,
	round         INTEGER     NOT NULL,
	name          TEXT        NOT NULL,
	official_name TEXT        NOT NULL DEFAULT '',
	country       TEXT        NOT NULL DEFAULT '',
	locality      TEXT        NOT NULL DEFAULT '',
	circuit       TEXT        NOT NULL DEFAULT '',
	format        TEXT        NOT NULL DEFAULT '',
	session_start TIMESTAMPTZ NOT NULL,
	session_end   TIMESTAMPTZ NOT NULL,
	sessions      JSONB       NOT NULL DEFAULT '[]',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (season, round)
)`

// Identical rows are skipped by the WHERE clause so re-upserting the same
// calendar reports zero affected rows.
const upsertSQL = `INSERT INTO race_events
	(season, round, name, official_name, country, locality, circuit, format, session_start, session_end, sessions, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
ON CONFLICT (season, round) DO UPDATE SET
	name = EXCLUDED.name,
	official_name = EXCLUDED.official_name,
	country = EXCLUDED.country,
	locality = EXCLUDED.locality,
	circuit = EXCLUDED.circuit,
	format = EXCLUDED.format,
	session_start = EXCLUDED.session_start,
	session_end = EXCLUDED.session_end,
	sessions = EXCLUDED.sessions,
	updated_at = NOW()
WHERE (race_events.name, race_events.official_name, race_events.country, race_events.locality,
       race_events.circuit, race_events.format, race_events.session_start, race_events.session_end, race_events.sessions)
	IS DISTINCT FROM
      (EXCLUDED.name, EXCLUDED.official_name, EXCLUDED.country, EXCLUDED.locality,
       EXCLUDED.circuit, EXCLUDED.format, EXCLUDED.session_start, EXCLUDED.session_end, EXCLUDED.sessions)`

const selectSeasonSQL = `SELECT round, name, official_name, country, locality, circuit, format, session_start, session_end, sessions
FROM race_events
WHERE season = $1
ORDER BY round`

// Postgres is the persistence gateway backed by a race_events table.
type Postgres struct {
	db *sql.DB
}

// Open configures a connection pool. It does not require the database to be
// reachable; the first query reports connectivity problems.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// Migrate creates the race_events table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return &Error{Op: "migrate", Err: err}
	}
	return nil
}

// Upsert writes every event of cal keyed by (season, round) in one
// transaction and returns the number of rows inserted or changed.
func (p *Postgres) Upsert(ctx context.Context, cal model.Calendar) (int64, error) {
	season := cal.Season()
	if cal.Len() == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &Error{Op: "upsert", Season: season, Err: err}
	}
	defer tx.Rollback()

	var affected int64
	for _, ev := range cal.Events() {
		sessions, err := json.Marshal(sessionsOrEmpty(ev.Sessions))
		if err != nil {
			return 0, &Error{Op: "upsert", Season: season, Err: err}
		}
		res, err := tx.ExecContext(ctx, upsertSQL,
			ev.Season, ev.Round, ev.Name, ev.OfficialName,
			ev.Location.Country, ev.Location.Locality, ev.Circuit, ev.Format,
			ev.Start.UTC(), ev.End.UTC(), string(sessions),
		)
		if err != nil {
			return 0, &Error{Op: "upsert", Season: season, Err: fmt.Errorf("round %d: %w", ev.Round, err)}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, &Error{Op: "upsert", Season: season, Err: err}
		}
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, &Error{Op: "upsert", Season: season, Err: err}
	}
	return affected, nil
}

// ReadSeason loads a season and rebuilds it through calendar.Normalize.
// It returns ok=false when the season has no rows. Statuses are left unset;
// callers classify against their own reference instant.
func (p *Postgres) ReadSeason(ctx context.Context, season int) (model.Calendar, bool, error) {
	rows, err := p.db.QueryContext(ctx, selectSeasonSQL, season)
	if err != nil {
		return model.Calendar{}, false, &Error{Op: "read", Season: season, Err: err}
	}
	defer rows.Close()

	var records []model.RawEvent
	for rows.Next() {
		var (
			rec          model.RawEvent
			round        int
			start, end   time.Time
			sessionsJSON []byte
		)
		if err := rows.Scan(&round, &rec.Name, &rec.OfficialName, &rec.Country, &rec.Locality,
			&rec.Circuit, &rec.Format, &start, &end, &sessionsJSON); err != nil {
			return model.Calendar{}, false, &Error{Op: "read", Season: season, Err: err}
		}

		var sessions []model.Session
		if len(sessionsJSON) > 0 {
			if err := json.Unmarshal(sessionsJSON, &sessions); err != nil {
				return model.Calendar{}, false, &Error{Op: "read", Season: season, Err: fmt.Errorf("round %d sessions: %w", round, err)}
			}
		}

		rec.Season = strconv.Itoa(season)
		rec.Round = strconv.Itoa(round)
		rec.Start = start.UTC().Format(time.RFC3339Nano)
		rec.End = end.UTC().Format(time.RFC3339Nano)
		for _, s := range sessions {
			rec.Sessions = append(rec.Sessions, model.RawSession{
				Name:  s.Name,
				Start: s.Start.UTC().Format(time.RFC3339Nano),
				End:   s.End.UTC().Format(time.RFC3339Nano),
			})
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return model.Calendar{}, false, &Error{Op: "read", Season: season, Err: err}
	}
	if len(records) == 0 {
		return model.Calendar{}, false, nil
	}

	cal, err := calendar.Normalize(records)
	if err != nil {
		return model.Calendar{}, false, &Error{Op: "read", Season: season, Err: err}
	}
	return cal, true, nil
}

func sessionsOrEmpty(s []model.Session) []model.Session {
	if s == nil {
		return []model.Session{}
	}
	return s
}
