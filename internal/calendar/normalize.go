package calendar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"racecal/internal/model"
)

// offsetLayouts carry their own zone offset.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04Z0700",
}

// localLayouts are accepted for the date-time part of zone-qualified values.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize converts provider records into an ordered calendar.
//
//   - Round is coerced to a positive integer.
//   - Timestamps are converted to UTC; values without zone information are
//     rejected with ErrAmbiguousTimestamp.
//   - Missing event start/end are taken from the sessions.
//   - Records sharing a round are deduplicated, the later one winning.
//     Superseded records are not validated.
//   - The result is sorted by round.
//
// Normalize does no I/O and keeps no state.
func Normalize(records []model.RawEvent) (model.Calendar, error) {
	if len(records) == 0 {
		return model.Calendar{}, nil
	}

	// Index of the last record per round. Unparsable rounds have no entry
	// and fail in normalizeRecord.
	last := make(map[int]int, len(records))
	for i, rec := range records {
		if round, err := strconv.Atoi(strings.TrimSpace(rec.Round)); err == nil {
			last[round] = i
		}
	}

	season := 0
	byRound := make(map[int]model.RaceEvent, len(records))

	for i, rec := range records {
		if round, err := strconv.Atoi(strings.TrimSpace(rec.Round)); err == nil && last[round] != i {
			continue
		}
		ev, err := normalizeRecord(i, rec)
		if err != nil {
			return model.Calendar{}, err
		}
		if season == 0 {
			season = ev.Season
		} else if ev.Season != season {
			return model.Calendar{}, &RecordError{
				Index: i, Season: rec.Season, Round: rec.Round, Field: "season",
				Err: fmt.Errorf("%w: mixed seasons %d and %d", ErrMalformedRecord, season, ev.Season),
			}
		}
		byRound[ev.Round] = ev
	}

	events := make([]model.RaceEvent, 0, len(byRound))
	for _, ev := range byRound {
		events = append(events, ev)
	}
	sort.Slice(events, func(a, b int) bool { return events[a].Round < events[b].Round })

	return model.NewCalendar(season, events), nil
}

func normalizeRecord(i int, rec model.RawEvent) (model.RaceEvent, error) {
	fail := func(field, value string, err error) error {
		return &RecordError{Index: i, Season: rec.Season, Round: rec.Round, Field: field, Value: value, Err: err}
	}

	var ev model.RaceEvent

	season, err := strconv.Atoi(strings.TrimSpace(rec.Season))
	if err != nil || season < 1000 || season > 9999 {
		return ev, fail("season", rec.Season, ErrMalformedRecord)
	}
	round, err := strconv.Atoi(strings.TrimSpace(rec.Round))
	if err != nil || round <= 0 {
		return ev, fail("round", rec.Round, ErrMalformedRecord)
	}
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return ev, fail("name", "", ErrMalformedRecord)
	}

	ev = model.RaceEvent{
		Season:       season,
		Round:        round,
		Name:         name,
		OfficialName: strings.TrimSpace(rec.OfficialName),
		Circuit:      strings.TrimSpace(rec.Circuit),
		Format:       strings.TrimSpace(rec.Format),
		Location: model.Location{
			Country:  strings.TrimSpace(rec.Country),
			Locality: strings.TrimSpace(rec.Locality),
		},
	}

	for j, rs := range rec.Sessions {
		field := fmt.Sprintf("sessions[%d]", j)
		start, err := ParseTimestamp(rs.Start)
		if err != nil {
			return ev, fail(field+".start", rs.Start, err)
		}
		end := start
		if strings.TrimSpace(rs.End) != "" {
			if end, err = ParseTimestamp(rs.End); err != nil {
				return ev, fail(field+".end", rs.End, err)
			}
		}
		if end.Before(start) {
			return ev, fail(field, rs.Name, fmt.Errorf("%w: session ends before it starts", ErrMalformedRecord))
		}
		ev.Sessions = append(ev.Sessions, model.Session{Name: strings.TrimSpace(rs.Name), Start: start, End: end})
	}
	sort.SliceStable(ev.Sessions, func(a, b int) bool { return ev.Sessions[a].Start.Before(ev.Sessions[b].Start) })

	if strings.TrimSpace(rec.Start) != "" {
		if ev.Start, err = ParseTimestamp(rec.Start); err != nil {
			return ev, fail("start", rec.Start, err)
		}
	} else if len(ev.Sessions) > 0 {
		ev.Start = ev.Sessions[0].Start
	} else {
		return ev, fail("start", "", ErrMalformedRecord)
	}

	if strings.TrimSpace(rec.End) != "" {
		if ev.End, err = ParseTimestamp(rec.End); err != nil {
			return ev, fail("end", rec.End, err)
		}
	} else if len(ev.Sessions) > 0 {
		ev.End = latestEnd(ev.Sessions)
	} else {
		return ev, fail("end", "", ErrMalformedRecord)
	}

	if ev.End.Before(ev.Start) {
		return ev, fail("end", rec.End, fmt.Errorf("%w: event ends before it starts", ErrMalformedRecord))
	}
	return ev, nil
}

func latestEnd(sessions []model.Session) time.Time {
	var end time.Time
	for _, s := range sessions {
		if s.End.After(end) {
			end = s.End
		}
	}
	return end
}

// ParseTimestamp parses a zone-qualified timestamp and returns it in UTC.
//
// Accepted forms:
//
//	2025-03-16T04:00:00Z
//	2025-03-16T15:00:00+11:00
//	2025-03-16T15:00:00[Australia/Melbourne]
//	2025-03-16T15:00:00 Australia/Melbourne
//
// Date-only values and local date-times without a zone return
// ErrAmbiguousTimestamp.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedRecord)
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}

	local, zone := splitZone(v)
	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil || zone == "Local" {
			return time.Time{}, fmt.Errorf("%w: unknown time zone %q", ErrMalformedRecord, zone)
		}
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, local, loc); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrMalformedRecord, v)
	}

	// Recognizable but zone-less values are ambiguous rather than malformed.
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return time.Time{}, fmt.Errorf("%w: date without time zone %q", ErrAmbiguousTimestamp, v)
	}
	for _, layout := range localLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return time.Time{}, fmt.Errorf("%w: no zone in %q", ErrAmbiguousTimestamp, v)
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrMalformedRecord, v)
}

// splitZone separates "<local>[Zone]" or "<local> Zone" into its parts.
func splitZone(v string) (local, zone string) {
	if strings.HasSuffix(v, "]") {
		if i := strings.LastIndex(v, "["); i > 0 {
			return strings.TrimSpace(v[:i]), strings.TrimSpace(v[i+1 : len(v)-1])
		}
	}
	if i := strings.LastIndex(v, " "); i > 0 {
		tail := v[i+1:]
		// IANA names contain a letter; a time component never does.
		if strings.ContainsAny(tail, "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz") {
			return strings.TrimSpace(v[:i]), tail
		}
	}
	return v, ""
}
