package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"racecal/internal/model"
)

const productID = "-//racecal//season calendar//EN"

// BuildFeed renders cal as an iCalendar (RFC 5545) document.
//
//   - One VEVENT per session, so subscribers see practice, qualifying and the
//     race as separate entries.
//   - Events without session detail are emitted as a single VEVENT spanning
//     the whole weekend.
//   - All times are written in UTC; calendar clients localize them.
//
// stamp is used for DTSTAMP so the output is deterministic for a given input.
func BuildFeed(cal model.Calendar, stamp time.Time) string {
	out := ical.NewCalendar()
	out.SetMethod(ical.MethodPublish)
	out.SetProductId(productID)
	out.SetXWRCalName(fmt.Sprintf("Formula 1 %d", cal.Season()))

	stamp = stamp.UTC()
	for _, ev := range cal.Events() {
		if len(ev.Sessions) == 0 {
			addEvent(out, ev, model.Session{Name: "Weekend", Start: ev.Start, End: ev.End}, ev.Name, stamp)
			continue
		}
		for _, s := range ev.Sessions {
			addEvent(out, ev, s, ev.Name+" - "+s.Name, stamp)
		}
	}

	return out.Serialize()
}

func addEvent(out *ical.Calendar, ev model.RaceEvent, s model.Session, summary string, stamp time.Time) {
	vev := out.AddEvent(eventUID(ev, s.Name))
	vev.SetDtStampTime(stamp)
	vev.SetStartAt(s.Start.UTC())
	vev.SetEndAt(s.End.UTC())
	vev.SetSummary(summary)
	if loc := location(ev); loc != "" {
		vev.SetLocation(loc)
	}
	vev.SetDescription(description(ev))
}

// eventUID is stable across exports so clients update entries in place.
func eventUID(ev model.RaceEvent, session string) string {
	return fmt.Sprintf("%d-%02d-%s@racecal", ev.Season, ev.Round, slug(session))
}

func location(ev model.RaceEvent) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{ev.Circuit, ev.Location.Locality, ev.Location.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func description(ev model.RaceEvent) string {
	name := ev.OfficialName
	if name == "" {
		name = ev.Name
	}
	d := fmt.Sprintf("Round %d: %s", ev.Round, name)
	if ev.IsSprint() {
		d += " (sprint weekend)"
	}
	return d
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
