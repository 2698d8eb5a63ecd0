package calendar

import (
	"time"

	"racecal/internal/model"
)

// StatusAt classifies a single event against asOf. Both boundaries are
// inclusive for ongoing, so an event ending exactly at asOf is still ongoing.
func StatusAt(ev model.RaceEvent, asOf time.Time) model.Status {
	switch {
	case asOf.Before(ev.Start):
		return model.StatusUpcoming
	case asOf.After(ev.End):
		return model.StatusCompleted
	default:
		return model.StatusOngoing
	}
}

// Classify returns a copy of cal with every event's status computed against
// asOf. Events are classified independently; overlapping weekends may both be
// ongoing.
func Classify(cal model.Calendar, asOf time.Time) model.Calendar {
	asOf = asOf.UTC()
	events := cal.Events()
	for i := range events {
		events[i].Status = StatusAt(events[i], asOf)
	}
	return cal.WithAsOf(asOf, events)
}

// Feature picks the event to highlight from a classified calendar: the
// ongoing one, else the nearest upcoming, else the most recently completed.
// It returns false only for an empty calendar.
func Feature(cal model.Calendar) (model.Featured, bool) {
	events := cal.Events()
	if len(events) == 0 {
		return model.Featured{}, false
	}

	for _, ev := range events {
		if ev.Status == model.StatusOngoing {
			return model.Featured{Event: ev}, true
		}
	}

	next := -1
	for i, ev := range events {
		if ev.Status != model.StatusUpcoming {
			continue
		}
		if next < 0 || ev.Start.Before(events[next].Start) {
			next = i
		}
	}
	if next >= 0 {
		ev := events[next]
		until := ev.Start.Sub(cal.AsOf())
		if until < 0 {
			until = 0
		}
		return model.Featured{Event: ev, TimeUntilStart: until}, true
	}

	last := -1
	for i, ev := range events {
		if ev.Status != model.StatusCompleted {
			continue
		}
		// Events are in round order, so >= prefers the higher round on ties.
		if last < 0 || !ev.End.Before(events[last].End) {
			last = i
		}
	}
	if last >= 0 {
		return model.Featured{Event: events[last]}, true
	}

	// Unclassified calendar; fall back to the first round.
	return model.Featured{Event: events[0]}, true
}

// Summarize aggregates a classified calendar.
func Summarize(cal model.Calendar) model.Summary {
	sum := model.Summary{
		StatusCounts: make(map[model.Status]int),
		FormatCounts: make(map[string]int),
	}
	for _, ev := range cal.Events() {
		sum.TotalRaces++
		sum.StatusCounts[ev.Status]++
		if ev.Format != "" {
			sum.FormatCounts[ev.Format]++
		}
		if ev.IsSprint() {
			sum.SprintRaces++
		}
		if sum.FirstRaceStart.IsZero() || ev.Start.Before(sum.FirstRaceStart) {
			sum.FirstRaceStart = ev.Start
		}
		if ev.Start.After(sum.LastRaceStart) {
			sum.LastRaceStart = ev.Start
		}
	}
	return sum
}
