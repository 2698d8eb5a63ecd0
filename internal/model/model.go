package model

import "time"

// Status is the lifecycle state of a race weekend relative to a reference
// instant. It is always derived and never persisted.
type Status string

const (
	StatusUnknown   Status = ""
	StatusUpcoming  Status = "upcoming"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
)

// Event formats as reported by the schedule provider.
const (
	FormatConventional     = "conventional"
	FormatSprint           = "sprint"
	FormatSprintQualifying = "sprint_qualifying"
	FormatSprintShootout   = "sprint_shootout"
)

// RawSession is a provider-shaped session entry. Timestamps are kept as text
// so that zone handling happens in one place (calendar.Normalize).
type RawSession struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// RawEvent is a single provider record before normalization.
type RawEvent struct {
	Season       string       `json:"season"`
	Round        string       `json:"round"`
	Name         string       `json:"name"`
	OfficialName string       `json:"official_name,omitempty"`
	Country      string       `json:"country,omitempty"`
	Locality     string       `json:"locality,omitempty"`
	Circuit      string       `json:"circuit,omitempty"`
	Format       string       `json:"format,omitempty"`
	Start        string       `json:"start,omitempty"`
	End          string       `json:"end,omitempty"`
	Sessions     []RawSession `json:"sessions,omitempty"`
}

// Location is the country/locality pair of a race weekend.
type Location struct {
	Country  string
	Locality string
}

// Session is one timed session of a race weekend, in UTC.
type Session struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RaceEvent is the canonical, normalized race weekend. Values are never
// mutated after construction; classification produces copies.
type RaceEvent struct {
	Season       int
	Round        int
	Name         string
	OfficialName string
	Circuit      string
	Format       string
	Location     Location

	// Start is the first session start, End the final (race) session end.
	Start time.Time
	End   time.Time

	Sessions []Session

	Status Status
}

// IsSprint reports whether the weekend runs a sprint race.
func (e RaceEvent) IsSprint() bool {
	switch e.Format {
	case FormatSprint, FormatSprintQualifying, FormatSprintShootout:
		return true
	}
	return false
}

// Calendar is an ordered, duplicate-free sequence of race events for one
// season. Construct it through calendar.Normalize; the zero value is an empty
// calendar.
type Calendar struct {
	season int
	asOf   time.Time
	events []RaceEvent
}

// NewCalendar wraps already ordered events. The slice is copied.
func NewCalendar(season int, events []RaceEvent) Calendar {
	return Calendar{season: season, events: cloneEvents(events)}
}

// WithAsOf returns a copy of c classified at asOf with the given events.
func (c Calendar) WithAsOf(asOf time.Time, events []RaceEvent) Calendar {
	return Calendar{season: c.season, asOf: asOf, events: cloneEvents(events)}
}

func (c Calendar) Season() int { return c.season }

// AsOf is the reference instant of the last classification, zero if the
// calendar has not been classified.
func (c Calendar) AsOf() time.Time { return c.asOf }

func (c Calendar) Len() int { return len(c.events) }

// Events returns a copy of the events in round order.
func (c Calendar) Events() []RaceEvent {
	return cloneEvents(c.events)
}

// Round looks up an event by round number.
func (c Calendar) Round(round int) (RaceEvent, bool) {
	for _, ev := range c.events {
		if ev.Round == round {
			return cloneEvent(ev), true
		}
	}
	return RaceEvent{}, false
}

// Featured is the single event most relevant to the reference instant.
type Featured struct {
	Event RaceEvent
	// TimeUntilStart is set only when Event is upcoming.
	TimeUntilStart time.Duration
}

// Summary aggregates a classified calendar for dashboards.
type Summary struct {
	TotalRaces     int
	StatusCounts   map[Status]int
	FormatCounts   map[string]int
	SprintRaces    int
	FirstRaceStart time.Time
	LastRaceStart  time.Time
}

func cloneEvents(in []RaceEvent) []RaceEvent {
	if in == nil {
		return nil
	}
	out := make([]RaceEvent, len(in))
	for i, ev := range in {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneEvent(ev RaceEvent) RaceEvent {
	if ev.Sessions != nil {
		ev.Sessions = append([]Session(nil), ev.Sessions...)
	}
	return ev
}
