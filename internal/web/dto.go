package web

import (
	"time"

	"racecal/internal/model"
	"racecal/internal/service"
)

type sessionDTO struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// raceDTO is a JSON-friendly view of a classified race event.
type raceDTO struct {
	Season       int          `json:"season"`
	Round        int          `json:"round"`
	Name         string       `json:"name"`
	OfficialName string       `json:"official_name,omitempty"`
	Circuit      string       `json:"circuit,omitempty"`
	Country      string       `json:"country,omitempty"`
	Locality     string       `json:"locality,omitempty"`
	Format       string       `json:"format,omitempty"`
	Sprint       bool         `json:"sprint"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	Status       model.Status `json:"status"`
	Sessions     []sessionDTO `json:"sessions"`
}

type featuredDTO struct {
	Race                  raceDTO `json:"race"`
	TimeUntilStart        string  `json:"time_until_start"`
	TimeUntilStartSeconds int64   `json:"time_until_start_seconds"`
}

type summaryDTO struct {
	TotalRaces     int            `json:"total_races"`
	StatusCounts   map[string]int `json:"status_counts"`
	FormatCounts   map[string]int `json:"format_counts"`
	SprintRaces    int            `json:"sprint_races"`
	FirstRaceStart *time.Time     `json:"first_race_start,omitempty"`
	LastRaceStart  *time.Time     `json:"last_race_start,omitempty"`
}

// calendarResponse is the JSON response shape for /api/seasons/{season}/calendar.
type calendarResponse struct {
	Season   int          `json:"season"`
	AsOf     time.Time    `json:"as_of"`
	Source   string       `json:"source"`
	Stale    bool         `json:"stale"`
	Races    []raceDTO    `json:"races"`
	Featured *featuredDTO `json:"featured,omitempty"`
	Summary  summaryDTO   `json:"summary"`
}

func toCalendarResponse(res service.Result) calendarResponse {
	events := res.Calendar.Events()
	races := make([]raceDTO, 0, len(events))
	for _, ev := range events {
		races = append(races, toRaceDTO(ev))
	}

	out := calendarResponse{
		Season:  res.Calendar.Season(),
		AsOf:    res.Calendar.AsOf(),
		Source:  res.Source,
		Stale:   res.Stale,
		Races:   races,
		Summary: toSummaryDTO(res.Summary),
	}
	if res.HasFeatured {
		f := toFeaturedDTO(res.Featured)
		out.Featured = &f
	}
	return out
}

func toRaceDTO(ev model.RaceEvent) raceDTO {
	sessions := make([]sessionDTO, 0, len(ev.Sessions))
	for _, s := range ev.Sessions {
		sessions = append(sessions, sessionDTO{Name: s.Name, Start: s.Start, End: s.End})
	}
	return raceDTO{
		Season:       ev.Season,
		Round:        ev.Round,
		Name:         ev.Name,
		OfficialName: ev.OfficialName,
		Circuit:      ev.Circuit,
		Country:      ev.Location.Country,
		Locality:     ev.Location.Locality,
		Format:       ev.Format,
		Sprint:       ev.IsSprint(),
		Start:        ev.Start,
		End:          ev.End,
		Status:       ev.Status,
		Sessions:     sessions,
	}
}

func toFeaturedDTO(f model.Featured) featuredDTO {
	return featuredDTO{
		Race:                  toRaceDTO(f.Event),
		TimeUntilStart:        f.TimeUntilStart.String(),
		TimeUntilStartSeconds: int64(f.TimeUntilStart / time.Second),
	}
}

func toSummaryDTO(s model.Summary) summaryDTO {
	out := summaryDTO{
		TotalRaces:   s.TotalRaces,
		StatusCounts: make(map[string]int, len(s.StatusCounts)),
		FormatCounts: s.FormatCounts,
		SprintRaces:  s.SprintRaces,
	}
	for k, v := range s.StatusCounts {
		out.StatusCounts[string(k)] = v
	}
	if out.FormatCounts == nil {
		out.FormatCounts = map[string]int{}
	}
	if !s.FirstRaceStart.IsZero() {
		t := s.FirstRaceStart
		out.FirstRaceStart = &t
	}
	if !s.LastRaceStart.IsZero() {
		t := s.LastRaceStart
		out.LastRaceStart = &t
	}
	return out
}
