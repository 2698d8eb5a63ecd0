package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"racecal/internal/model"
)

// DefaultBaseURL is the Ergast-compatible Jolpica endpoint.
const DefaultBaseURL = "https://api.jolpi.ca/ergast/f1"

// Nominal session lengths. The provider publishes start times only.
const (
	practiceDuration         = 60 * time.Minute
	qualifyingDuration       = 60 * time.Minute
	sprintDuration           = 60 * time.Minute
	sprintQualifyingDuration = 45 * time.Minute
	raceDuration             = 2 * time.Hour
)

// JolpicaSource fetches season schedules from the Jolpica F1 API.
type JolpicaSource struct {
	client  *http.Client
	baseURL string
}

// NewJolpicaSource creates a source. An empty baseURL uses DefaultBaseURL and
// a non-positive timeout defaults to 15s.
func NewJolpicaSource(baseURL string, timeout time.Duration) *JolpicaSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JolpicaSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type jolpicaResponse struct {
	MRData struct {
		RaceTable struct {
			Season string        `json:"season"`
			Races  []jolpicaRace `json:"Races"`
		} `json:"RaceTable"`
	} `json:"MRData"`
}

type jolpicaSession struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type jolpicaRace struct {
	Season   string `json:"season"`
	Round    string `json:"round"`
	RaceName string `json:"raceName"`
	Circuit  struct {
		CircuitName string `json:"circuitName"`
		Location    struct {
			Locality string `json:"locality"`
			Country  string `json:"country"`
		} `json:"Location"`
	} `json:"Circuit"`
	Date string `json:"date"`
	Time string `json:"time"`

	FirstPractice    *jolpicaSession `json:"FirstPractice"`
	SecondPractice   *jolpicaSession `json:"SecondPractice"`
	ThirdPractice    *jolpicaSession `json:"ThirdPractice"`
	Qualifying       *jolpicaSession `json:"Qualifying"`
	Sprint           *jolpicaSession `json:"Sprint"`
	SprintQualifying *jolpicaSession `json:"SprintQualifying"`
	SprintShootout   *jolpicaSession `json:"SprintShootout"`
}

// FetchSeason implements Source.
func (s *JolpicaSource) FetchSeason(ctx context.Context, season int) ([]model.RawEvent, error) {
	url := fmt.Sprintf("%s/%d.json?limit=100", s.baseURL, season)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.New(resp.Status)
	}

	var payload jolpicaResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	races := payload.MRData.RaceTable.Races
	out := make([]model.RawEvent, 0, len(races))
	for _, r := range races {
		out = append(out, r.toRaw())
	}
	return out, nil
}

func (r jolpicaRace) toRaw() model.RawEvent {
	ev := model.RawEvent{
		Season:       r.Season,
		Round:        r.Round,
		Name:         r.RaceName,
		OfficialName: r.RaceName,
		Country:      r.Circuit.Location.Country,
		Locality:     r.Circuit.Location.Locality,
		Circuit:      r.Circuit.CircuitName,
		Format:       r.format(),
	}

	add := func(name string, s *jolpicaSession, d time.Duration) {
		if s == nil || s.Date == "" {
			return
		}
		ev.Sessions = append(ev.Sessions, rawSession(name, s.Date, s.Time, d))
	}
	add("Practice 1", r.FirstPractice, practiceDuration)
	add("Practice 2", r.SecondPractice, practiceDuration)
	add("Practice 3", r.ThirdPractice, practiceDuration)
	add("Sprint Qualifying", r.SprintQualifying, sprintQualifyingDuration)
	add("Sprint Shootout", r.SprintShootout, sprintQualifyingDuration)
	add("Sprint", r.Sprint, sprintDuration)
	add("Qualifying", r.Qualifying, qualifyingDuration)
	add("Race", &jolpicaSession{Date: r.Date, Time: r.Time}, raceDuration)

	return ev
}

func (r jolpicaRace) format() string {
	switch {
	case r.SprintQualifying != nil:
		return model.FormatSprintQualifying
	case r.SprintShootout != nil:
		return model.FormatSprintShootout
	case r.Sprint != nil:
		return model.FormatSprint
	default:
		return model.FormatConventional
	}
}

// rawSession joins the provider's date and time. Without a time only the
// bare date is emitted, which normalization rejects as ambiguous.
func rawSession(name, date, clock string, d time.Duration) model.RawSession {
	if clock == "" {
		return model.RawSession{Name: name, Start: date}
	}
	start := date + "T" + clock
	rs := model.RawSession{Name: name, Start: start}
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		rs.End = t.Add(d).Format(time.RFC3339)
	}
	return rs
}
