package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"racecal/internal/calendar"
	"racecal/internal/config"
	appLog "racecal/internal/log"
	"racecal/internal/model"
	"racecal/internal/provider"
	"racecal/internal/service"
)

type stubGetter struct {
	err        error
	gotSeason  int
	gotAsOf    time.Time
	calledWith int
}

func (g *stubGetter) GetSeasonCalendar(_ context.Context, season int, asOf time.Time) (service.Result, error) {
	g.calledWith++
	g.gotSeason = season
	g.gotAsOf = asOf
	if g.err != nil {
		return service.Result{}, g.err
	}
	base := model.NewCalendar(season, []model.RaceEvent{
		{
			Season: season, Round: 1, Name: "Australian Grand Prix", Format: model.FormatConventional,
			Location: model.Location{Country: "Australia", Locality: "Melbourne"},
			Start:    time.Date(2025, 3, 14, 1, 30, 0, 0, time.UTC),
			End:      time.Date(2025, 3, 16, 6, 0, 0, 0, time.UTC),
			Sessions: []model.Session{{Name: "Race", Start: time.Date(2025, 3, 16, 4, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 16, 6, 0, 0, 0, time.UTC)}},
		},
		{
			Season: season, Round: 2, Name: "Chinese Grand Prix", Format: model.FormatSprintQualifying,
			Location: model.Location{Country: "China", Locality: "Shanghai"},
			Start:    time.Date(2025, 3, 21, 3, 30, 0, 0, time.UTC),
			End:      time.Date(2025, 3, 23, 9, 0, 0, 0, time.UTC),
		},
	})
	classified := calendar.Classify(base, asOf)
	featured, ok := calendar.Feature(classified)
	return service.Result{
		Calendar:    classified,
		Featured:    featured,
		HasFeatured: ok,
		Summary:     calendar.Summarize(classified),
		Source:      service.SourceProvider,
	}, nil
}

var fixedNow = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestServer(cfg *config.Config, g CalendarGetter) http.Handler {
	return NewServer(cfg, g).WithClock(func() time.Time { return fixedNow }).Handler()
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(nil, &stubGetter{}), "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestCalendarEndpoint(t *testing.T) {
	g := &stubGetter{}
	rec := do(t, newTestServer(nil, g), "/api/seasons/2025/calendar?as_of=2025-03-15T00:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if g.gotSeason != 2025 || !g.gotAsOf.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected call season=%d asOf=%s", g.gotSeason, g.gotAsOf)
	}

	var body calendarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Races) != 2 {
		t.Fatalf("expected 2 races, got %d", len(body.Races))
	}
	if body.Races[0].Status != model.StatusOngoing || body.Races[1].Status != model.StatusUpcoming {
		t.Fatalf("unexpected statuses %s, %s", body.Races[0].Status, body.Races[1].Status)
	}
	if !body.Races[1].Sprint {
		t.Fatal("expected round 2 flagged as sprint")
	}
	if body.Featured == nil || body.Featured.Race.Round != 1 {
		t.Fatalf("expected round 1 featured, got %+v", body.Featured)
	}
	if body.Summary.TotalRaces != 2 || body.Summary.StatusCounts["ongoing"] != 1 {
		t.Fatalf("unexpected summary %+v", body.Summary)
	}
}

func TestCalendarEndpointDefaultsAsOfToClock(t *testing.T) {
	g := &stubGetter{}
	do(t, newTestServer(nil, g), "/api/seasons/2025/calendar")
	if !g.gotAsOf.Equal(fixedNow) {
		t.Fatalf("expected clock as_of, got %s", g.gotAsOf)
	}
}

func TestFeaturedEndpointCountdown(t *testing.T) {
	rec := do(t, newTestServer(nil, &stubGetter{}), "/api/seasons/2025/featured?as_of=2025-03-10T01:30:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body featuredDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Race.Round != 1 || body.TimeUntilStartSeconds != int64(4*24*3600) {
		t.Fatalf("expected round 1 in 4 days, got round %d in %ds", body.Race.Round, body.TimeUntilStartSeconds)
	}
}

func TestBadRequests(t *testing.T) {
	h := newTestServer(nil, &stubGetter{})
	for _, target := range []string{
		"/api/seasons/2025/calendar?as_of=yesterday",
		"/api/seasons/99999999999999999999/calendar",
	} {
		if rec := do(t, h, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	if rec := do(t, h, "/api/seasons/abc/calendar"); rec.Code != http.StatusNotFound {
		t.Errorf("non-numeric season: expected 404, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&provider.SeasonError{Season: 1900, Err: provider.ErrUnsupportedSeason}, http.StatusBadRequest},
		{&provider.SeasonError{Season: 2025, Err: provider.ErrProviderUnavailable}, http.StatusServiceUnavailable},
		{fmt.Errorf("season 2025: normalize: %w", &calendar.RecordError{Round: "3", Field: "start", Err: calendar.ErrAmbiguousTimestamp}), http.StatusBadGateway},
		{fmt.Errorf("season 2025: %w", calendar.ErrMalformedRecord), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := do(t, newTestServer(nil, &stubGetter{err: tc.err}), "/api/seasons/2025/calendar")
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Errorf("%v: expected JSON error body, got %s", tc.err, rec.Body.String())
		}
	}
}

func TestICSEndpoint(t *testing.T) {
	rec := do(t, newTestServer(nil, &stubGetter{}), "/api/seasons/2025/calendar.ics")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || strings.Count(body, "BEGIN:VEVENT") != 2 {
		t.Fatalf("unexpected feed:\n%s", body)
	}
}

func TestCalendarPage(t *testing.T) {
	cfg := config.DefaultConfig()
	g := &stubGetter{}
	rec := do(t, newTestServer(cfg, g), "/calendar")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if g.gotSeason != 2025 {
		t.Fatalf("expected season from clock year, got %d", g.gotSeason)
	}
	body := rec.Body.String()
	for _, want := range []string{`data-ready="true"`, "Australian Grand Prix", "Next race", "4d 1h"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestCalendarPageError(t *testing.T) {
	g := &stubGetter{err: &provider.SeasonError{Season: 2025, Err: provider.ErrProviderUnavailable}}
	rec := do(t, newTestServer(nil, g), "/calendar?season=2025")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `data-ready="true"`) {
		t.Fatal("error page must still signal readiness")
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "pit", Password: "wall"}
	h := newTestServer(cfg, &stubGetter{})

	if rec := do(t, h, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", rec.Code)
	}
	if rec := do(t, h, "/api/seasons/2025/calendar"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/seasons/2025/calendar", nil)
	req.SetBasicAuth("pit", "wall")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/seasons/2025/calendar", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	newTestServer(nil, &stubGetter{}).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS origin, got %q", got)
	}
}

func TestFormatCountdown(t *testing.T) {
	cases := map[time.Duration]string{
		0:                               "starting now",
		45 * time.Minute:                "45m",
		3*time.Hour + 5*time.Minute:     "3h 5m",
		4*24*time.Hour + 90*time.Minute: "4d 1h",
	}
	for d, want := range cases {
		if got := formatCountdown(d); got != want {
			t.Errorf("formatCountdown(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestFailureLogLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	appLog.SetLogger(zap.New(core))
	t.Cleanup(func() { appLog.SetLogger(zap.NewNop()) })

	cases := []struct {
		err  error
		want zapcore.Level
	}{
		{&provider.SeasonError{Season: 1900, Err: provider.ErrUnsupportedSeason}, zapcore.WarnLevel},
		{&provider.SeasonError{Season: 2025, Err: provider.ErrProviderUnavailable}, zapcore.WarnLevel},
		{fmt.Errorf("season 2025: %w", calendar.ErrMalformedRecord), zapcore.ErrorLevel},
		{fmt.Errorf("boom"), zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		for _, target := range []string{"/api/seasons/2025/calendar", "/calendar?season=2025"} {
			logs.TakeAll()
			do(t, newTestServer(nil, &stubGetter{err: tc.err}), target)
			entries := logs.FilterMessageSnippet("failed").All()
			if len(entries) != 1 {
				t.Fatalf("%s %v: expected one failure entry, got %d", target, tc.err, len(entries))
			}
			if entries[0].Level != tc.want {
				t.Errorf("%s %v: expected %s, got %s", target, tc.err, tc.want, entries[0].Level)
			}
		}
	}
}
