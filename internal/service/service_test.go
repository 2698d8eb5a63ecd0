package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"racecal/internal/calendar"
	"racecal/internal/model"
	"racecal/internal/provider"
)

type stubProvider struct {
	calls   int
	records []model.RawEvent
	err     error
	result  provider.Result
}

func (p *stubProvider) CheckSeason(season int) error {
	if season < 2018 || season > 2030 {
		return &provider.SeasonError{Season: season, Err: provider.ErrUnsupportedSeason}
	}
	return nil
}

func (p *stubProvider) FetchSeason(_ context.Context, season int) (provider.Result, error) {
	p.calls++
	if p.err != nil {
		return provider.Result{}, p.err
	}
	res := p.result
	res.Season = season
	res.Records = p.records
	return res, nil
}

// memoryStore keeps rows keyed by (season, round) like the real table.
type memoryStore struct {
	rows      map[int]map[int]model.RaceEvent
	readErr   error
	upsertErr error
	upserts   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[int]map[int]model.RaceEvent)}
}

func (m *memoryStore) Upsert(_ context.Context, cal model.Calendar) (int64, error) {
	m.upserts++
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	season := cal.Season()
	if m.rows[season] == nil {
		m.rows[season] = make(map[int]model.RaceEvent)
	}
	var n int64
	for _, ev := range cal.Events() {
		ev.Status = model.StatusUnknown
		if old, ok := m.rows[season][ev.Round]; ok && reflect.DeepEqual(old, ev) {
			continue
		}
		m.rows[season][ev.Round] = ev
		n++
	}
	return n, nil
}

func (m *memoryStore) ReadSeason(_ context.Context, season int) (model.Calendar, bool, error) {
	if m.readErr != nil {
		return model.Calendar{}, false, m.readErr
	}
	rows := m.rows[season]
	if len(rows) == 0 {
		return model.Calendar{}, false, nil
	}
	events := make([]model.RaceEvent, 0, len(rows))
	for round := 1; len(events) < len(rows); round++ {
		if ev, ok := rows[round]; ok {
			events = append(events, ev)
		}
	}
	return model.NewCalendar(season, events), true, nil
}

func scenarioRecords() []model.RawEvent {
	return []model.RawEvent{
		{Season: "2025", Round: "1", Name: "Australian Grand Prix", Start: "2025-03-14T05:00:00Z", End: "2025-03-16T07:00:00Z"},
		{Season: "2025", Round: "2", Name: "Chinese Grand Prix", Start: "2025-03-21T05:00:00Z", End: "2025-03-23T07:00:00Z"},
	}
}

var midWeekend = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

func TestGetSeasonCalendarFromProvider(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	st := newMemoryStore()
	svc := New(prov, st)

	res, err := svc.GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceProvider {
		t.Fatalf("expected provider source, got %q", res.Source)
	}
	events := res.Calendar.Events()
	if events[0].Status != model.StatusOngoing || events[1].Status != model.StatusUpcoming {
		t.Fatalf("unexpected statuses: %s, %s", events[0].Status, events[1].Status)
	}
	if !res.HasFeatured || res.Featured.Event.Round != 1 {
		t.Fatalf("expected round 1 featured, got %+v", res.Featured)
	}
	if st.upserts != 1 || len(st.rows[2025]) != 2 {
		t.Fatalf("expected calendar persisted once, got upserts=%d rows=%d", st.upserts, len(st.rows[2025]))
	}
}

func TestGetSeasonCalendarPrefersStoreAndReclassifies(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	st := newMemoryStore()

	base, err := calendar.Normalize(scenarioRecords())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// A stale status must never leak through from storage.
	stale := calendar.Classify(base, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	st.rows[2025] = map[int]model.RaceEvent{}
	for _, ev := range stale.Events() {
		st.rows[2025][ev.Round] = ev
	}

	res, err := New(prov, st).GetSeasonCalendar(context.Background(), 2025, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceStore {
		t.Fatalf("expected store source, got %q", res.Source)
	}
	if prov.calls != 0 {
		t.Fatalf("expected no provider calls on store hit, got %d", prov.calls)
	}
	for _, ev := range res.Calendar.Events() {
		if ev.Status != model.StatusUpcoming {
			t.Fatalf("round %d: expected upcoming after reclassification, got %s", ev.Round, ev.Status)
		}
	}
	if res.Featured.TimeUntilStart <= 0 {
		t.Fatalf("expected countdown for upcoming featured event, got %s", res.Featured.TimeUntilStart)
	}
}

func TestGetSeasonCalendarProviderUnavailable(t *testing.T) {
	prov := &stubProvider{err: &provider.SeasonError{Season: 2025, Err: provider.ErrProviderUnavailable}}

	res, err := New(prov, nil).GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if res.Calendar.Len() != 0 || res.HasFeatured {
		t.Fatalf("expected no partial calendar, got %+v", res)
	}
}

func TestGetSeasonCalendarStoreOffline(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	st := newMemoryStore()
	st.readErr = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	st.upsertErr = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

	res, err := New(prov, st).GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("store failures must not be fatal, got %v", err)
	}
	if res.Source != SourceProvider || res.Calendar.Len() != 2 {
		t.Fatalf("expected provider calendar, got source=%q len=%d", res.Source, res.Calendar.Len())
	}
	if st.upserts != 1 {
		t.Fatalf("expected one upsert attempt, got %d", st.upserts)
	}
}

func TestGetSeasonCalendarUnsupportedSeasonBeforeStore(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	st := newMemoryStore()
	st.rows[1990] = map[int]model.RaceEvent{1: {Season: 1990, Round: 1, Name: "x"}}

	_, err := New(prov, st).GetSeasonCalendar(context.Background(), 1990, midWeekend)
	if !errors.Is(err, provider.ErrUnsupportedSeason) {
		t.Fatalf("expected ErrUnsupportedSeason, got %v", err)
	}
}

func TestGetSeasonCalendarMalformedProviderData(t *testing.T) {
	records := scenarioRecords()
	records[1].Start = "2025-03-21"
	prov := &stubProvider{records: records}
	st := newMemoryStore()

	_, err := New(prov, st).GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if !errors.Is(err, calendar.ErrAmbiguousTimestamp) {
		t.Fatalf("expected ErrAmbiguousTimestamp, got %v", err)
	}
	var recErr *calendar.RecordError
	if !errors.As(err, &recErr) || recErr.Round != "2" {
		t.Fatalf("expected offending round in error, got %v", err)
	}
	if st.upserts != 0 {
		t.Fatalf("malformed data must not be persisted, got %d upserts", st.upserts)
	}
}

func TestGetSeasonCalendarRejectsWrongSeason(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	_, err := New(prov, nil).GetSeasonCalendar(context.Background(), 2024, midWeekend)
	if !errors.Is(err, calendar.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestGetSeasonCalendarStaleCache(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords(), result: provider.Result{FromCache: true, Stale: true}}

	res, err := New(prov, nil).GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceCache || !res.Stale {
		t.Fatalf("expected stale cache result, got source=%q stale=%v", res.Source, res.Stale)
	}
}

func TestGetSeasonCalendarEmptySeason(t *testing.T) {
	res, err := New(&stubProvider{}, newMemoryStore()).GetSeasonCalendar(context.Background(), 2030, midWeekend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasFeatured || res.Calendar.Season() != 2030 {
		t.Fatalf("expected empty 2030 calendar without featured event, got %+v", res)
	}
}

func TestRepeatedUpsertKeepsStoreStable(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	st := newMemoryStore()
	svc := New(prov, st)

	cal, err := calendar.Normalize(scenarioRecords())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	first, _ := st.Upsert(context.Background(), cal)
	before, _, _ := st.ReadSeason(context.Background(), 2025)
	second, _ := st.Upsert(context.Background(), cal)
	after, _, _ := st.ReadSeason(context.Background(), 2025)

	if first != 2 || second != 0 {
		t.Fatalf("expected 2 then 0 rows affected, got %d then %d", first, second)
	}
	if !reflect.DeepEqual(before.Events(), after.Events()) {
		t.Fatal("read-back changed after identical upsert")
	}

	a, err := svc.GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := svc.GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(a.Calendar.Events(), b.Calendar.Events()) {
		t.Fatal("same inputs produced different calendars")
	}
}

func TestRefreshBypassesStoreAndPersistsChanges(t *testing.T) {
	prov := &stubProvider{records: scenarioRecords()}
	st := newMemoryStore()
	svc := New(prov, st)

	if _, err := svc.GetSeasonCalendar(context.Background(), 2025, midWeekend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The provider renames round 2 after the store was seeded.
	updated := scenarioRecords()
	updated[1].Name = "Chinese Grand Prix (rescheduled)"
	prov.records = updated

	res, err := svc.Refresh(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if prov.calls != 2 {
		t.Fatalf("expected refresh to query the provider, got %d calls", prov.calls)
	}
	if res.Source != SourceProvider || !res.HasFeatured {
		t.Fatalf("unexpected refresh result source=%q featured=%v", res.Source, res.HasFeatured)
	}
	if ev, _ := res.Calendar.Round(2); ev.Status != model.StatusUpcoming {
		t.Fatalf("expected refreshed calendar to be classified, got %q", ev.Status)
	}

	after, err := svc.GetSeasonCalendar(context.Background(), 2025, midWeekend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Source != SourceStore {
		t.Fatalf("expected store source after refresh, got %q", after.Source)
	}
	ev, ok := after.Calendar.Round(2)
	if !ok || ev.Name != "Chinese Grand Prix (rescheduled)" {
		t.Fatalf("store still holds stale round 2: %+v", ev)
	}
	if prov.calls != 2 {
		t.Fatalf("expected store hit without provider call, got %d calls", prov.calls)
	}
}

func TestRefreshErrors(t *testing.T) {
	st := newMemoryStore()
	st.rows[2025] = map[int]model.RaceEvent{1: {Season: 2025, Round: 1, Name: "x"}}

	if _, err := New(&stubProvider{}, st).Refresh(context.Background(), 1990, midWeekend); !errors.Is(err, provider.ErrUnsupportedSeason) {
		t.Fatalf("expected ErrUnsupportedSeason, got %v", err)
	}

	prov := &stubProvider{err: &provider.SeasonError{Season: 2025, Err: provider.ErrProviderUnavailable}}
	if _, err := New(prov, st).Refresh(context.Background(), 2025, midWeekend); !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("refresh must not fall back to the store, got %v", err)
	}
	if st.upserts != 0 {
		t.Fatalf("failed refresh must not write, got %d upserts", st.upserts)
	}
}
