package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	appLog "racecal/internal/log"
	"racecal/internal/model"
)

// The dashboard is rendered server-side so the headless capture only has to
// wait for data-ready, not for client-side fetches.
var pageTmpl = template.Must(template.New("calendar").Funcs(template.FuncMap{
	"countdown": formatCountdown,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Formula 1 {{.Season}}</title>
<style>
body { font-family: sans-serif; margin: 24px; color: #111; }
h1 { margin: 0 0 12px; }
.featured { border: 3px solid #111; padding: 12px 16px; margin-bottom: 16px; }
.featured .countdown { font-size: 1.6em; font-weight: bold; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ccc; }
tr.completed { color: #888; }
tr.ongoing { font-weight: bold; background: #fde8e8; }
.error { color: #b00; font-weight: bold; }
.stale { color: #a60; }
</style>
</head>
<body>
<div id="calendar" data-ready="true">
<h1>Formula 1 {{.Season}}</h1>
{{if .Error}}
<p class="error">{{.Error}}</p>
{{else}}
{{if .Stale}}<p class="stale">Showing cached schedule; provider unreachable.</p>{{end}}
{{with .Featured}}
<div class="featured">
<div>{{if eq .Event.Status "ongoing"}}Happening now{{else if eq .Event.Status "upcoming"}}Next race{{else}}Last race{{end}}</div>
<h2>Round {{.Event.Round}}: {{.Event.Name}}</h2>
<div>{{.Event.Location.Locality}}{{if .Event.Location.Country}}, {{.Event.Location.Country}}{{end}}</div>
{{if eq .Event.Status "upcoming"}}<div class="countdown">{{countdown .TimeUntilStart}}</div>{{end}}
</div>
{{end}}
<table>
<thead><tr><th>Rnd</th><th>Grand Prix</th><th>Location</th><th>Dates</th><th>Status</th></tr></thead>
<tbody>
{{range .Races}}
<tr class="{{.Status}}">
<td>{{.Round}}</td>
<td>{{.Name}}{{if .IsSprint}} (sprint){{end}}</td>
<td>{{.Location.Locality}}{{if .Location.Country}}, {{.Location.Country}}{{end}}</td>
<td>{{.Dates}}</td>
<td>{{.Status}}</td>
</tr>
{{end}}
</tbody>
</table>
<p>{{.Completed}} of {{.Total}} races completed. Updated {{.AsOf}}.</p>
{{end}}
</div>
</body>
</html>
`))

type pageRace struct {
	model.RaceEvent
	Dates string
}

type pageData struct {
	Season    int
	AsOf      string
	Error     string
	Stale     bool
	Featured  *model.Featured
	Races     []pageRace
	Completed int
	Total     int
}

// handleCalendarPage renders the HTML dashboard.
//
// GET /calendar?season=2025&as_of=...
//   - season: defaults to config season, then the year of as_of
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.asOf(r)
	if err != nil {
		s.writePage(w, http.StatusBadRequest, pageData{Error: "invalid as_of: expected RFC3339 timestamp"})
		return
	}

	season := s.cfg.Season
	if season == 0 {
		season = asOf.Year()
	}
	if v := r.URL.Query().Get("season"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writePage(w, http.StatusBadRequest, pageData{Error: "invalid season"})
			return
		}
		season = n
	}

	res, err := s.svc.GetSeasonCalendar(r.Context(), season, asOf)
	if err != nil {
		status := statusFor(err)
		logFailure("calendar page failed", err, season, status)
		s.writePage(w, status, pageData{Season: season, Error: err.Error()})
		return
	}

	loc := s.cfg.Location()
	data := pageData{
		Season:    res.Calendar.Season(),
		AsOf:      res.Calendar.AsOf().In(loc).Format("Mon 2 Jan 15:04 MST"),
		Stale:     res.Stale,
		Completed: res.Summary.StatusCounts[model.StatusCompleted],
		Total:     res.Summary.TotalRaces,
	}
	if res.HasFeatured {
		f := res.Featured
		data.Featured = &f
	}
	for _, ev := range res.Calendar.Events() {
		data.Races = append(data.Races, pageRace{RaceEvent: ev, Dates: formatDates(ev, loc)})
	}
	s.writePage(w, http.StatusOK, data)
}

func (s *Server) writePage(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		appLog.Error("calendar page render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func formatDates(ev model.RaceEvent, loc *time.Location) string {
	start, end := ev.Start.In(loc), ev.End.In(loc)
	if start.Month() == end.Month() {
		return start.Format("2") + "-" + end.Format("2 Jan")
	}
	return start.Format("2 Jan") + " - " + end.Format("2 Jan")
}

func formatCountdown(d time.Duration) string {
	if d <= 0 {
		return "starting now"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	mins := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return strconv.Itoa(days) + "d " + strconv.Itoa(hours) + "h"
	case hours > 0:
		return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
	default:
		return strconv.Itoa(mins) + "m"
	}
}
