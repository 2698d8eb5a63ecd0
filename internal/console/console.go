package console

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"racecal/internal/model"
	"racecal/internal/service"
)

const timeLayout = "Mon 02 Jan 15:04 MST"

// Render writes a human-readable season table followed by the featured event
// and a status summary. Times are shown in loc.
func Render(w io.Writer, res service.Result, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cal := res.Calendar

	header := fmt.Sprintf("Formula 1 %d (as of %s, source %s", cal.Season(), cal.AsOf().In(loc).Format(timeLayout), res.Source)
	if res.Stale {
		header += ", stale"
	}
	header += ")"
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RND\tGRAND PRIX\tLOCATION\tFORMAT\tSTART\tSTATUS")
	for _, ev := range cal.Events() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.Round, ev.Name, place(ev), orDash(ev.Format), ev.Start.In(loc).Format(timeLayout), ev.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !res.HasFeatured {
		_, err := fmt.Fprintln(w, "\nNo races scheduled.")
		return err
	}

	f := res.Featured
	var line string
	switch f.Event.Status {
	case model.StatusOngoing:
		line = fmt.Sprintf("Happening now: round %d, %s", f.Event.Round, f.Event.Name)
	case model.StatusUpcoming:
		line = fmt.Sprintf("Next race: round %d, %s in %s", f.Event.Round, f.Event.Name, f.TimeUntilStart.Round(time.Minute))
	default:
		line = fmt.Sprintf("Last race: round %d, %s", f.Event.Round, f.Event.Name)
	}

	sum := res.Summary
	_, err := fmt.Fprintf(w, "\n%s\n%d races: %d completed, %d ongoing, %d upcoming, %d sprint weekends\n",
		line,
		sum.TotalRaces,
		sum.StatusCounts[model.StatusCompleted],
		sum.StatusCounts[model.StatusOngoing],
		sum.StatusCounts[model.StatusUpcoming],
		sum.SprintRaces,
	)
	return err
}

func place(ev model.RaceEvent) string {
	parts := make([]string, 0, 2)
	if ev.Location.Locality != "" {
		parts = append(parts, ev.Location.Locality)
	}
	if ev.Location.Country != "" {
		parts = append(parts, ev.Location.Country)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
