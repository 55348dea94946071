package cadence

import (
	"fmt"
	"time"

	"github.com/xraph/reportflow"
)

// PeriodFor returns the reporting window a firing at now covers: the
// previous full day, week, month, quarter or year in loc. To is the last
// millisecond of the window. CRON and unknown cadences cover the 24
// hours before now.
func PeriodFor(c Cadence, loc *time.Location, now time.Time) reportflow.Period {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var from, next time.Time
	var label string

	switch c {
	case Daily:
		from = today.AddDate(0, 0, -1)
		next = today
		label = "Daily - " + from.Format(time.DateOnly)
	case Weekly:
		from = today.AddDate(0, 0, -7)
		next = today
		label = "Weekly - " + from.Format(time.DateOnly)
	case Monthly:
		thisMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		from = thisMonth.AddDate(0, -1, 0)
		next = thisMonth
		label = "Monthly - " + from.Format(time.DateOnly)
	case Quarterly:
		q := (int(local.Month()) - 1) / 3
		thisQuarter := time.Date(local.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, loc)
		from = thisQuarter.AddDate(0, -3, 0)
		next = thisQuarter
		label = fmt.Sprintf("Q%d %d", (int(from.Month())-1)/3+1, from.Year())
	case Yearly:
		from = time.Date(local.Year()-1, time.January, 1, 0, 0, 0, 0, loc)
		next = time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
		label = fmt.Sprintf("Yearly - %d", from.Year())
	default:
		f := now.Add(-24 * time.Hour).UTC()
		t := now.UTC()
		return reportflow.Period{From: &f, To: &t, Label: "Custom"}
	}

	f := from.UTC()
	t := next.Add(-time.Millisecond).UTC()
	return reportflow.Period{From: &f, To: &t, Label: label}
}
