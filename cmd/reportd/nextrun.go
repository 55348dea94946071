package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/reportflow/cadence"
)

func newNextRunCommand() *cobra.Command {
	var (
		spec    cadence.Spec
		kind    string
		count   int
		weekday int
		day     int
		month   int
		quarter int
	)
	cmd := &cobra.Command{
		Use:   "next-run",
		Short: "Print the upcoming firings of a cadence and the period each covers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec.Cadence = cadence.Cadence(strings.ToUpper(kind))
			spec.Weekday = &weekday
			spec.DayOfMonth = &day
			spec.MonthOfYear = &month
			spec.Quarter = &quarter
			if err := cadence.Validate(spec); err != nil {
				return err
			}
			loc, err := spec.Location()
			if err != nil {
				return err
			}

			firings, err := cadence.NewResolver().Upcoming(spec, time.Now(), count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, spec)
			for _, at := range firings {
				p := cadence.PeriodFor(spec.Cadence, loc, at)
				fmt.Fprintf(out, "%s\t%s\n", at.In(loc).Format(time.RFC3339), p.Label)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "cadence", string(cadence.Daily), "DAILY, WEEKLY, MONTHLY, QUARTERLY, YEARLY or CRON")
	f.StringVar(&spec.CronExpr, "cron", "", "cron expression for the CRON cadence")
	f.StringVar(&spec.Timezone, "tz", cadence.DefaultTimezone, "IANA timezone")
	f.IntVar(&spec.Hour, "hour", 0, "firing hour")
	f.IntVar(&spec.Minute, "minute", 0, "firing minute")
	f.IntVar(&weekday, "weekday", 0, "weekday for WEEKLY (0 = Sunday)")
	f.IntVar(&day, "day", 1, "day of month for MONTHLY, QUARTERLY and YEARLY")
	f.IntVar(&month, "month", 1, "month for YEARLY")
	f.IntVar(&quarter, "quarter", 1, "quarter (1-4) for QUARTERLY")
	f.IntVar(&count, "count", 5, "number of firings")
	return cmd
}
