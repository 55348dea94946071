package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
)

func newDLQCommand(load func() (*Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered report jobs",
	}
	cmd.AddCommand(newDLQListCommand(load), newDLQReplayCommand(load))
	return cmd
}

func newDLQListCommand(load func() (*Config, error)) *cobra.Command {
	var (
		tenant string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, cfg.Logger())
			if err != nil {
				return err
			}
			defer b.Close(cmd.Context())

			entries, err := b.store.ListDLQ(cmd.Context(), dlq.ListOpts{Limit: limit, Offset: offset, TenantID: tenant})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tTENANT\tRUN\tATTEMPTS\tFAILED AT\tREPLAYED\tERROR")
			for _, e := range entries {
				replayed := "-"
				if e.ReplayedAt != nil {
					replayed = e.ReplayedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					e.ID, e.TenantID, e.RunID, e.Attempts, e.MaxAttempts,
					e.FailedAt.Format(time.RFC3339), replayed, e.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "only entries of this tenant")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newDLQReplayCommand(load func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dlq-id>",
		Short: "Requeue the failed run of a dead letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return fmt.Errorf("invalid dead letter id: %w", err)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, cfg.Logger())
			if err != nil {
				return err
			}
			defer b.Close(cmd.Context())

			r, j, err := dlq.NewService(b.store, b.store, b.store).Replay(cmd.Context(), entryID)
			if err != nil && r == nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s requeued as job %s\n", r.ID, j.ID)
			return err
		},
	}
}
