// Command reportd runs the report orchestration engine: the scheduler
// poller, the worker pool and the stuck-run sweep. It also carries the
// operator commands for migrations, dead letters and cadence previews.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "reportd",
		Short:         "Scheduled report orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./reportd.yaml)")

	load := func() (*Config, error) { return LoadConfig(configFile) }

	root.AddCommand(
		newServeCommand(load),
		newMigrateCommand(load),
		newDLQCommand(load),
		newNextRunCommand(),
	)
	return root
}
