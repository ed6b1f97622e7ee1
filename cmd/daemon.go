package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDaemonCmd(use, short, long string, run func(App, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := run(appInstance, cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return nil
		},
	}
}

func newCheckerCmd() *cobra.Command {
	return newDaemonCmd("checker", "Check watched URLs and publish metrics",
		`Poll the watch list every checker.period, check each URL with a pool of
checker.workers workers and publish one metric per check to Pub/Sub.`,
		App.RunChecker)
}

func newUpdaterCmd() *cobra.Command {
	return newDaemonCmd("updater", "Store published metrics",
		`Consume metrics from the Pub/Sub subscription and append them to each
URL's history. A message is acknowledged once its metric is stored.`,
		App.RunUpdater)
}

func newRunCmd() *cobra.Command {
	return newDaemonCmd("run", "Run checker and updater in one process",
		"Run the checker and the updater joined by an in-process bus instead of Pub/Sub.",
		App.RunAll)
}
