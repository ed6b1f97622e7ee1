package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

func newURLCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Manage watched URLs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add URL [REGEXP]",
			Short: "Add a new URL to watched list",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				var pattern *string
				if len(args) == 2 {
					pattern = &args[1]
				}
				id, err := appInstance.Store().AddEntry(cmd.Context(), args[0], pattern)
				if err != nil {
					return fmt.Errorf("add url: %w", err)
				}
				appInstance.Logger().Debug("URL added", zap.Int64("id", id), zap.String("url", args[0]))
				return printJSON(cmd.OutOrStdout(), id, opts.cfg.PrettyPrint)
			},
		},
		&cobra.Command{
			Use:   "remove ID...",
			Short: "Remove URLs from watched list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := appInstance.Store().RemoveEntry(cmd.Context(), id); err != nil {
						return fmt.Errorf("remove url %d: %w", id, err)
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print watched URLs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				entries := []monitor.WatchEntry{}
				for entry, err := range appInstance.Store().ListEntries(cmd.Context()) {
					if err != nil {
						return fmt.Errorf("list urls: %w", err)
					}
					entries = append(entries, entry)
				}
				return printJSON(cmd.OutOrStdout(), entries, opts.cfg.PrettyPrint)
			},
		},
		&cobra.Command{
			Use:   "status [ID...]",
			Short: "Print status for watched URLs",
			Long:  "Print every metric recorded for the given URL ids, or for all URLs when none are given.",
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				statuses := []monitor.WatchStatus{}
				for status, err := range appInstance.Store().ListStatus(cmd.Context(), ids) {
					if err != nil {
						return fmt.Errorf("url status: %w", err)
					}
					statuses = append(statuses, status)
				}
				return printJSON(cmd.OutOrStdout(), statuses, opts.cfg.PrettyPrint)
			},
		},
	)
	return cmd
}

// parseIDs returns nil for no arguments so that callers list everything.
func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid url id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
