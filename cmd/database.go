package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDatabaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "database",
		Short: "Manage database backend",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Initialize database",
			Long:  "Create the metric type and the websites table. Running it again is harmless.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				if err := appInstance.Store().Init(cmd.Context()); err != nil {
					return fmt.Errorf("database init: %w", err)
				}
				appInstance.Logger().Info("Database initialized")
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Empty database",
			Long:  "Drop the websites table and the metric type, removing every URL and its history.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				if err := appInstance.Store().Reset(cmd.Context()); err != nil {
					return fmt.Errorf("database reset: %w", err)
				}
				appInstance.Logger().Info("Database reset")
				return nil
			},
		},
	)
	return cmd
}
