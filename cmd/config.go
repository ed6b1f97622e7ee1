package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wsmonitor/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration",
		Annotations: map[string]string{skipApp: "true"},
	}
	get := &cobra.Command{
		Use:         "get",
		Short:       "Print configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), opts.cfg.Redacted(), opts.cfg.PrettyPrint)
		},
	}
	set := &cobra.Command{
		Use:         "set [KEY VALUE]...",
		Short:       "Update wsmonitor configuration",
		Long:        "Set configuration variable KEY to VALUE. Unknown keys are reported and skipped.",
		Annotations: map[string]string{skipApp: "true"},
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return errors.New("expected KEY VALUE pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			pairs := make(map[string]string, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				pairs[args[i]] = args[i+1]
			}
			unknown, err := config.Set(path, pairs)
			for _, key := range unknown {
				fmt.Fprintf(cmd.ErrOrStderr(), "Unknown key %s\n", key)
			}
			if err != nil {
				return fmt.Errorf("config set: %w", err)
			}
			return nil
		},
	}
	cmd.AddCommand(get, set)
	return cmd
}
