// Package cmd defines and implements the CLI commands for the wsmonitor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/config"
	"github.com/JakeFAU/wsmonitor/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipApp marks commands that work on the config file alone.
const skipApp = "wsmonitor/skip-app"

const closeTimeout = 10 * time.Second

// App defines the application interface that commands will use.
// Tests inject a fake through newApp.
type App interface {
	Store() server.Store
	Logger() *zap.Logger
	RunChecker(ctx context.Context) error
	RunUpdater(ctx context.Context) error
	RunAll(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// rootOptions holds the persistent flags and the loaded configuration.
type rootOptions struct {
	cfgFile     string
	prettyPrint bool
	verbose     bool

	cfgPath string
	cfg     config.Config
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wsmonitor",
		Short:         "Monitor website availability and response times.",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `wsmonitor periodically checks a list of URLs, publishes one metric per
check to a message bus and appends the metrics to a PostgreSQL history.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			appInstance, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			if err := appInstance.Close(ctx); err != nil {
				appInstance.Logger().Warn("Failed to close application", zap.Error(err))
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is $WSMONITORDIR/config.yaml or ~/.config/wsmonitor/config.yaml)")
	flags.BoolVarP(&opts.prettyPrint, "pretty-print", "p", false, "Pretty-print results")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose operations")

	cmd.AddCommand(
		newDatabaseCmd(),
		newURLCmd(opts),
		newConfigCmd(opts),
		newCheckerCmd(),
		newUpdaterCmd(),
		newRunCmd(),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	o.cfgPath = config.Resolve(o.cfgFile)
	loadPath := o.cfgPath
	if cmd.Annotations[skipApp] == "true" {
		// config set may be creating the file
		if _, err := os.Stat(loadPath); err != nil {
			loadPath = ""
		}
	}
	cfg, err := config.Load(loadPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.verbose {
		cfg.Logging.Development = true
	}
	if cmd.Flags().Changed("pretty-print") {
		cfg.PrettyPrint = o.prettyPrint
	}
	o.cfg = cfg
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}
