// Package cmd implements wcctl, a command line page controller for the
// session agent. Every command runs the coordinator in-process against the
// configured store, so it shares the session with a running agent when
// both use the same file, redis, postgres or mongo backend.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wordcheck/session-agent/internal/app"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/logger"
)

type cli struct {
	output  string
	backend string
	verbose bool

	app *app.App
}

// NewRootCmd builds the wcctl command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "wcctl",
		Short:         "wcctl drives the wordcheck login coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.output != "json" && c.output != "yaml" {
				return fmt.Errorf("unsupported output %q, use json or yaml", c.output)
			}

			cfg := config.Load()
			if c.backend != "" {
				cfg.Store.Backend = c.backend
			}
			level := zerolog.LevelWarnValue
			if c.verbose {
				level = zerolog.LevelDebugValue
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Log.Pretty)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.PersistentFlags().StringVarP(&c.output, "output", "o", "json", "output format (json or yaml)")
	root.PersistentFlags().StringVar(&c.backend, "store", "", "override STORE_BACKEND")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		c.loginCmd(),
		c.statusCmd(),
		c.logoutCmd(),
		c.validateCmd(),
		c.profileCmd(),
		c.sweepCmd(),
	)
	return root
}

// Execute runs wcctl and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wcctl:", err)
		os.Exit(1)
	}
}
