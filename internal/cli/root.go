// Package cli implements the matchload command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// ErrTestFailed is returned when a run finished but did not pass.
var ErrTestFailed = errors.New("test failed")

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "matchload",
		Short:   "Load generator for chemical identifier match services",
		Version: version,
		Long: `matchload drives virtual users against a chemical identifier match
service. Each user samples compounds from a CSV fixture and sends them either
one at a time to a local service (POST /match) or in batches to a remote
deployment (GET /match?q=...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			return setupLogging(cmd, level, format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	root.AddCommand(newPresetCmd(presetLocal))
	root.AddCommand(newPresetCmd(presetRemote))
	root.AddCommand(newRunCmd())
	root.AddCommand(newFixtureCmd())

	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, ErrTestFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func setupLogging(cmd *cobra.Command, level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetOutput(cmd.ErrOrStderr())

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q: must be text or json", format)
	}
	return nil
}
