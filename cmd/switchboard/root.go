package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/observability"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"

	logger *slog.Logger
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the switchboard command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "switchboard",
		Short:         "Cross-context message routing for browser extension runtimes",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}

			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			observability.RegisterObserver("slog", observability.NewSlogObserver(opts.logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to a JSON or YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newSimulateCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

// load reads the config file, or the defaults when none is given, and
// points every component logger at the CLI logger.
func (o *RootOptions) load() (*config.Config, error) {
	var cfg *config.Config
	if o.ConfigFile == "" {
		defaults := config.DefaultConfig()
		cfg = &defaults
	} else {
		loaded, err := config.Load(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Client.Logger = logger
	cfg.Bus.Logger = logger
	return cfg, nil
}

func (o *RootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}
