package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/config"
	"github.com/dray-io/bulkgc/internal/logging"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitItemErrors = 3
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code. Commands rejected
// at submission exit 2; any other failure exits 1.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, bulk.ErrInvalidCommand) || errors.Is(err, bulk.ErrNotImplemented) {
		return exitValidation
	}
	return exitFailure
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bulkgc",
		Short: "Bulk document commands and orphan blob garbage collection",
		Long: `bulkgc runs bulk commands over document repositories and reclaims
blobs no document references anymore.

Use "bulkgc [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: $"+config.PathEnv+" or built-in defaults)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newRunCmd(opts),
		newGCCmd(opts),
		newStatusCmd(),
		newListCmd(),
		newAbortCmd(),
	)
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bulkgc version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}

// load reads the configuration and builds the process logger.
func (o *rootOptions) load() (*config.Config, *logging.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, &exitError{code: exitFailure, err: fmt.Errorf("failed to load config: %w", err)}
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}

	return cfg, logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat), nil
}
