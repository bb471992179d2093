// Package cli implements the workflow service's command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/config"
	"github.com/garyjia/bi-workflow/internal/container"
	"github.com/garyjia/bi-workflow/pkg/utils"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran and found a problem, e.g. an inconsistent instance
	ExitCommandError = 2 // the command could not run
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Multi-step approval workflow service",
		Long: `Runs the approval workflow engine and its maintenance tasks.

Configuration is read from --config, a .env file and WORKFLOW_* environment
variables, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewStaleReportCommand(opts))

	return cmd
}

// runtime is what every command builds before doing its work
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadRuntime(opts *RootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	logCfg := cfg.ToLoggerConfig()
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}

	return &runtime{cfg: cfg, logger: logger}, nil
}

// startContainer builds and starts a container. One-shot commands pass
// withWorkers=false so no scheduler runs.
func (r *runtime) startContainer(ctx context.Context, withWorkers bool) (*container.Container, error) {
	cc := r.cfg.ToContainerConfig()
	cc.DisableWorkers = !withWorkers

	c, err := container.NewContainer(cc, r.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create container", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start container", err)
	}
	return c, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
