package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/garyjia/bi-workflow/internal/interfaces/http"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the SLA monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(parent context.Context, opts *RootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	rt.logger.Info("Starting workflow service",
		zap.Int("port", rt.cfg.Server.Port),
		zap.String("database_driver", rt.cfg.Database.Driver))

	c, err := rt.startContainer(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			rt.logger.Error("Container shutdown error", zap.Error(err))
		}
	}()

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         rt.cfg.Server.Host,
		Port:         rt.cfg.Server.Port,
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
		MetricsPath:  rt.cfg.Metrics.Path,
	}, httpapi.Dependencies{
		Engine:    c.Engine(),
		Templates: c.Services().Templates,
		Queries:   c.Services().Queries,
		Errors:    c.Metrics(),
		Metrics:   c.MetricsHandler(),
		Health: func() (bool, interface{}) {
			status := c.Health()
			return status.Overall, status.Components
		},
		Logger: c.AppLogger(),
	})

	if err := server.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "http server failed", err)
	}

	rt.logger.Info("Workflow service stopped")
	return nil
}
