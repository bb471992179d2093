package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/bi-workflow/internal/infrastructure/report"
)

// StaleReportOptions holds flags for the stale-report command.
type StaleReportOptions struct {
	*RootOptions
	Out string
	At  string
}

// NewStaleReportCommand creates the stale-report command.
func NewStaleReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StaleReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stale-report",
		Short: "List pending instances whose current step is past its SLA",
		Long: `List pending instances whose current step has waited longer than its SLA.
Steps without sla_hours use workflow.default_sla_hours.

Examples:
  workflow stale-report
  workflow stale-report --out stale.xlsx
  workflow stale-report --at 2026-03-01T09:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStaleReport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write an XLSX workbook instead of JSON")
	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate at this RFC 3339 time instead of now")

	return cmd
}

func runStaleReport(cmd *cobra.Command, opts *StaleReportOptions) error {
	ctx := context.Background()

	now := time.Now().UTC()
	if opts.At != "" {
		at, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		now = at.UTC()
	}

	rt, err := loadRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	c, err := rt.startContainer(ctx, false)
	if err != nil {
		return err
	}
	defer c.Close()

	stale, err := c.Services().Queries.StaleInstances(ctx, now)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build stale report", err)
	}

	if opts.Out == "" {
		return writeJSON(cmd.OutOrStdout(), stale)
	}

	f, err := os.Create(opts.Out)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output file", err)
	}
	if err := report.WriteStale(f, stale); err != nil {
		f.Close()
		return WrapExitError(ExitCommandError, "failed to write workbook", err)
	}
	if err := f.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to write workbook", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d stale instance(s) to %s\n", len(stale), opts.Out)
	return nil
}
