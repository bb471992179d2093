package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	All bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [instance-id...]",
		Short: "Replay the step ledger and compare it with stored instance state",
		Long: `Replay each instance's ledger from pending(0) and compare the result with
the stored status and step.

Exit codes:
  0 - every instance is consistent
  1 - at least one instance disagrees with its ledger
  2 - command error (unknown instance, database unavailable, etc.)

Examples:
  workflow verify 0190a1b2-...
  workflow verify --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.All && len(args) == 0 {
				return WrapExitError(ExitCommandError, "instance id required", fmt.Errorf("pass ids or --all"))
			}
			return runVerify(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "verify every instance")

	return cmd
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions, ids []string) error {
	ctx := context.Background()

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

	if opts.All {
		ids, err = allInstanceIDs(ctx, c.Services().Queries.ListByStatus)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list instances", err)
		}
	}

	results := make([]*entity.VerifyResult, 0, len(ids))
	inconsistent := 0
	for _, id := range ids {
		result, err := c.Services().Queries.Verify(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "verify "+id, err)
		}
		if !result.Consistent {
			inconsistent++
		}
		results = append(results, result)
	}

	if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if inconsistent > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d of %d instance(s) disagree with their ledger", inconsistent, len(results)), nil)
	}
	return nil
}

// allInstanceIDs pages through every instance
func allInstanceIDs(ctx context.Context, list func(context.Context, entity.InstanceFilter) (*entity.InstancePage, error)) ([]string, error) {
	var ids []string
	filter := entity.InstanceFilter{Limit: entity.MaxPageSize}
	for {
		page, err := list(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, inst := range page.Items {
			ids = append(ids, inst.ID)
		}
		filter.Offset += len(page.Items)
		if len(page.Items) == 0 || filter.Offset >= page.Total {
			return ids, nil
		}
	}
}
