package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// ReplayResult is the state reconstructed from a ledger
type ReplayResult struct {
	State    State
	Step     int
	Advances int
}

// Replay runs the ledger of an instance through a fresh lifecycle.
// Cancellation is not a ledger fact, so a cancelled instance replays to pending
// at the step it was cancelled on.
func Replay(ctx context.Context, tpl *entity.WorkflowTemplate, assignments []entity.StepAssignment, entries []*entity.StepApproval) (ReplayResult, error) {
	if tpl == nil || len(tpl.Steps) == 0 {
		return ReplayResult{}, fmt.Errorf("%w: template has no steps", ErrMissingStep)
	}

	byStep := make(map[int][]*entity.StepApproval)
	for _, e := range entries {
		if _, ok := tpl.Step(e.StepIndex); !ok {
			return ReplayResult{}, fmt.Errorf("%w: ledger entry %s on step %d", ErrMissingStep, e.ID, e.StepIndex)
		}
		byStep[e.StepIndex] = append(byStep[e.StepIndex], e)
	}
	approversOf := make(map[int][]string, len(assignments))
	for _, a := range assignments {
		approversOf[a.StepIndex] = a.Approvers
	}

	step := 0
	result := ReplayResult{}
	machine := NewLifecycle(StatePending, func() bool { return step < len(tpl.Steps)-1 })

	for !machine.State().IsTerminal() {
		def, _ := tpl.Step(step)
		res := EvaluateStep(def.Policy, approversOf[step], byStep[step])

		var trigger Trigger
		switch res.Outcome {
		case OutcomeRejected:
			trigger = TriggerReject
		case OutcomeApproved:
			trigger = TriggerApprove
			if machine.CanFire(ctx, TriggerAdvance) {
				trigger = TriggerAdvance
			}
		default:
			result.State, result.Step = machine.State(), step
			return result, nil
		}

		if err := machine.Fire(ctx, trigger); err != nil {
			return ReplayResult{}, err
		}
		if res.Outcome == OutcomeApproved {
			result.Advances++
		}
		if trigger == TriggerAdvance {
			step++
		}
	}

	result.State, result.Step = machine.State(), step
	return result, nil
}
