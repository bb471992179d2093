package workflow

import (
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/bi-workflow/internal/domain/workflow"
)

// buildInstanceStateMachine creates the lifecycle machine positioned at the
// instance's stored state, with step guards bound to its template snapshot
func buildInstanceStateMachine(inst *entity.WorkflowInstance, tpl *entity.WorkflowTemplate) domainwf.StateMachine {
	step := inst.CurrentStep
	return domainwf.NewLifecycle(domainwf.State(inst.Status), func() bool {
		return !tpl.IsLastStep(step)
	})
}

// triggerFor maps a step resolution onto a lifecycle trigger
func triggerFor(outcome domainwf.StepOutcome, isLast bool) domainwf.Trigger {
	switch outcome {
	case domainwf.OutcomeRejected:
		return domainwf.TriggerReject
	case domainwf.OutcomeApproved:
		if isLast {
			return domainwf.TriggerApprove
		}
		return domainwf.TriggerAdvance
	default:
		return ""
	}
}
