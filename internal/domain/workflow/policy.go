package workflow

import (
	"sort"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// StepOutcome is the resolution of a single step
type StepOutcome string

const (
	OutcomeOpen     StepOutcome = "open"
	OutcomeApproved StepOutcome = "approved"
	OutcomeRejected StepOutcome = "rejected"
)

// StepResolution summarizes the ledger of one step
type StepResolution struct {
	Outcome   StepOutcome
	Approvals int
	Required  int
	// DecidedBy is the ledger entry that resolved the step, nil while open
	DecidedBy *entity.StepApproval
}

// EvaluateStep resolves a step from its ledger entries.
// Entries are taken in ledger order; only assigned approvers count and each
// approver counts once. The first rejection resolves the step as rejected
// unless the policy was already satisfied by earlier approvals.
func EvaluateStep(policy entity.ApprovalPolicy, approvers []string, entries []*entity.StepApproval) StepResolution {
	assigned := make(map[string]bool, len(approvers))
	for _, id := range approvers {
		assigned[id] = true
	}

	res := StepResolution{Outcome: OutcomeOpen, Required: policy.Required(len(assigned))}
	seen := make(map[string]bool, len(entries))
	for _, e := range SortLedger(entries) {
		if !assigned[e.ApproverID] || seen[e.ApproverID] {
			continue
		}
		seen[e.ApproverID] = true

		switch e.Decision {
		case entity.DecisionRejected:
			res.Outcome = OutcomeRejected
			res.DecidedBy = e
			return res
		case entity.DecisionApproved:
			res.Approvals++
			if res.Approvals >= res.Required {
				res.Outcome = OutcomeApproved
				res.DecidedBy = e
				return res
			}
		}
	}
	return res
}

// SortLedger returns entries in ledger order (sequence, then decision time)
func SortLedger(entries []*entity.StepApproval) []*entity.StepApproval {
	sorted := append([]*entity.StepApproval(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Seq != sorted[j].Seq {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].DecidedAt.Before(sorted[j].DecidedAt)
	})
	return sorted
}
