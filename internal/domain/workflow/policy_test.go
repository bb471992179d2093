package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

func ledgerEntry(seq int64, approver string, decision entity.Decision) *entity.StepApproval {
	return &entity.StepApproval{
		ID:         approver + "-" + string(decision),
		Seq:        seq,
		ApproverID: approver,
		Decision:   decision,
		DecidedAt:  time.Unix(1700000000+seq, 0),
	}
}

func TestEvaluateStep(t *testing.T) {
	approvers := []string{"u1", "u2", "u3"}
	anyPolicy := entity.ApprovalPolicy{Mode: entity.PolicyAny}
	allPolicy := entity.ApprovalPolicy{Mode: entity.PolicyAll}
	quorum2 := entity.ApprovalPolicy{Mode: entity.PolicyQuorum, Quorum: 2}

	tests := []struct {
		name      string
		policy    entity.ApprovalPolicy
		approvers []string
		entries   []*entity.StepApproval
		want      StepOutcome
		approvals int
		decidedBy string
	}{
		{
			name:      "no entries is open",
			policy:    anyPolicy,
			approvers: approvers,
			want:      OutcomeOpen,
		},
		{
			name:      "any: one approval resolves",
			policy:    anyPolicy,
			approvers: approvers,
			entries:   []*entity.StepApproval{ledgerEntry(1, "u2", entity.DecisionApproved)},
			want:      OutcomeApproved,
			approvals: 1,
			decidedBy: "u2",
		},
		{
			name:      "all: waits for every approver",
			policy:    allPolicy,
			approvers: approvers,
			entries: []*entity.StepApproval{
				ledgerEntry(1, "u1", entity.DecisionApproved),
				ledgerEntry(2, "u2", entity.DecisionApproved),
			},
			want:      OutcomeOpen,
			approvals: 2,
		},
		{
			name:      "all: resolves on last approver",
			policy:    allPolicy,
			approvers: approvers,
			entries: []*entity.StepApproval{
				ledgerEntry(1, "u1", entity.DecisionApproved),
				ledgerEntry(2, "u2", entity.DecisionApproved),
				ledgerEntry(3, "u3", entity.DecisionApproved),
			},
			want:      OutcomeApproved,
			approvals: 3,
			decidedBy: "u3",
		},
		{
			name:      "quorum: second distinct approval resolves",
			policy:    quorum2,
			approvers: approvers,
			entries: []*entity.StepApproval{
				ledgerEntry(2, "u3", entity.DecisionApproved),
				ledgerEntry(1, "u1", entity.DecisionApproved),
			},
			want:      OutcomeApproved,
			approvals: 2,
			decidedBy: "u3",
		},
		{
			name:      "quorum: duplicate approver counts once",
			policy:    quorum2,
			approvers: approvers,
			entries: []*entity.StepApproval{
				ledgerEntry(1, "u1", entity.DecisionApproved),
				ledgerEntry(2, "u1", entity.DecisionApproved),
			},
			want:      OutcomeOpen,
			approvals: 1,
		},
		{
			name:      "quorum larger than approver set is capped",
			policy:    entity.ApprovalPolicy{Mode: entity.PolicyQuorum, Quorum: 5},
			approvers: []string{"u1", "u2"},
			entries: []*entity.StepApproval{
				ledgerEntry(1, "u1", entity.DecisionApproved),
				ledgerEntry(2, "u2", entity.DecisionApproved),
			},
			want:      OutcomeApproved,
			approvals: 2,
			decidedBy: "u2",
		},
		{
			name:      "rejection resolves an open step",
			policy:    quorum2,
			approvers: approvers,
			entries: []*entity.StepApproval{
				ledgerEntry(1, "u1", entity.DecisionApproved),
				ledgerEntry(2, "u2", entity.DecisionRejected),
				ledgerEntry(3, "u3", entity.DecisionApproved),
			},
			want:      OutcomeRejected,
			approvals: 1,
			decidedBy: "u2",
		},
		{
			name:      "rejection after the policy was satisfied is ignored",
			policy:    anyPolicy,
			approvers: approvers,
			entries: []*entity.StepApproval{
				ledgerEntry(1, "u1", entity.DecisionApproved),
				ledgerEntry(2, "u2", entity.DecisionRejected),
			},
			want:      OutcomeApproved,
			approvals: 1,
			decidedBy: "u1",
		},
		{
			name:      "unassigned approvers are ignored",
			policy:    anyPolicy,
			approvers: approvers,
			entries:   []*entity.StepApproval{ledgerEntry(1, "intruder", entity.DecisionRejected)},
			want:      OutcomeOpen,
		},
		{
			name:    "empty approver set never resolves",
			policy:  anyPolicy,
			entries: []*entity.StepApproval{ledgerEntry(1, "u1", entity.DecisionApproved)},
			want:    OutcomeOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluateStep(tt.policy, tt.approvers, tt.entries)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.approvals, res.Approvals)
			if tt.decidedBy == "" {
				assert.Nil(t, res.DecidedBy)
			} else {
				require.NotNil(t, res.DecidedBy)
				assert.Equal(t, tt.decidedBy, res.DecidedBy.ApproverID)
			}
		})
	}
}

func TestSortLedger_DoesNotMutateInput(t *testing.T) {
	entries := []*entity.StepApproval{
		ledgerEntry(3, "c", entity.DecisionApproved),
		ledgerEntry(1, "a", entity.DecisionApproved),
		ledgerEntry(2, "b", entity.DecisionApproved),
	}

	sorted := SortLedger(entries)

	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ApproverID, sorted[1].ApproverID, sorted[2].ApproverID})
	assert.Equal(t, "c", entries[0].ApproverID)
}
