package arbitration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/arbitration"
	"github.com/concordhq/concord/pkg/contracts"
)

func TestConditionEvaluator_Match(t *testing.T) {
	e, err := arbitration.NewConditionEvaluator(nil)
	require.NoError(t, err)

	p := &contracts.Proposal{
		ID:           "p-1",
		AgentName:    "scheduler",
		ActionType:   contracts.ActionRescheduleTask,
		Target:       contracts.TargetRef{Type: "task", ID: "t-1", Key: "deadline"},
		Confidence:   0.8,
		CostEstimate: 12.5,
		RiskLevel:    contracts.RiskMedium,
	}

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{"empty condition always matches", "", true},
		{"agent equality", `agent == "scheduler"`, true},
		{"agent mismatch", `agent == "planner"`, false},
		{"numeric comparison", `cost > 10.0 && confidence >= 0.8`, true},
		{"risk string", `risk == "medium"`, true},
		{"target map access", `target.key == "deadline"`, true},
		{"compound", `action == "reschedule_task" && target.type == "task"`, true},
		{"compile error counts as no-match", `cost >>> 10`, false},
		{"non-bool result counts as no-match", `cost + 1.0`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Match(tc.condition, p))
		})
	}
}

func TestEngine_Resolve_CELVetoCondition(t *testing.T) {
	pol := defaultPolicy(contracts.StrategyPriority)
	pol.VetoRules = []contracts.VetoRule{{
		Name:      "low-confidence-reschedules",
		Condition: `action == "reschedule_task" && confidence < 0.5`,
	}}
	f := newFixture(t, pol)

	weak := f.seed(t, contracts.Proposal{
		ID: "p-weak", AgentName: "a",
		ActionType: contracts.ActionRescheduleTask,
		Target:     contracts.TargetRef{Type: "task", ID: "t-1"},
		Confidence: 0.3,
	})
	strong := f.seed(t, contracts.Proposal{
		ID: "p-strong", AgentName: "b",
		ActionType: contracts.ActionRescheduleTask,
		Target:     contracts.TargetRef{Type: "task", ID: "t-1"},
		Confidence: 0.9,
	})

	d, err := f.engine.Resolve(t.Context(), conflictOf(contracts.ConflictConcurrentModification, weak, strong))
	require.NoError(t, err)
	assert.Equal(t, "p-strong", d.WinningProposalID)
	assert.Equal(t, []string{"p-weak"}, d.VetoedProposalIDs)
}
