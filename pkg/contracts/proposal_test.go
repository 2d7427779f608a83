package contracts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/contracts"
)

func TestProposal_AdvanceStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("legal chain pending -> approved -> executed", func(t *testing.T) {
		p := &contracts.Proposal{ID: "p-1", Status: contracts.ProposalPending}
		require.NoError(t, p.AdvanceStatus(contracts.ProposalApproved, now))
		require.NoError(t, p.AdvanceStatus(contracts.ProposalExecuted, now.Add(time.Second)))
		assert.Equal(t, contracts.ProposalExecuted, p.Status)
		require.NotNil(t, p.ProcessedAt)
		assert.Equal(t, now.Add(time.Second), *p.ProcessedAt)
	})

	t.Run("executed is terminal", func(t *testing.T) {
		p := &contracts.Proposal{ID: "p-2", Status: contracts.ProposalExecuted}
		err := p.AdvanceStatus(contracts.ProposalPending, now)
		require.Error(t, err)
		assert.Equal(t, contracts.ProposalExecuted, p.Status)
	})

	t.Run("no backward transitions", func(t *testing.T) {
		p := &contracts.Proposal{ID: "p-3", Status: contracts.ProposalApproved}
		assert.Error(t, p.AdvanceStatus(contracts.ProposalPending, now))
		assert.Error(t, p.AdvanceStatus(contracts.ProposalEscalated, now))
	})

	t.Run("escalated can still go anywhere forward", func(t *testing.T) {
		for _, next := range []contracts.ProposalStatus{
			contracts.ProposalApproved,
			contracts.ProposalExecuted,
			contracts.ProposalSuppressed,
			contracts.ProposalVetoed,
		} {
			p := &contracts.Proposal{ID: "p-4", Status: contracts.ProposalEscalated}
			assert.NoError(t, p.AdvanceStatus(next, now), "escalated -> %s", next)
		}
	})

	t.Run("suppressed may only be vetoed", func(t *testing.T) {
		p := &contracts.Proposal{ID: "p-5", Status: contracts.ProposalSuppressed}
		assert.Error(t, p.AdvanceStatus(contracts.ProposalApproved, now))
		assert.NoError(t, p.AdvanceStatus(contracts.ProposalVetoed, now))
	})

	t.Run("failed transition leaves status untouched", func(t *testing.T) {
		p := &contracts.Proposal{ID: "p-6", Status: contracts.ProposalVetoed}
		require.Error(t, p.AdvanceStatus(contracts.ProposalApproved, now))
		assert.Equal(t, contracts.ProposalVetoed, p.Status)
		assert.Nil(t, p.ProcessedAt)
	})
}

func TestProposal_Snapshot_Isolated(t *testing.T) {
	processed := time.Now()
	p := &contracts.Proposal{ID: "p-1", Status: contracts.ProposalPending, ProcessedAt: &processed}

	snap := p.Snapshot()
	p.Status = contracts.ProposalVetoed
	*p.ProcessedAt = processed.Add(time.Hour)

	assert.Equal(t, contracts.ProposalPending, snap.Status)
	assert.Equal(t, processed, *snap.ProcessedAt)
}

func TestRiskLevel_Ordering(t *testing.T) {
	assert.True(t, contracts.RiskHigh.AtLeast(contracts.RiskMedium))
	assert.True(t, contracts.RiskMedium.AtLeast(contracts.RiskMedium))
	assert.False(t, contracts.RiskLow.AtLeast(contracts.RiskMedium))
	assert.Greater(t, contracts.RiskHigh.Score(), contracts.RiskMedium.Score())
	assert.Greater(t, contracts.RiskMedium.Score(), contracts.RiskLow.Score())
}

func TestTargetRef_Aggregate(t *testing.T) {
	ref := contracts.TargetRef{Type: "goal", ID: "g-42", Key: "deadline"}
	assert.Equal(t, "goal:g-42", ref.Aggregate())
}

func TestArbitrationPolicy_PriorityIndex(t *testing.T) {
	p := &contracts.ArbitrationPolicy{PriorityOrder: []string{"planner", "scheduler"}}
	assert.Equal(t, 0, p.PriorityIndex("planner"))
	assert.Equal(t, 1, p.PriorityIndex("scheduler"))
	// Unlisted agents rank after every listed one.
	assert.Equal(t, 2, p.PriorityIndex("notifier"))
}
