package proposal_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/proposal"
	"github.com/concordhq/concord/pkg/store"
)

func validInput() proposal.SubmitInput {
	return proposal.SubmitInput{
		AgentName:          "scheduler",
		ActionType:         contracts.ActionRescheduleTask,
		Target:             contracts.TargetRef{Type: "task", ID: "t-1"},
		Confidence:         0.8,
		CostEstimate:       5,
		RiskLevel:          contracts.RiskMedium,
		OriginatingEventID: "evt-1",
	}
}

func TestRegistry_Submit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	newRegistry := func() (*proposal.Registry, *events.AuditSink) {
		dispatcher := events.NewInProcessDispatcher(nil)
		audit := events.NewAuditSink(0)
		dispatcher.SubscribeAll(audit.Record)
		r := proposal.NewRegistry(store.NewMemoryProposalStore(), dispatcher, nil).
			WithClock(func() time.Time { return now })
		return r, audit
	}

	t.Run("records pending proposal and announces it", func(t *testing.T) {
		r, audit := newRegistry()
		p, err := r.Submit(ctx, validInput())
		require.NoError(t, err)

		assert.NotEmpty(t, p.ID)
		assert.Equal(t, contracts.ProposalPending, p.Status)
		assert.Equal(t, now, p.CreatedAt)
		assert.Nil(t, p.ProcessedAt)

		entries := audit.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "agent_action_proposed", entries[0].EventName)
		var proposed contracts.AgentActionProposed
		require.NoError(t, json.Unmarshal(entries[0].Payload, &proposed))
		assert.Equal(t, p.ID, proposed.ProposalID)
	})

	t.Run("validation failures", func(t *testing.T) {
		r, _ := newRegistry()
		for name, mutate := range map[string]func(*proposal.SubmitInput){
			"missing agent":     func(in *proposal.SubmitInput) { in.AgentName = "" },
			"unknown action":    func(in *proposal.SubmitInput) { in.ActionType = "launch_rocket" },
			"missing target":    func(in *proposal.SubmitInput) { in.Target = contracts.TargetRef{} },
			"missing target id": func(in *proposal.SubmitInput) { in.Target.ID = "" },
			"missing event id":  func(in *proposal.SubmitInput) { in.OriginatingEventID = "" },
		} {
			in := validInput()
			mutate(&in)
			_, err := r.Submit(ctx, in)
			assert.Error(t, err, name)
		}
	})

	t.Run("clamps confidence and cost", func(t *testing.T) {
		r, _ := newRegistry()
		in := validInput()
		in.Confidence = 1.7
		in.CostEstimate = -3
		p, err := r.Submit(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 1.0, p.Confidence)
		assert.Equal(t, 0.0, p.CostEstimate)
	})

	t.Run("defaults empty risk to low", func(t *testing.T) {
		r, _ := newRegistry()
		in := validInput()
		in.RiskLevel = ""
		p, err := r.Submit(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, contracts.RiskLow, p.RiskLevel)
	})
}

func TestRegistry_Queries(t *testing.T) {
	ctx := context.Background()
	r := proposal.NewRegistry(store.NewMemoryProposalStore(), nil, nil)

	mk := func(agent, targetID, eventID string) *contracts.Proposal {
		in := validInput()
		in.AgentName = agent
		in.Target.ID = targetID
		in.OriginatingEventID = eventID
		p, err := r.Submit(ctx, in)
		require.NoError(t, err)
		return p
	}

	p1 := mk("scheduler", "t-1", "evt-1")
	p2 := mk("planner", "t-1", "evt-1")
	p3 := mk("scheduler", "t-2", "evt-2")

	byAgent, err := r.ByAgent(ctx, "scheduler")
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	byEvent, err := r.ByOriginatingEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	require.NoError(t, r.MarkStatus(ctx, p1.ID, contracts.ProposalApproved, "dec-1"))

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	forTarget, err := r.PendingForTarget(ctx, "task", "t-1", "")
	require.NoError(t, err)
	require.Len(t, forTarget, 1)
	assert.Equal(t, p2.ID, forTarget[0].ID)

	_ = p3
}

func TestRegistry_MarkStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := proposal.NewRegistry(store.NewMemoryProposalStore(), nil, nil).
		WithClock(func() time.Time { return now })

	p, err := r.Submit(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, r.MarkStatus(ctx, p.ID, contracts.ProposalApproved, "dec-1"))
	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, got.Status)
	assert.Equal(t, "dec-1", got.DecisionID)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, now, *got.ProcessedAt)

	// The transition table still applies through MarkStatus.
	err = r.MarkStatus(ctx, p.ID, contracts.ProposalPending, "")
	assert.Error(t, err)

	err = r.MarkStatus(ctx, "missing", contracts.ProposalApproved, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
