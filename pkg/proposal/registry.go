// Package proposal implements the Proposal Registry: agents declare intents
// here, the registry validates and records them, and announces them for
// audit. It never executes anything itself.
package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/store"
)

var tracer = otel.Tracer("concord/proposal")

var validActions = map[contracts.ActionType]bool{
	contracts.ActionApplyPreference:  true,
	contracts.ActionRescheduleTask:   true,
	contracts.ActionCreateSuggestion: true,
	contracts.ActionSendNotification: true,
	contracts.ActionUpdateSchedule:   true,
	contracts.ActionModifyGoal:       true,
}

// SubmitInput is everything an agent supplies when declaring an intent.
type SubmitInput struct {
	AgentName          string
	ActionType         contracts.ActionType
	Target             contracts.TargetRef
	ProposedValue      any
	Confidence         float64
	CostEstimate       float64
	RiskLevel          contracts.RiskLevel
	OriginatingEventID string
	SuggestionID       string
}

// Registry owns proposals. Only the coordination, arbitration and
// escalation components may advance a proposal's status, and only through
// MarkStatus (single-writer discipline per proposal).
type Registry struct {
	proposals  store.ProposalStore
	dispatcher events.Dispatcher
	logger     *slog.Logger
	clock      func() time.Time
}

func NewRegistry(proposals store.ProposalStore, dispatcher events.Dispatcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		proposals:  proposals,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Submit validates and records a proposal in pending status, then announces
// it. The announcement is audit-only and must not trigger execution.
func (r *Registry) Submit(ctx context.Context, in SubmitInput) (*contracts.Proposal, error) {
	ctx, span := tracer.Start(ctx, "proposal.Submit", trace.WithAttributes(
		attribute.String("agent", in.AgentName),
		attribute.String("action", string(in.ActionType)),
	))
	defer span.End()

	if in.AgentName == "" {
		return nil, fmt.Errorf("submit proposal: agent name is required")
	}
	if !validActions[in.ActionType] {
		return nil, fmt.Errorf("submit proposal: unknown action type %q", in.ActionType)
	}
	if in.Target.Type == "" || in.Target.ID == "" {
		return nil, fmt.Errorf("submit proposal: target type and id are required")
	}
	if in.OriginatingEventID == "" {
		return nil, fmt.Errorf("submit proposal: originating event id is required")
	}

	risk := in.RiskLevel
	if risk == "" {
		risk = contracts.RiskLow
	}

	now := r.clock()
	p := &contracts.Proposal{
		ID:                 uuid.New().String(),
		AgentName:          in.AgentName,
		ActionType:         in.ActionType,
		Target:             in.Target,
		ProposedValue:      in.ProposedValue,
		Confidence:         clamp(in.Confidence, 0, 1),
		CostEstimate:       max(in.CostEstimate, 0),
		RiskLevel:          risk,
		OriginatingEventID: in.OriginatingEventID,
		SuggestionID:       in.SuggestionID,
		Status:             contracts.ProposalPending,
		CreatedAt:          now,
	}

	if err := r.proposals.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("submit proposal: %w", err)
	}

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, contracts.AgentActionProposed{
			ProposalID:         p.ID,
			AgentName:          p.AgentName,
			ActionType:         p.ActionType,
			Target:             p.Target,
			OriginatingEventID: p.OriginatingEventID,
			At:                 now,
		})
	}

	r.logger.Info("proposal recorded",
		"proposal_id", p.ID, "agent", p.AgentName,
		"action", p.ActionType, "target", p.Target.Aggregate())
	return p, nil
}

// Get returns one proposal by id.
func (r *Registry) Get(ctx context.Context, id string) (*contracts.Proposal, error) {
	return r.proposals.Get(ctx, id)
}

// ByAgent returns every proposal a given agent has submitted.
func (r *Registry) ByAgent(ctx context.Context, agentName string) ([]*contracts.Proposal, error) {
	return r.proposals.ByAgent(ctx, agentName)
}

// ByOriginatingEvent returns every proposal triggered by a domain event.
func (r *Registry) ByOriginatingEvent(ctx context.Context, eventID string) ([]*contracts.Proposal, error) {
	return r.proposals.ByOriginatingEvent(ctx, eventID)
}

// Pending returns all proposals still awaiting a decision.
func (r *Registry) Pending(ctx context.Context) ([]*contracts.Proposal, error) {
	return r.proposals.Pending(ctx)
}

// PendingForTarget returns the pending proposals aimed at one aggregate,
// optionally narrowed to a preference key.
func (r *Registry) PendingForTarget(ctx context.Context, targetType, targetID, key string) ([]*contracts.Proposal, error) {
	return r.proposals.PendingForTarget(ctx, store.TargetQuery{Type: targetType, ID: targetID, Key: key})
}

// MarkStatus advances a proposal's status through the forward-only
// transition table, stamping the decision that caused it. Reserved for the
// coordination, arbitration and escalation components.
func (r *Registry) MarkStatus(ctx context.Context, proposalID string, next contracts.ProposalStatus, decisionID string) error {
	p, err := r.proposals.Get(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("mark proposal %s: %w", proposalID, err)
	}
	if err := p.AdvanceStatus(next, r.clock()); err != nil {
		return err
	}
	if decisionID != "" {
		p.DecisionID = decisionID
	}
	if err := r.proposals.Save(ctx, p); err != nil {
		return fmt.Errorf("mark proposal %s: %w", proposalID, err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
