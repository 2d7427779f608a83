// Package escalation is the human-in-the-loop boundary of the governance
// engine: escalated decisions wait here until an operator approves or
// rejects them. Both operations are idempotent in effect — a second call
// finds the decision already settled and fails cleanly — but request
// deduplication by identity is the HTTP layer's job (see the idempotency
// store in pkg/store).
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/proposal"
	"github.com/concordhq/concord/pkg/store"
)

var (
	// ErrDecisionNotFound maps to 404 at the HTTP layer.
	ErrDecisionNotFound = errors.New("escalation: decision not found")
	// ErrNotEscalated: the decision never required (or no longer requires)
	// human approval.
	ErrNotEscalated = errors.New("escalation: decision does not require human approval")
	// ErrAlreadyExecuted: the decision has already been settled; supports
	// retried admin clicks as a benign failure.
	ErrAlreadyExecuted = errors.New("escalation: decision already executed")
	// ErrNoProposalSelected: approval of a winnerless escalation needs an
	// explicit proposal choice.
	ErrNoProposalSelected = errors.New("escalation: no proposal selected")
)

// Gateway settles escalated decisions.
type Gateway struct {
	decisions  store.DecisionStore
	conflicts  store.ConflictStore
	registry   *proposal.Registry
	dispatcher events.Dispatcher
	logger     *slog.Logger
	clock      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGateway(decisions store.DecisionStore, conflicts store.ConflictStore, registry *proposal.Registry, dispatcher events.Dispatcher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		decisions:  decisions,
		conflicts:  conflicts,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gateway) WithClock(clock func() time.Time) *Gateway {
	g.clock = clock
	return g
}

// decisionLock serializes check-then-act per decision id so the same
// decision can never be settled twice concurrently.
func (g *Gateway) decisionLock(decisionID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.locks[decisionID]
	if !ok {
		m = &sync.Mutex{}
		g.locks[decisionID] = m
	}
	return m
}

// Approve settles an escalated decision in favor of one proposal.
// selectedProposalID takes precedence over any previously computed winner;
// it may be empty when the engine already nominated one.
func (g *Gateway) Approve(ctx context.Context, decisionID, approvedBy, selectedProposalID string) (*contracts.Decision, error) {
	lock := g.decisionLock(decisionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := g.load(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	winner := d.WinningProposalID
	if selectedProposalID != "" {
		winner = selectedProposalID
	}
	if winner == "" {
		return nil, ErrNoProposalSelected
	}

	now := g.clock()
	d.WinningProposalID = winner
	d.RequiresHumanApproval = false
	d.Executed = true
	d.ExecutedAt = &now
	d.Outcome = contracts.OutcomeWinnerSelected
	d.Reasoning = fmt.Sprintf("%s; approved by %s", d.Reasoning, approvedBy)
	if err := d.SealContentHash(); err != nil {
		return nil, err
	}
	if err := g.decisions.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save decision %s: %w", decisionID, err)
	}

	if err := g.registry.MarkStatus(ctx, winner, contracts.ProposalExecuted, d.ID); err != nil {
		g.logger.Error("mark winner executed failed", "proposal_id", winner, "error", err)
	}
	// The remaining candidates lose.
	for _, id := range g.involved(ctx, d) {
		if id == winner {
			continue
		}
		if err := g.markIfAdvancable(ctx, id, contracts.ProposalSuppressed, d.ID); err != nil {
			g.logger.Error("suppress candidate failed", "proposal_id", id, "error", err)
		}
	}

	if g.dispatcher != nil {
		g.dispatcher.Dispatch(ctx, contracts.EscalationApproved{
			DecisionID:        d.ID,
			WinningProposalID: winner,
			ApprovedBy:        approvedBy,
			At:                now,
		})
	}
	g.logger.Info("escalation approved",
		"decision_id", d.ID, "approved_by", approvedBy, "winner", winner)
	return d, nil
}

// Reject settles an escalated decision against every involved proposal.
func (g *Gateway) Reject(ctx context.Context, decisionID, reason, rejectedBy string) (*contracts.Decision, error) {
	lock := g.decisionLock(decisionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := g.load(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	involved := g.involved(ctx, d)
	now := g.clock()
	d.WinningProposalID = ""
	// Executed stays false: nothing ran. Clearing RequiresHumanApproval is
	// what makes the rejection terminal for later approve/reject attempts.
	d.RequiresHumanApproval = false
	d.Outcome = contracts.OutcomeAllVetoed
	d.Reasoning = fmt.Sprintf("%s; rejected by %s: %s", d.Reasoning, rejectedBy, reason)
	if err := d.SealContentHash(); err != nil {
		return nil, err
	}
	if err := g.decisions.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save decision %s: %w", decisionID, err)
	}

	for _, id := range involved {
		if err := g.markIfAdvancable(ctx, id, contracts.ProposalVetoed, d.ID); err != nil {
			g.logger.Error("veto involved proposal failed", "proposal_id", id, "error", err)
		}
	}

	if g.dispatcher != nil {
		g.dispatcher.Dispatch(ctx, contracts.EscalationRejected{
			DecisionID: d.ID,
			RejectedBy: rejectedBy,
			Reason:     reason,
			At:         now,
		})
	}
	g.logger.Info("escalation rejected",
		"decision_id", d.ID, "rejected_by", rejectedBy, "reason", reason)
	return d, nil
}

// PendingEscalations lists decisions still awaiting a human.
func (g *Gateway) PendingEscalations(ctx context.Context) ([]*contracts.Decision, error) {
	return g.decisions.PendingEscalations(ctx)
}

// load fetches the decision and applies the settlement guards.
func (g *Gateway) load(ctx context.Context, decisionID string) (*contracts.Decision, error) {
	d, err := g.decisions.Get(ctx, decisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("load decision %s: %w", decisionID, err)
	}
	if d.Executed {
		return nil, ErrAlreadyExecuted
	}
	if !d.RequiresHumanApproval {
		return nil, ErrNotEscalated
	}
	return d, nil
}

// involved returns every proposal touched by the decision, preferring the
// conflict's snapshot list to catch proposals the decision did not
// explicitly record.
func (g *Gateway) involved(ctx context.Context, d *contracts.Decision) []string {
	if conflict, err := g.conflicts.Get(ctx, d.ConflictID); err == nil {
		return conflict.ProposalIDs()
	}
	return d.InvolvedProposalIDs()
}

// markIfAdvancable advances a proposal's status, tolerating proposals that
// are already terminal (e.g. vetoed during arbitration).
func (g *Gateway) markIfAdvancable(ctx context.Context, proposalID string, next contracts.ProposalStatus, decisionID string) error {
	p, err := g.registry.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	switch p.Status {
	case contracts.ProposalVetoed, contracts.ProposalExecuted:
		return nil // terminal already
	}
	if p.Status == next {
		return nil
	}
	return g.registry.MarkStatus(ctx, proposalID, next, decisionID)
}
