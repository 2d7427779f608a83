// Package coordination implements the coordination window: proposals for
// the same target aggregate are buffered for a short debounce period so
// near-simultaneous intents can be detected as conflicts before anything is
// approved. Isolated proposals are auto-approved after the window; conflict
// groups are handed to the arbitration engine.
package coordination

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/concordhq/concord/pkg/arbitration"
	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/proposal"
	"github.com/concordhq/concord/pkg/store"
)

var tracer = otel.Tracer("concord/coordination")

// DefaultWindow is the debounce period before an isolated proposal is
// approved.
const DefaultWindow = 100 * time.Millisecond

// ApprovalCallback executes the winning action. It is the only trigger for
// side-effecting execution; its failure never rolls back the decision.
type ApprovalCallback func(ctx context.Context, p *contracts.Proposal) error

// Action is the intent payload an agent hands to ProposeAction.
type Action struct {
	Type       contracts.ActionType
	Target     contracts.TargetRef
	Value      any
	Confidence float64
	Cost       float64
	Risk       contracts.RiskLevel
}

// ResultStatus is the synchronous answer to ProposeAction.
type ResultStatus string

const (
	StatusPending  ResultStatus = "pending"
	StatusConflict ResultStatus = "conflict"
)

// Result is what the caller gets back immediately. When Status is
// StatusConflict, Conflict and Decision describe what arbitration did; the
// caller may escalate further without waiting for any window.
type Result struct {
	ProposalID string
	Status     ResultStatus
	Conflict   *contracts.Conflict
	Decision   *contracts.Decision
}

// Service buffers and coordinates proposals per target aggregate.
type Service struct {
	registry  *proposal.Registry
	arbiter   *arbitration.Engine
	conflicts store.ConflictStore
	window    time.Duration
	onApprove ApprovalCallback
	logger    *slog.Logger
	clock     func() time.Time

	mu     sync.Mutex
	aggMu  map[string]*sync.Mutex
	timers map[string]*time.Timer
}

func NewService(registry *proposal.Registry, arbiter *arbitration.Engine, conflicts store.ConflictStore, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  registry,
		arbiter:   arbiter,
		conflicts: conflicts,
		window:    window,
		logger:    logger,
		clock:     time.Now,
		aggMu:     make(map[string]*sync.Mutex),
		timers:    make(map[string]*time.Timer),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// OnApprove registers the execution callback invoked for approved proposals.
func (s *Service) OnApprove(cb ApprovalCallback) {
	s.onApprove = cb
}

// aggregateLock returns the mutex serializing all conflict-detection and
// approval sequences for one aggregate. Approval may only happen after a
// full rescan, so the rescan+approve pair must be atomic per aggregate.
func (s *Service) aggregateLock(aggregate string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.aggMu[aggregate]
	if !ok {
		m = &sync.Mutex{}
		s.aggMu[aggregate] = m
	}
	return m
}

// ProposeAction records the intent, rescans the aggregate's pending set
// immediately, and either reports a conflict synchronously or schedules the
// deferred window recheck.
func (s *Service) ProposeAction(ctx context.Context, agentName string, action Action, sourceEventID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "coordination.ProposeAction", trace.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("aggregate", action.Target.Aggregate()),
	))
	defer span.End()

	p, err := s.registry.Submit(ctx, proposal.SubmitInput{
		AgentName:          agentName,
		ActionType:         action.Type,
		Target:             action.Target,
		ProposedValue:      action.Value,
		Confidence:         action.Confidence,
		CostEstimate:       action.Cost,
		RiskLevel:          action.Risk,
		OriginatingEventID: sourceEventID,
	})
	if err != nil {
		return nil, err
	}

	lock := s.aggregateLock(action.Target.Aggregate())
	lock.Lock()
	defer lock.Unlock()

	conflict, err := s.detectConflict(ctx, p)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		decision, err := s.handleConflict(ctx, conflict)
		if err != nil {
			return nil, err
		}
		return &Result{ProposalID: p.ID, Status: StatusConflict, Conflict: conflict, Decision: decision}, nil
	}

	s.scheduleRecheck(p.ID, action.Target.Aggregate())
	return &Result{ProposalID: p.ID, Status: StatusPending}, nil
}

// scheduleRecheck arms the cancellable window timer for one proposal.
func (s *Service) scheduleRecheck(proposalID, aggregate string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[proposalID] = time.AfterFunc(s.window, func() {
		s.recheck(context.Background(), proposalID, aggregate)
	})
}

// CancelRecheck disarms a pending window timer. Safe to call for unknown
// ids; the recheck itself is also a no-op for non-pending proposals.
func (s *Service) CancelRecheck(proposalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[proposalID]; ok {
		t.Stop()
		delete(s.timers, proposalID)
	}
}

// recheck runs at window expiry: a final rescan for late-arriving proposals
// on the same aggregate, then approval if still conflict-free.
func (s *Service) recheck(ctx context.Context, proposalID, aggregate string) {
	s.mu.Lock()
	delete(s.timers, proposalID)
	s.mu.Unlock()

	lock := s.aggregateLock(aggregate)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.registry.Get(ctx, proposalID)
	if err != nil {
		s.logger.Error("window recheck: proposal lookup failed", "proposal_id", proposalID, "error", err)
		return
	}
	// A proposal resolved while the timer was in flight (manual approval,
	// arbitration of a sibling) needs no recheck.
	if p.Status != contracts.ProposalPending {
		return
	}

	conflict, err := s.detectConflict(ctx, p)
	if err != nil {
		s.logger.Error("window recheck: conflict scan failed", "proposal_id", proposalID, "error", err)
		return
	}
	if conflict != nil {
		if _, err := s.handleConflict(ctx, conflict); err != nil {
			s.logger.Error("window recheck: arbitration failed", "conflict_id", conflict.ID, "error", err)
		}
		return
	}

	s.approve(ctx, p)
}

// approve transitions an isolated proposal to approved, suppresses every
// other pending proposal for the aggregate (single winner per aggregate),
// and fires the execution callback. Callback failures are logged and do not
// roll the approval back.
func (s *Service) approve(ctx context.Context, p *contracts.Proposal) {
	if err := s.registry.MarkStatus(ctx, p.ID, contracts.ProposalApproved, ""); err != nil {
		s.logger.Error("window approval failed", "proposal_id", p.ID, "error", err)
		return
	}

	others, err := s.registry.PendingForTarget(ctx, p.Target.Type, p.Target.ID, "")
	if err != nil {
		s.logger.Error("window approval: sibling scan failed", "proposal_id", p.ID, "error", err)
	}
	for _, other := range others {
		if other.ID == p.ID {
			continue
		}
		s.CancelRecheck(other.ID)
		if err := s.registry.MarkStatus(ctx, other.ID, contracts.ProposalSuppressed, ""); err != nil {
			s.logger.Error("window approval: suppress failed", "proposal_id", other.ID, "error", err)
		}
	}

	s.logger.Info("proposal approved after window",
		"proposal_id", p.ID, "agent", p.AgentName, "aggregate", p.Target.Aggregate())

	if s.onApprove == nil {
		return
	}
	approved, err := s.registry.Get(ctx, p.ID)
	if err != nil {
		s.logger.Error("window approval: reload failed", "proposal_id", p.ID, "error", err)
		return
	}
	if err := s.callApprove(ctx, approved); err != nil {
		// Decision-making is separated from execution reliability: the
		// approval stands even though execution failed.
		s.logger.Error("approval callback failed", "proposal_id", p.ID, "error", err)
	}
}

func (s *Service) callApprove(ctx context.Context, p *contracts.Proposal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &callbackPanicError{proposalID: p.ID, value: r}
		}
	}()
	return s.onApprove(ctx, p)
}

// detectConflict scans the aggregate's other pending proposals and applies
// the classification rules in order. Returns nil when the proposal is
// isolated.
func (s *Service) detectConflict(ctx context.Context, p *contracts.Proposal) (*contracts.Conflict, error) {
	pending, err := s.registry.PendingForTarget(ctx, p.Target.Type, p.Target.ID, "")
	if err != nil {
		return nil, err
	}

	var conflictType contracts.ConflictType
	involved := []contracts.Proposal{p.Snapshot()}
	for _, other := range pending {
		if other.ID == p.ID {
			continue
		}
		t := classify(p, other)
		if t == "" {
			continue
		}
		involved = append(involved, other.Snapshot())
		// First rule to match wins; concurrent_modification outranks the
		// later classifications when multiple siblings match differently.
		if conflictType == "" || rank(t) < rank(conflictType) {
			conflictType = t
		}
	}
	if conflictType == "" {
		return nil, nil
	}

	conflict := &contracts.Conflict{
		ID:         uuid.New().String(),
		Type:       conflictType,
		Aggregate:  p.Target.Aggregate(),
		Proposals:  involved,
		DetectedAt: s.clock(),
	}
	if err := s.conflicts.Save(ctx, conflict); err != nil {
		return nil, err
	}
	return conflict, nil
}

// handleConflict cancels window timers for every involved proposal and
// hands the group to the arbitration engine. When arbitration selects a
// winner, the execution callback fires for it exactly as it does on the
// isolated fast path. Callback failures never roll the decision back.
func (s *Service) handleConflict(ctx context.Context, conflict *contracts.Conflict) (*contracts.Decision, error) {
	for _, id := range conflict.ProposalIDs() {
		s.CancelRecheck(id)
	}
	decision, err := s.arbiter.Resolve(ctx, conflict)
	if err != nil {
		return nil, err
	}

	if decision.Outcome == contracts.OutcomeWinnerSelected && s.onApprove != nil {
		winner, err := s.registry.Get(ctx, decision.WinningProposalID)
		if err != nil {
			s.logger.Error("arbitration winner reload failed",
				"decision_id", decision.ID, "proposal_id", decision.WinningProposalID, "error", err)
			return decision, nil
		}
		if err := s.callApprove(ctx, winner); err != nil {
			s.logger.Error("approval callback failed",
				"proposal_id", winner.ID, "decision_id", decision.ID, "error", err)
		}
	}
	return decision, nil
}

// classify applies the conflict classification rules between the new
// proposal and one other pending proposal. First match wins:
//  1. both mutating action types -> concurrent_modification
//  2. both suggestions from different agents -> contradicting_advice
//  3. same action type from a different agent -> resource_contention
func classify(p, other *contracts.Proposal) contracts.ConflictType {
	if contracts.MutatingActions[p.ActionType] && contracts.MutatingActions[other.ActionType] {
		return contracts.ConflictConcurrentModification
	}
	if p.ActionType == contracts.ActionCreateSuggestion &&
		other.ActionType == contracts.ActionCreateSuggestion &&
		p.AgentName != other.AgentName {
		return contracts.ConflictContradictingAdvice
	}
	if p.ActionType == other.ActionType && p.AgentName != other.AgentName {
		return contracts.ConflictResourceContention
	}
	return ""
}

func rank(t contracts.ConflictType) int {
	switch t {
	case contracts.ConflictConcurrentModification:
		return 0
	case contracts.ConflictContradictingAdvice:
		return 1
	default:
		return 2
	}
}

type callbackPanicError struct {
	proposalID string
	value      any
}

func (e *callbackPanicError) Error() string {
	return "approval callback panicked for proposal " + e.proposalID
}
