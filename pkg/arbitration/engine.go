// Package arbitration implements the policy engine: given a detected
// conflict, it selects the applicable policy, applies veto rules, checks
// escalation triggers, and resolves a winner through the configured
// strategy. It is the only component that turns conflicts into decisions.
package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/proposal"
	"github.com/concordhq/concord/pkg/store"
)

var (
	tracer = otel.Tracer("concord/arbitration")
	meter  = otel.Meter("concord/arbitration")
)

// Engine resolves conflicts into decisions.
type Engine struct {
	policies   store.PolicyStore
	decisions  store.DecisionStore
	registry   *proposal.Registry
	conditions *ConditionEvaluator
	logger     *slog.Logger
	clock      func() time.Time

	resolved  metric.Int64Counter
	escalated metric.Int64Counter
}

func NewEngine(policies store.PolicyStore, decisions store.DecisionStore, registry *proposal.Registry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conditions, err := NewConditionEvaluator(logger)
	if err != nil {
		return nil, err
	}
	resolved, err := meter.Int64Counter("concord.conflicts.resolved")
	if err != nil {
		return nil, err
	}
	escalated, err := meter.Int64Counter("concord.conflicts.escalated")
	if err != nil {
		return nil, err
	}
	return &Engine{
		policies:   policies,
		decisions:  decisions,
		registry:   registry,
		conditions: conditions,
		logger:     logger,
		clock:      time.Now,
		resolved:   resolved,
		escalated:  escalated,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Resolve runs the full pipeline for one conflict: policy selection, veto
// pass, escalation check, strategy resolution, decision persistence and
// proposal status advancement.
func (e *Engine) Resolve(ctx context.Context, conflict *contracts.Conflict) (*contracts.Decision, error) {
	ctx, span := tracer.Start(ctx, "arbitration.Resolve", trace.WithAttributes(
		attribute.String("conflict_id", conflict.ID),
		attribute.String("conflict_type", string(conflict.Type)),
		attribute.Int("proposals", len(conflict.Proposals)),
	))
	defer span.End()

	policy, err := e.selectPolicy(ctx, conflict)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		// The system always prefers deferring to a human over guessing.
		return e.escalate(ctx, conflict, nil, nil, conflict.Proposals,
			"no applicable policy")
	}

	// 1. Veto pass: first matching rule vetoes the proposal. A matching
	// rule flagged escalate_on_veto escalates the whole conflict instead.
	var vetoed, survivors []contracts.Proposal
	var vetoNotes []string
	for _, p := range conflict.Proposals {
		rule := e.matchVetoRule(policy, &p)
		if rule == nil {
			survivors = append(survivors, p)
			continue
		}
		if rule.EscalateOnVeto {
			return e.escalate(ctx, conflict, policy, nil, conflict.Proposals,
				fmt.Sprintf("veto rule %q matched %s with escalate_on_veto", rule.Name, p.AgentName))
		}
		vetoed = append(vetoed, p)
		vetoNotes = append(vetoNotes, fmt.Sprintf("%s vetoed by rule %q", p.AgentName, rule.Name))
	}

	if len(survivors) == 0 {
		return e.finalize(ctx, conflict, policy, &contracts.Decision{
			Outcome:   contracts.OutcomeAllVetoed,
			Reasoning: fmt.Sprintf("%s strategy: all proposals vetoed (%s)", policy.Strategy, strings.Join(vetoNotes, "; ")),
		}, nil, nil, vetoed)
	}

	// 2. Escalation check, independent of strategy.
	if reason := e.escalationTrigger(policy, conflict, survivors); reason != "" {
		return e.escalate(ctx, conflict, policy, vetoed, survivors, reason)
	}

	// 3. Strategy resolution over the surviving proposals.
	var res strategyResult
	switch policy.Strategy {
	case contracts.StrategyPriority:
		res = resolvePriority(policy, survivors)
	case contracts.StrategyWeighted:
		res = resolveWeighted(policy, survivors)
	case contracts.StrategyVeto:
		res = resolveVeto(survivors)
	case contracts.StrategyConsensus:
		res = resolveConsensus(survivors)
	default:
		return e.escalate(ctx, conflict, policy, vetoed, survivors,
			fmt.Sprintf("unknown resolution strategy %q", policy.Strategy))
	}

	if res.escalate {
		return e.escalate(ctx, conflict, policy, vetoed, survivors, res.reason)
	}

	reasoning := res.reason
	if len(vetoNotes) > 0 {
		reasoning += "; " + strings.Join(vetoNotes, "; ")
	}

	var suppressed []contracts.Proposal
	for _, p := range survivors {
		if p.ID != res.winner.ID {
			suppressed = append(suppressed, p)
		}
	}
	return e.finalize(ctx, conflict, policy, &contracts.Decision{
		Outcome:           contracts.OutcomeWinnerSelected,
		WinningProposalID: res.winner.ID,
		Reasoning:         reasoning,
	}, res.winner, suppressed, vetoed)
}

// selectPolicy picks the most specific applicable policy:
// preference scope > agent scope > default.
func (e *Engine) selectPolicy(ctx context.Context, conflict *contracts.Conflict) (*contracts.ArbitrationPolicy, error) {
	all, err := e.policies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	agents := conflict.AgentNames()
	var agentMatch, defaultMatch *contracts.ArbitrationPolicy
	for _, pol := range all {
		for _, p := range conflict.Proposals {
			if pol.MatchesPreferenceKey(p.Target.Key) {
				return pol, nil
			}
		}
		if agentMatch == nil && pol.MatchesAgent(agents) {
			agentMatch = pol
		}
		if defaultMatch == nil && pol.IsDefault {
			defaultMatch = pol
		}
	}
	if agentMatch != nil {
		return agentMatch, nil
	}
	return defaultMatch, nil
}

// matchVetoRule returns the first veto rule matching the proposal, or nil.
func (e *Engine) matchVetoRule(policy *contracts.ArbitrationPolicy, p *contracts.Proposal) *contracts.VetoRule {
	for i := range policy.VetoRules {
		rule := &policy.VetoRules[i]
		if e.vetoRuleMatches(rule, p) {
			return rule
		}
	}
	return nil
}

func (e *Engine) vetoRuleMatches(rule *contracts.VetoRule, p *contracts.Proposal) bool {
	structural := false
	if rule.RiskAtLeast != "" {
		if !p.RiskLevel.AtLeast(rule.RiskAtLeast) {
			return false
		}
		structural = true
	}
	if rule.CostAbove != nil {
		if p.CostEstimate < *rule.CostAbove {
			return false
		}
		structural = true
	}
	if len(rule.Agents) > 0 {
		if !contains(rule.Agents, p.AgentName) {
			return false
		}
		structural = true
	}
	if len(rule.PreferenceKeys) > 0 {
		if !contains(rule.PreferenceKeys, p.Target.Key) {
			return false
		}
		structural = true
	}
	if rule.Condition != "" {
		if !e.conditions.Match(rule.Condition, p) {
			return false
		}
		structural = true
	}
	// A rule with no criteria at all matches nothing.
	return structural
}

// escalationTrigger returns a non-empty reason when the policy's escalation
// rule fires for the conflict.
func (e *Engine) escalationTrigger(policy *contracts.ArbitrationPolicy, conflict *contracts.Conflict, survivors []contracts.Proposal) string {
	rule := policy.Escalation
	if rule == nil {
		return ""
	}
	if rule.MultiAgent && len(conflict.AgentNames()) > 1 {
		return "multi-agent conflict requires human approval"
	}
	for _, p := range survivors {
		if contains(rule.AlwaysEscalateAgents, p.AgentName) {
			return fmt.Sprintf("agent %s always escalates", p.AgentName)
		}
		if rule.RiskAtLeast != "" && p.RiskLevel.AtLeast(rule.RiskAtLeast) {
			return fmt.Sprintf("proposal %s risk %s meets escalation threshold", p.ID, p.RiskLevel)
		}
		if rule.CostAbove != nil && p.CostEstimate >= *rule.CostAbove {
			return fmt.Sprintf("proposal %s cost %.2f meets escalation threshold", p.ID, p.CostEstimate)
		}
		if rule.ConfidenceBelow != nil && p.Confidence < *rule.ConfidenceBelow {
			return fmt.Sprintf("proposal %s confidence %.2f below escalation threshold", p.ID, p.Confidence)
		}
		if rule.Condition != "" && e.conditions.Match(rule.Condition, &p) {
			return fmt.Sprintf("proposal %s matched escalation condition", p.ID)
		}
	}
	return ""
}

// escalate builds an escalated decision requiring human approval. No winner
// is chosen; every involved proposal is marked escalated.
func (e *Engine) escalate(ctx context.Context, conflict *contracts.Conflict, policy *contracts.ArbitrationPolicy, vetoed, surviving []contracts.Proposal, reason string) (*contracts.Decision, error) {
	e.escalated.Add(ctx, 1)
	d := &contracts.Decision{
		Outcome:               contracts.OutcomeEscalated,
		RequiresHumanApproval: true,
		Reasoning:             "escalated: " + reason,
	}
	var survivingCopy []contracts.Proposal
	survivingCopy = append(survivingCopy, surviving...)
	return e.seal(ctx, conflict, policy, d, nil, survivingCopy, vetoed, contracts.ProposalEscalated)
}

// finalize persists the decision and advances the involved proposals:
// winner approved, suppressed suppressed, vetoed vetoed.
func (e *Engine) finalize(ctx context.Context, conflict *contracts.Conflict, policy *contracts.ArbitrationPolicy, d *contracts.Decision, winner *contracts.Proposal, suppressed, vetoed []contracts.Proposal) (*contracts.Decision, error) {
	e.resolved.Add(ctx, 1)
	return e.seal(ctx, conflict, policy, d, winner, suppressed, vetoed, contracts.ProposalSuppressed)
}

// seal fills decision bookkeeping, persists it, and advances proposal
// statuses. nonWinnerStatus is what the surviving-but-not-winning proposals
// become (suppressed on resolution, escalated on escalation).
func (e *Engine) seal(ctx context.Context, conflict *contracts.Conflict, policy *contracts.ArbitrationPolicy, d *contracts.Decision, winner *contracts.Proposal, others, vetoed []contracts.Proposal, nonWinnerStatus contracts.ProposalStatus) (*contracts.Decision, error) {
	now := e.clock()
	d.ID = uuid.New().String()
	d.ConflictID = conflict.ID
	d.ResolvedAt = now
	if policy != nil {
		d.PolicyID = policy.ID
		d.StrategyUsed = policy.Strategy
	}
	for _, p := range others {
		d.SuppressedProposalIDs = append(d.SuppressedProposalIDs, p.ID)
	}
	for _, p := range vetoed {
		d.VetoedProposalIDs = append(d.VetoedProposalIDs, p.ID)
	}
	if err := d.SealContentHash(); err != nil {
		return nil, err
	}
	if err := e.decisions.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save decision: %w", err)
	}

	if winner != nil {
		if err := e.registry.MarkStatus(ctx, winner.ID, contracts.ProposalApproved, d.ID); err != nil {
			e.logger.Error("mark winner failed", "proposal_id", winner.ID, "error", err)
		}
	}
	for _, p := range others {
		if err := e.registry.MarkStatus(ctx, p.ID, nonWinnerStatus, d.ID); err != nil {
			e.logger.Error("mark proposal failed", "proposal_id", p.ID, "error", err)
		}
	}
	for _, p := range vetoed {
		if err := e.registry.MarkStatus(ctx, p.ID, contracts.ProposalVetoed, d.ID); err != nil {
			e.logger.Error("mark vetoed proposal failed", "proposal_id", p.ID, "error", err)
		}
	}

	e.logger.Info("conflict resolved",
		"conflict_id", conflict.ID, "decision_id", d.ID,
		"outcome", d.Outcome, "strategy", d.StrategyUsed,
		"winner", d.WinningProposalID)
	return d, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
