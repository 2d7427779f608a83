package contracts

import (
	"fmt"
	"time"
)

// ActionType classifies what an agent intends to do to its target.
type ActionType string

const (
	ActionApplyPreference  ActionType = "apply_preference"
	ActionRescheduleTask   ActionType = "reschedule_task"
	ActionCreateSuggestion ActionType = "create_suggestion"
	ActionSendNotification ActionType = "send_notification"
	ActionUpdateSchedule   ActionType = "update_schedule"
	ActionModifyGoal       ActionType = "modify_goal"
)

// MutatingActions are the action types that rewrite aggregate state rather
// than merely advising. Two pending mutating proposals on the same aggregate
// always conflict, regardless of the field they touch.
var MutatingActions = map[ActionType]bool{
	ActionModifyGoal:     true,
	ActionRescheduleTask: true,
	ActionUpdateSchedule: true,
}

// RiskLevel is the agent's own assessment of how dangerous its action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Score maps a risk level onto the numeric penalty used by weighted scoring.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskHigh:
		return 1.0
	case RiskMedium:
		return 0.5
	default:
		return 0.2
	}
}

// AtLeast reports whether r is equal to or more severe than other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Score() >= other.Score()
}

// ProposalStatus is the lifecycle state of a proposal. Transitions are
// forward-only; see AdvanceStatus.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalApproved   ProposalStatus = "approved"
	ProposalExecuted   ProposalStatus = "executed"
	ProposalSuppressed ProposalStatus = "suppressed"
	ProposalVetoed     ProposalStatus = "vetoed"
	ProposalEscalated  ProposalStatus = "escalated"
)

// proposalTransitions is the forward-only transition table. A status absent
// from the map is terminal.
var proposalTransitions = map[ProposalStatus]map[ProposalStatus]bool{
	ProposalPending: {
		ProposalApproved:   true,
		ProposalSuppressed: true,
		ProposalVetoed:     true,
		ProposalEscalated:  true,
	},
	ProposalApproved: {
		ProposalExecuted: true,
		ProposalVetoed:   true,
	},
	ProposalEscalated: {
		ProposalApproved:   true,
		ProposalExecuted:   true,
		ProposalSuppressed: true,
		ProposalVetoed:     true,
	},
	ProposalSuppressed: {
		ProposalVetoed: true,
	},
}

// TargetRef identifies the aggregate (and optionally the field within it)
// that a proposal wants to touch.
type TargetRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
}

// Aggregate returns the coordination index key for the target.
func (t TargetRef) Aggregate() string {
	return t.Type + ":" + t.ID
}

// Proposal is an agent's declared intent to change or notify something.
// Proposals are never deleted; they only advance status, forming an
// append-only audit trail.
type Proposal struct {
	ID                 string         `json:"id"`
	AgentName          string         `json:"agent_name"`
	ActionType         ActionType     `json:"action_type"`
	Target             TargetRef      `json:"target"`
	ProposedValue      any            `json:"proposed_value"`
	Confidence         float64        `json:"confidence"`
	CostEstimate       float64        `json:"cost_estimate"`
	RiskLevel          RiskLevel      `json:"risk_level"`
	OriginatingEventID string         `json:"originating_event_id"`
	SuggestionID       string         `json:"suggestion_id,omitempty"`
	Status             ProposalStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	ProcessedAt        *time.Time     `json:"processed_at,omitempty"`
	DecisionID         string         `json:"decision_id,omitempty"`
}

// AdvanceStatus moves the proposal forward through its lifecycle. It fails
// for any transition outside the table, which is what keeps the audit trail
// monotonic.
func (p *Proposal) AdvanceStatus(next ProposalStatus, at time.Time) error {
	allowed, ok := proposalTransitions[p.Status]
	if !ok || !allowed[next] {
		return fmt.Errorf("proposal %s: illegal status transition %s -> %s", p.ID, p.Status, next)
	}
	p.Status = next
	t := at
	p.ProcessedAt = &t
	return nil
}

// Snapshot returns a value copy of the proposal suitable for embedding into
// a Conflict, so resolution stays deterministic even if the live proposal
// mutates afterwards.
func (p *Proposal) Snapshot() Proposal {
	cp := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		cp.ProcessedAt = &t
	}
	return cp
}
