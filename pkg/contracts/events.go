package contracts

import "time"

// Event is a fire-and-forget governance notification. Consumers (audit log,
// telemetry) must never influence control flow.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// AgentActionProposed announces a newly recorded proposal. Audit only; it
// must never trigger execution.
type AgentActionProposed struct {
	ProposalID         string     `json:"proposal_id"`
	AgentName          string     `json:"agent_name"`
	ActionType         ActionType `json:"action_type"`
	Target             TargetRef  `json:"target"`
	OriginatingEventID string     `json:"originating_event_id"`
	At                 time.Time  `json:"at"`
}

func (e AgentActionProposed) EventName() string { return "agent_action_proposed" }
func (e AgentActionProposed) OccurredAt() time.Time { return e.At }

// EscalationApproved records a human approving an escalated decision.
type EscalationApproved struct {
	DecisionID        string    `json:"decision_id"`
	WinningProposalID string    `json:"winning_proposal_id"`
	ApprovedBy        string    `json:"approved_by"`
	At                time.Time `json:"at"`
}

func (e EscalationApproved) EventName() string { return "escalation_approved" }
func (e EscalationApproved) OccurredAt() time.Time { return e.At }

// EscalationRejected records a human rejecting an escalated decision.
type EscalationRejected struct {
	DecisionID string    `json:"decision_id"`
	RejectedBy string    `json:"rejected_by"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

func (e EscalationRejected) EventName() string { return "escalation_rejected" }
func (e EscalationRejected) OccurredAt() time.Time { return e.At }
