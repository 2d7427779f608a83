package contracts

// PolicyScope controls which conflicts a policy applies to. When several
// policies match the same conflict, preference scope beats agent scope beats
// global.
type PolicyScope string

const (
	ScopeGlobal     PolicyScope = "global"
	ScopeAgent      PolicyScope = "agent"
	ScopePreference PolicyScope = "preference"
)

// ResolutionStrategy selects the algorithm used to pick a winner among
// surviving proposals.
type ResolutionStrategy string

const (
	StrategyPriority  ResolutionStrategy = "priority"
	StrategyWeighted  ResolutionStrategy = "weighted"
	StrategyVeto      ResolutionStrategy = "veto"
	StrategyConsensus ResolutionStrategy = "consensus"
)

// Weights are the coefficients for weighted scoring:
// score = confidence*Confidence - cost*Cost - riskScore*Risk.
type Weights struct {
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Cost       float64 `json:"cost" yaml:"cost"`
	Risk       float64 `json:"risk" yaml:"risk"`
}

// VetoRule hard-blocks a proposal regardless of strategy scoring. Rules are
// evaluated in order; the first match wins. Condition, when set, is a CEL
// expression over the proposal's attributes that must also hold for the rule
// to match.
type VetoRule struct {
	Name           string    `json:"name" yaml:"name"`
	RiskAtLeast    RiskLevel `json:"risk_at_least,omitempty" yaml:"risk_at_least,omitempty"`
	CostAbove      *float64  `json:"cost_above,omitempty" yaml:"cost_above,omitempty"`
	Agents         []string  `json:"agents,omitempty" yaml:"agents,omitempty"`
	PreferenceKeys []string  `json:"preference_keys,omitempty" yaml:"preference_keys,omitempty"`
	Condition      string    `json:"condition,omitempty" yaml:"condition,omitempty"`
	EscalateOnVeto bool      `json:"escalate_on_veto,omitempty" yaml:"escalate_on_veto,omitempty"`
}

// EscalationRule forces a conflict to a human instead of automatic
// resolution. Threshold fields apply to any single surviving proposal.
type EscalationRule struct {
	AlwaysEscalateAgents []string  `json:"always_escalate_agents,omitempty" yaml:"always_escalate_agents,omitempty"`
	MultiAgent           bool      `json:"multi_agent,omitempty" yaml:"multi_agent,omitempty"`
	RiskAtLeast          RiskLevel `json:"risk_at_least,omitempty" yaml:"risk_at_least,omitempty"`
	CostAbove            *float64  `json:"cost_above,omitempty" yaml:"cost_above,omitempty"`
	ConfidenceBelow      *float64  `json:"confidence_below,omitempty" yaml:"confidence_below,omitempty"`
	Condition            string    `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ArbitrationPolicy is a resolution configuration for conflicts.
type ArbitrationPolicy struct {
	ID             string             `json:"id" yaml:"id"`
	Name           string             `json:"name" yaml:"name"`
	Version        string             `json:"version,omitempty" yaml:"version,omitempty"`
	Scope          PolicyScope        `json:"scope" yaml:"scope"`
	AgentNames     []string           `json:"agent_names,omitempty" yaml:"agent_names,omitempty"`
	PreferenceKeys []string           `json:"preference_keys,omitempty" yaml:"preference_keys,omitempty"`
	Strategy       ResolutionStrategy `json:"strategy" yaml:"strategy"`
	PriorityOrder  []string           `json:"priority_order,omitempty" yaml:"priority_order,omitempty"`
	Weights        Weights            `json:"weights,omitempty" yaml:"weights,omitempty"`
	VetoRules      []VetoRule         `json:"veto_rules,omitempty" yaml:"veto_rules,omitempty"`
	Escalation     *EscalationRule    `json:"escalation,omitempty" yaml:"escalation,omitempty"`
	IsDefault      bool               `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

// PriorityIndex returns the agent's rank in the policy's priority order.
// Unlisted agents rank last.
func (p *ArbitrationPolicy) PriorityIndex(agent string) int {
	for i, name := range p.PriorityOrder {
		if name == agent {
			return i
		}
	}
	return len(p.PriorityOrder)
}

// MatchesPreferenceKey reports whether the policy's preference scope covers
// the given target key.
func (p *ArbitrationPolicy) MatchesPreferenceKey(key string) bool {
	if p.Scope != ScopePreference || key == "" {
		return false
	}
	for _, k := range p.PreferenceKeys {
		if k == key {
			return true
		}
	}
	return false
}

// MatchesAgent reports whether the policy's agent scope covers any of the
// given agents.
func (p *ArbitrationPolicy) MatchesAgent(agents []string) bool {
	if p.Scope != ScopeAgent {
		return false
	}
	for _, a := range agents {
		for _, name := range p.AgentNames {
			if a == name {
				return true
			}
		}
	}
	return false
}
