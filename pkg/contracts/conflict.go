package contracts

import "time"

// ConflictType classifies why a set of proposals cannot all be honored.
type ConflictType string

const (
	// ConflictConcurrentModification: two mutating proposals on the same aggregate.
	ConflictConcurrentModification ConflictType = "concurrent_modification"
	// ConflictContradictingAdvice: two suggestions from different agents.
	ConflictContradictingAdvice ConflictType = "contradicting_advice"
	// ConflictResourceContention: same action type from different agents.
	ConflictResourceContention ConflictType = "resource_contention"
)

// Conflict is a detected group of two or more proposals targeting the same
// aggregate. Proposals holds snapshots taken at detection time, not live
// references.
type Conflict struct {
	ID         string       `json:"id"`
	Type       ConflictType `json:"type"`
	Aggregate  string       `json:"aggregate"`
	Proposals  []Proposal   `json:"proposals"`
	DetectedAt time.Time    `json:"detected_at"`
}

// ProposalIDs returns the ids of every involved proposal, in snapshot order.
func (c *Conflict) ProposalIDs() []string {
	ids := make([]string, 0, len(c.Proposals))
	for _, p := range c.Proposals {
		ids = append(ids, p.ID)
	}
	return ids
}

// AgentNames returns the distinct agents involved in the conflict.
func (c *Conflict) AgentNames() []string {
	seen := make(map[string]bool, len(c.Proposals))
	names := make([]string, 0, len(c.Proposals))
	for _, p := range c.Proposals {
		if !seen[p.AgentName] {
			seen[p.AgentName] = true
			names = append(names, p.AgentName)
		}
	}
	return names
}
