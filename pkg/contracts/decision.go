package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// DecisionOutcome is the resolved disposition of a conflict.
type DecisionOutcome string

const (
	OutcomeWinnerSelected DecisionOutcome = "winner_selected"
	OutcomeAllVetoed      DecisionOutcome = "all_vetoed"
	OutcomeEscalated      DecisionOutcome = "escalated"
)

// Decision captures the resolved (or escalated) outcome for one conflict.
// Created once per conflict by the arbitration engine; mutated afterwards
// only by the escalation gateway when a human approves or rejects.
type Decision struct {
	ID                    string             `json:"id"`
	ConflictID            string             `json:"conflict_id"`
	PolicyID              string             `json:"policy_id,omitempty"`
	WinningProposalID     string             `json:"winning_proposal_id,omitempty"`
	SuppressedProposalIDs []string           `json:"suppressed_proposal_ids,omitempty"`
	VetoedProposalIDs     []string           `json:"vetoed_proposal_ids,omitempty"`
	StrategyUsed          ResolutionStrategy `json:"strategy_used,omitempty"`
	Reasoning             string             `json:"reasoning"`
	RequiresHumanApproval bool               `json:"requires_human_approval"`
	Executed              bool               `json:"executed"`
	ExecutedAt            *time.Time         `json:"executed_at,omitempty"`
	ResolvedAt            time.Time          `json:"resolved_at"`
	Outcome               DecisionOutcome    `json:"outcome"`

	// ContentHash is a SHA-256 over the JCS-canonical form of the decision
	// at resolution time, making the audit trail tamper-evident.
	ContentHash string `json:"content_hash,omitempty"`
}

// SealContentHash computes and stores the decision's canonical content hash.
// The hash field itself is excluded from the hashed payload.
func (d *Decision) SealContentHash() error {
	cp := *d
	cp.ContentHash = ""
	raw, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("canonicalize decision %s: %w", d.ID, err)
	}
	sum := sha256.Sum256(canonical)
	d.ContentHash = hex.EncodeToString(sum[:])
	return nil
}

// InvolvedProposalIDs returns every proposal the decision touched: the
// winner candidate, the suppressed and the vetoed.
func (d *Decision) InvolvedProposalIDs() []string {
	var ids []string
	if d.WinningProposalID != "" {
		ids = append(ids, d.WinningProposalID)
	}
	ids = append(ids, d.SuppressedProposalIDs...)
	ids = append(ids, d.VetoedProposalIDs...)
	return ids
}
