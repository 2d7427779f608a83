package arbitration

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/concordhq/concord/pkg/contracts"
)

// strategyResult is what a resolution strategy produces over the surviving
// proposals: either a winner, an all-vetoed verdict, or a request to
// escalate.
type strategyResult struct {
	winner   *contracts.Proposal
	escalate bool
	reason   string
}

// resolvePriority picks the proposal whose agent ranks highest in the
// policy's priority order; ties break on earliest submission.
func resolvePriority(policy *contracts.ArbitrationPolicy, survivors []contracts.Proposal) strategyResult {
	best := survivors[0]
	for _, p := range survivors[1:] {
		bi, pi := policy.PriorityIndex(best.AgentName), policy.PriorityIndex(p.AgentName)
		if pi < bi || (pi == bi && p.CreatedAt.Before(best.CreatedAt)) {
			best = p
		}
	}
	return strategyResult{
		winner: &best,
		reason: fmt.Sprintf("priority strategy: %s ranks highest of %d proposals", best.AgentName, len(survivors)),
	}
}

// weightedScore computes confidence*wC - cost*wCost - riskScore*wRisk.
func weightedScore(w contracts.Weights, p *contracts.Proposal) float64 {
	return p.Confidence*w.Confidence - p.CostEstimate*w.Cost - p.RiskLevel.Score()*w.Risk
}

// resolveWeighted scores every survivor; highest wins, ties break on
// priority order then timestamp. The reasoning names every score so the
// decision is explainable.
func resolveWeighted(policy *contracts.ArbitrationPolicy, survivors []contracts.Proposal) strategyResult {
	type scored struct {
		p     contracts.Proposal
		score float64
	}
	all := make([]scored, 0, len(survivors))
	for _, p := range survivors {
		all = append(all, scored{p: p, score: weightedScore(policy.Weights, &p)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		pi, pj := policy.PriorityIndex(all[i].p.AgentName), policy.PriorityIndex(all[j].p.AgentName)
		if pi != pj {
			return pi < pj
		}
		return all[i].p.CreatedAt.Before(all[j].p.CreatedAt)
	})

	parts := make([]string, 0, len(all))
	for _, s := range all {
		parts = append(parts, fmt.Sprintf("%s(%s)=%.3f", s.p.AgentName, s.p.ID, s.score))
	}
	best := all[0].p
	return strategyResult{
		winner: &best,
		reason: fmt.Sprintf("weighted strategy: scores %s; %s wins", strings.Join(parts, ", "), best.AgentName),
	}
}

// resolveVeto relies entirely on the veto pass: exactly one survivor wins.
// Zero survivors never reaches here (handled as all_vetoed upstream); more
// than one escalates, because the veto strategy never breaks ties
// numerically.
func resolveVeto(survivors []contracts.Proposal) strategyResult {
	if len(survivors) == 1 {
		return strategyResult{
			winner: &survivors[0],
			reason: fmt.Sprintf("veto strategy: %s is the sole survivor", survivors[0].AgentName),
		}
	}
	return strategyResult{
		escalate: true,
		reason:   fmt.Sprintf("veto strategy: %d proposals survived veto rules, cannot break tie", len(survivors)),
	}
}

// resolveConsensus wins only when every survivor proposes the same value
// for the same target; the earliest proposal becomes the canonical winner.
func resolveConsensus(survivors []contracts.Proposal) strategyResult {
	first := survivors[0]
	firstFP, err := valueFingerprint(first.ProposedValue)
	if err != nil {
		return strategyResult{escalate: true, reason: "consensus strategy: proposed value not comparable"}
	}
	earliest := first
	for _, p := range survivors[1:] {
		fp, err := valueFingerprint(p.ProposedValue)
		if err != nil || fp != firstFP || p.Target != first.Target {
			return strategyResult{
				escalate: true,
				reason:   "consensus strategy: proposals disagree on the target value",
			}
		}
		if p.CreatedAt.Before(earliest.CreatedAt) {
			earliest = p
		}
	}
	return strategyResult{
		winner: &earliest,
		reason: fmt.Sprintf("consensus strategy: all %d proposals agree", len(survivors)),
	}
}

// valueFingerprint canonicalizes a proposed value so structurally equal
// values compare equal regardless of map ordering.
func valueFingerprint(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}
