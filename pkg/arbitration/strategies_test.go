package arbitration

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/concordhq/concord/pkg/contracts"
)

var agentNames = []string{"planner", "scheduler", "notifier", "coach"}

func genProposals() gopter.Gen {
	genOne := gopter.CombineGens(
		gen.IntRange(0, len(agentNames)-1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 100),
		gen.IntRange(0, 2),
		gen.Int64Range(0, 1_000_000),
	).Map(func(vals []interface{}) contracts.Proposal {
		risks := []contracts.RiskLevel{contracts.RiskLow, contracts.RiskMedium, contracts.RiskHigh}
		return contracts.Proposal{
			AgentName:    agentNames[vals[0].(int)],
			Confidence:   vals[1].(float64),
			CostEstimate: vals[2].(float64),
			RiskLevel:    risks[vals[3].(int)],
			CreatedAt:    time.Unix(0, vals[4].(int64)),
		}
	})
	return gen.SliceOfN(4, genOne).Map(func(ps []contracts.Proposal) []contracts.Proposal {
		for i := range ps {
			ps[i].ID = string(rune('a' + i))
		}
		return ps
	})
}

func TestStrategies_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	policy := &contracts.ArbitrationPolicy{
		PriorityOrder: []string{"planner", "scheduler"},
		Weights:       contracts.Weights{Confidence: 1, Cost: 0.01, Risk: 0.5},
	}

	properties.Property("priority always picks one of the survivors", prop.ForAll(
		func(survivors []contracts.Proposal) bool {
			res := resolvePriority(policy, survivors)
			if res.escalate || res.winner == nil {
				return false
			}
			for _, p := range survivors {
				if p.ID == res.winner.ID {
					return true
				}
			}
			return false
		},
		genProposals(),
	))

	properties.Property("priority is deterministic", prop.ForAll(
		func(survivors []contracts.Proposal) bool {
			a := resolvePriority(policy, survivors)
			b := resolvePriority(policy, survivors)
			return a.winner.ID == b.winner.ID
		},
		genProposals(),
	))

	properties.Property("weighted winner has a maximal score", prop.ForAll(
		func(survivors []contracts.Proposal) bool {
			res := resolveWeighted(policy, survivors)
			if res.winner == nil {
				return false
			}
			best := weightedScore(policy.Weights, res.winner)
			for i := range survivors {
				if weightedScore(policy.Weights, &survivors[i]) > best {
					return false
				}
			}
			return true
		},
		genProposals(),
	))

	properties.TestingRun(t)
}

func TestResolveConsensus_ValueFingerprint(t *testing.T) {
	// Map ordering must not affect value equality.
	a, err := valueFingerprint(map[string]any{"x": 1, "y": "z"})
	assert.NoError(t, err)
	b, err := valueFingerprint(map[string]any{"y": "z", "x": 1})
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := valueFingerprint(map[string]any{"x": 2, "y": "z"})
	assert.NoError(t, err)
	assert.NotEqual(t, a, c)
}
