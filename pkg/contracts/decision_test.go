package contracts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/contracts"
)

func TestDecision_SealContentHash(t *testing.T) {
	base := contracts.Decision{
		ID:                "dec-1",
		ConflictID:        "con-1",
		WinningProposalID: "p-1",
		Reasoning:         "priority strategy",
		Outcome:           contracts.OutcomeWinnerSelected,
		ResolvedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	t.Run("deterministic over equal content", func(t *testing.T) {
		a, b := base, base
		require.NoError(t, a.SealContentHash())
		require.NoError(t, b.SealContentHash())
		assert.Equal(t, a.ContentHash, b.ContentHash)
		assert.Len(t, a.ContentHash, 64)
	})

	t.Run("hash excludes itself", func(t *testing.T) {
		a := base
		a.ContentHash = "stale-from-previous-seal"
		b := base
		require.NoError(t, a.SealContentHash())
		require.NoError(t, b.SealContentHash())
		assert.Equal(t, b.ContentHash, a.ContentHash)
	})

	t.Run("content change changes the hash", func(t *testing.T) {
		a, b := base, base
		b.Reasoning = "weighted strategy"
		require.NoError(t, a.SealContentHash())
		require.NoError(t, b.SealContentHash())
		assert.NotEqual(t, a.ContentHash, b.ContentHash)
	})
}

func TestDecision_InvolvedProposalIDs(t *testing.T) {
	d := contracts.Decision{
		WinningProposalID:     "p-1",
		SuppressedProposalIDs: []string{"p-2", "p-3"},
		VetoedProposalIDs:     []string{"p-4"},
	}
	assert.Equal(t, []string{"p-1", "p-2", "p-3", "p-4"}, d.InvolvedProposalIDs())

	escalated := contracts.Decision{SuppressedProposalIDs: []string{"p-2"}}
	assert.Equal(t, []string{"p-2"}, escalated.InvolvedProposalIDs())
}

func TestAdaptationPolicy_Gates(t *testing.T) {
	t.Run("empty risk allow-list permits only low", func(t *testing.T) {
		p := &contracts.AdaptationPolicy{}
		assert.True(t, p.RiskAllowed(contracts.RiskLow))
		assert.False(t, p.RiskAllowed(contracts.RiskMedium))
		assert.False(t, p.RiskAllowed(contracts.RiskHigh))
	})

	t.Run("explicit allow-list is exact", func(t *testing.T) {
		p := &contracts.AdaptationPolicy{AllowedRiskLevels: []contracts.RiskLevel{contracts.RiskMedium}}
		assert.False(t, p.RiskAllowed(contracts.RiskLow))
		assert.True(t, p.RiskAllowed(contracts.RiskMedium))
	})

	t.Run("scope override beats global min confidence", func(t *testing.T) {
		strict := 0.95
		p := &contracts.AdaptationPolicy{
			MinConfidence: 0.7,
			ScopeRestrictions: map[string]contracts.ScopeRestriction{
				"notifications.quiet_hours": {MinConfidence: &strict},
			},
		}
		assert.InDelta(t, 0.95, p.EffectiveMinConfidence("notifications.quiet_hours"), 1e-9)
		assert.InDelta(t, 0.7, p.EffectiveMinConfidence("scheduling.buffer"), 1e-9)
	})

	t.Run("locked keys", func(t *testing.T) {
		p := &contracts.AdaptationPolicy{
			ScopeRestrictions: map[string]contracts.ScopeRestriction{
				"privacy.sharing": {Locked: true},
			},
		}
		assert.True(t, p.Locked("privacy.sharing"))
		assert.False(t, p.Locked("scheduling.buffer"))
	})
}
