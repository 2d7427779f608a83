package policyloader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/policyloader"
)

const validBundle = `version: "1.2.0"
name: household-defaults
policies:
  - id: pol-default
    name: Default arbitration
    scope: global
    strategy: weighted
    is_default: true
    weights:
      confidence: 1.0
      cost: 0.5
      risk: 0.5
    veto_rules:
      - name: no-high-risk
        risk_at_least: high
        escalate_on_veto: true
    escalation:
      multi_agent: true
      confidence_below: 0.4
  - id: pol-scheduling
    scope: preference
    preference_keys: [quiet_hours, buffer]
    strategy: priority
    priority_order: [scheduler, planner]
`

func writeBundle(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newLoader(t *testing.T, dir string) *policyloader.Loader {
	t.Helper()
	l, err := policyloader.NewLoader(dir)
	require.NoError(t, err)
	return l
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid bundle", func(t *testing.T) {
		path := writeBundle(t, dir, "valid.yaml", validBundle)
		l := newLoader(t, dir)

		b, err := l.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "household-defaults", b.Name)
		assert.Equal(t, "1.2.0", b.Version)
		assert.Len(t, b.Hash, 64)
		require.Len(t, b.Policies, 2)

		def := b.Policies[0]
		assert.True(t, def.IsDefault)
		assert.Equal(t, contracts.StrategyWeighted, def.Strategy)
		assert.InDelta(t, 0.5, def.Weights.Cost, 1e-9)
		require.Len(t, def.VetoRules, 1)
		assert.True(t, def.VetoRules[0].EscalateOnVeto)
		require.NotNil(t, def.Escalation)
		assert.True(t, def.Escalation.MultiAgent)
		require.NotNil(t, def.Escalation.ConfidenceBelow)
		assert.InDelta(t, 0.4, *def.Escalation.ConfidenceBelow, 1e-9)

		pref := b.Policies[1]
		assert.Equal(t, contracts.ScopePreference, pref.Scope)
		assert.Equal(t, []string{"scheduler", "planner"}, pref.PriorityOrder)
	})

	t.Run("schema violations", func(t *testing.T) {
		cases := map[string]string{
			"missing name": `version: "1.0.0"
policies:
  - id: p1
    scope: global
    strategy: priority
`,
			"empty policies": `version: "1.0.0"
name: empty
policies: []
`,
			"unknown strategy": `version: "1.0.0"
name: bad
policies:
  - id: p1
    scope: global
    strategy: coin-flip
`,
			"veto rule without name": `version: "1.0.0"
name: bad
policies:
  - id: p1
    scope: global
    strategy: priority
    veto_rules:
      - risk_at_least: high
`,
		}
		for name, content := range cases {
			path := writeBundle(t, dir, "bad.yaml", content)
			_, err := newLoader(t, dir).LoadFile(path)
			assert.Error(t, err, name)
		}
	})

	t.Run("version below minimum", func(t *testing.T) {
		path := writeBundle(t, dir, "old.yaml", `version: "0.9.0"
name: ancient
policies:
  - id: p1
    scope: global
    strategy: priority
`)
		_, err := newLoader(t, dir).LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "below minimum")
	})

	t.Run("semantic validation beyond the schema", func(t *testing.T) {
		cases := map[string]string{
			"duplicate ids": `version: "1.0.0"
name: dup
policies:
  - id: p1
    scope: global
    strategy: priority
  - id: p1
    scope: global
    strategy: weighted
`,
			"agent scope without agents": `version: "1.0.0"
name: bad
policies:
  - id: p1
    scope: agent
    strategy: priority
`,
			"preference scope without keys": `version: "1.0.0"
name: bad
policies:
  - id: p1
    scope: preference
    strategy: priority
`,
		}
		for name, content := range cases {
			path := writeBundle(t, dir, "semantic.yaml", content)
			_, err := newLoader(t, dir).LoadFile(path)
			assert.Error(t, err, name)
		}
	})

	t.Run("unparseable yaml", func(t *testing.T) {
		path := writeBundle(t, dir, "junk.yaml", "{{{not yaml")
		_, err := newLoader(t, dir).LoadFile(path)
		assert.Error(t, err)
	})
}

func TestLoader_LoadAll(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a.yaml", validBundle)
	writeBundle(t, dir, "b.yml", `version: "1.0.0"
name: overrides
policies:
  - id: pol-agent
    scope: agent
    agent_names: [coach]
    strategy: veto
`)
	writeBundle(t, dir, "ignored.txt", "not a bundle")

	l := newLoader(t, dir)
	require.NoError(t, l.LoadAll())

	assert.Len(t, l.Bundles(), 2)
	assert.Len(t, l.Policies(), 3)

	t.Run("one broken bundle fails the load", func(t *testing.T) {
		writeBundle(t, dir, "c.yaml", "version: 'not-semver'\nname: x\npolicies:\n  - id: p\n    scope: global\n    strategy: priority\n")
		assert.Error(t, newLoader(t, dir).LoadAll())
	})
}
