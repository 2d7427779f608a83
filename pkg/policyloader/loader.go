// Package policyloader loads arbitration policy bundles from external YAML
// files, so policies change without code deployments. Bundles are validated
// against a JSON Schema, version-gated with semver, and content-hashed.
package policyloader

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/concordhq/concord/pkg/contracts"
)

// minBundleVersion is the oldest bundle format the engine accepts.
var minBundleVersion = semver.MustParse("1.0.0")

// Bundle is a versioned collection of arbitration policies.
type Bundle struct {
	Version  string                        `yaml:"version" json:"version"`
	Name     string                        `yaml:"name" json:"name"`
	Policies []contracts.ArbitrationPolicy `yaml:"policies" json:"policies"`

	// Hash is the content-addressed identity of the loaded file.
	Hash     string    `yaml:"-" json:"hash,omitempty"`
	LoadedAt time.Time `yaml:"-" json:"loaded_at,omitempty"`
}

// Loader loads and retains policy bundles from a directory.
type Loader struct {
	mu        sync.RWMutex
	bundles   map[string]*Bundle
	bundleDir string
	schema    *jsonschema.Schema
	clock     func() time.Time
}

// NewLoader creates a loader watching the given directory.
func NewLoader(bundleDir string) (*Loader, error) {
	schema, err := jsonschema.CompileString("bundle.schema.json", bundleSchema)
	if err != nil {
		return nil, fmt.Errorf("policyloader: compile schema: %w", err)
	}
	return &Loader{
		bundles:   make(map[string]*Bundle),
		bundleDir: bundleDir,
		schema:    schema,
		clock:     time.Now,
	}, nil
}

// LoadAll loads every .yaml/.yml bundle in the configured directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.bundleDir)
	if err != nil {
		return fmt.Errorf("policyloader: read dir %s: %w", l.bundleDir, err)
	}
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if _, err := l.LoadFile(filepath.Join(l.bundleDir, entry.Name())); err != nil {
			return fmt.Errorf("policyloader: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile parses, validates and registers one bundle file.
func (l *Loader) LoadFile(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	jsonShape, err := jsonRoundTrip(generic)
	if err != nil {
		return nil, fmt.Errorf("normalize bundle: %w", err)
	}
	if err := l.schema.Validate(jsonShape); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}

	v, err := semver.NewVersion(bundle.Version)
	if err != nil {
		return nil, fmt.Errorf("bundle version %q: %w", bundle.Version, err)
	}
	if v.LessThan(minBundleVersion) {
		return nil, fmt.Errorf("bundle version %s below minimum %s", v, minBundleVersion)
	}

	if err := validatePolicies(bundle.Policies); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	bundle.Hash = hex.EncodeToString(sum[:])
	bundle.LoadedAt = l.clock()

	l.mu.Lock()
	l.bundles[bundle.Name] = &bundle
	l.mu.Unlock()
	return &bundle, nil
}

// Bundles returns a snapshot of every loaded bundle.
func (l *Loader) Bundles() []*Bundle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Bundle, 0, len(l.bundles))
	for _, b := range l.bundles {
		out = append(out, b)
	}
	return out
}

// Policies returns every policy across all loaded bundles.
func (l *Loader) Policies() []contracts.ArbitrationPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []contracts.ArbitrationPolicy
	for _, b := range l.bundles {
		out = append(out, b.Policies...)
	}
	return out
}

var validStrategies = map[contracts.ResolutionStrategy]bool{
	contracts.StrategyPriority:  true,
	contracts.StrategyWeighted:  true,
	contracts.StrategyVeto:      true,
	contracts.StrategyConsensus: true,
}

var validScopes = map[contracts.PolicyScope]bool{
	contracts.ScopeGlobal:     true,
	contracts.ScopeAgent:      true,
	contracts.ScopePreference: true,
}

func validatePolicies(policies []contracts.ArbitrationPolicy) error {
	seen := make(map[string]bool, len(policies))
	for i := range policies {
		p := &policies[i]
		if p.ID == "" {
			return fmt.Errorf("policy %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("policy %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if !validScopes[p.Scope] {
			return fmt.Errorf("policy %s: unknown scope %q", p.ID, p.Scope)
		}
		if !validStrategies[p.Strategy] {
			return fmt.Errorf("policy %s: unknown strategy %q", p.ID, p.Strategy)
		}
		if p.Scope == contracts.ScopeAgent && len(p.AgentNames) == 0 {
			return fmt.Errorf("policy %s: agent scope requires agent_names", p.ID)
		}
		if p.Scope == contracts.ScopePreference && len(p.PreferenceKeys) == 0 {
			return fmt.Errorf("policy %s: preference scope requires preference_keys", p.ID)
		}
	}
	return nil
}

// jsonRoundTrip converts yaml.v3's tree into the exact shapes the schema
// validator expects from encoding/json.
func jsonRoundTrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
