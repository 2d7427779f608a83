// Package store defines the persistence ports of the governance engine and
// their reference implementations: in-memory (tests, single process), SQLite
// (proposals and decisions), Postgres (learning profiles) and Redis
// (idempotency keys for the escalation HTTP layer).
//
// All implementations must preserve append-only history semantics for change
// records: saved entities are replaced whole, never partially mutated.
package store

import (
	"context"
	"errors"

	"github.com/concordhq/concord/pkg/contracts"
)

// ErrNotFound is returned by every Get when the id is unknown. It is a typed
// failure so HTTP callers can map it to 404 without leaking internals.
var ErrNotFound = errors.New("store: not found")

// TargetQuery filters proposals by target aggregate. Key narrows the match
// to a single preference key when non-empty.
type TargetQuery struct {
	Type string
	ID   string
	Key  string
}

// ProposalStore persists agent action proposals.
type ProposalStore interface {
	Save(ctx context.Context, p *contracts.Proposal) error
	Get(ctx context.Context, id string) (*contracts.Proposal, error)
	ByAgent(ctx context.Context, agentName string) ([]*contracts.Proposal, error)
	ByOriginatingEvent(ctx context.Context, eventID string) ([]*contracts.Proposal, error)
	Pending(ctx context.Context) ([]*contracts.Proposal, error)
	PendingForTarget(ctx context.Context, q TargetQuery) ([]*contracts.Proposal, error)
}

// ConflictStore persists detected conflicts.
type ConflictStore interface {
	Save(ctx context.Context, c *contracts.Conflict) error
	Get(ctx context.Context, id string) (*contracts.Conflict, error)
}

// DecisionStore persists arbitration decisions.
type DecisionStore interface {
	Save(ctx context.Context, d *contracts.Decision) error
	Get(ctx context.Context, id string) (*contracts.Decision, error)
	PendingEscalations(ctx context.Context) ([]*contracts.Decision, error)
}

// PolicyStore holds the arbitration policies the engine selects from.
type PolicyStore interface {
	Save(ctx context.Context, p *contracts.ArbitrationPolicy) error
	Get(ctx context.Context, id string) (*contracts.ArbitrationPolicy, error)
	List(ctx context.Context) ([]*contracts.ArbitrationPolicy, error)
}

// ProfileStore persists per-agent learning profiles. Get returns ErrNotFound
// for agents that have never received feedback; the learning service creates
// profiles lazily.
type ProfileStore interface {
	Save(ctx context.Context, p *contracts.LearningProfile) error
	Get(ctx context.Context, agentName string) (*contracts.LearningProfile, error)
	Delete(ctx context.Context, agentName string) error
}
