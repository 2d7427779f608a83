package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/store"
)

func TestMemoryProposalStore_ValueSemantics(t *testing.T) {
	s := store.NewMemoryProposalStore()
	ctx := context.Background()

	p := testProposal("p-1", "scheduler", "t-1", contracts.ProposalPending)
	require.NoError(t, s.Save(ctx, p))

	// Mutating the caller's copy after save must not leak into the store.
	p.Status = contracts.ProposalVetoed
	got, err := s.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalPending, got.Status)

	// Mutating a fetched copy must not leak either.
	got.AgentName = "intruder"
	again, err := s.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "scheduler", again.AgentName)
}

func TestMemoryProposalStore_QueriesPreserveInsertionOrder(t *testing.T) {
	s := store.NewMemoryProposalStore()
	ctx := context.Background()

	for _, id := range []string{"p-1", "p-2", "p-3"} {
		require.NoError(t, s.Save(ctx, testProposal(id, "scheduler", "t-1", contracts.ProposalPending)))
	}

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "p-1", pending[0].ID)
	assert.Equal(t, "p-3", pending[2].ID)
}

func TestMemoryConflictStore_SnapshotIsolation(t *testing.T) {
	s := store.NewMemoryConflictStore()
	ctx := context.Background()

	c := &contracts.Conflict{
		ID:   "con-1",
		Type: contracts.ConflictResourceContention,
		Proposals: []contracts.Proposal{
			{ID: "p-1", AgentName: "a"},
		},
	}
	require.NoError(t, s.Save(ctx, c))
	c.Proposals[0].AgentName = "mutated"

	got, err := s.Get(ctx, "con-1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Proposals[0].AgentName)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := store.NewMemoryIdempotencyStore().WithClock(func() time.Time { return now })

	ok, err := s.Reserve(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// The same key within the TTL is a duplicate.
	ok, err = s.Reserve(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different key is independent.
	ok, err = s.Reserve(ctx, "req-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// After expiry the key can be reserved again.
	now = now.Add(time.Minute + time.Second)
	ok, err = s.Reserve(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
