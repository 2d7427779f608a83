package store

import (
	"context"
	"sync"

	"github.com/concordhq/concord/pkg/contracts"
)

// MemoryProposalStore is the in-process reference implementation of
// ProposalStore. Single-writer-per-key semantics are provided by the store
// mutex; callers still serialize per-aggregate sequences themselves.
type MemoryProposalStore struct {
	mu        sync.RWMutex
	proposals map[string]contracts.Proposal
	order     []string
}

func NewMemoryProposalStore() *MemoryProposalStore {
	return &MemoryProposalStore{proposals: make(map[string]contracts.Proposal)}
}

func (s *MemoryProposalStore) Save(ctx context.Context, p *contracts.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.proposals[p.ID] = p.Snapshot()
	return nil
}

func (s *MemoryProposalStore) Get(ctx context.Context, id string) (*contracts.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p.Snapshot()
	return &cp, nil
}

func (s *MemoryProposalStore) ByAgent(ctx context.Context, agentName string) ([]*contracts.Proposal, error) {
	return s.filter(func(p *contracts.Proposal) bool { return p.AgentName == agentName })
}

func (s *MemoryProposalStore) ByOriginatingEvent(ctx context.Context, eventID string) ([]*contracts.Proposal, error) {
	return s.filter(func(p *contracts.Proposal) bool { return p.OriginatingEventID == eventID })
}

func (s *MemoryProposalStore) Pending(ctx context.Context) ([]*contracts.Proposal, error) {
	return s.filter(func(p *contracts.Proposal) bool { return p.Status == contracts.ProposalPending })
}

func (s *MemoryProposalStore) PendingForTarget(ctx context.Context, q TargetQuery) ([]*contracts.Proposal, error) {
	return s.filter(func(p *contracts.Proposal) bool {
		if p.Status != contracts.ProposalPending {
			return false
		}
		if p.Target.Type != q.Type || p.Target.ID != q.ID {
			return false
		}
		return q.Key == "" || p.Target.Key == q.Key
	})
}

func (s *MemoryProposalStore) filter(keep func(*contracts.Proposal) bool) ([]*contracts.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.Proposal
	for _, id := range s.order {
		p := s.proposals[id]
		if keep(&p) {
			cp := p.Snapshot()
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryConflictStore is the in-process reference ConflictStore.
type MemoryConflictStore struct {
	mu        sync.RWMutex
	conflicts map[string]contracts.Conflict
}

func NewMemoryConflictStore() *MemoryConflictStore {
	return &MemoryConflictStore{conflicts: make(map[string]contracts.Conflict)}
}

func (s *MemoryConflictStore) Save(ctx context.Context, c *contracts.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Proposals = append([]contracts.Proposal(nil), c.Proposals...)
	s.conflicts[c.ID] = cp
	return nil
}

func (s *MemoryConflictStore) Get(ctx context.Context, id string) (*contracts.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := c
	cp.Proposals = append([]contracts.Proposal(nil), c.Proposals...)
	return &cp, nil
}

// MemoryDecisionStore is the in-process reference DecisionStore.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]contracts.Decision
	order     []string
}

func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string]contracts.Decision)}
}

func (s *MemoryDecisionStore) Save(ctx context.Context, d *contracts.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.ID]; !exists {
		s.order = append(s.order, d.ID)
	}
	s.decisions[d.ID] = *d
	return nil
}

func (s *MemoryDecisionStore) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := d
	return &cp, nil
}

func (s *MemoryDecisionStore) PendingEscalations(ctx context.Context) ([]*contracts.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.Decision
	for _, id := range s.order {
		d := s.decisions[id]
		if d.RequiresHumanApproval && !d.Executed {
			cp := d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryPolicyStore is the in-process reference PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]contracts.ArbitrationPolicy
	order    []string
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]contracts.ArbitrationPolicy)}
}

func (s *MemoryPolicyStore) Save(ctx context.Context, p *contracts.ArbitrationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.policies[p.ID] = *p
	return nil
}

func (s *MemoryPolicyStore) Get(ctx context.Context, id string) (*contracts.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *MemoryPolicyStore) List(ctx context.Context) ([]*contracts.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.ArbitrationPolicy, 0, len(s.order))
	for _, id := range s.order {
		p := s.policies[id]
		cp := p
		out = append(out, &cp)
	}
	return out, nil
}

// MemoryProfileStore is the in-process reference ProfileStore.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*contracts.LearningProfile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*contracts.LearningProfile)}
}

func (s *MemoryProfileStore) Save(ctx context.Context, p *contracts.LearningProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.AgentName] = &cp
	return nil
}

func (s *MemoryProfileStore) Get(ctx context.Context, agentName string) (*contracts.LearningProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProfileStore) Delete(ctx context.Context, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[agentName]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, agentName)
	return nil
}
