// Package learning tracks per-agent feedback and preferences, and decides
// whether an agent may self-adjust. Automatic adoption of a suggested
// preference is gated behind confidence thresholds, cooldowns and a sliding
// rate-limit window; every applied change lands in an append-only history
// that supports point-in-time rollback.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/store"
)

// DefaultHistoryLimit bounds the per-agent feedback ring.
const DefaultHistoryLimit = 200

var (
	// ErrSuggestionNotFound maps to 404 at the HTTP layer.
	ErrSuggestionNotFound = errors.New("learning: suggestion not found")
	// ErrSuggestionDecided: the suggestion was already approved or rejected.
	ErrSuggestionDecided = errors.New("learning: suggestion already decided")
	// ErrChangeNotFound: rollback target does not exist in the history.
	ErrChangeNotFound = errors.New("learning: change record not found")
)

// Service owns learning profiles. All mutations of one agent's profile are
// serialized through a per-agent mutex; the rate-limit window rollover in
// particular must be atomic per agent.
type Service struct {
	profiles     store.ProfileStore
	logger       *slog.Logger
	clock        func() time.Time
	historyLimit int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(profiles store.ProfileStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles:     profiles,
		logger:       logger,
		clock:        time.Now,
		historyLimit: DefaultHistoryLimit,
		locks:        make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithHistoryLimit overrides the feedback ring size.
func (s *Service) WithHistoryLimit(n int) *Service {
	if n > 0 {
		s.historyLimit = n
	}
	return s
}

func (s *Service) agentLock(agentName string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[agentName]
	if !ok {
		m = &sync.Mutex{}
		s.locks[agentName] = m
	}
	return m
}

// loadOrCreate fetches the agent's profile, creating it lazily. Callers
// must hold the agent lock.
func (s *Service) loadOrCreate(ctx context.Context, agentName string) (*contracts.LearningProfile, error) {
	p, err := s.profiles.Get(ctx, agentName)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load profile %s: %w", agentName, err)
	}
	now := s.clock()
	return &contracts.LearningProfile{
		AgentName:   agentName,
		Preferences: make(map[string]contracts.Preference),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Profile returns the agent's profile.
func (s *Service) Profile(ctx context.Context, agentName string) (*contracts.LearningProfile, error) {
	return s.profiles.Get(ctx, agentName)
}

// DeleteProfile removes a profile entirely. Admin-only escape hatch;
// profiles are otherwise never deleted.
func (s *Service) DeleteProfile(ctx context.Context, agentName string) error {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()
	return s.profiles.Delete(ctx, agentName)
}

// SetAdaptationPolicy installs or replaces the agent's adaptation policy,
// preserving the live counters across replacements.
func (s *Service) SetAdaptationPolicy(ctx context.Context, agentName string, policy contracts.AdaptationPolicy) error {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return err
	}
	if p.Adaptation != nil {
		policy.LastAutoAdaptAt = p.Adaptation.LastAutoAdaptAt
		policy.WindowStart = p.Adaptation.WindowStart
		policy.WindowCount = p.Adaptation.WindowCount
	}
	p.Adaptation = &policy
	p.UpdatedAt = s.clock()
	return s.profiles.Save(ctx, p)
}

// AddFeedback appends one judgment to the bounded history (newest first)
// and recomputes the overall acceptance rate over decided entries only.
func (s *Service) AddFeedback(ctx context.Context, agentName string, fb contracts.FeedbackEntry) (*contracts.LearningProfile, error) {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return nil, err
	}

	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = s.clock()
	}

	history := make([]contracts.FeedbackEntry, 0, len(p.FeedbackHistory)+1)
	history = append(history, fb)
	history = append(history, p.FeedbackHistory...)
	if len(history) > s.historyLimit {
		history = history[:s.historyLimit]
	}
	p.FeedbackHistory = history
	p.TotalFeedbackReceived++

	accepted, decided := 0, 0
	for _, entry := range p.FeedbackHistory {
		if entry.Accepted == nil {
			continue
		}
		decided++
		if *entry.Accepted {
			accepted++
		}
	}
	if decided > 0 {
		p.OverallAcceptanceRate = float64(accepted) / float64(decided)
	} else {
		p.OverallAcceptanceRate = 0
	}

	p.UpdatedAt = s.clock()
	if err := s.profiles.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile %s: %w", agentName, err)
	}
	return p, nil
}

// RecordPattern stores a discovered context -> acceptance-rate rule and
// bumps the profile's learning version.
func (s *Service) RecordPattern(ctx context.Context, agentName string, pattern contracts.Pattern) error {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return err
	}
	if pattern.ID == "" {
		pattern.ID = uuid.New().String()
	}
	if pattern.DiscoveredAt.IsZero() {
		pattern.DiscoveredAt = s.clock()
	}
	p.Patterns = append(p.Patterns, pattern)
	p.LearningVersion++
	p.UpdatedAt = s.clock()
	return s.profiles.Save(ctx, p)
}
