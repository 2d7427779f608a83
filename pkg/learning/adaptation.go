package learning

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/concordhq/concord/pkg/contracts"
)

// Suggest records a pending suggested preference change on the agent's
// profile. It sits there until a human approves or rejects it, or until
// TryAutoAdapt adopts it.
func (s *Service) Suggest(ctx context.Context, agentName string, sp contracts.SuggestedPreference) (*contracts.SuggestedPreference, error) {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return nil, err
	}

	if sp.Category == "" || sp.Key == "" {
		return nil, fmt.Errorf("suggest preference: category and key are required")
	}
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	if sp.RiskLevel == "" {
		sp.RiskLevel = contracts.RiskLow
	}
	sp.Status = contracts.SuggestionPending
	sp.CreatedAt = s.clock()

	p.SuggestedPreferences = append(p.SuggestedPreferences, sp)
	p.UpdatedAt = sp.CreatedAt
	if err := s.profiles.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile %s: %w", agentName, err)
	}
	return &sp, nil
}

// ApproveSuggestion applies a pending suggestion as a manual change.
func (s *Service) ApproveSuggestion(ctx context.Context, agentName, suggestionID, approvedBy string) error {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return err
	}
	sp, err := findPending(p, suggestionID)
	if err != nil {
		return err
	}

	now := s.clock()
	sp.Status = contracts.SuggestionApproved
	sp.DecidedAt = &now
	sp.DecidedBy = approvedBy

	s.applyChange(p, sp.Category, sp.Key, sp.Value, sp.Confidence, approvedBy,
		fmt.Sprintf("suggestion %s approved by %s", sp.ID, approvedBy), sp.ID)
	p.UpdatedAt = now
	return s.profiles.Save(ctx, p)
}

// RejectSuggestion declines a pending suggestion without touching the
// preference.
func (s *Service) RejectSuggestion(ctx context.Context, agentName, suggestionID, rejectedBy string) error {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return err
	}
	sp, err := findPending(p, suggestionID)
	if err != nil {
		return err
	}

	now := s.clock()
	sp.Status = contracts.SuggestionRejected
	sp.DecidedAt = &now
	sp.DecidedBy = rejectedBy
	p.UpdatedAt = now
	return s.profiles.Save(ctx, p)
}

// TryAutoAdapt attempts automatic adoption of a pending suggestion. The
// returned reason explains a denial; adoption requires every gate to pass:
// auto mode, user opt-in, confidence at or above the effective minimum,
// allowed risk, unlocked preference, elapsed cooldown and an open rate-limit
// window. The window rollover is atomic per agent (the agent lock is held
// for the whole check-and-apply sequence).
func (s *Service) TryAutoAdapt(ctx context.Context, agentName, suggestionID string) (bool, string, error) {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreate(ctx, agentName)
	if err != nil {
		return false, "", err
	}
	sp, err := findPending(p, suggestionID)
	if err != nil {
		return false, "", err
	}

	pol := p.Adaptation
	prefKey := contracts.PreferenceKey(sp.Category, sp.Key)
	now := s.clock()

	switch {
	case pol == nil || pol.Mode != contracts.AdaptationAuto:
		return false, "adaptation mode is not auto", nil
	case !pol.UserOptedIn:
		return false, "user has not opted in to automatic adaptation", nil
	case sp.Confidence < pol.EffectiveMinConfidence(prefKey):
		return false, fmt.Sprintf("confidence %.2f below minimum %.2f", sp.Confidence, pol.EffectiveMinConfidence(prefKey)), nil
	case !pol.RiskAllowed(sp.RiskLevel):
		return false, fmt.Sprintf("risk level %s not allowed", sp.RiskLevel), nil
	case pol.Locked(prefKey):
		return false, fmt.Sprintf("preference %s is locked", prefKey), nil
	case !pol.LastAutoAdaptAt.IsZero() && now.Sub(pol.LastAutoAdaptAt) < pol.Cooldown:
		return false, "cooldown has not elapsed", nil
	}

	// Sliding rate-limit window: reset once the window has fully elapsed,
	// otherwise count against the current one.
	if pol.WindowStart.IsZero() || now.Sub(pol.WindowStart) >= pol.RateLimit.Window {
		pol.WindowStart = now
		pol.WindowCount = 1
	} else {
		if pol.WindowCount >= pol.RateLimit.MaxChanges {
			return false, "rate limit window exhausted", nil
		}
		pol.WindowCount++
	}
	pol.LastAutoAdaptAt = now

	sp.Status = contracts.SuggestionApproved
	sp.DecidedAt = &now
	sp.DecidedBy = "system"

	s.applyChange(p, sp.Category, sp.Key, sp.Value, sp.Confidence, "system",
		fmt.Sprintf("auto-adapted suggestion %s (confidence %.2f)", sp.ID, sp.Confidence), sp.ID)
	p.UpdatedAt = now
	if err := s.profiles.Save(ctx, p); err != nil {
		return false, "", fmt.Errorf("save profile %s: %w", agentName, err)
	}
	s.logger.Info("preference auto-adapted",
		"agent", agentName, "preference", prefKey, "suggestion_id", sp.ID)
	return true, "", nil
}

// applyChange sets the preference and prepends the immutable change record.
// History is never mutated, only grown.
func (s *Service) applyChange(p *contracts.LearningProfile, category, key string, value any, confidence float64, changedBy, reason, suggestionID string) {
	prefKey := contracts.PreferenceKey(category, key)
	now := s.clock()

	var previous any
	if existing, ok := p.Preferences[prefKey]; ok {
		previous = existing.Value
	}

	if p.Preferences == nil {
		p.Preferences = make(map[string]contracts.Preference)
	}
	source := "manual"
	if changedBy == "system" {
		source = "learned"
	}
	p.Preferences[prefKey] = contracts.Preference{
		Value:      value,
		Confidence: confidence,
		Source:     source,
		UpdatedAt:  now,
	}

	record := contracts.PreferenceChangeRecord{
		ID:            uuid.New().String(),
		Category:      category,
		Key:           key,
		PreviousValue: previous,
		NewValue:      value,
		ChangedBy:     changedBy,
		Reason:        reason,
		SuggestionID:  suggestionID,
		ChangedAt:     now,
	}
	history := make([]contracts.PreferenceChangeRecord, 0, len(p.ChangeHistory)+1)
	history = append(history, record)
	history = append(history, p.ChangeHistory...)
	p.ChangeHistory = history
}

// findPending locates a not-yet-decided suggestion on the profile.
func findPending(p *contracts.LearningProfile, suggestionID string) (*contracts.SuggestedPreference, error) {
	for i := range p.SuggestedPreferences {
		sp := &p.SuggestedPreferences[i]
		if sp.ID != suggestionID {
			continue
		}
		if sp.Status != contracts.SuggestionPending {
			return nil, ErrSuggestionDecided
		}
		return sp, nil
	}
	return nil, ErrSuggestionNotFound
}
