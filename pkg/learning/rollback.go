package learning

import (
	"context"
	"fmt"

	"github.com/concordhq/concord/pkg/contracts"
)

// RollbackToChange restores the agent's preferences to their state
// immediately after the named change was applied ("roll forward to this
// checkpoint"): every preference changed strictly after the target record is
// restored to the previous value of its earliest post-target change, and the
// target preference itself is set to the target record's new value. Each
// restoration is recorded as a fresh change attributed to "system", so the
// history only grows; re-running the same rollback converges on identical
// values while appending value-identical records.
func (s *Service) RollbackToChange(ctx context.Context, agentName, changeID string) (*contracts.LearningProfile, error) {
	lock := s.agentLock(agentName)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.profiles.Get(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", agentName, err)
	}

	// ChangeHistory is newest first: everything before the target index was
	// applied strictly after it.
	targetIdx := -1
	for i, rec := range p.ChangeHistory {
		if rec.ID == changeID {
			targetIdx = i
			break
		}
	}
	if targetIdx == -1 {
		return nil, ErrChangeNotFound
	}
	target := p.ChangeHistory[targetIdx]

	// For each distinct preference changed after the target, the record
	// closest to the target (largest index below targetIdx) carries the
	// value that preference held when the target was applied.
	restore := make(map[string]contracts.PreferenceChangeRecord)
	for i := targetIdx - 1; i >= 0; i-- {
		rec := p.ChangeHistory[i]
		key := contracts.PreferenceKey(rec.Category, rec.Key)
		if _, seen := restore[key]; !seen {
			restore[key] = rec
		}
	}

	reason := fmt.Sprintf("rollback to change %s", changeID)
	for _, rec := range p.ChangeHistory[:targetIdx] {
		key := contracts.PreferenceKey(rec.Category, rec.Key)
		chosen, ok := restore[key]
		if !ok || chosen.ID != rec.ID {
			continue
		}
		s.applyChange(p, rec.Category, rec.Key, chosen.PreviousValue,
			currentConfidence(p, key), "system", reason, "")
	}

	// The target preference rolls forward to the value the change set.
	s.applyChange(p, target.Category, target.Key, target.NewValue,
		currentConfidence(p, contracts.PreferenceKey(target.Category, target.Key)),
		"system", reason, target.SuggestionID)

	p.UpdatedAt = s.clock()
	if err := s.profiles.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile %s: %w", agentName, err)
	}
	s.logger.Info("preferences rolled back",
		"agent", agentName, "change_id", changeID)
	return p, nil
}

func currentConfidence(p *contracts.LearningProfile, prefKey string) float64 {
	if pref, ok := p.Preferences[prefKey]; ok {
		return pref.Confidence
	}
	return 0
}
