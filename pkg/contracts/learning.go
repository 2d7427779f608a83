package contracts

import "time"

// AdaptationMode controls whether an agent may apply its own learned
// preference changes.
type AdaptationMode string

const (
	AdaptationManual AdaptationMode = "manual"
	AdaptationAuto   AdaptationMode = "auto"
)

// RateLimit bounds automatic preference changes to MaxChanges per sliding
// Window.
type RateLimit struct {
	MaxChanges int           `json:"max_changes"`
	Window     time.Duration `json:"window"`
}

// ScopeRestriction overrides the adaptation policy for a single
// category.key. A locked preference can never be auto-adapted.
type ScopeRestriction struct {
	Locked        bool     `json:"locked,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// AdaptationPolicy gates an agent's ability to self-adjust. The counter
// fields (LastAutoAdaptAt, WindowStart, WindowCount) are live state owned by
// the learning service.
type AdaptationPolicy struct {
	Mode              AdaptationMode              `json:"mode"`
	UserOptedIn       bool                        `json:"user_opted_in"`
	MinConfidence     float64                     `json:"min_confidence"`
	Cooldown          time.Duration               `json:"cooldown"`
	RateLimit         RateLimit                   `json:"rate_limit"`
	ScopeRestrictions map[string]ScopeRestriction `json:"scope_restrictions,omitempty"`
	AllowedRiskLevels []RiskLevel                 `json:"allowed_risk_levels,omitempty"`

	LastAutoAdaptAt time.Time `json:"last_auto_adapt_at,omitzero"`
	WindowStart     time.Time `json:"window_start,omitzero"`
	WindowCount     int       `json:"window_count"`
}

// RiskAllowed reports whether the policy permits auto-adoption at the given
// risk level. An empty allow-list permits only low risk.
func (p *AdaptationPolicy) RiskAllowed(r RiskLevel) bool {
	if len(p.AllowedRiskLevels) == 0 {
		return r == RiskLow
	}
	for _, allowed := range p.AllowedRiskLevels {
		if allowed == r {
			return true
		}
	}
	return false
}

// EffectiveMinConfidence returns the confidence floor for a preference,
// honoring any per-key scope override.
func (p *AdaptationPolicy) EffectiveMinConfidence(prefKey string) float64 {
	if r, ok := p.ScopeRestrictions[prefKey]; ok && r.MinConfidence != nil {
		return *r.MinConfidence
	}
	return p.MinConfidence
}

// Locked reports whether the preference key may never be auto-adapted.
func (p *AdaptationPolicy) Locked(prefKey string) bool {
	r, ok := p.ScopeRestrictions[prefKey]
	return ok && r.Locked
}

// FeedbackEntry is one judgment about an agent's output. Accepted is nil
// while the human has not yet judged it.
type FeedbackEntry struct {
	ID           string         `json:"id"`
	SuggestionID string         `json:"suggestion_id,omitempty"`
	Accepted     *bool          `json:"accepted"`
	Context      map[string]any `json:"context,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Pattern is a discovered context -> acceptance-rate rule.
type Pattern struct {
	ID             string    `json:"id"`
	ContextKey     string    `json:"context_key"`
	ContextValue   string    `json:"context_value"`
	AcceptanceRate float64   `json:"acceptance_rate"`
	SampleCount    int       `json:"sample_count"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// Preference is the current value of one learned setting.
type Preference struct {
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"` // "default", "learned", "manual", "system"
	UpdatedAt  time.Time `json:"updated_at"`
}

// SuggestionStatus is the lifecycle of a suggested preference change.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

// SuggestedPreference is a learning-derived preference change awaiting
// approval (human or automatic).
type SuggestedPreference struct {
	ID         string           `json:"id"`
	Category   string           `json:"category"`
	Key        string           `json:"key"`
	Value      any              `json:"value"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason"`
	RiskLevel  RiskLevel        `json:"risk_level"`
	Status     SuggestionStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	DecidedAt  *time.Time       `json:"decided_at,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"`
}

// PreferenceKey builds the canonical "category.key" index for a preference.
func PreferenceKey(category, key string) string {
	return category + "." + key
}

// PreferenceChangeRecord is one entry in the append-only preference change
// history (newest first).
type PreferenceChangeRecord struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	Key           string    `json:"key"`
	PreviousValue any       `json:"previous_value"`
	NewValue      any       `json:"new_value"`
	ChangedBy     string    `json:"changed_by"`
	Reason        string    `json:"reason"`
	SuggestionID  string    `json:"suggestion_id,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

// LearningProfile is the per-agent record of feedback, discovered patterns,
// current preferences and their full change history. Created lazily on the
// first feedback or preference write.
type LearningProfile struct {
	AgentName             string                   `json:"agent_name"`
	FeedbackHistory       []FeedbackEntry          `json:"feedback_history"` // newest first, bounded
	Patterns              []Pattern                `json:"patterns,omitempty"`
	Preferences           map[string]Preference    `json:"preferences"`
	SuggestedPreferences  []SuggestedPreference    `json:"suggested_preferences,omitempty"`
	ChangeHistory         []PreferenceChangeRecord `json:"change_history"` // newest first, append-only
	Adaptation            *AdaptationPolicy        `json:"adaptation,omitempty"`
	TotalFeedbackReceived int                      `json:"total_feedback_received"`
	OverallAcceptanceRate float64                  `json:"overall_acceptance_rate"`
	LearningVersion       int                      `json:"learning_version"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}
