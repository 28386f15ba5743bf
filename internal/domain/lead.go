package domain

import "time"

// Lead is a prospective contact being engaged by a campaign. Leads are owned
// by the persistence layer; the engine only reads them and updates the
// qualification-relevant fields.
type Lead struct {
	ID                 string         `json:"id" yaml:"id" db:"id"`
	FirstName          string         `json:"first_name" yaml:"first_name" db:"first_name"`
	LastName           string         `json:"last_name" yaml:"last_name" db:"last_name"`
	Email              string         `json:"email" yaml:"email" db:"email"`
	Phone              string         `json:"phone" yaml:"phone" db:"phone"`
	QualificationScore int            `json:"qualification_score" yaml:"qualification_score" db:"qualification_score"`
	Notes              string         `json:"notes" yaml:"notes" db:"notes"`
	Metadata           map[string]any `json:"metadata,omitempty" yaml:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-" db:"updated_at"`
}

// MaxQualificationScore is the top of the 0–10 qualification scale.
const MaxQualificationScore = 10

// Goals returns the boolean goal flags stored under metadata["goals"]. The
// second return value is false when the lead carries no goals map at all.
// Non-boolean entries are reported as false.
func (l *Lead) Goals() (map[string]bool, bool) {
	if l == nil || l.Metadata == nil {
		return nil, false
	}
	raw, ok := l.Metadata["goals"]
	if !ok || raw == nil {
		return nil, false
	}

	goals := make(map[string]bool)
	switch g := raw.(type) {
	case map[string]bool:
		for k, v := range g {
			goals[k] = v
		}
	case map[string]any:
		for k, v := range g {
			b, _ := v.(bool)
			goals[k] = b
		}
	default:
		return nil, false
	}
	return goals, true
}

// Interests returns metadata["interests"] as a string slice. Non-string
// elements are skipped.
func (l *Lead) Interests() []string {
	if l == nil || l.Metadata == nil {
		return nil
	}
	switch v := l.Metadata["interests"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
