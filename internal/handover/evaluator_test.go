package handover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

func intp(n int) *int       { return &n }
func int64p(n int64) *int64 { return &n }

func TestEvaluate_QualificationScore(t *testing.T) {
	lead := &domain.Lead{ID: "l1", QualificationScore: 9}
	rule := domain.HandoverRule{QualificationScore: intp(7)}

	got := Evaluate(lead, domain.ExecutionContext{}, rule)

	assert.True(t, got.ShouldHandover)
	assert.Equal(t, []string{CriterionQualificationScore}, got.TriggeredCriteria)
	assert.Contains(t, got.Reason, "qualification score")
}

func TestEvaluate_KeywordWithoutQualification(t *testing.T) {
	lead := &domain.Lead{ID: "l2", QualificationScore: 5, Notes: "mentioned urgent financing needs"}
	rule := domain.HandoverRule{
		QualificationScore: intp(7),
		KeywordTriggers:    []string{"urgent", "financing"},
	}

	got := Evaluate(lead, domain.ExecutionContext{}, rule)

	assert.True(t, got.ShouldHandover)
	assert.Equal(t, []string{CriterionKeywordTrigger}, got.TriggeredCriteria)
	assert.NotContains(t, got.TriggeredCriteria, CriterionQualificationScore)
	assert.Contains(t, got.Reason, "urgent")
}

func TestEvaluate_AllCriteriaReported(t *testing.T) {
	lead := &domain.Lead{
		QualificationScore: 10,
		Metadata: map[string]any{
			"source": "Trade-In form",
			"goals":  map[string]any{"appointment": true, "budget": true},
		},
	}
	rule := domain.HandoverRule{
		QualificationScore:     intp(8),
		ConversationLength:     intp(3),
		KeywordTriggers:        []string{"TRADE-IN"},
		TimeThreshold:          int64p(3600),
		GoalCompletionRequired: []string{"appointment", "budget"},
	}
	ec := domain.ExecutionContext{ConversationLength: 3, ElapsedSeconds: 7200}

	got := Evaluate(lead, ec, rule)

	require.True(t, got.ShouldHandover)
	assert.Equal(t, AllCriteria, got.TriggeredCriteria)
	assert.Contains(t, got.Reason, "qualification score", "reason reports the first match")
}

func TestEvaluate_ReasonFollowsOrder(t *testing.T) {
	lead := &domain.Lead{QualificationScore: 1}
	rule := domain.HandoverRule{
		QualificationScore: intp(9),
		ConversationLength: intp(2),
		TimeThreshold:      int64p(10),
	}
	got := Evaluate(lead, domain.ExecutionContext{ConversationLength: 5, ElapsedSeconds: 11}, rule)

	assert.Equal(t, []string{CriterionConversationLength, CriterionTimeThreshold}, got.TriggeredCriteria)
	assert.Contains(t, got.Reason, "conversation length")
}

func TestEvaluate_Pure(t *testing.T) {
	lead := &domain.Lead{QualificationScore: 6, Notes: "call me", Metadata: map[string]any{"a": 1}}
	rule := domain.HandoverRule{QualificationScore: intp(5), KeywordTriggers: []string{"call"}}
	ec := domain.ExecutionContext{ConversationLength: 1, ElapsedSeconds: 30}

	first := Evaluate(lead, ec, rule)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Evaluate(lead, ec, rule))
	}
	assert.Equal(t, "call me", lead.Notes)
	assert.Equal(t, 1, lead.Metadata["a"])
}

func TestEvaluate_KeywordInMetadata(t *testing.T) {
	lead := &domain.Lead{Metadata: map[string]any{"lastMessage": "Need it ASAP"}}
	got := Evaluate(lead, domain.ExecutionContext{}, domain.HandoverRule{KeywordTriggers: []string{"asap"}})
	assert.Equal(t, []string{CriterionKeywordTrigger}, got.TriggeredCriteria)
}

func TestEvaluate_NotTriggered(t *testing.T) {
	tests := []struct {
		name string
		lead *domain.Lead
		ec   domain.ExecutionContext
		rule domain.HandoverRule
	}{
		{"empty rule", &domain.Lead{QualificationScore: 10, Notes: "urgent"}, domain.ExecutionContext{ConversationLength: 50}, domain.HandoverRule{}},
		{"below threshold", &domain.Lead{QualificationScore: 6}, domain.ExecutionContext{}, domain.HandoverRule{QualificationScore: intp(7)}},
		{"negative thresholds are malformed", &domain.Lead{QualificationScore: 0}, domain.ExecutionContext{},
			domain.HandoverRule{QualificationScore: intp(-1), ConversationLength: intp(-1), TimeThreshold: int64p(-5)}},
		{"blank keyword", &domain.Lead{Notes: "anything"}, domain.ExecutionContext{}, domain.HandoverRule{KeywordTriggers: []string{"", "  "}}},
		{"goals absent", &domain.Lead{}, domain.ExecutionContext{}, domain.HandoverRule{GoalCompletionRequired: []string{"appointment"}}},
		{"goal false", &domain.Lead{Metadata: map[string]any{"goals": map[string]any{"appointment": false}}},
			domain.ExecutionContext{}, domain.HandoverRule{GoalCompletionRequired: []string{"appointment"}}},
		{"goal missing", &domain.Lead{Metadata: map[string]any{"goals": map[string]any{"budget": true}}},
			domain.ExecutionContext{}, domain.HandoverRule{GoalCompletionRequired: []string{"appointment", "budget"}}},
		{"empty goal list", &domain.Lead{Metadata: map[string]any{"goals": map[string]any{"budget": true}}},
			domain.ExecutionContext{}, domain.HandoverRule{GoalCompletionRequired: []string{}}},
		{"nil lead", nil, domain.ExecutionContext{}, domain.HandoverRule{QualificationScore: intp(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.lead, tt.ec, tt.rule)
			assert.False(t, got.ShouldHandover)
			assert.Empty(t, got.TriggeredCriteria)
			assert.Empty(t, got.Reason)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.Empty(t, Validate(domain.HandoverRule{QualificationScore: intp(7)}))

	warnings := Validate(domain.HandoverRule{
		QualificationScore: intp(11),
		ConversationLength: intp(-2),
		TimeThreshold:      int64p(-1),
		KeywordTriggers:    []string{"ok", " "},
		HandoverRecipients: []domain.Recipient{{Name: "Sam"}},
	})
	assert.Len(t, warnings, 5)
}
