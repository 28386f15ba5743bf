package handover

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

// Criterion names, in evaluation order.
const (
	CriterionQualificationScore = "qualification_score"
	CriterionConversationLength = "conversation_length"
	CriterionKeywordTrigger     = "keyword_trigger"
	CriterionTimeThreshold      = "time_threshold"
	CriterionGoalCompletion     = "goal_completion"
)

// AllCriteria lists the criteria in the order Evaluate checks them.
var AllCriteria = []string{
	CriterionQualificationScore,
	CriterionConversationLength,
	CriterionKeywordTrigger,
	CriterionTimeThreshold,
	CriterionGoalCompletion,
}

// Evaluate checks every criterion of rule against the lead and the running
// execution context. Any single criterion is sufficient. All criteria are
// evaluated so TriggeredCriteria is complete; Reason describes the first
// match. Missing or malformed rule fields never trigger.
func Evaluate(lead *domain.Lead, ec domain.ExecutionContext, rule domain.HandoverRule) domain.HandoverEvaluation {
	out := domain.HandoverEvaluation{TriggeredCriteria: []string{}}
	if lead == nil {
		return out
	}

	hit := func(criterion, reason string) {
		if len(out.TriggeredCriteria) == 0 {
			out.Reason = reason
		}
		out.TriggeredCriteria = append(out.TriggeredCriteria, criterion)
	}

	if t := rule.QualificationScore; t != nil && *t >= 0 && lead.QualificationScore >= *t {
		hit(CriterionQualificationScore,
			fmt.Sprintf("qualification score %d reached threshold %d", lead.QualificationScore, *t))
	}

	if t := rule.ConversationLength; t != nil && *t >= 0 && ec.ConversationLength >= *t {
		hit(CriterionConversationLength,
			fmt.Sprintf("conversation length %d reached threshold %d", ec.ConversationLength, *t))
	}

	if kw, ok := matchKeyword(lead, rule.KeywordTriggers); ok {
		hit(CriterionKeywordTrigger, fmt.Sprintf("keyword %q detected", kw))
	}

	if t := rule.TimeThreshold; t != nil && *t >= 0 && ec.ElapsedSeconds >= *t {
		hit(CriterionTimeThreshold,
			fmt.Sprintf("elapsed %ds reached threshold %ds", ec.ElapsedSeconds, *t))
	}

	if goalsComplete(lead, rule.GoalCompletionRequired) {
		hit(CriterionGoalCompletion,
			fmt.Sprintf("required goals completed: %s", strings.Join(rule.GoalCompletionRequired, ", ")))
	}

	out.ShouldHandover = len(out.TriggeredCriteria) > 0
	return out
}

// matchKeyword returns the first configured keyword found in the lead's
// notes or serialized metadata. Blank keywords are ignored.
func matchKeyword(lead *domain.Lead, keywords []string) (string, bool) {
	if len(keywords) == 0 {
		return "", false
	}
	haystack := strings.ToLower(lead.Notes)
	if len(lead.Metadata) > 0 {
		if b, err := json.Marshal(lead.Metadata); err == nil {
			haystack += "\n" + strings.ToLower(string(b))
		}
	}
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			return kw, true
		}
	}
	return "", false
}

// goalsComplete is false when nothing is required or the lead carries no
// goals map.
func goalsComplete(lead *domain.Lead, required []string) bool {
	if len(required) == 0 {
		return false
	}
	goals, ok := lead.Goals()
	if !ok {
		return false
	}
	for _, name := range required {
		if !goals[name] {
			return false
		}
	}
	return true
}

// Validate reports rule fields that Evaluate will treat as not configured.
// It never fails; the warnings are for the caller to log.
func Validate(rule domain.HandoverRule) []string {
	var warnings []string
	if t := rule.QualificationScore; t != nil && (*t < 0 || *t > domain.MaxQualificationScore) {
		warnings = append(warnings, fmt.Sprintf("qualification_score threshold %d outside 0-%d", *t, domain.MaxQualificationScore))
	}
	if t := rule.ConversationLength; t != nil && *t < 0 {
		warnings = append(warnings, fmt.Sprintf("conversation_length threshold %d is negative", *t))
	}
	if t := rule.TimeThreshold; t != nil && *t < 0 {
		warnings = append(warnings, fmt.Sprintf("time_threshold %d is negative", *t))
	}
	for i, kw := range rule.KeywordTriggers {
		if strings.TrimSpace(kw) == "" {
			warnings = append(warnings, fmt.Sprintf("keyword_triggers[%d] is blank", i))
		}
	}
	for i, r := range rule.HandoverRecipients {
		if r.Contact == "" {
			warnings = append(warnings, fmt.Sprintf("handover_recipients[%d] has no contact", i))
		}
	}
	return warnings
}
