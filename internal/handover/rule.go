package handover

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

// DecodeRule builds a HandoverRule from a loosely typed document such as a
// JSONB column or a request body. Keys may be snake_case or camelCase.
// A field that cannot be decoded is left unset and reported as a warning,
// so one bad field only disables its own criterion.
func DecodeRule(raw map[string]any) (domain.HandoverRule, []string) {
	var (
		rule     domain.HandoverRule
		warnings []string
	)
	if raw == nil {
		return rule, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := raw[key]
		if val == nil {
			continue
		}
		var err error
		switch normalizeKey(key) {
		case "qualificationscore":
			var n int
			if err = decodeWeak(val, &n); err == nil {
				rule.QualificationScore = &n
			}
		case "conversationlength":
			var n int
			if err = decodeWeak(val, &n); err == nil {
				rule.ConversationLength = &n
			}
		case "timethreshold":
			var n int64
			if err = decodeWeak(val, &n); err == nil {
				rule.TimeThreshold = &n
			}
		case "keywordtriggers":
			var kws []string
			if err = decodeWeak(val, &kws); err == nil {
				rule.KeywordTriggers = kws
			}
		case "goalcompletionrequired":
			var goals []string
			if err = decodeWeak(val, &goals); err == nil {
				rule.GoalCompletionRequired = goals
			}
		case "handoverrecipients":
			var rs []domain.Recipient
			if err = decodeWeak(val, &rs); err == nil {
				rule.HandoverRecipients = rs
			}
		default:
			warnings = append(warnings, fmt.Sprintf("unknown handover rule field %q ignored", key))
			continue
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("handover rule field %q ignored: %v", key, err))
		}
	}
	return rule, append(warnings, Validate(rule)...)
}

func decodeWeak(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}
