package domain

import (
	"errors"
	"fmt"
	"time"
)

// Channel identifies the transport a step is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

// SecondsPerDay converts Step.DelayDays into a wall-clock delay.
const SecondsPerDay = 86400

// Step is one channel-specific message in a campaign sequence.
type Step struct {
	Channel Channel `json:"channel" yaml:"channel"`
	Content string  `json:"content" yaml:"content"`
	// Subject is only used for email steps.
	Subject string `json:"subject,omitempty" yaml:"subject"`
	// DelayDays is measured from the previous step. Fractional values are
	// allowed so test campaigns can run on minute or second scales.
	DelayDays float64 `json:"delay_days" yaml:"delay_days"`
	Order     int     `json:"order" yaml:"order"`
}

// Delay returns DelayDays as a duration.
func (s Step) Delay() time.Duration {
	if s.DelayDays <= 0 {
		return 0
	}
	return time.Duration(s.DelayDays * SecondsPerDay * float64(time.Second))
}

// Recipient is a human who receives handover notifications.
type Recipient struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Contact string `json:"contact" yaml:"contact" mapstructure:"contact"`
}

// HandoverRule describes when a lead is escalated to a human. A nil pointer
// field means the criterion is not configured and never triggers.
type HandoverRule struct {
	QualificationScore     *int        `json:"qualification_score,omitempty" yaml:"qualification_score"`
	ConversationLength     *int        `json:"conversation_length,omitempty" yaml:"conversation_length"`
	KeywordTriggers        []string    `json:"keyword_triggers,omitempty" yaml:"keyword_triggers"`
	TimeThreshold          *int64      `json:"time_threshold,omitempty" yaml:"time_threshold"`
	GoalCompletionRequired []string    `json:"goal_completion_required,omitempty" yaml:"goal_completion_required"`
	HandoverRecipients     []Recipient `json:"handover_recipients,omitempty" yaml:"handover_recipients"`
}

// CampaignConfig is an ordered set of outreach steps plus the rule that
// decides when a lead leaves automation.
type CampaignConfig struct {
	ID           string       `json:"id" yaml:"id" db:"id"`
	Name         string       `json:"name" yaml:"name" db:"name"`
	Steps        []Step       `json:"steps" yaml:"steps" db:"steps"`
	HandoverRule HandoverRule `json:"handover_rule" yaml:"handover_rule" db:"handover_rule"`
}

// ErrNoSteps is returned by Validate for a campaign without steps.
var ErrNoSteps = errors.New("campaign has no steps")

// Validate checks the structural invariants of the step sequence: known
// channels, non-negative delays, and 1-based strictly increasing order.
func (c *CampaignConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if len(c.Steps) == 0 {
		return ErrNoSteps
	}
	prev := 0
	for i, s := range c.Steps {
		if !s.Channel.Valid() {
			return fmt.Errorf("step %d: unknown channel %q", i+1, s.Channel)
		}
		if s.DelayDays < 0 {
			return fmt.Errorf("step %d: delay_days must be >= 0", i+1)
		}
		if s.Order < 1 || s.Order <= prev {
			return fmt.Errorf("step %d: order %d must be >= 1 and greater than %d", i+1, s.Order, prev)
		}
		prev = s.Order
	}
	return nil
}

// CampaignStatus aggregates execution counts for one campaign.
type CampaignStatus struct {
	CampaignID string                  `json:"campaign_id"`
	Total      int                     `json:"total"`
	ByStatus   map[ExecutionStatus]int `json:"by_status"`
}
