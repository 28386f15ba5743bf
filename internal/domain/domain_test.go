package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignConfig_Validate(t *testing.T) {
	valid := func() CampaignConfig {
		return CampaignConfig{
			ID: "camp-1",
			Steps: []Step{
				{Channel: ChannelEmail, Content: "Hi {firstName}", Order: 1},
				{Channel: ChannelSMS, Content: "Ping", DelayDays: 1, Order: 2},
				{Channel: ChannelChat, Content: "Chat?", DelayDays: 0.5, Order: 3},
			},
		}
	}

	c := valid()
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		mutate func(*CampaignConfig)
	}{
		{"missing id", func(c *CampaignConfig) { c.ID = "" }},
		{"no steps", func(c *CampaignConfig) { c.Steps = nil }},
		{"unknown channel", func(c *CampaignConfig) { c.Steps[1].Channel = "fax" }},
		{"negative delay", func(c *CampaignConfig) { c.Steps[1].DelayDays = -1 }},
		{"zero order", func(c *CampaignConfig) { c.Steps[0].Order = 0 }},
		{"non-increasing order", func(c *CampaignConfig) { c.Steps[2].Order = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	empty := CampaignConfig{ID: "x"}
	assert.ErrorIs(t, empty.Validate(), ErrNoSteps)
}

func TestStep_Delay(t *testing.T) {
	assert.Equal(t, 24*time.Hour, Step{DelayDays: 1}.Delay())
	assert.Equal(t, 12*time.Hour, Step{DelayDays: 0.5}.Delay())
	assert.Equal(t, time.Duration(0), Step{DelayDays: 0}.Delay())
	assert.Equal(t, time.Duration(0), Step{DelayDays: -3}.Delay())
}

func TestLead_Goals(t *testing.T) {
	var nilLead *Lead
	_, ok := nilLead.Goals()
	assert.False(t, ok)

	lead := &Lead{Metadata: map[string]any{}}
	_, ok = lead.Goals()
	assert.False(t, ok, "absent goals map")

	lead.Metadata["goals"] = "not a map"
	_, ok = lead.Goals()
	assert.False(t, ok)

	lead.Metadata["goals"] = map[string]any{"booked": true, "quoted": "yes"}
	goals, ok := lead.Goals()
	require.True(t, ok)
	assert.True(t, goals["booked"])
	assert.False(t, goals["quoted"], "non-boolean values count as false")

	lead.Metadata["goals"] = map[string]bool{"financing": true}
	goals, ok = lead.Goals()
	require.True(t, ok)
	assert.True(t, goals["financing"])
}

func TestLead_Interests(t *testing.T) {
	lead := &Lead{Metadata: map[string]any{"interests": []any{"suv", 7, "lease"}}}
	assert.Equal(t, []string{"suv", "lease"}, lead.Interests())

	lead.Metadata["interests"] = []string{"truck"}
	assert.Equal(t, []string{"truck"}, lead.Interests())

	assert.Nil(t, (&Lead{}).Interests())
}

func TestExecution_ConversationLengthAndClone(t *testing.T) {
	now := time.Now()
	exec := &Execution{
		ID:     "e1",
		Status: ExecutionActive,
		History: []DispatchResult{
			{Status: DispatchSent},
			{Status: DispatchFailed},
			{Status: DispatchDelivered},
			{Status: DispatchNoConnection},
		},
		TriggeredCriteria: []string{"a"},
		TerminalAt:        &now,
	}
	assert.Equal(t, 2, exec.ConversationLength())

	cp := exec.Clone()
	cp.History[0].Status = DispatchFailed
	cp.TriggeredCriteria[0] = "b"
	*cp.TerminalAt = now.Add(time.Hour)

	assert.Equal(t, DispatchSent, exec.History[0].Status)
	assert.Equal(t, "a", exec.TriggeredCriteria[0])
	assert.Equal(t, now, *exec.TerminalAt)
	assert.Nil(t, (*Execution)(nil).Clone())
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := map[ExecutionStatus]bool{
		ExecutionActive:    false,
		ExecutionPaused:    false,
		ExecutionCompleted: true,
		ExecutionHandover:  true,
		ExecutionFailed:    true,
	}
	for _, s := range AllExecutionStatuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), string(s))
	}
}
