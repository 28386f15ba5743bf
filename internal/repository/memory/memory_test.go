package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
	"github.com/copp1723/onekeel-swarm/internal/handover"
)

const fixtures = `
leads:
  - id: lead-1
    first_name: Ada
    last_name: King
    email: ada@example.com
    qualification_score: 5
    notes: "mentioned urgent financing needs"
    metadata:
      goals:
        test_drive: true
      interests: [suv]
campaigns:
  - id: camp-1
    name: Spring
    steps:
      - {channel: email, subject: "Hi {firstName}", content: "Hello {firstName}", delay_days: 0, order: 1}
      - {channel: sms, content: "Quick question", delay_days: 1, order: 2}
    handover_rule:
      qualification_score: 7
      keyword_triggers: [urgent, financing]
      handover_recipients:
        - {name: Sales, contact: sales@example.com}
`

func writeFixtures(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFixtures(t *testing.T) {
	f, err := LoadFixtures(writeFixtures(t, fixtures))
	require.NoError(t, err)
	s := NewStoreFromFixtures(f)
	ctx := context.Background()

	lead, err := s.GetLead(ctx, "lead-1")
	require.NoError(t, err)
	goals, ok := lead.Goals()
	require.True(t, ok)
	assert.True(t, goals["test_drive"])
	assert.Equal(t, []string{"suv"}, lead.Interests())

	camp, err := s.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, camp.Steps, 2)
	require.NotNil(t, camp.HandoverRule.QualificationScore)
	assert.Equal(t, 7, *camp.HandoverRule.QualificationScore)

	// fixture lead with score 5 still hands over on keywords
	eval := handover.Evaluate(lead, domain.ExecutionContext{}, camp.HandoverRule)
	assert.True(t, eval.ShouldHandover)
	assert.Equal(t, []string{handover.CriterionKeywordTrigger}, eval.TriggeredCriteria)

	assert.Equal(t, []string{"camp-1"}, s.CampaignIDs())
}

func TestLoadFixtures_Invalid(t *testing.T) {
	_, err := LoadFixtures(writeFixtures(t, "campaigns:\n  - id: empty\n"))
	assert.Error(t, err)

	_, err = LoadFixtures(writeFixtures(t, "leads:\n  - first_name: NoID\n"))
	assert.Error(t, err)

	_, err = LoadFixtures("/nonexistent/fixtures.yaml")
	assert.Error(t, err)
}

func TestStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveLead(ctx, &domain.Lead{ID: "l1", FirstName: "Ada"}))
	require.NoError(t, s.SaveCampaign(ctx, &domain.CampaignConfig{ID: "c1", Steps: []domain.Step{
		{Channel: domain.ChannelChat, Content: "hi", Order: 1},
	}}))

	l, _ := s.GetLead(ctx, "l1")
	l.FirstName = "Mallory"
	again, _ := s.GetLead(ctx, "l1")
	assert.Equal(t, "Ada", again.FirstName)

	c, _ := s.GetCampaign(ctx, "c1")
	c.Steps[0].Content = "changed"
	cAgain, _ := s.GetCampaign(ctx, "c1")
	assert.Equal(t, "hi", cAgain.Steps[0].Content)

	require.NoError(t, s.UpdateQualification(ctx, "l1", 9))
	again, _ = s.GetLead(ctx, "l1")
	assert.Equal(t, 9, again.QualificationScore)

	_, err := s.GetLead(ctx, "ghost")
	assert.ErrorIs(t, err, execution.ErrLeadNotFound)
	_, err = s.GetCampaign(ctx, "ghost")
	assert.ErrorIs(t, err, execution.ErrCampaignNotFound)
	assert.ErrorIs(t, s.UpdateQualification(ctx, "ghost", 1), execution.ErrLeadNotFound)
	assert.ErrorIs(t, s.SaveCampaign(ctx, &domain.CampaignConfig{ID: "bad"}), execution.ErrInvalidCampaign)
}

func TestLoadFixtures_Example(t *testing.T) {
	fx, err := LoadFixtures(filepath.Join("..", "..", "..", "config", "fixtures.example.yaml"))
	require.NoError(t, err)
	require.Len(t, fx.Leads, 1)
	require.Len(t, fx.Campaigns, 1)

	c := fx.Campaigns[0]
	assert.Len(t, c.Steps, 3)
	require.NotNil(t, c.HandoverRule.QualificationScore)
	assert.Equal(t, 8, *c.HandoverRule.QualificationScore)
	assert.Len(t, c.HandoverRule.HandoverRecipients, 2)
	assert.Empty(t, handover.Validate(c.HandoverRule))
}
