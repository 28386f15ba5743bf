package dispatch

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
)

// SMSProvider hands a text message to an SMS gateway.
type SMSProvider interface {
	SendSMS(ctx context.Context, msg *domain.SMSMessage) (*domain.ProviderOutcome, error)
}

type SMSSender struct {
	provider SMSProvider
	clock    clock.Clock
}

func NewSMSSender(provider SMSProvider, clk clock.Clock) *SMSSender {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SMSSender{provider: provider, clock: clk}
}

func (s *SMSSender) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, lead *domain.Lead, step domain.RenderedStep) domain.DispatchResult {
	if lead == nil || strings.TrimSpace(lead.Phone) == "" {
		return failed(ErrMissingContact, s.clock)
	}
	if s.provider == nil {
		return failed(ErrProviderNotConfigured, s.clock)
	}
	msg := &domain.SMSMessage{
		ID:     uuid.NewString(),
		LeadID: lead.ID,
		To:     lead.Phone,
		Body:   step.Content,
	}
	if campaignID, ok := CampaignIDFromContext(ctx); ok {
		msg.CampaignID = campaignID
	}
	out, err := s.provider.SendSMS(ctx, msg)
	return fromOutcome(out, err, s.clock)
}
