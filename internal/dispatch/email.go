package dispatch

import (
	"context"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
)

// EmailProvider hands a message to an email service. A non-nil error means
// the call itself failed; a rejected message comes back with Accepted false.
type EmailProvider interface {
	SendEmail(ctx context.Context, msg *domain.EmailMessage) (*domain.ProviderOutcome, error)
}

// FromIdentity is stamped on every campaign email.
type FromIdentity struct {
	Name    string
	Email   string
	ReplyTo string
}

type EmailSender struct {
	provider EmailProvider
	from     FromIdentity
	clock    clock.Clock
}

func NewEmailSender(provider EmailProvider, from FromIdentity, clk clock.Clock) *EmailSender {
	if clk == nil {
		clk = clock.Real{}
	}
	return &EmailSender{provider: provider, from: from, clock: clk}
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, lead *domain.Lead, step domain.RenderedStep) domain.DispatchResult {
	if lead == nil || strings.TrimSpace(lead.Email) == "" {
		return failed(ErrMissingContact, s.clock)
	}
	if s.provider == nil {
		return failed(ErrProviderNotConfigured, s.clock)
	}

	msg := &domain.EmailMessage{
		ID:          uuid.NewString(),
		LeadID:      lead.ID,
		To:          lead.Email,
		FromName:    s.from.Name,
		FromEmail:   s.from.Email,
		ReplyTo:     s.from.ReplyTo,
		Subject:     step.Subject,
		HTMLContent: toHTML(step.Content),
		TextContent: step.Content,
	}
	if campaignID, ok := CampaignIDFromContext(ctx); ok {
		msg.CampaignID = campaignID
	}

	out, err := s.provider.SendEmail(ctx, msg)
	return fromOutcome(out, err, s.clock)
}

// toHTML leaves markup alone and wraps plain text in paragraphs.
func toHTML(body string) string {
	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		return body
	}
	paras := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
