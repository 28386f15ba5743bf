package execution

import (
	"context"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

// LeadStore gives the engine read access to leads plus the one field it
// writes. GetLead returns ErrLeadNotFound (possibly wrapped) for an unknown
// id.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	UpdateQualification(ctx context.Context, id string, score int) error
}

// CampaignStore returns ErrCampaignNotFound (possibly wrapped) for an
// unknown id.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (*domain.CampaignConfig, error)
}

// Dispatcher sends a rendered step. It reports failures in the result and
// never returns an error; *dispatch.Adapter satisfies it.
type Dispatcher interface {
	Send(ctx context.Context, lead *domain.Lead, step domain.RenderedStep) domain.DispatchResult
}

// StepRenderer personalizes a step for a lead; *content.Renderer satisfies
// it.
type StepRenderer interface {
	RenderStep(lead *domain.Lead, step domain.Step) domain.RenderedStep
}
