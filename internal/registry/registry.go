// Package registry stores campaign executions.
//
// The state machine upserts after every transition and the scheduler reads
// due executions on each tick. Implementations must be safe for concurrent
// use, must return copies the caller can mutate freely, and must make a
// completed Upsert visible to every later read.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

var (
	ErrNotFound  = errors.New("execution not found")
	ErrInvalidID = errors.New("execution id is required")
)

type Registry interface {
	// Upsert inserts or replaces the execution keyed by its ID.
	Upsert(ctx context.Context, e *domain.Execution) error

	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*domain.Execution, error)

	// FindByLeadCampaign returns the execution of lead in campaign, or
	// ErrNotFound.
	FindByLeadCampaign(ctx context.Context, leadID, campaignID string) (*domain.Execution, error)

	// ListDue returns active executions with NextRunAt <= now, oldest
	// first. limit <= 0 means no limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Execution, error)

	// ListActive returns every execution in the active status.
	ListActive(ctx context.Context) ([]*domain.Execution, error)

	CountActive(ctx context.Context) (int, error)

	// CampaignStatus aggregates counts per status. Every status is present
	// in ByStatus, zero when unused.
	CampaignStatus(ctx context.Context, campaignID string) (domain.CampaignStatus, error)

	// ListTerminalBefore returns terminal executions whose TerminalAt is
	// before cutoff, oldest first.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Execution, error)

	// Delete removes a terminal execution. Active and paused executions are
	// never deleted; ErrNotFound is returned when nothing was removed.
	Delete(ctx context.Context, id string) error
}

func emptyStatus(campaignID string) domain.CampaignStatus {
	st := domain.CampaignStatus{CampaignID: campaignID, ByStatus: make(map[domain.ExecutionStatus]int, len(domain.AllExecutionStatuses))}
	for _, s := range domain.AllExecutionStatuses {
		st.ByStatus[s] = 0
	}
	return st
}
