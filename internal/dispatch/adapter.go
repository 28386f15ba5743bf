package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// ChannelSender delivers a step over one channel. Implementations must be
// safe for concurrent use and must report every outcome in the result.
type ChannelSender interface {
	Channel() domain.Channel
	Send(ctx context.Context, lead *domain.Lead, step domain.RenderedStep) domain.DispatchResult
}

// Adapter routes steps to the sender registered for their channel.
type Adapter struct {
	senders map[domain.Channel]ChannelSender
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewAdapter registers senders by their Channel. A later sender for the
// same channel replaces an earlier one.
func NewAdapter(clk clock.Clock, m *metrics.Metrics, senders ...ChannelSender) *Adapter {
	if clk == nil {
		clk = clock.Real{}
	}
	a := &Adapter{senders: make(map[domain.Channel]ChannelSender), clock: clk, metrics: m}
	for _, s := range senders {
		a.senders[s.Channel()] = s
	}
	return a
}

// Send dispatches step over step.Channel. The result always carries an id
// and a timestamp.
func (a *Adapter) Send(ctx context.Context, lead *domain.Lead, step domain.RenderedStep) domain.DispatchResult {
	start := a.clock.Now()

	var res domain.DispatchResult
	if s, ok := a.senders[step.Channel]; ok {
		res = s.Send(ctx, lead, step)
	} else {
		res = domain.DispatchResult{
			Status: domain.DispatchFailed,
			Error:  fmt.Errorf("%w: %s", ErrNoSender, step.Channel).Error(),
		}
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = a.clock.Now()
	}
	res.Channel = step.Channel
	res.StepOrder = step.Order

	a.metrics.Dispatch(string(step.Channel), string(res.Status), a.clock.Now().Sub(start))
	if res.Status == domain.DispatchFailed {
		leadID := ""
		if lead != nil {
			leadID = lead.ID
		}
		logger.Warn("[Dispatch] send failed", "channel", step.Channel, "lead_id", leadID, "error", res.Error)
	}
	return res
}

func failed(err error, now clock.Clock) domain.DispatchResult {
	return domain.DispatchResult{
		ID:        uuid.NewString(),
		Status:    domain.DispatchFailed,
		Timestamp: now.Now(),
		Error:     err.Error(),
	}
}

// fromOutcome maps a provider's report onto sent/delivered/failed.
func fromOutcome(out *domain.ProviderOutcome, err error, now clock.Clock) domain.DispatchResult {
	if err != nil {
		return failed(err, now)
	}
	if out == nil || !out.Accepted {
		cause := ErrProviderRejected
		if out != nil && out.Err != nil {
			cause = fmt.Errorf("%w: %v", ErrProviderRejected, out.Err)
		}
		return failed(cause, now)
	}

	status := domain.DispatchSent
	if out.Delivered {
		status = domain.DispatchDelivered
	}
	return domain.DispatchResult{
		ID:                uuid.NewString(),
		Status:            status,
		Timestamp:         now.Now(),
		ProviderMessageID: out.MessageID,
	}
}
