package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copp1723/onekeel-swarm/internal/dispatch"
	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/handover"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
	"github.com/copp1723/onekeel-swarm/internal/registry"
)

// Machine is safe for concurrent use. Two calls touching the same
// lead/campaign pair never run at once; the second gets ErrInFlight.
type Machine struct {
	registry   registry.Registry
	leads      LeadStore
	campaigns  CampaignStore
	dispatcher Dispatcher
	renderer   StepRenderer
	notifier   handover.Notifier
	retry      RetryPolicy
	clock      clock.Clock
	metrics    *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}

	warned sync.Map // campaign id -> struct{}, rule warnings logged once
}

type Option func(*Machine)

func WithRetryPolicy(p RetryPolicy) Option { return func(m *Machine) { m.retry = p } }

func WithClock(c clock.Clock) Option { return func(m *Machine) { m.clock = c } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Machine) { m.metrics = mt } }

// WithNotifier replaces the default LogNotifier. A nil notifier disables
// handover notifications.
func WithNotifier(n handover.Notifier) Option { return func(m *Machine) { m.notifier = n } }

// NewMachine wires the collaborators. A renderer is required; pass
// content.NewRenderer() in production.
func NewMachine(reg registry.Registry, leads LeadStore, campaigns CampaignStore, d Dispatcher, r StepRenderer, opts ...Option) *Machine {
	m := &Machine{
		registry:   reg,
		leads:      leads,
		campaigns:  campaigns,
		dispatcher: d,
		renderer:   r,
		notifier:   handover.LogNotifier{},
		retry:      DefaultRetryPolicy(),
		clock:      clock.Real{},
		inFlight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retry = m.retry.normalized()
	return m
}

func pairKey(leadID, campaignID string) string { return leadID + "|" + campaignID }

func (m *Machine) acquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[key]; busy {
		return false
	}
	m.inFlight[key] = struct{}{}
	return true
}

func (m *Machine) release(key string) {
	m.mu.Lock()
	delete(m.inFlight, key)
	m.mu.Unlock()
}

// ExecuteCampaign runs the current step of lead's execution in campaign,
// creating the execution on first entry. Terminal, paused and not-yet-due
// executions are returned unchanged.
func (m *Machine) ExecuteCampaign(ctx context.Context, lead *domain.Lead, campaign *domain.CampaignConfig) (*domain.Execution, error) {
	if lead == nil || lead.ID == "" {
		return nil, fmt.Errorf("execute campaign: %w", ErrLeadNotFound)
	}
	if campaign == nil {
		return nil, fmt.Errorf("execute campaign: %w", ErrCampaignNotFound)
	}
	if err := campaign.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCampaign, err)
	}

	key := pairKey(lead.ID, campaign.ID)
	if !m.acquire(key) {
		return nil, ErrInFlight
	}
	defer m.release(key)

	exec, err := m.registry.FindByLeadCampaign(ctx, lead.ID, campaign.ID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		exec = m.newExecution(lead.ID, campaign.ID)
		logger.Info("[Execution] created", "execution_id", exec.ID, "lead_id", lead.ID, "campaign_id", campaign.ID)
	case err != nil:
		return nil, fmt.Errorf("load execution: %w", err)
	}

	return m.step(ctx, exec, lead, campaign)
}

// Advance is the scheduler's entry point: it loads the execution's lead and
// campaign and runs one step.
func (m *Machine) Advance(ctx context.Context, executionID string) (*domain.Execution, error) {
	exec, err := m.registry.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	key := pairKey(exec.LeadID, exec.CampaignID)
	if !m.acquire(key) {
		return nil, ErrInFlight
	}
	defer m.release(key)

	// re-read under the guard; a concurrent caller may have just written it
	exec, err = m.registry.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if exec.IsTerminal() || exec.Status == domain.ExecutionPaused {
		return exec, nil
	}

	lead, err := m.leads.GetLead(ctx, exec.LeadID)
	if errors.Is(err, ErrLeadNotFound) {
		return m.fail(ctx, exec, "lead "+exec.LeadID+" no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("load lead %s: %w", exec.LeadID, err)
	}

	campaign, err := m.campaigns.GetCampaign(ctx, exec.CampaignID)
	if errors.Is(err, ErrCampaignNotFound) {
		return m.fail(ctx, exec, "campaign "+exec.CampaignID+" no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", exec.CampaignID, err)
	}
	if err := campaign.Validate(); err != nil {
		return m.fail(ctx, exec, "invalid campaign: "+err.Error())
	}

	return m.step(ctx, exec, lead, campaign)
}

func (m *Machine) newExecution(leadID, campaignID string) *domain.Execution {
	now := m.clock.Now()
	return &domain.Execution{
		ID:         uuid.NewString(),
		LeadID:     leadID,
		CampaignID: campaignID,
		Status:     domain.ExecutionActive,
		StartedAt:  now,
		NextRunAt:  now,
		History:    []domain.DispatchResult{},
		UpdatedAt:  now,
	}
}

// step performs at most one step transition and persists the outcome.
func (m *Machine) step(ctx context.Context, exec *domain.Execution, lead *domain.Lead, campaign *domain.CampaignConfig) (*domain.Execution, error) {
	now := m.clock.Now()
	if exec.IsTerminal() || exec.Status == domain.ExecutionPaused || exec.NextRunAt.After(now) {
		return exec, nil
	}
	if exec.CurrentStepIndex >= len(campaign.Steps) {
		// campaign shrank under a running execution
		m.terminate(exec, domain.ExecutionCompleted, now)
		return m.save(ctx, exec)
	}

	m.warnRule(campaign)
	step := campaign.Steps[exec.CurrentStepIndex]
	rendered := m.renderer.RenderStep(lead, step)

	ec := domain.ExecutionContext{
		ConversationLength: exec.ConversationLength(),
		ElapsedSeconds:     int64(now.Sub(exec.StartedAt) / time.Second),
	}
	if eval := handover.Evaluate(lead, ec, campaign.HandoverRule); eval.ShouldHandover {
		return m.handover(ctx, exec, lead, campaign, eval, now)
	}

	// attempts from an earlier interrupted advance count toward the limit
	prior := failedAttempts(exec, step.Order)
	if prior >= m.retry.MaxAttempts {
		exec.LastError = exec.History[len(exec.History)-1].Error
		m.terminate(exec, domain.ExecutionFailed, now)
		logger.Error("[Execution] step failed, retries exhausted",
			"execution_id", exec.ID, "step", step.Order, "attempts", prior, "error", exec.LastError)
		return m.save(ctx, exec)
	}

	ctx = dispatch.WithCampaignID(ctx, campaign.ID)
	for attempt := prior + 1; ; attempt++ {
		res := m.dispatcher.Send(ctx, lead, rendered)
		res.Attempt = attempt
		exec.History = append(exec.History, res)

		if res.Status != domain.DispatchFailed {
			break
		}
		if attempt >= m.retry.MaxAttempts {
			exec.LastError = res.Error
			m.terminate(exec, domain.ExecutionFailed, m.clock.Now())
			logger.Error("[Execution] step failed, retries exhausted",
				"execution_id", exec.ID, "step", step.Order, "attempts", attempt, "error", res.Error)
			return m.save(ctx, exec)
		}

		m.metrics.Retry(string(step.Channel))
		if err := m.wait(ctx, m.retry.Backoff.NextDelay(attempt)); err != nil {
			// keep the attempts; the step is retried on the next advance
			exec.LastError = res.Error
			exec.UpdatedAt = m.clock.Now()
			if _, serr := m.save(context.WithoutCancel(ctx), exec); serr != nil {
				return nil, serr
			}
			return exec, err
		}
	}

	now = m.clock.Now()
	exec.CurrentStepIndex++
	exec.LastError = ""
	if exec.CurrentStepIndex >= len(campaign.Steps) {
		m.terminate(exec, domain.ExecutionCompleted, now)
		logger.Info("[Execution] completed", "execution_id", exec.ID, "lead_id", exec.LeadID)
	} else {
		exec.NextRunAt = now.Add(campaign.Steps[exec.CurrentStepIndex].Delay())
		exec.UpdatedAt = now
	}
	return m.save(ctx, exec)
}

// failedAttempts counts the trailing failed history entries for stepOrder.
func failedAttempts(exec *domain.Execution, stepOrder int) int {
	n := 0
	for i := len(exec.History) - 1; i >= 0; i-- {
		r := exec.History[i]
		if r.StepOrder != stepOrder || r.Status != domain.DispatchFailed {
			break
		}
		n++
	}
	return n
}

func (m *Machine) handover(ctx context.Context, exec *domain.Execution, lead *domain.Lead, campaign *domain.CampaignConfig, eval domain.HandoverEvaluation, now time.Time) (*domain.Execution, error) {
	exec.HandoverReason = eval.Reason
	exec.TriggeredCriteria = eval.TriggeredCriteria
	m.terminate(exec, domain.ExecutionHandover, now)
	if _, err := m.save(ctx, exec); err != nil {
		return nil, err
	}
	m.metrics.Handover(eval.TriggeredCriteria)
	logger.Info("[Execution] handover", "execution_id", exec.ID, "lead_id", lead.ID,
		"reason", eval.Reason, "criteria", eval.TriggeredCriteria)

	evt := handover.Event{
		ExecutionID:       exec.ID,
		CampaignID:        campaign.ID,
		LeadID:            lead.ID,
		LeadName:          strings.TrimSpace(lead.FirstName + " " + lead.LastName),
		Reason:            eval.Reason,
		TriggeredCriteria: eval.TriggeredCriteria,
		TriggeredAt:       now,
	}
	if err := handover.NotifyRecipients(ctx, m.notifier, evt, campaign.HandoverRule.HandoverRecipients); err != nil {
		logger.Warn("[Execution] handover notification failed", "execution_id", exec.ID, "error", err)
	}
	return exec, nil
}

func (m *Machine) fail(ctx context.Context, exec *domain.Execution, reason string) (*domain.Execution, error) {
	exec.LastError = reason
	m.terminate(exec, domain.ExecutionFailed, m.clock.Now())
	logger.Warn("[Execution] failed", "execution_id", exec.ID, "reason", reason)
	return m.save(ctx, exec)
}

func (m *Machine) terminate(exec *domain.Execution, status domain.ExecutionStatus, at time.Time) {
	exec.Status = status
	exec.TerminalAt = &at
	exec.UpdatedAt = at
}

func (m *Machine) save(ctx context.Context, exec *domain.Execution) (*domain.Execution, error) {
	if err := m.registry.Upsert(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}
	m.metrics.Transition(string(exec.Status))
	return exec, nil
}

func (m *Machine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-m.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) warnRule(campaign *domain.CampaignConfig) {
	if _, seen := m.warned.LoadOrStore(campaign.ID, struct{}{}); seen {
		return
	}
	for _, w := range handover.Validate(campaign.HandoverRule) {
		logger.Warn("[Execution] handover rule field ignored", "campaign_id", campaign.ID, "warning", w)
	}
}

// Pause holds an active execution; the scheduler skips it until Resume.
func (m *Machine) Pause(ctx context.Context, executionID string) (*domain.Execution, error) {
	return m.setHold(ctx, executionID, domain.ExecutionPaused)
}

// Resume returns a paused execution to active. If its NextRunAt has passed
// it is due on the next tick.
func (m *Machine) Resume(ctx context.Context, executionID string) (*domain.Execution, error) {
	return m.setHold(ctx, executionID, domain.ExecutionActive)
}

func (m *Machine) setHold(ctx context.Context, executionID string, to domain.ExecutionStatus) (*domain.Execution, error) {
	exec, err := m.registry.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	key := pairKey(exec.LeadID, exec.CampaignID)
	if !m.acquire(key) {
		return nil, ErrInFlight
	}
	defer m.release(key)

	exec, err = m.registry.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if exec.IsTerminal() {
		return exec, ErrTerminal
	}
	if exec.Status == to {
		return exec, nil
	}
	exec.Status = to
	exec.UpdatedAt = m.clock.Now()
	logger.Info("[Execution] status changed", "execution_id", exec.ID, "status", to)
	return m.save(ctx, exec)
}

// UpdateQualification stores a new score for the lead, clamped to 0-10.
// The next advance evaluates handover against it.
func (m *Machine) UpdateQualification(ctx context.Context, leadID string, score int) (int, error) {
	if score < 0 {
		score = 0
	}
	if score > domain.MaxQualificationScore {
		score = domain.MaxQualificationScore
	}
	if err := m.leads.UpdateQualification(ctx, leadID, score); err != nil {
		return 0, fmt.Errorf("update qualification for %s: %w", leadID, err)
	}
	return score, nil
}
