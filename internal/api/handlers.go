// Package api exposes the campaign engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copp1723/onekeel-swarm/internal/dispatch"
	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
	"github.com/copp1723/onekeel-swarm/internal/handover"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/httputil"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
	"github.com/copp1723/onekeel-swarm/internal/registry"
)

// Engine is the subset of *execution.Machine the handlers drive.
type Engine interface {
	ExecuteCampaign(ctx context.Context, lead *domain.Lead, campaign *domain.CampaignConfig) (*domain.Execution, error)
	Advance(ctx context.Context, executionID string) (*domain.Execution, error)
	Pause(ctx context.Context, executionID string) (*domain.Execution, error)
	Resume(ctx context.Context, executionID string) (*domain.Execution, error)
	UpdateQualification(ctx context.Context, leadID string, score int) (int, error)
}

// Cleaner is satisfied by *scheduler.Scheduler.
type Cleaner interface {
	CleanupOldExecutions(ctx context.Context, maxAgeDays int) (int, error)
}

// Scheduler is the scheduler surface the API reports on and triggers.
type Scheduler interface {
	SchedulerHealth
	Cleaner
}

// Deps bundles what the handlers need. Scheduler and Chat may be nil; their
// endpoints then answer 503.
type Deps struct {
	Engine     Engine
	Registry   registry.Registry
	Leads      execution.LeadStore
	Campaigns  execution.CampaignStore
	Dispatcher execution.Dispatcher
	Renderer   execution.StepRenderer
	Scheduler  Scheduler

	Health        *HealthChecker
	Chat          *dispatch.ConnectionRegistry
	ChatHeartbeat time.Duration
	ChatBuffer    int
	Metrics       *metrics.Metrics
	// RetentionDays is the cleanup age used when a request names none.
	RetentionDays int
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	engine     Engine
	registry   registry.Registry
	leads      execution.LeadStore
	campaigns  execution.CampaignStore
	dispatcher execution.Dispatcher
	renderer   execution.StepRenderer
	cleaner    Cleaner
	health     *HealthChecker
	chat       *dispatch.ConnectionRegistry
	heartbeat  time.Duration
	buffer     int
	metrics    *metrics.Metrics
	retention  int
}

func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		engine:     d.Engine,
		registry:   d.Registry,
		leads:      d.Leads,
		campaigns:  d.Campaigns,
		dispatcher: d.Dispatcher,
		renderer:   d.Renderer,
		health:     d.Health,
		chat:       d.Chat,
		heartbeat:  d.ChatHeartbeat,
		buffer:     d.ChatBuffer,
		metrics:    d.Metrics,
		retention:  d.RetentionDays,
	}
	if d.Scheduler != nil {
		h.cleaner = d.Scheduler
	}
	if h.health == nil {
		var sched SchedulerHealth
		if d.Scheduler != nil {
			sched = d.Scheduler
		}
		h.health = NewHealthChecker(nil, nil, sched)
	}
	return h
}

// writeError maps engine sentinels onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, execution.ErrLeadNotFound),
		errors.Is(err, execution.ErrCampaignNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, execution.ErrInFlight):
		httputil.ErrorCode(w, http.StatusConflict, "in_flight", err.Error())
	case errors.Is(err, execution.ErrTerminal):
		httputil.ErrorCode(w, http.StatusConflict, "terminal", err.Error())
	case errors.Is(err, execution.ErrInvalidCampaign):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "invalid_campaign", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "cancelled", err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

type executeRequest struct {
	LeadID string `json:"lead_id"`
}

// ExecuteCampaign starts (or continues) a lead's run through a campaign.
//
//	POST /api/campaigns/{campaignID}/executions
func (h *Handlers) ExecuteCampaign(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.LeadID == "" {
		httputil.BadRequest(w, "lead_id is required")
		return
	}
	ctx := r.Context()
	lead, err := h.leads.GetLead(ctx, req.LeadID)
	if err != nil {
		writeError(w, err)
		return
	}
	campaign, err := h.campaigns.GetCampaign(ctx, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}

	exec, err := h.engine.ExecuteCampaign(ctx, lead, campaign)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, exec)
}

// GetCampaignStatus returns execution counts by status for one campaign.
//
//	GET /api/campaigns/{campaignID}/status
func (h *Handlers) GetCampaignStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.registry.CampaignStatus(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, st)
}

// GetActiveExecutions lists executions that are still active.
//
//	GET /api/executions/active
func (h *Handlers) GetActiveExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.Execution{}
	}
	httputil.OK(w, map[string]any{"executions": list, "count": len(list)})
}

// GetExecution returns one execution with its dispatch history.
//
//	GET /api/executions/{executionID}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.registry.Get(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, exec)
}

// AdvanceExecution runs the next due step now instead of waiting for the
// scheduler. Not-yet-due executions come back unchanged.
//
//	POST /api/executions/{executionID}/advance
func (h *Handlers) AdvanceExecution(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Advance)
}

// PauseExecution stops an active execution from dispatching.
//
//	POST /api/executions/{executionID}/pause
func (h *Handlers) PauseExecution(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Pause)
}

// ResumeExecution reactivates a paused execution.
//
//	POST /api/executions/{executionID}/resume
func (h *Handlers) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resume)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*domain.Execution, error)) {
	exec, err := fn(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, exec)
}

type evaluateRequest struct {
	LeadID string       `json:"lead_id"`
	Lead   *domain.Lead `json:"lead"`
	// Rule is decoded leniently; CampaignID is used when Rule is absent.
	Rule       map[string]any          `json:"rule"`
	CampaignID string                  `json:"campaign_id"`
	Context    domain.ExecutionContext `json:"context"`
}

type evaluateResponse struct {
	domain.HandoverEvaluation
	Warnings []string `json:"warnings,omitempty"`
}

// EvaluateHandover answers whether a lead should go to a human under a rule
// without touching any execution.
//
//	POST /api/handover/evaluate
func (h *Handlers) EvaluateHandover(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	lead := req.Lead
	if lead == nil {
		if req.LeadID == "" {
			httputil.BadRequest(w, "lead or lead_id is required")
			return
		}
		var err error
		if lead, err = h.leads.GetLead(ctx, req.LeadID); err != nil {
			writeError(w, err)
			return
		}
	}

	var (
		rule     domain.HandoverRule
		warnings []string
	)
	switch {
	case req.Rule != nil:
		rule, warnings = handover.DecodeRule(req.Rule)
	case req.CampaignID != "":
		campaign, err := h.campaigns.GetCampaign(ctx, req.CampaignID)
		if err != nil {
			writeError(w, err)
			return
		}
		rule = campaign.HandoverRule
	default:
		httputil.BadRequest(w, "rule or campaign_id is required")
		return
	}
	warnings = append(warnings, handover.Validate(rule)...)
	for _, warn := range warnings {
		logger.Warn("[API] handover rule warning", "lead_id", lead.ID, "warning", warn)
	}

	httputil.OK(w, evaluateResponse{
		HandoverEvaluation: handover.Evaluate(lead, req.Context, rule),
		Warnings:           warnings,
	})
}

type sendMessageRequest struct {
	LeadID     string         `json:"lead_id"`
	CampaignID string         `json:"campaign_id"`
	Channel    domain.Channel `json:"channel"`
	Step       domain.Step    `json:"step"`
}

// SendMessage renders one step for a lead and hands it to the channel
// adapter outside any execution. A failed dispatch answers 502 with the
// result body.
//
//	POST /api/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.LeadID == "" {
		httputil.BadRequest(w, "lead_id is required")
		return
	}
	if req.Channel != "" {
		req.Step.Channel = req.Channel
	}
	if !req.Step.Channel.Valid() {
		httputil.BadRequest(w, "unknown channel "+strconv.Quote(string(req.Step.Channel)))
		return
	}

	ctx := r.Context()
	lead, err := h.leads.GetLead(ctx, req.LeadID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.CampaignID != "" {
		ctx = dispatch.WithCampaignID(ctx, req.CampaignID)
	}

	res := h.dispatcher.Send(ctx, lead, h.renderer.RenderStep(lead, req.Step))
	if res.Status == domain.DispatchFailed {
		httputil.JSON(w, http.StatusBadGateway, res)
		return
	}
	httputil.OK(w, res)
}

type qualificationRequest struct {
	Score *int `json:"score"`
}

// UpdateQualification stores a new score, clamped to 0..10.
//
//	PUT /api/leads/{leadID}/qualification
func (h *Handlers) UpdateQualification(w http.ResponseWriter, r *http.Request) {
	var req qualificationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Score == nil {
		httputil.BadRequest(w, "score is required")
		return
	}
	leadID := chi.URLParam(r, "leadID")
	score, err := h.engine.UpdateQualification(r.Context(), leadID, *req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"lead_id": leadID, "qualification_score": score})
}

// CleanupOldExecutions removes terminal executions older than
// ?max_age_days, falling back to the configured retention.
//
//	POST /api/maintenance/cleanup
func (h *Handlers) CleanupOldExecutions(w http.ResponseWriter, r *http.Request) {
	if h.cleaner == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	days := h.retention
	if v := r.URL.Query().Get("max_age_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "max_age_days must be a non-negative integer")
			return
		}
		days = n
	}

	removed, err := h.cleaner.CleanupOldExecutions(r.Context(), days)
	if err != nil {
		// partial progress is still reported
		logger.Error("[API] cleanup failed", "removed", removed, "error", err)
		httputil.JSON(w, http.StatusInternalServerError, map[string]any{"removed": removed, "error": "cleanup failed"})
		return
	}
	httputil.OK(w, map[string]any{"removed": removed, "max_age_days": days})
}

// ChatStream registers the caller as the lead's live chat connection for
// the life of the request.
//
//	GET /api/chat/{leadID}/stream
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		httputil.BadRequest(w, "lead id is required")
		return
	}
	dispatch.ServeSSE(h.chat, w, r, leadID, h.heartbeat, h.buffer)
}
