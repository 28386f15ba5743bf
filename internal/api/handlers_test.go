package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/onekeel-swarm/internal/content"
	"github.com/copp1723/onekeel-swarm/internal/dispatch"
	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
	"github.com/copp1723/onekeel-swarm/internal/registry"
	"github.com/copp1723/onekeel-swarm/internal/repository/memory"
	"github.com/copp1723/onekeel-swarm/internal/scheduler"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type stubDispatcher struct {
	mu     sync.Mutex
	status domain.DispatchStatus
	sent   []domain.RenderedStep
}

func (d *stubDispatcher) Send(_ context.Context, _ *domain.Lead, step domain.RenderedStep) domain.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, step)
	status := d.status
	if status == "" {
		status = domain.DispatchSent
	}
	res := domain.DispatchResult{ID: "msg", Channel: step.Channel, Status: status, StepOrder: step.Order, Timestamp: epoch}
	if status == domain.DispatchFailed {
		res.Error = "provider rejected"
	}
	return res
}

func (d *stubDispatcher) last() domain.RenderedStep {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

type testEnv struct {
	router http.Handler
	reg    *registry.MemoryStore
	clock  *clock.Fake
	disp   *stubDispatcher
	chat   *dispatch.ConnectionRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.SaveLead(ctx, &domain.Lead{
		ID:                 "lead-1",
		FirstName:          "Ada",
		LastName:           "Lovelace",
		Email:              "ada@example.com",
		QualificationScore: 3,
		Notes:              "Asked about price on the phone",
	}))
	require.NoError(t, store.SaveCampaign(ctx, &domain.CampaignConfig{
		ID:   "camp-1",
		Name: "Spring follow-up",
		Steps: []domain.Step{
			{Channel: domain.ChannelEmail, Subject: "Hello", Content: "Hi {firstName}", Order: 1},
			{Channel: domain.ChannelSMS, Content: "Still there, {firstName}?", DelayDays: 1, Order: 2},
		},
	}))

	clk := clock.NewFake(epoch)
	reg := registry.NewMemoryStore()
	disp := &stubDispatcher{}
	m := metrics.New()
	machine := execution.NewMachine(reg, store, store, disp, content.NewRenderer(),
		execution.WithClock(clk),
		execution.WithMetrics(m),
		execution.WithNotifier(nil),
		execution.WithRetryPolicy(execution.RetryPolicy{MaxAttempts: 1, Backoff: execution.ConstantBackoff(0)}),
	)
	sched := scheduler.New(reg, machine, scheduler.Config{}, scheduler.WithClock(clk))
	chat := dispatch.NewConnectionRegistry(nil)

	h := NewHandlers(Deps{
		Engine:        machine,
		Registry:      reg,
		Leads:         store,
		Campaigns:     store,
		Dispatcher:    disp,
		Renderer:      content.NewRenderer(),
		Scheduler:     sched,
		Chat:          chat,
		ChatHeartbeat: time.Minute,
		ChatBuffer:    4,
		Metrics:       m,
		RetentionDays: 30,
	})
	return &testEnv{
		router: SetupRoutes(h, nil, ""),
		reg:    reg,
		clock:  clk,
		disp:   disp,
		chat:   chat,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeExec(t *testing.T, rec *httptest.ResponseRecorder) domain.Execution {
	t.Helper()
	var exec domain.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec), rec.Body.String())
	return exec
}

func TestExecuteCampaign(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/campaigns/camp-1/executions", `{"lead_id":"lead-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exec := decodeExec(t, rec)
	assert.Equal(t, domain.ExecutionActive, exec.Status)
	assert.Equal(t, 1, exec.CurrentStepIndex)
	assert.Len(t, exec.History, 1)
	assert.Equal(t, epoch.Add(24*time.Hour), exec.NextRunAt.UTC())
	assert.Equal(t, "Hi Ada", env.disp.last().Content)

	rec = env.do(t, http.MethodGet, "/api/executions/"+exec.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exec.ID, decodeExec(t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/executions/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var active struct {
		Executions []domain.Execution `json:"executions"`
		Count      int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, 1, active.Count)

	rec = env.do(t, http.MethodGet, "/api/campaigns/camp-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.CampaignStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.ByStatus[domain.ExecutionActive])
	assert.Equal(t, 0, st.ByStatus[domain.ExecutionHandover])
}

func TestExecuteCampaign_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown lead", "/api/campaigns/camp-1/executions", `{"lead_id":"nobody"}`, http.StatusNotFound},
		{"unknown campaign", "/api/campaigns/nope/executions", `{"lead_id":"lead-1"}`, http.StatusNotFound},
		{"missing lead id", "/api/campaigns/camp-1/executions", `{}`, http.StatusBadRequest},
		{"bad json", "/api/campaigns/camp-1/executions", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodGet, "/api/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"not_found"`)
}

func TestExecutionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	exec := decodeExec(t, env.do(t, http.MethodPost, "/api/campaigns/camp-1/executions", `{"lead_id":"lead-1"}`))
	base := "/api/executions/" + exec.ID

	rec := env.do(t, http.MethodPost, base+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ExecutionPaused, decodeExec(t, rec).Status)

	// paused executions do not advance even when due
	env.clock.Advance(48 * time.Hour)
	rec = env.do(t, http.MethodPost, base+"/advance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeExec(t, rec)
	assert.Equal(t, domain.ExecutionPaused, got.Status)
	assert.Equal(t, 1, got.CurrentStepIndex)

	rec = env.do(t, http.MethodPost, base+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ExecutionActive, decodeExec(t, rec).Status)

	rec = env.do(t, http.MethodPost, base+"/advance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeExec(t, rec)
	assert.Equal(t, domain.ExecutionCompleted, got.Status)
	assert.Equal(t, 2, got.CurrentStepIndex)
	assert.Equal(t, "Still there, Ada?", env.disp.last().Content)

	rec = env.do(t, http.MethodPost, base+"/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"terminal"`)
}

func TestEvaluateHandover(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/handover/evaluate",
		`{"lead_id":"lead-1","rule":{"qualificationScore":"3","keywordTriggers":["price"],"timeThreshold":"soon"},"context":{"conversation_length":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out evaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.ShouldHandover)
	assert.Equal(t, []string{"qualification_score", "keyword_trigger"}, out.TriggeredCriteria)
	assert.NotEmpty(t, out.Warnings, "malformed timeThreshold is reported")

	rec = env.do(t, http.MethodPost, "/api/handover/evaluate",
		`{"lead":{"id":"adhoc","qualification_score":1},"campaign_id":"camp-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = evaluateResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.ShouldHandover)
	assert.Empty(t, out.TriggeredCriteria)

	rec = env.do(t, http.MethodPost, "/api/handover/evaluate", `{"lead_id":"lead-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages",
		`{"lead_id":"lead-1","campaign_id":"camp-1","channel":"sms","step":{"content":"Hey {firstName}","order":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domain.DispatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.DispatchSent, res.Status)
	assert.Equal(t, domain.ChannelSMS, env.disp.last().Channel)
	assert.Equal(t, "Hey Ada", env.disp.last().Content)

	rec = env.do(t, http.MethodPost, "/api/messages", `{"lead_id":"lead-1","channel":"fax","step":{"content":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.disp.status = domain.DispatchFailed
	rec = env.do(t, http.MethodPost, "/api/messages", `{"lead_id":"lead-1","step":{"channel":"email","content":"x","order":1}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider rejected")
}

func TestUpdateQualification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/leads/lead-1/qualification", `{"score":14}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"lead_id":"lead-1","qualification_score":10}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/leads/lead-1/qualification", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/leads/ghost/qualification", `{"score":5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupOldExecutions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := epoch.Add(-48 * time.Hour)
	recent := epoch.Add(-time.Hour)
	require.NoError(t, env.reg.Upsert(ctx, &domain.Execution{ID: "e-old", LeadID: "a", CampaignID: "c", Status: domain.ExecutionCompleted, TerminalAt: &old}))
	require.NoError(t, env.reg.Upsert(ctx, &domain.Execution{ID: "e-new", LeadID: "b", CampaignID: "c", Status: domain.ExecutionFailed, TerminalAt: &recent}))

	rec := env.do(t, http.MethodPost, "/api/maintenance/cleanup?max_age_days=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"removed":1,"max_age_days":1}`, rec.Body.String())

	_, err := env.reg.Get(ctx, "e-old")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = env.reg.Get(ctx, "e-new")
	assert.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/maintenance/cleanup?max_age_days=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	require.NotNil(t, hs.Scheduler)
	assert.False(t, hs.Scheduler.IsRunning)
	assert.Nil(t, hs.Scheduler.LastTickAt)
	assert.Equal(t, "down", hs.Checks["scheduler"].Status)
	assert.Equal(t, "degraded", hs.Status)

	rec = env.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, http.MethodPost, "/api/campaigns/camp-1/executions", `{"lead_id":"lead-1"}`)
	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `campaign_engine_execution_transitions_total{status="active"} 1`)
}

func TestDetermineOverallStatus(t *testing.T) {
	up := ComponentCheck{Status: "up"}
	unset := ComponentCheck{Status: "down", Message: "not configured"}
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{"database": up, "redis": unset}))
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{"database": {Status: "down", Message: "ping failed"}}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{"database": up, "redis": {Status: "degraded"}}))
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/chat/lead-1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewReader(resp.Body)
	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)
	require.Eventually(t, func() bool { return env.chat.Count() == 1 }, time.Second, 5*time.Millisecond)

	sender := dispatch.NewChatSender(env.chat, env.clock)
	res := sender.Send(context.Background(), &domain.Lead{ID: "lead-1"},
		domain.RenderedStep{Step: domain.Step{Channel: domain.ChannelChat, Order: 1}, Content: "Any questions?"})
	assert.Equal(t, domain.DispatchDelivered, res.Status)

	data := readEventData(t, lines, "message")
	assert.Contains(t, data, `"content":"Any questions?"`)

	cancel()
	assert.Eventually(t, func() bool { return env.chat.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestChatStream_NotConfigured(t *testing.T) {
	h := NewHandlers(Deps{})
	rec := httptest.NewRecorder()
	SetupRoutes(h, nil, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/lead-1/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// readEventData skips frames until one named event arrives and returns its
// data payload.
func readEventData(t *testing.T, r *bufio.Reader, event string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line != "event: "+event+"\n" {
			continue
		}
		data, err := r.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(data, "data: "), "event %s without data: %q", event, data)
		return strings.TrimSuffix(strings.TrimPrefix(data, "data: "), "\n")
	}
}
