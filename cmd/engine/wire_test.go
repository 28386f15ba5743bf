package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/handover"
)

const fixturesYAML = `
leads:
  - id: lead-1
    first_name: Ada
    email: ada@example.com
campaigns:
  - id: camp-1
    name: Welcome
    steps:
      - channel: chat
        content: "Hi {firstName}"
        order: 1
`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixturesYAML), 0o644))
	return &config.Config{
		Store:        config.StoreMemory,
		FixturesFile: path,
		Engine:       config.EngineConfig{Retry: config.RetryConfig{MaxAttempts: 1}},
	}
}

func TestBuildApp_MemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.db)
	assert.Nil(t, a.redis)

	lead, err := a.leads.GetLead(ctx, "lead-1")
	require.NoError(t, err)
	campaign, err := a.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)

	// no chat client connected: the step completes with no_connection
	exec, err := a.machine.ExecuteCampaign(ctx, lead, campaign)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, exec.Status)
	require.Len(t, exec.History, 1)
	assert.Equal(t, domain.DispatchNoConnection, exec.History[0].Status)

	h, err := a.scheduler.HealthStatus(ctx)
	require.NoError(t, err)
	assert.False(t, h.IsRunning)
}

func TestBuildApp_DistributedLocksNeedBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Engine.DistributedLocks = true
	_, err := buildApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildNotifier(t *testing.T) {
	n, err := buildNotifier(context.Background(), config.HandoverConfig{WebhookURL: "http://127.0.0.1:1/hook"})
	require.NoError(t, err)
	multi, ok := n.(handover.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
	assert.IsType(t, handover.LogNotifier{}, multi[0])
	assert.IsType(t, &handover.WebhookNotifier{}, multi[1])
}
