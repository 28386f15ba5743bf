package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
	"github.com/copp1723/onekeel-swarm/internal/handover"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// CampaignRepo implements execution.CampaignStore against PostgreSQL.
// Steps and the handover rule are JSONB columns; the rule is decoded
// loosely so one bad field does not hide the rest.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.CampaignConfig, error) {
	var (
		c                 domain.CampaignConfig
		stepsRaw, ruleRaw []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, steps, COALESCE(handover_rule, '{}'::jsonb)
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &stepsRaw, &ruleRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, execution.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	if err := json.Unmarshal(stepsRaw, &c.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of campaign %s: %w", id, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(ruleRaw, &raw); err != nil {
		logger.Warn("[CampaignRepo] handover rule is not an object, ignoring", "campaign_id", id, "error", err)
		raw = nil
	}
	rule, warnings := handover.DecodeRule(raw)
	for _, w := range warnings {
		logger.Warn("[CampaignRepo] handover rule", "campaign_id", id, "warning", w)
	}
	c.HandoverRule = rule
	return &c, nil
}

// SaveCampaign inserts or replaces a campaign definition.
func (r *CampaignRepo) SaveCampaign(ctx context.Context, c *domain.CampaignConfig) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", execution.ErrInvalidCampaign, err)
	}
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	rule, err := json.Marshal(c.HandoverRule)
	if err != nil {
		return fmt.Errorf("encode handover rule: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, steps, handover_rule, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			steps = EXCLUDED.steps,
			handover_rule = EXCLUDED.handover_rule,
			updated_at = NOW()
	`, c.ID, c.Name, steps, rule)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}
