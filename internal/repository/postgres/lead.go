package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
)

// LeadRepo implements execution.LeadStore against PostgreSQL.
type LeadRepo struct{ db *sql.DB }

// NewLeadRepo creates a Postgres-backed lead repository.
func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

func (r *LeadRepo) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	l := &domain.Lead{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(first_name,''), COALESCE(last_name,''),
		       COALESCE(email,''), COALESCE(phone,''), qualification_score,
		       COALESCE(notes,''), metadata, created_at, updated_at
		FROM campaign_leads
		WHERE id = $1
	`, id).Scan(
		&l.ID, &l.FirstName, &l.LastName,
		&l.Email, &l.Phone, &l.QualificationScore,
		&l.Notes, &metadata, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, execution.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of lead %s: %w", id, err)
		}
	}
	return l, nil
}

func (r *LeadRepo) UpdateQualification(ctx context.Context, id string, score int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_leads SET qualification_score = $2, updated_at = NOW()
		WHERE id = $1
	`, id, score)
	if err != nil {
		return fmt.Errorf("update qualification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update qualification: %w", err)
	}
	if n == 0 {
		return execution.ErrLeadNotFound
	}
	return nil
}

// SaveLead inserts or replaces a lead. Used when seeding fixtures.
func (r *LeadRepo) SaveLead(ctx context.Context, l *domain.Lead) error {
	var metadata []byte
	if l.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(l.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_leads
			(id, first_name, last_name, email, phone, qualification_score, notes, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			qualification_score = EXCLUDED.qualification_score,
			notes = EXCLUDED.notes,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`, l.ID, l.FirstName, l.LastName, l.Email, l.Phone, l.QualificationScore, l.Notes, metadata)
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return nil
}
