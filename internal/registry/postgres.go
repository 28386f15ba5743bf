package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

// PostgresStore implements Registry against the campaign_executions table.
// History is stored as JSONB and triggered criteria as TEXT[].
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const executionColumns = `
	id, lead_id, campaign_id, current_step_index, status, started_at, next_run_at,
	history, handover_reason, triggered_criteria, last_error, terminal_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var (
		e        domain.Execution
		history  []byte
		criteria pq.StringArray
		terminal sql.NullTime
	)
	if err := row.Scan(
		&e.ID, &e.LeadID, &e.CampaignID, &e.CurrentStepIndex, &e.Status, &e.StartedAt, &e.NextRunAt,
		&history, &e.HandoverReason, &criteria, &e.LastError, &terminal, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &e.History); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", e.ID, err)
		}
	}
	if len(criteria) > 0 {
		e.TriggeredCriteria = []string(criteria)
	}
	if terminal.Valid {
		t := terminal.Time
		e.TerminalAt = &t
	}
	return &e, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, e *domain.Execution) error {
	if e == nil || e.ID == "" {
		return ErrInvalidID
	}
	history, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if e.History == nil {
		history = []byte("[]")
	}
	var terminal sql.NullTime
	if e.TerminalAt != nil {
		terminal = sql.NullTime{Time: *e.TerminalAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaign_executions
			(id, lead_id, campaign_id, current_step_index, status, started_at, next_run_at,
			 history, handover_reason, triggered_criteria, last_error, terminal_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			current_step_index = EXCLUDED.current_step_index,
			status             = EXCLUDED.status,
			next_run_at        = EXCLUDED.next_run_at,
			history            = EXCLUDED.history,
			handover_reason    = EXCLUDED.handover_reason,
			triggered_criteria = EXCLUDED.triggered_criteria,
			last_error         = EXCLUDED.last_error,
			terminal_at        = EXCLUDED.terminal_at,
			updated_at         = EXCLUDED.updated_at
	`, e.ID, e.LeadID, e.CampaignID, e.CurrentStepIndex, e.Status, e.StartedAt, e.NextRunAt,
		history, e.HandoverReason, pq.Array(e.TriggeredCriteria), e.LastError, terminal, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT`+executionColumns+` FROM campaign_executions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) FindByLeadCampaign(ctx context.Context, leadID, campaignID string) (*domain.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT`+executionColumns+` FROM campaign_executions WHERE lead_id = $1 AND campaign_id = $2`,
		leadID, campaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find execution: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Execution, error) {
	q := `SELECT` + executionColumns + `
		FROM campaign_executions
		WHERE status = 'active' AND next_run_at <= $1
		ORDER BY next_run_at ASC, id ASC`
	args := []any{now}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.list(ctx, "list due executions", q, args...)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*domain.Execution, error) {
	return s.list(ctx, "list active executions", `SELECT`+executionColumns+`
		FROM campaign_executions
		WHERE status = 'active'
		ORDER BY started_at ASC`)
}

func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_executions WHERE status = 'active'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active executions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CampaignStatus(ctx context.Context, campaignID string) (domain.CampaignStatus, error) {
	st := emptyStatus(campaignID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM campaign_executions
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return st, fmt.Errorf("campaign status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status domain.ExecutionStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("scan campaign status: %w", err)
		}
		st.ByStatus[status] = n
		st.Total += n
	}
	return st, rows.Err()
}

func (s *PostgresStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Execution, error) {
	q := `SELECT` + executionColumns + `
		FROM campaign_executions
		WHERE status IN ('completed', 'handover', 'failed')
		  AND terminal_at IS NOT NULL AND terminal_at < $1
		ORDER BY terminal_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.list(ctx, "list terminal executions", q, args...)
}

// Delete refuses to remove a non-terminal row.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM campaign_executions
		WHERE id = $1 AND status IN ('completed', 'handover', 'failed')
	`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, op, q string, args ...any) ([]*domain.Execution, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
