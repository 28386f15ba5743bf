package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

var columns = []string{
	"id", "lead_id", "campaign_id", "current_step_index", "status", "started_at", "next_run_at",
	"history", "handover_reason", "triggered_criteria", "last_error", "terminal_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockStore(t)
	e := exec("e1", "l1", "c1", domain.ExecutionHandover, t0)
	e.History = []domain.DispatchResult{{ID: "d1", Channel: domain.ChannelEmail, Status: domain.DispatchSent, Timestamp: t0}}
	e.TriggeredCriteria = []string{"keyword_trigger"}
	e = terminalAt(e, t0)

	mock.ExpectExec(`INSERT INTO campaign_executions`).
		WithArgs("e1", "l1", "c1", 0, domain.ExecutionHandover, t0, t0,
			sqlmock.AnyArg(), "", sqlmock.AnyArg(), "", sqlmock.AnyArg(), t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Upsert(context.Background(), e))
	assert.ErrorIs(t, s.Upsert(context.Background(), nil), ErrInvalidID)
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	term := t0.Add(time.Hour)

	mock.ExpectQuery(`FROM campaign_executions WHERE id = \$1`).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"e1", "l1", "c1", 2, "handover", t0, t0,
			[]byte(`[{"id":"d1","channel":"sms","status":"sent","timestamp":"2024-05-01T12:00:00Z"}]`),
			"keyword", "{keyword_trigger,time_threshold}", "", term, t0))

	e, err := s.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, e.CurrentStepIndex)
	assert.Equal(t, domain.ExecutionHandover, e.Status)
	require.Len(t, e.History, 1)
	assert.Equal(t, domain.ChannelSMS, e.History[0].Channel)
	assert.Equal(t, []string{"keyword_trigger", "time_threshold"}, e.TriggeredCriteria)
	require.NotNil(t, e.TerminalAt)
	assert.Equal(t, term, *e.TerminalAt)

	mock.ExpectQuery(`FROM campaign_executions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListDue(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE status = 'active' AND next_run_at <= \$1\s+ORDER BY next_run_at ASC, id ASC LIMIT \$2`).
		WithArgs(t0, 50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a", "l1", "c1", 0, "active", t0, t0.Add(-time.Hour), []byte(`[]`), "", nil, "", nil, t0).
			AddRow("b", "l2", "c1", 1, "active", t0, t0, []byte(`[]`), "", nil, "", nil, t0))

	due, err := s.ListDue(context.Background(), t0, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ID)
	assert.Nil(t, due[0].TerminalAt)
	assert.Empty(t, due[0].TriggeredCriteria)
}

func TestPostgresStore_CampaignStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("active", 4).
			AddRow("completed", 2))

	st, err := s.CampaignStatus(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 6, st.Total)
	assert.Equal(t, 4, st.ByStatus[domain.ExecutionActive])
	assert.Equal(t, 2, st.ByStatus[domain.ExecutionCompleted])
	assert.Equal(t, 0, st.ByStatus[domain.ExecutionFailed])
}

func TestPostgresStore_CountActive(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaign_executions WHERE status = 'active'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	n, err := s.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestPostgresStore_TerminalAndDelete(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := t0.Add(-24 * time.Hour)

	mock.ExpectQuery(`status IN \('completed', 'handover', 'failed'\)`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("old", "l1", "c1", 3, "completed", t0, t0, []byte(`[]`), "", nil, "", cutoff.Add(-time.Hour), t0))
	mock.ExpectExec(`DELETE FROM campaign_executions`).
		WithArgs("old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM campaign_executions`).
		WithArgs("active-one").
		WillReturnResult(sqlmock.NewResult(0, 0))

	got, err := s.ListTerminalBefore(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, s.Delete(context.Background(), "old"))
	assert.ErrorIs(t, s.Delete(context.Background(), "active-one"), ErrNotFound)
}

func TestPostgresStore_ErrorsPropagate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM campaign_executions`).WillReturnError(sql.ErrConnDone)

	_, err := s.ListActive(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
