// Package quota implements the Quota Ledger (spec §2 component C, §4.L
// "Quota semantics"): a two-phase hold/commit/release reservation on a
// tenant's weekly credit counter, backed by single-row CAS updates on the
// quota table the way the Job Store CAS's its status column.
package quota

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB (or *sql.Tx) the Ledger needs — satisfied by
// *store.Store, kept narrow so quota tests can run against a plain sqlmock
// or an in-memory fake without depending on the store package.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ErrQuotaExceeded is returned by Hold when the tenant has no spare credits
// (spec §7 ErrorKind "QuotaExceeded").
var ErrQuotaExceeded = fmt.Errorf("quota exceeded")

// Ledger is the Quota Ledger.
type Ledger struct {
	db DB
}

// New constructs a Ledger over a Job Store connection.
func New(db DB) *Ledger {
	return &Ledger{db: db}
}

// Hold places a decrement-pending hold for jobID against tenantID, atomically
// checking that holds+committed < weekly_credits (spec §4.L "validate_input
// places a hold"; §8 "Σ(holds) + committed_decrements ≤ weekly_credits_allotment").
// Returns ErrQuotaExceeded if no credits remain.
func (l *Ledger) Hold(ctx context.Context, tenantID, jobID uuid.UUID) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE quota
		SET holds_json = holds_json || jsonb_build_object($2::text, true)
		WHERE tenant_id = $1
		  AND (SELECT count(*) FROM jsonb_object_keys(holds_json)) + committed < weekly_credits
		  AND NOT (holds_json ? $2::text)
	`, tenantID, jobID.String())
	if err != nil {
		return fmt.Errorf("failed to place quota hold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// Commit converts a job's hold into a committed decrement (spec §4.L
// "finalize converts the hold to a committed decrement").
func (l *Ledger) Commit(ctx context.Context, tenantID, jobID uuid.UUID) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE quota
		SET holds_json = holds_json - $2::text,
		    committed = committed + 1
		WHERE tenant_id = $1 AND holds_json ? $2::text
	`, tenantID, jobID.String())
	if err != nil {
		return fmt.Errorf("failed to commit quota hold: %w", err)
	}
	return nil
}

// Release drops a job's hold without incrementing committed (spec §4.L
// "Failure or cancellation releases the hold"; §7 "Quota holds are released
// on any non-succeeded terminal state"). Idempotent — releasing a hold that
// was never placed, or already released, is a no-op.
func (l *Ledger) Release(ctx context.Context, tenantID, jobID uuid.UUID) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE quota SET holds_json = holds_json - $2::text
		WHERE tenant_id = $1
	`, tenantID, jobID.String())
	if err != nil {
		return fmt.Errorf("failed to release quota hold: %w", err)
	}
	return nil
}

// Remaining reports the tenant's unreserved, uncommitted credit balance.
// submit_job does not consult it; Hold's own conditional update is the
// admission check.
func (l *Ledger) Remaining(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var weeklyCredits, committed, holdCount int
	err := l.db.QueryRowContext(ctx, `
		SELECT weekly_credits, committed, (SELECT count(*) FROM jsonb_object_keys(holds_json))
		FROM quota WHERE tenant_id = $1
	`, tenantID).Scan(&weeklyCredits, &committed, &holdCount)
	if err != nil {
		return 0, fmt.Errorf("failed to read quota balance: %w", err)
	}
	remaining := weeklyCredits - committed - holdCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// EnsureTenant seeds a quota row for a tenant that has never submitted a job,
// defaulting to defaultWeeklyCredits. A real deployment provisions this row
// out-of-band (billing is out of scope per spec §1); this exists so tests and
// local dev don't need a separate seeding step.
func (l *Ledger) EnsureTenant(ctx context.Context, tenantID uuid.UUID, defaultWeeklyCredits int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO quota (tenant_id, weekly_credits, holds_json, committed, next_reset_at)
		VALUES ($1, $2, '{}'::jsonb, 0, now() + interval '7 days')
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID, defaultWeeklyCredits)
	if err != nil {
		return fmt.Errorf("failed to ensure tenant quota row: %w", err)
	}
	return nil
}
