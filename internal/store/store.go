package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSweepNotFound is returned by GetSummary for unknown sweep IDs.
var ErrSweepNotFound = errors.New("sweep not found")

// Invocation states kept in sweep_invocations.state.
const (
	statePlanned   = "planned"
	stateSucceeded = "succeeded"
	stateFailed    = "failed"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL sweep ledger. It implements sweep.Recorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ sweep.Recorder = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sweeps (
    id          TEXT PRIMARY KEY,
    seed_init   INTEGER NOT NULL,
    seeds       JSONB NOT NULL,
    root        TEXT NOT NULL,
    policy      TEXT NOT NULL,
    status      TEXT NOT NULL,
    params      JSONB NOT NULL,
    planned     INTEGER NOT NULL,
    succeeded   INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS sweep_invocations (
    sweep_id    TEXT NOT NULL REFERENCES sweeps (id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    seed        INTEGER NOT NULL,
    protocol    TEXT NOT NULL DEFAULT '',
    subject     INTEGER NOT NULL DEFAULT 0,
    session     INTEGER NOT NULL DEFAULT 0,
    download    BOOLEAN NOT NULL DEFAULT FALSE,
    program     TEXT NOT NULL,
    args        JSONB NOT NULL,
    log_path    TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL,
    exit_code   INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (sweep_id, idx)
);`

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

const (
	sqlInsertSweep = `
        INSERT INTO sweeps (id, seed_init, seeds, root, policy, status, params, planned, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	sqlInsertInvocation = `
        INSERT INTO sweep_invocations (sweep_id, idx, kind, seed, protocol, subject, session, download, program, args, log_path, state)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	sqlUpdateInvocation = `
        UPDATE sweep_invocations
        SET state = $3, exit_code = $4, error = $5, started_at = $6, duration_ms = $7
        WHERE sweep_id = $1 AND idx = $2`
	sqlFinishSweep = `
        UPDATE sweeps
        SET status = $2, succeeded = $3, skipped = $4, finished_at = $5
        WHERE id = $1`
	sqlSelectSweep = `
        SELECT seed_init, seeds, root, policy, status, planned, succeeded, skipped, started_at, finished_at
        FROM sweeps WHERE id = $1`
	sqlSelectFailures = `
        SELECT idx, kind, seed, protocol, subject, session, download, program, args, log_path, exit_code, error, started_at, duration_ms
        FROM sweep_invocations
        WHERE sweep_id = $1 AND state = 'failed'
        ORDER BY idx`
)

// BeginSweep inserts the sweep row and one planned row per invocation in a single transaction.
func (s *Store) BeginSweep(ctx context.Context, summary *sweep.Summary, params sweep.Params, plan *sweep.Plan) error {
	sweepID := summary.SweepID
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep params: %w", err)
	}
	seedsJSON, err := json.Marshal(summary.Seeds)
	if err != nil {
		return fmt.Errorf("failed to marshal seeds: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertSweep,
		sweepID, summary.SeedInit, seedsJSON, summary.Root, string(summary.Policy), string(summary.Status),
		paramsJSON, summary.Planned, summary.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sweep %s: %w", sweepID, err)
	}

	for _, inv := range plan.Invocations {
		argsJSON, err := json.Marshal(inv.Args)
		if err != nil {
			return fmt.Errorf("failed to marshal args of invocation %d: %w", inv.Index, err)
		}
		_, err = tx.Exec(ctx, sqlInsertInvocation,
			sweepID, inv.Index, string(inv.Kind), inv.Seed, string(inv.Protocol), inv.Subject, inv.Session,
			inv.Download, inv.Program, argsJSON, inv.LogPath, statePlanned,
		)
		if err != nil {
			return fmt.Errorf("failed to insert invocation %d: %w", inv.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Sweep registered", zap.String("sweep_id", sweepID), zap.Int("invocations", len(plan.Invocations)))
	return nil
}

// RecordOutcome marks a planned invocation as succeeded or failed.
func (s *Store) RecordOutcome(ctx context.Context, sweepID string, outcome sweep.Outcome) error {
	state := stateSucceeded
	if outcome.Failed() {
		state = stateFailed
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateInvocation,
		sweepID, outcome.Invocation.Index, state, outcome.ExitCode, outcome.Error,
		outcome.StartedAt.UTC(), outcome.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation %d: %w", outcome.Invocation.Index, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("invocation %d of sweep %s is not in the ledger", outcome.Invocation.Index, sweepID)
	}
	return nil
}

// FinishSweep stores the terminal status and counters.
func (s *Store) FinishSweep(ctx context.Context, sweepID string, summary *sweep.Summary) error {
	tag, err := s.pool.Exec(ctx, sqlFinishSweep,
		sweepID, string(summary.Status), summary.Succeeded, summary.Skipped, summary.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to finish sweep %s: %w", sweepID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSweepNotFound, sweepID)
	}
	return nil
}

// GetSummary rebuilds a sweep summary from the ledger.
func (s *Store) GetSummary(ctx context.Context, sweepID string) (*sweep.Summary, error) {
	var (
		seedsJSON  []byte
		policy     string
		status     string
		finishedAt *time.Time
	)
	summary := &sweep.Summary{SweepID: sweepID}
	err := s.pool.QueryRow(ctx, sqlSelectSweep, sweepID).Scan(
		&summary.SeedInit, &seedsJSON, &summary.Root, &policy, &status,
		&summary.Planned, &summary.Succeeded, &summary.Skipped, &summary.StartedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSweepNotFound, sweepID)
		}
		return nil, fmt.Errorf("failed to load sweep %s: %w", sweepID, err)
	}
	if err := json.Unmarshal(seedsJSON, &summary.Seeds); err != nil {
		return nil, fmt.Errorf("failed to decode seeds of sweep %s: %w", sweepID, err)
	}
	summary.Policy = sweep.FailurePolicy(policy)
	summary.Status = sweep.Status(status)
	if finishedAt != nil {
		summary.FinishedAt = *finishedAt
	}

	rows, err := s.pool.Query(ctx, sqlSelectFailures, sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures of sweep %s: %w", sweepID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o          sweep.Outcome
			kind       string
			protocol   string
			argsJSON   []byte
			startedAt  *time.Time
			durationMS int64
		)
		if err := rows.Scan(
			&o.Invocation.Index, &kind, &o.Invocation.Seed, &protocol, &o.Invocation.Subject, &o.Invocation.Session,
			&o.Invocation.Download, &o.Invocation.Program, &argsJSON, &o.Invocation.LogPath,
			&o.ExitCode, &o.Error, &startedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		if err := json.Unmarshal(argsJSON, &o.Invocation.Args); err != nil {
			return nil, fmt.Errorf("failed to decode args of invocation %d: %w", o.Invocation.Index, err)
		}
		o.Invocation.Kind = sweep.Kind(kind)
		o.Invocation.Protocol = sweep.Protocol(protocol)
		if startedAt != nil {
			o.StartedAt = *startedAt
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		summary.Failures = append(summary.Failures, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rows: %w", err)
	}
	return summary, nil
}
