package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

// ErrReportNotFound is returned by GetReport when the run is unknown.
var ErrReportNotFound = errors.New("run report not found in database")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SyncResult is the advisory outcome of mirroring a report to the database.
// Callers log it; a failed sync never changes the run's status.
type SyncResult struct {
	Synced    bool
	Artifacts int
	Err       error
}

// Store mirrors run reports into PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

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

// Connect opens a pool for url and wraps it in a Store. The returned close
// function releases the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

const sqlUpsertReport = `
        INSERT INTO run_reports (run_id, skill_id, skill_version, status, failure_class, steps_completed, steps_total, created_invoice_id, final_url, error, started_at, finished_at, report, synced_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (run_id) DO UPDATE SET
            status = EXCLUDED.status,
            failure_class = EXCLUDED.failure_class,
            steps_completed = EXCLUDED.steps_completed,
            steps_total = EXCLUDED.steps_total,
            created_invoice_id = EXCLUDED.created_invoice_id,
            final_url = EXCLUDED.final_url,
            error = EXCLUDED.error,
            finished_at = EXCLUDED.finished_at,
            report = EXCLUDED.report,
            synced_at = EXCLUDED.synced_at;
    `

const sqlDeleteArtifacts = `DELETE FROM run_artifacts WHERE run_id = $1;`

var artifactColumns = []string{"run_id", "name", "path"}

const sqlSelectReport = `SELECT report FROM run_reports WHERE run_id = $1;`

// SyncReport upserts the report row and replaces its artifact index in one transaction.
func (s *Store) SyncReport(ctx context.Context, r *schemas.RunReport) SyncResult {
	doc, err := json.Marshal(r)
	if err != nil {
		return SyncResult{Err: fmt.Errorf("failed to encode run report: %w", err)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SyncResult{Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var finishedAt *time.Time
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		finishedAt = &t
	}
	_, err = tx.Exec(ctx, sqlUpsertReport,
		r.RunID, r.SkillID, r.SkillVersion, string(r.Status), nullable(string(r.FailureClass)),
		r.StepsCompleted, r.StepsTotal, r.CreatedInvoiceID, nullable(r.FinalURL), nullable(r.Error),
		r.StartedAt.UTC(), finishedAt, json.RawMessage(doc), time.Now().UTC(),
	)
	if err != nil {
		return SyncResult{Err: fmt.Errorf("failed to upsert run report: %w", err)}
	}

	if _, err := tx.Exec(ctx, sqlDeleteArtifacts, r.RunID); err != nil {
		return SyncResult{Err: fmt.Errorf("failed to clear run artifacts: %w", err)}
	}

	if n := len(r.Artifacts); n > 0 {
		rows := make([][]any, 0, n)
		for _, name := range sortedKeys(r.Artifacts) {
			rows = append(rows, []any{r.RunID, name, r.Artifacts[name]})
		}
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"run_artifacts"}, artifactColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return SyncResult{Err: fmt.Errorf("failed to copy run artifacts: %w", err)}
		}
		if int(copyCount) != n {
			return SyncResult{Err: fmt.Errorf("mismatch in copied artifacts count: expected %d, got %d", n, copyCount)}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SyncResult{Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return SyncResult{Synced: true, Artifacts: len(r.Artifacts)}
}

// GetReport loads the mirrored report document of runID.
func (s *Store) GetReport(ctx context.Context, runID string) (*schemas.RunReport, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, sqlSelectReport, runID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, runID)
		}
		return nil, fmt.Errorf("failed to query run report: %w", err)
	}
	var r schemas.RunReport
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
