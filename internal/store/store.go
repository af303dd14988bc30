// Package store persists finished session traces in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no trace has the requested id.
var ErrNotFound = errors.New("trace not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS traces (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    start_url TEXT NOT NULL,
    objective JSONB NOT NULL,
    state TEXT NOT NULL,
    failure_kind TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    result JSONB,
    iterations INTEGER NOT NULL,
    decisions INTEGER NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS trace_steps (
    trace_id TEXT NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    decision_kind TEXT NOT NULL DEFAULT '',
    progress_assessment TEXT NOT NULL DEFAULT '',
    action JSONB,
    outcome TEXT NOT NULL,
    error_code TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (trace_id, iteration)
);`

const (
	sqlInsertTrace = `
        INSERT INTO traces (id, session_id, start_url, objective, state, failure_kind, reason, result, iterations, decisions, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlSelectTrace = `
        SELECT id, session_id, start_url, objective, state, failure_kind, reason, result, iterations, decisions, started_at, finished_at
        FROM traces
        WHERE id = $1;
    `
	sqlSelectSteps = `
        SELECT iteration, url, title, decision_kind, progress_assessment, action, outcome, error_code, message
        FROM trace_steps
        WHERE trace_id = $1
        ORDER BY iteration ASC;
    `
	sqlSelectSessionTraces = `
        SELECT id FROM traces WHERE session_id = $1 ORDER BY started_at ASC;
    `
)

var stepColumns = []string{"trace_id", "iteration", "url", "title", "decision_kind", "progress_assessment", "action", "outcome", "error_code", "message"}

// Store provides a PostgreSQL backed trace repository.
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

// Migrate creates the trace tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create trace tables: %w", err)
	}
	return nil
}

// Send persists a trace. It lets the store act as a collective memory sink.
func (s *Store) Send(ctx context.Context, trace schemas.Trace) error {
	return s.PersistTrace(ctx, trace)
}

// PersistTrace writes a trace and its steps in one transaction. Persisting
// the same trace id twice is a no-op for the header row.
func (s *Store) PersistTrace(ctx context.Context, trace schemas.Trace) error {
	objective, err := json.Marshal(trace.Objective)
	if err != nil {
		return fmt.Errorf("failed to encode objective: %w", err)
	}
	result, err := encodeNullable(trace.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
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

	tag, err := tx.Exec(ctx, sqlInsertTrace,
		trace.ID, trace.SessionID, trace.StartURL, objective,
		trace.State, trace.FailureKind, trace.Reason, result,
		trace.Iterations, trace.Decisions,
		trace.StartedAt.UTC(), trace.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace %s: %w", trace.ID, err)
	}

	if tag.RowsAffected() == 1 && len(trace.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, trace.ID, trace.Steps); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Trace persisted", zap.String("trace_id", trace.ID), zap.Int("steps", len(trace.Steps)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, traceID string, steps []schemas.TraceStep) error {
	rows := make([][]any, len(steps))
	for i, st := range steps {
		action, err := encodeNullable(st.Action)
		if err != nil {
			return fmt.Errorf("failed to encode action of step %d: %w", st.Iteration, err)
		}
		rows[i] = []any{
			traceID, st.Iteration, st.URL, st.Title,
			st.DecisionKind, st.ProgressAssessment, action,
			st.Outcome, string(st.ErrorCode), st.Message,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"trace_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy trace steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

// GetTrace loads a trace with its steps.
func (s *Store) GetTrace(ctx context.Context, id string) (schemas.Trace, error) {
	var (
		t         schemas.Trace
		objective []byte
		result    []byte
	)
	err := s.pool.QueryRow(ctx, sqlSelectTrace, id).Scan(
		&t.ID, &t.SessionID, &t.StartURL, &objective,
		&t.State, &t.FailureKind, &t.Reason, &result,
		&t.Iterations, &t.Decisions, &t.StartedAt, &t.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Trace{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schemas.Trace{}, fmt.Errorf("failed to query trace: %w", err)
	}
	if err := json.Unmarshal(objective, &t.Objective); err != nil {
		return schemas.Trace{}, fmt.Errorf("failed to decode objective: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return schemas.Trace{}, fmt.Errorf("failed to decode result: %w", err)
		}
	}

	if t.Steps, err = s.steps(ctx, id); err != nil {
		return schemas.Trace{}, err
	}
	return t, nil
}

func (s *Store) steps(ctx context.Context, traceID string) ([]schemas.TraceStep, error) {
	rows, err := s.pool.Query(ctx, sqlSelectSteps, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace steps: %w", err)
	}
	defer rows.Close()

	steps := []schemas.TraceStep{}
	for rows.Next() {
		var (
			st     schemas.TraceStep
			action []byte
			code   string
		)
		if err := rows.Scan(&st.Iteration, &st.URL, &st.Title, &st.DecisionKind, &st.ProgressAssessment, &action, &st.Outcome, &code, &st.Message); err != nil {
			return nil, fmt.Errorf("failed to scan trace step row: %w", err)
		}
		if len(action) > 0 {
			st.Action = new(schemas.BrowserAction)
			if err := json.Unmarshal(action, st.Action); err != nil {
				return nil, fmt.Errorf("failed to decode action of step %d: %w", st.Iteration, err)
			}
		}
		st.ErrorCode = schemas.ErrorCode(code)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return steps, nil
}

// TraceIDsBySession lists the traces of one session, oldest first.
func (s *Store) TraceIDsBySession(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlSelectSessionTraces, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}

// encodeNullable returns nil for a nil value so the column stores SQL NULL.
func encodeNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *schemas.BrowserAction:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
