package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eliteGoblin/proctord/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS proctor_sessions (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	session_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	risk_score INTEGER NOT NULL DEFAULT 0,
	integrity_status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS proctor_violations (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES proctor_sessions (id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	evidence JSONB
);

CREATE INDEX IF NOT EXISTS proctor_violations_session_idx ON proctor_violations (session_id);

CREATE TABLE IF NOT EXISTS proctor_reports (
	session_id TEXT PRIMARY KEY REFERENCES proctor_sessions (id) ON DELETE CASCADE,
	body JSONB NOT NULL,
	reviewed BOOLEAN NOT NULL DEFAULT FALSE
);
`

// PostgresStore is a durable event sink and ReportStore backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to PostgreSQL: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Name identifies the sink in logs.
func (s *PostgresStore) Name() string { return "postgres" }

// Publish persists one session event in a transaction.
func (s *PostgresStore) Publish(ctx context.Context, event domain.SessionEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := upsertSessionRow(ctx, tx, event); err != nil {
		return err
	}

	switch event.Kind {
	case domain.ViolationRecorded:
		if event.Violation == nil {
			return errors.New("violation event without violation")
		}
		params, err := violationParams(event.SessionID, *event.Violation)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO proctor_violations (session_id, type, severity, description, occurred_at, evidence)
			VALUES ($1, $2, $3, $4, $5, $6)`, params...); err != nil {
			return err
		}
	case domain.SessionEnded, domain.SessionReviewed:
		if event.Report != nil {
			body, err := json.Marshal(event.Report)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO proctor_reports (session_id, body, reviewed) VALUES ($1, $2, $3)
				ON CONFLICT (session_id) DO UPDATE SET body = EXCLUDED.body, reviewed = EXCLUDED.reviewed`,
				event.SessionID, body, event.Report.Review != nil); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func upsertSessionRow(ctx context.Context, tx pgx.Tx, event domain.SessionEvent) error {
	endedAt := pgtype.Timestamptz{}
	if event.Report != nil {
		endedAt = pgtype.Timestamptz{Time: event.Report.EndTime, Valid: true}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO proctor_sessions (id, subject_id, session_type, status, risk_score, integrity_status, started_at, ended_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			risk_score = EXCLUDED.risk_score,
			integrity_status = EXCLUDED.integrity_status,
			ended_at = COALESCE(EXCLUDED.ended_at, proctor_sessions.ended_at),
			updated_at = EXCLUDED.updated_at`,
		event.SessionID, event.SubjectID, event.SessionType, string(event.Status),
		event.RiskScore, string(event.IntegrityStatus), event.At, endedAt,
	)
	return err
}

// violationParams returns the insert arguments for one violation row.
func violationParams(sessionID string, v domain.Violation) ([]any, error) {
	var evidence []byte
	if len(v.Evidence) > 0 {
		raw, err := json.Marshal(v.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal evidence: %w", err)
		}
		evidence = raw
	}
	return []any{
		sessionID,
		string(v.Type),
		string(v.Severity),
		v.Description,
		pgtype.Timestamptz{Time: v.Timestamp, Valid: true},
		evidence,
	}, nil
}

// GetReport returns the stored report, or nil if unknown.
func (s *PostgresStore) GetReport(ctx context.Context, sessionID string) (*domain.Report, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM proctor_reports WHERE session_id = $1`, sessionID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report domain.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var (
	_ domain.EventSink   = (*PostgresStore)(nil)
	_ domain.ReportStore = (*PostgresStore)(nil)
)
