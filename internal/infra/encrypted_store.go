package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/proctord/internal/domain"
)

const (
	storeDBName = "proctord.db"
)

// EncryptedStore persists session events to a SQLCipher encrypted SQLite
// database. It is both an event sink and the report store of last resort.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted store in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the schema if it doesn't exist.
func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		session_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		risk_score INTEGER NOT NULL DEFAULT 0,
		integrity_status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS violations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		evidence TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_violations_session ON violations (session_id);

	CREATE TABLE IF NOT EXISTS reports (
		session_id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		ended_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Name identifies the sink in logs.
func (s *EncryptedStore) Name() string { return "sqlcipher" }

// Publish persists one session event.
func (s *EncryptedStore) Publish(ctx context.Context, event domain.SessionEvent) error {
	switch event.Kind {
	case domain.SessionStarted:
		return s.upsertSession(ctx, event)
	case domain.ViolationRecorded:
		if event.Violation == nil {
			return errors.New("violation event without violation")
		}
		if err := s.insertViolation(ctx, event.SessionID, *event.Violation); err != nil {
			return err
		}
		return s.upsertSession(ctx, event)
	case domain.SessionEnded, domain.SessionReviewed:
		if err := s.upsertSession(ctx, event); err != nil {
			return err
		}
		if event.Report == nil {
			return nil
		}
		return s.saveReport(ctx, event.Report)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func (s *EncryptedStore) upsertSession(ctx context.Context, event domain.SessionEvent) error {
	at := event.At.UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject_id, session_type, status, risk_score, integrity_status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			risk_score = excluded.risk_score,
			integrity_status = excluded.integrity_status,
			updated_at = excluded.updated_at`,
		event.SessionID, event.SubjectID, event.SessionType, string(event.Status),
		event.RiskScore, string(event.IntegrityStatus), at, at,
	)
	return err
}

func (s *EncryptedStore) insertViolation(ctx context.Context, sessionID string, v domain.Violation) error {
	evidence := ""
	if len(v.Evidence) > 0 {
		raw, err := json.Marshal(v.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
		evidence = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (session_id, type, severity, description, occurred_at, evidence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(v.Type), string(v.Severity), v.Description, v.Timestamp.UnixMilli(), evidence,
	)
	return err
}

func (s *EncryptedStore) saveReport(ctx context.Context, report *domain.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO reports (session_id, body, ended_at) VALUES (?, ?, ?)`,
		report.SessionID, string(body), report.EndTime.UnixMilli())
	return err
}

// GetReport returns the stored report, or nil if the session is unknown.
func (s *EncryptedStore) GetReport(ctx context.Context, sessionID string) (*domain.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE session_id = ?`, sessionID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

// Violations returns the violations recorded for a session in arrival order.
func (s *EncryptedStore) Violations(ctx context.Context, sessionID string) ([]domain.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, severity, description, occurred_at, evidence
		FROM violations WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Violation
	for rows.Next() {
		var (
			typ, severity, description, evidence string
			occurredAt                           int64
		)
		if err := rows.Scan(&typ, &severity, &description, &occurredAt, &evidence); err != nil {
			return nil, err
		}
		v := domain.Violation{
			Type:        domain.ViolationType(typ),
			Severity:    domain.Severity(severity),
			Description: description,
			Timestamp:   time.UnixMilli(occurredAt).UTC(),
		}
		if evidence != "" {
			if err := json.Unmarshal([]byte(evidence), &v.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode evidence: %w", err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SessionStatus returns the last persisted status and score of a session.
func (s *EncryptedStore) SessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, int, error) {
	var status string
	var score int
	err := s.db.QueryRowContext(ctx, `SELECT status, risk_score FROM sessions WHERE id = ?`, sessionID).Scan(&status, &score)
	if err == sql.ErrNoRows {
		return "", 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return domain.SessionStatus(status), score, nil
}

// PurgeBefore deletes sessions whose report ended before cutoff.
// Returns the number of reports removed.
func (s *EncryptedStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	limit := cutoff.UnixMilli()
	stmts := []string{
		`DELETE FROM violations WHERE session_id IN (SELECT session_id FROM reports WHERE ended_at < ?)`,
		`DELETE FROM sessions WHERE id IN (SELECT session_id FROM reports WHERE ended_at < ?)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, limit); err != nil {
			return 0, err
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE ended_at < ?`, limit)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), tx.Commit()
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedStore implements both interfaces.
var _ domain.EventSink = (*EncryptedStore)(nil)
var _ domain.ReportStore = (*EncryptedStore)(nil)
