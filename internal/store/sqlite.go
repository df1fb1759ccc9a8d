package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
	"github.com/ashureev/rca-console/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alertname TEXT NOT NULL,
		service TEXT,
		severity TEXT,
		status TEXT NOT NULL,
		labels_json TEXT NOT NULL,
		annotations_json TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_received ON alerts(received_at);

	CREATE TABLE IF NOT EXISTS investigations (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		alertname TEXT NOT NULL,
		service TEXT,
		remote_id TEXT,
		state TEXT NOT NULL,
		clean INTEGER NOT NULL DEFAULT 0,
		messages INTEGER NOT NULL DEFAULT 0,
		tool_calls INTEGER NOT NULL DEFAULT 0,
		report TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_investigations_started ON investigations(started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ArchiveAlerts records a batch of received alerts.
func (s *SQLiteStore) ArchiveAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (alertname, service, severity, status, labels_json, annotations_json, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare alert insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		labels, err := json.Marshal(a.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels: %w", err)
		}
		annotations, err := json.Marshal(a.Annotations)
		if err != nil {
			return fmt.Errorf("marshal annotations: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.Name(), a.Service(), a.Severity(), a.Status,
			string(labels), string(annotations), a.ReceivedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert archive: %w", err)
	}
	return nil
}

// ArchiveInvestigation records the outcome of a finished session.
func (s *SQLiteStore) ArchiveInvestigation(ctx context.Context, rec *domain.InvestigationRecord) error {
	insert := func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO investigations
				(id, identity, alertname, service, remote_id, state, clean, messages, tool_calls, report, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Identity, rec.Alertname, rec.Service, rec.RemoteID,
			rec.State, boolToInt(rec.Clean), rec.Messages, rec.ToolCalls, rec.Report,
			rec.StartedAt.Unix(), rec.EndedAt.Unix(),
		)
		return err
	}

	err := insert()
	if shared.IsSQLiteConflictError(err) {
		// Webhook archiving and session finalization can collide under WAL.
		time.Sleep(100 * time.Millisecond)
		err = insert()
	}
	if err != nil {
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

// ListInvestigations returns archived investigations, newest first.
func (s *SQLiteStore) ListInvestigations(ctx context.Context, limit int) ([]*domain.InvestigationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, alertname, service, remote_id, state, clean, messages, tool_calls, report, started_at, ended_at
		FROM investigations
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query investigations: %w", err)
	}
	defer rows.Close()

	var records []*domain.InvestigationRecord
	for rows.Next() {
		var rec domain.InvestigationRecord
		var service, remoteID, report sql.NullString
		var clean int
		var startedAt, endedAt int64

		if err := rows.Scan(
			&rec.ID, &rec.Identity, &rec.Alertname, &service, &remoteID,
			&rec.State, &clean, &rec.Messages, &rec.ToolCalls, &report,
			&startedAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan investigation row: %w", err)
		}

		rec.Service = service.String
		rec.RemoteID = remoteID.String
		rec.Report = report.String
		rec.Clean = clean != 0
		rec.StartedAt = time.Unix(startedAt, 0)
		rec.EndedAt = time.Unix(endedAt, 0)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investigation rows: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
