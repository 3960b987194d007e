// Package stores persists fleet-run reports. The SQLite store backs the
// `converge runs` commands with a local run history.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/convergeops/converge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists fleet reports in a local SQLite database. It
// implements engine.ReportSink.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a store for the database at path. Call Init before
// use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database, enables WAL mode, and runs pending migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveFleetReport persists a completed fleet report with its host and
// operation reports, in one transaction.
func (s *SQLiteStore) SaveFleetReport(ctx context.Context, report *engine.FleetReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fleet_runs (id, playbook, environment, status, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.Playbook,
		report.Environment,
		string(report.Status),
		report.StartedAt,
		report.CompletedAt,
		report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fleet run: %w", err)
	}

	for _, host := range report.Hosts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO host_reports (id, fleet_run_id, host_id, status, error, started_at, completed_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			host.ID,
			report.ID,
			host.HostID,
			string(host.Status),
			host.Error,
			host.StartedAt,
			host.CompletedAt,
			host.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert host report for %s: %w", host.HostID, err)
		}

		for i, op := range host.Operations {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO operation_reports (host_report_id, position, name, disposition, error, started_at, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				host.ID,
				i,
				op.Name,
				string(op.Disposition),
				op.Error,
				op.StartedAt,
				op.Duration.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert operation report %q: %w", op.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fleet report: %w", err)
	}
	return nil
}

// ListRuns returns fleet-run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.playbook, r.environment, r.status, r.started_at, r.duration_ms,
		       (SELECT COUNT(*) FROM host_reports h WHERE h.fleet_run_id = r.id)
		FROM fleet_runs r
		ORDER BY r.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	summaries := []*RunSummary{}
	for rows.Next() {
		summary := &RunSummary{}
		var durationMs int64
		err := rows.Scan(
			&summary.ID,
			&summary.Playbook,
			&summary.Environment,
			&summary.Status,
			&summary.StartedAt,
			&durationMs,
			&summary.HostCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		summary.Duration = time.Duration(durationMs) * time.Millisecond
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return summaries, nil
}

// GetFleetReport reconstructs a stored fleet report by ID.
func (s *SQLiteStore) GetFleetReport(ctx context.Context, id string) (*engine.FleetReport, error) {
	report := &engine.FleetReport{Hosts: make(map[string]*engine.RunReport)}
	var status string
	var durationMs int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, playbook, environment, status, started_at, completed_at, duration_ms
		FROM fleet_runs
		WHERE id = ?
	`, id).Scan(
		&report.ID,
		&report.Playbook,
		&report.Environment,
		&status,
		&report.StartedAt,
		&report.CompletedAt,
		&durationMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	report.Status = engine.FleetStatus(status)
	report.Duration = time.Duration(durationMs) * time.Millisecond

	hostRows, err := s.db.QueryContext(ctx, `
		SELECT id, host_id, status, error, started_at, completed_at, duration_ms
		FROM host_reports
		WHERE fleet_run_id = ?
		ORDER BY host_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get host reports: %w", err)
	}
	defer hostRows.Close()

	for hostRows.Next() {
		host := &engine.RunReport{Playbook: report.Playbook}
		var hostStatus string
		var hostDurationMs int64
		err := hostRows.Scan(
			&host.ID,
			&host.HostID,
			&hostStatus,
			&host.Error,
			&host.StartedAt,
			&host.CompletedAt,
			&hostDurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host report: %w", err)
		}
		host.Status = engine.HostStatus(hostStatus)
		host.Duration = time.Duration(hostDurationMs) * time.Millisecond
		report.Hosts[host.HostID] = host
	}
	if err := hostRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating host reports: %w", err)
	}

	for _, host := range report.Hosts {
		ops, err := s.operationReports(ctx, host.ID)
		if err != nil {
			return nil, err
		}
		host.Operations = ops
	}

	return report, nil
}

func (s *SQLiteStore) operationReports(ctx context.Context, hostReportID string) ([]engine.OperationReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, disposition, error, started_at, duration_ms
		FROM operation_reports
		WHERE host_report_id = ?
		ORDER BY position
	`, hostReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation reports: %w", err)
	}
	defer rows.Close()

	ops := []engine.OperationReport{}
	for rows.Next() {
		var op engine.OperationReport
		var disposition string
		var durationMs int64
		err := rows.Scan(&op.Name, &disposition, &op.Error, &op.StartedAt, &durationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation report: %w", err)
		}
		op.Disposition = engine.Disposition(disposition)
		op.Duration = time.Duration(durationMs) * time.Millisecond
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation reports: %w", err)
	}
	return ops, nil
}
