// Package history keeps finished runs and their alerts in SQLite so runs
// against the same target can be compared.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/report"
	"github.com/raysh454/zapctl/internal/zap"
)

//go:embed schema.sql
var schemaFS embed.FS

var ErrRunNotFound = errors.New("run not found")

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Run is one persisted execution. Alerts is empty in listings; AlertCounts
// is filled instead.
type Run struct {
	ID          string         `json:"id"`
	Target      string         `json:"target"`
	Status      Status         `json:"status"`
	Error       string         `json:"error,omitempty"`
	SpiderID    string         `json:"spider_id,omitempty"`
	AscanID     string         `json:"ascan_id,omitempty"`
	Hosts       []string       `json:"hosts"`
	Alerts      []zap.Alert    `json:"alerts,omitempty"`
	AlertCounts map[string]int `json:"alert_counts,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at,omitempty"`
}

type Store struct {
	db     *sql.DB
	ownsDB bool
	logger logging.Logger
}

// Open opens (creating if needed) the database file at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStore runs the schema against an already open database.
func NewStore(db *sql.DB, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: nil db")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With(logging.Field{Key: "component", Value: "history"}),
	}, nil
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// SaveRun inserts or replaces a run and its alerts. An empty ID is filled
// with a new UUID.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("SaveRun: nil run")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	hosts := run.Hosts
	if hosts == nil {
		hosts = []string{}
	}
	hostsJSON, err := json.Marshal(hosts)
	if err != nil {
		return fmt.Errorf("encode hosts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, target, status, error, spider_id, ascan_id, hosts, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target = excluded.target,
			status = excluded.status,
			error = excluded.error,
			spider_id = excluded.spider_id,
			ascan_id = excluded.ascan_id,
			hosts = excluded.hosts,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`,
		run.ID, run.Target, string(run.Status), run.Error, run.SpiderID, run.AscanID,
		string(hostsJSON), formatTime(run.StartedAt), formatTime(run.EndedAt))
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear alerts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (run_id, position, name, risk, confidence, url, param, plugin_id, cwe_id, evidence, description, solution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare alert insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range run.Alerts {
		if _, err := stmt.ExecContext(ctx, run.ID, i, a.Title(), a.Risk, a.Confidence, a.URL, a.Param,
			a.PluginID, a.CWEID, a.Evidence, a.Description, a.Solution); err != nil {
			return fmt.Errorf("insert alert %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	s.logger.Info("saved run",
		logging.Field{Key: "run_id", Value: run.ID},
		logging.Field{Key: "status", Value: string(run.Status)},
		logging.Field{Key: "alerts", Value: len(run.Alerts)})
	return nil
}

// GetRun loads a run with all of its alerts.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, status, error, spider_id, ascan_id, hosts, started_at, ended_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, risk, confidence, url, param, plugin_id, cwe_id, evidence, description, solution
		FROM alerts WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a zap.Alert
		if err := rows.Scan(&a.Alert, &a.Risk, &a.Confidence, &a.URL, &a.Param, &a.PluginID,
			&a.CWEID, &a.Evidence, &a.Description, &a.Solution); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Name = a.Alert
		run.Alerts = append(run.Alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	run.AlertCounts = report.CountByRisk(run.Alerts)
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, target, status, error, spider_id, ascan_id, hosts, started_at, ended_at
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		counts, err := s.riskCounts(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].AlertCounts = counts
	}
	return runs, nil
}

// LatestRun returns the newest run for target other than excludeID, or
// ErrRunNotFound.
func (s *Store) LatestRun(ctx context.Context, target, excludeID string) (*Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs WHERE target = ? AND id != ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, target, excludeID, string(StatusDone)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no previous run for %s", ErrRunNotFound, target)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return s.GetRun(ctx, id)
}

func (s *Store) riskCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT risk, COUNT(*) FROM alerts WHERE run_id = ? GROUP BY risk`, runID)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var risk string
		var n int
		if err := rows.Scan(&risk, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[risk] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                Run
		status, hosts      string
		startedAt, endedAt string
	)
	if err := row.Scan(&run.ID, &run.Target, &status, &run.Error, &run.SpiderID, &run.AscanID,
		&hosts, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = Status(status)
	if err := json.Unmarshal([]byte(hosts), &run.Hosts); err != nil {
		return nil, fmt.Errorf("decode hosts of run %s: %w", run.ID, err)
	}
	run.StartedAt = parseTime(startedAt)
	run.EndedAt = parseTime(endedAt)
	return &run, nil
}

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
