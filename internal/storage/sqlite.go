package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/islentev/report-generator/internal/rewrite"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups of a missing run.
var ErrNotFound = errors.New("not found")

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rewrite_cache (
			key TEXT PRIMARY KEY,
			result JSON,
			created_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT,
			status TEXT,
			error_kind TEXT,
			error TEXT,
			started_at INTEGER,
			finished_at INTEGER,
			chunks INTEGER,
			repaired INTEGER,
			signals JSON,
			report JSON
		);`,
		`CREATE TABLE IF NOT EXISTS run_chunks (
			run_id TEXT,
			ordinal INTEGER,
			status TEXT,
			source TEXT,
			text TEXT,
			details JSON,
			PRIMARY KEY (run_id, ordinal)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_created ON rewrite_cache(created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- RewriteCache Implementation ---

func (s *SQLiteStore) Get(ctx context.Context, key string) (rewrite.Result, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT result FROM rewrite_cache WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return rewrite.Result{}, false, nil
	}
	if err != nil {
		return rewrite.Result{}, false, fmt.Errorf("failed to query cache: %w", err)
	}

	var r rewrite.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		// A row we cannot decode is a miss; the next Put overwrites it.
		return rewrite.Result{}, false, nil
	}
	return r, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, r rewrite.Result) error {
	r.Cached = false
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rewrite_cache (key, result, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET result=excluded.result, created_at=excluded.created_at
	`, key, raw, time.Now().UnixNano())
	return err
}

func (s *SQLiteStore) PurgeCache(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rewrite_cache WHERE created_at < ?", olderThan.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- RunStore Implementation ---

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord, chunks []rewrite.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	signals, _ := json.Marshal(run.Signals)
	report := run.Report
	if len(report) == 0 {
		report = nil
	}

	// 1. Save Run
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, status, error_kind, error, started_at, finished_at, chunks, repaired, signals, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			status=excluded.status,
			error_kind=excluded.error_kind,
			error=excluded.error,
			started_at=excluded.started_at,
			finished_at=excluded.finished_at,
			chunks=excluded.chunks,
			repaired=excluded.repaired,
			signals=excluded.signals,
			report=excluded.report
	`, run.ID, run.Source, run.Status, run.ErrorKind, run.Error,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), run.Chunks, run.Repaired, signals, report)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	// 2. Replace Chunks
	if _, err := tx.ExecContext(ctx, "DELETE FROM run_chunks WHERE run_id = ?", run.ID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_chunks (run_id, ordinal, status, source, text, details) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		details, _ := json.Marshal(chunkDetails{
			Discrepancies: c.Discrepancies,
			Ambiguous:     c.Ambiguous,
			Issues:        c.Issues,
			Cached:        c.Cached,
		})
		if _, err := stmt.ExecContext(ctx, run.ID, c.Ordinal, string(c.Status), c.Source, c.Text, details); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type chunkDetails struct {
	Discrepancies []string `json:"discrepancies,omitempty"`
	Ambiguous     bool     `json:"ambiguous,omitempty"`
	Issues        []string `json:"issues,omitempty"`
	Cached        bool     `json:"cached,omitempty"`
}

const runColumns = "id, source, status, error_kind, error, started_at, finished_at, chunks, repaired, signals, report"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		r                 RunRecord
		errKind, errMsg   sql.NullString
		started, finished int64
		signals, report   []byte
	)
	if err := row.Scan(&r.ID, &r.Source, &r.Status, &errKind, &errMsg, &started, &finished, &r.Chunks, &r.Repaired, &signals, &report); err != nil {
		return RunRecord{}, err
	}
	r.ErrorKind = errKind.String
	r.Error = errMsg.String
	r.StartedAt = time.Unix(0, started).UTC()
	r.FinishedAt = time.Unix(0, finished).UTC()
	if len(signals) > 0 {
		_ = json.Unmarshal(signals, &r.Signals)
	}
	if len(report) > 0 {
		r.Report = report
	}
	return r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) RunChunks(ctx context.Context, id string) ([]rewrite.Result, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT ordinal, status, source, text, details FROM run_chunks WHERE run_id = ? ORDER BY ordinal", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rewrite.Result
	for rows.Next() {
		var (
			r       rewrite.Result
			status  string
			details []byte
		)
		if err := rows.Scan(&r.Ordinal, &status, &r.Source, &r.Text, &details); err != nil {
			return nil, err
		}
		r.Status = rewrite.Status(status)
		var d chunkDetails
		if len(details) > 0 && json.Unmarshal(details, &d) == nil {
			r.Discrepancies = d.Discrepancies
			r.Ambiguous = d.Ambiguous
			r.Issues = d.Issues
			r.Cached = d.Cached
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
