package storage

import (
	"context"
	"time"

	"github.com/islentev/report-generator/internal/rewrite"
)

// Store combines the rewrite cache and run history.
type Store interface {
	RewriteCache
	RunStore
	Close() error
}

// RewriteCache persists finished chunk rewrites by content key.
type RewriteCache interface {
	rewrite.Cache

	// PurgeCache drops entries older than the cutoff and returns how many went.
	PurgeCache(ctx context.Context, olderThan time.Time) (int64, error)
}

// RunStore records one row per pipeline run plus its chunk results.
type RunStore interface {
	// SaveRun upserts the run and replaces its chunk rows.
	SaveRun(ctx context.Context, run RunRecord, chunks []rewrite.Result) error

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// RunChunks returns a run's chunk results in ordinal order.
	RunChunks(ctx context.Context, id string) ([]rewrite.Result, error)
}

type RunRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Chunks     int       `json:"chunks"`
	Repaired   int       `json:"repaired"`
	Signals    []string  `json:"signals,omitempty"`
	// Report is the JSON run report as written to disk.
	Report []byte `json:"-"`
}
