package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/quality"
)

// ErrNotFound reports a run id absent from the store.
var ErrNotFound = errors.New("store: run not found")

// Run records one pipeline execution.
type Run struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ScheduleVersion string    `json:"schedule_version"`
	ConfigDigest    string    `json:"config_digest"`
	EventCount      int       `json:"event_count"`
	MatchedCount    int       `json:"matched_count"`
	UnmatchedCount  int       `json:"unmatched_count"`
}

// AggregateFilter narrows aggregate queries. Empty fields match all.
type AggregateFilter struct {
	RouteID string
	Metric  string
	DayType string
}

// Store persists pipeline results. Implementations write each run in a
// single transaction so a crashed run never leaves partial rows.
type Store interface {
	SaveRun(ctx context.Context, run *Run, visits []measures.StopVisit,
		aggregates []aggregator.Row, report quality.Report) error
	ListRuns(ctx context.Context) ([]Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	Aggregates(ctx context.Context, runID string, f AggregateFilter) ([]aggregator.Row, error)
	QualityReport(ctx context.Context, runID string) (quality.Report, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects the configured backend. backend is "sqlite" (dsn is a
// file path) or "postgres" (dsn is a connection string).
func Open(backend, dsn string) (Store, error) {
	switch backend {
	case "", "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
