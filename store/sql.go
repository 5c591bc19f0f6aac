package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/quality"
)

// schemaSQL is the single source of truth for the results schema,
// embedded at compile time and applied on open.
//
//go:embed schema.sql
var schemaSQL string

// sqlStore implements Store over database/sql for both backends. Queries
// are written with ? placeholders; the postgres backend rebinds them to
// $N on the way out.
type sqlStore struct {
	db       *sql.DB
	postgres bool

	// writeMu serializes writes. SQLite supports one writer at a time;
	// for postgres the mutex is uncontended overhead only.
	writeMu sync.Mutex
}

func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveRun(ctx context.Context, run *Run, visits []measures.StopVisit,
	aggregates []aggregator.Row, report quality.Report) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, started_at, finished_at, schedule_version,
			config_digest, event_count, matched_count, unmatched_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.ScheduleVersion, run.ConfigDigest,
		run.EventCount, run.MatchedCount, run.UnmatchedCount)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	if err := s.insertVisits(ctx, tx, run.ID, visits); err != nil {
		return err
	}
	if err := s.insertAggregates(ctx, tx, run.ID, aggregates); err != nil {
		return err
	}
	for _, e := range report.Entries {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO quality_entries (run_id, reason, count, examples)
			VALUES (?, ?, ?, ?)`),
			run.ID, e.Reason, e.Count, strings.Join(e.Examples, ","))
		if err != nil {
			return fmt.Errorf("store: insert quality entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *sqlStore) insertVisits(ctx context.Context, tx *sql.Tx, runID string, visits []measures.StopVisit) error {
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO stop_visits (run_id, service_date, route_id, direction,
			trip_id, stop_id, stop_sequence, vehicle_id, sched_arrival,
			obs_arrival, arrival_dev_sec, departure_dev_sec, running_sec,
			dwell_sec, headway_sec, speed_kmh, passenger_load, on_time,
			confidence, method, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("store: prepare visits: %w", err)
	}
	defer stmt.Close()

	for i := range visits {
		v := &visits[i]
		var running, headway, speed sql.NullFloat64
		if v.HasRunning {
			running = sql.NullFloat64{Float64: v.Running.Seconds(), Valid: true}
		}
		if v.HasHeadway {
			headway = sql.NullFloat64{Float64: v.Headway.Seconds(), Valid: true}
		}
		if v.HasSpeed {
			speed = sql.NullFloat64{Float64: v.SpeedKMH, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			runID, string(v.ServiceDate), v.RouteID, v.Direction,
			v.TripID, v.StopID, v.StopSequence, v.VehicleID,
			v.ScheduledArrival.Format(time.RFC3339),
			v.ObservedArrival.Format(time.RFC3339),
			v.ArrivalDeviation.Seconds(), v.DepartureDeviation.Seconds(),
			running, v.Dwell.Seconds(), headway, speed,
			v.Load, boolInt(v.OnTime), v.Confidence, v.Method,
			strings.Join(v.Flags, ","))
		if err != nil {
			return fmt.Errorf("store: insert visit: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) insertAggregates(ctx context.Context, tx *sql.Tx, runID string, rows []aggregator.Row) error {
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO aggregates (run_id, route_id, direction, stop_id,
			day_type, time_bucket, metric, mean, median, p_low, p_high,
			stddev, sample_count, low_sample)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("store: prepare aggregates: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			runID, r.RouteID, r.Direction, r.StopID, r.DayType,
			r.TimeBucket, r.Metric, r.Mean, r.Median, r.PercentileLow,
			r.PercentileHigh, r.StdDev, r.Count, boolInt(r.LowSample))
		if err != nil {
			return fmt.Errorf("store: insert aggregate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, schedule_version,
			config_digest, event_count, matched_count, unmatched_count
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, started_at, finished_at, schedule_version,
			config_digest, event_count, matched_count, unmatched_count
		FROM runs WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var r Run
	var started, finished string
	if err := rows.Scan(&r.ID, &started, &finished, &r.ScheduleVersion,
		&r.ConfigDigest, &r.EventCount, &r.MatchedCount, &r.UnmatchedCount); err != nil {
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	r.StartedAt, _ = time.Parse(time.RFC3339, started)
	r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	return &r, nil
}

func (s *sqlStore) Aggregates(ctx context.Context, runID string, f AggregateFilter) ([]aggregator.Row, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT route_id, direction, stop_id, day_type, time_bucket,
			metric, mean, median, p_low, p_high, stddev, sample_count,
			low_sample
		FROM aggregates WHERE run_id = ?`
	args := []any{runID}
	if f.RouteID != "" {
		query += " AND route_id = ?"
		args = append(args, f.RouteID)
	}
	if f.Metric != "" {
		query += " AND metric = ?"
		args = append(args, f.Metric)
	}
	if f.DayType != "" {
		query += " AND day_type = ?"
		args = append(args, f.DayType)
	}
	query += " ORDER BY route_id, direction, stop_id, day_type, time_bucket, metric"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query aggregates: %w", err)
	}
	defer rows.Close()

	var out []aggregator.Row
	for rows.Next() {
		var r aggregator.Row
		var lowSample int
		if err := rows.Scan(&r.RouteID, &r.Direction, &r.StopID, &r.DayType,
			&r.TimeBucket, &r.Metric, &r.Mean, &r.Median, &r.PercentileLow,
			&r.PercentileHigh, &r.StdDev, &r.Count, &lowSample); err != nil {
			return nil, fmt.Errorf("store: scan aggregate: %w", err)
		}
		r.LowSample = lowSample != 0
		r.ScheduleVersion = run.ScheduleVersion
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) QualityReport(ctx context.Context, runID string) (quality.Report, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return quality.Report{}, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT reason, count, examples FROM quality_entries
		WHERE run_id = ? ORDER BY reason`), runID)
	if err != nil {
		return quality.Report{}, fmt.Errorf("store: query quality entries: %w", err)
	}
	defer rows.Close()

	rep := quality.Report{GeneratedAt: run.FinishedAt}
	for rows.Next() {
		var e quality.Entry
		var examples string
		if err := rows.Scan(&e.Reason, &e.Count, &examples); err != nil {
			return quality.Report{}, fmt.Errorf("store: scan quality entry: %w", err)
		}
		if examples != "" {
			e.Examples = strings.Split(examples, ",")
		}
		rep.Entries = append(rep.Entries, e)
	}
	return rep, rows.Err()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
