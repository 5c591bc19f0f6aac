package integration

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/avl"
	"github.com/transit-data-tools/transitperf/config"
	"github.com/transit-data-tools/transitperf/export"
	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/pipeline"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/schedule"
	"github.com/transit-data-tools/transitperf/server"
	"github.com/transit-data-tools/transitperf/store"
	"github.com/transit-data-tools/transitperf/tests/helpers"
)

// Two vehicles running both scheduled trips one minute late, plus one
// event on a route the schedule does not cover.
const eventsCSV = `vehicle_id,route_id,direction_id,trip_id,stop_id,arrival_time,departure_time,boardings,alightings
V1,R1,0,T1,S1,2025-06-03 08:01:00,2025-06-03 08:01:30,5,0
V1,R1,0,T1,S2,2025-06-03 08:06:00,2025-06-03 08:06:30,2,1
V1,R1,0,T1,S3,2025-06-03 08:11:00,2025-06-03 08:11:00,0,6
V2,R1,0,T2,S1,2025-06-03 08:21:00,2025-06-03 08:21:30,3,0
V2,R1,0,T2,S2,2025-06-03 08:26:00,2025-06-03 08:26:30,1,1
V2,R1,0,T2,S3,2025-06-03 08:31:00,2025-06-03 08:31:00,0,3
V9,R9,0,,S1,2025-06-03 08:05:00,,0,0
`

func loadFixture(t *testing.T) (*schedule.Index, []avl.ObservedEvent, *quality.Collector) {
	t.Helper()
	warn := quality.NewCollector()

	idx, err := schedule.LoadZip(helpers.WriteGTFSZip(t), []schedule.ServiceDate{helpers.Date},
		schedule.LoaderOptions{}, warn)
	if err != nil {
		t.Fatalf("LoadZip: %v", err)
	}

	raws, err := avl.Read(strings.NewReader(eventsCSV), "events.csv", warn)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	norm := avl.NewNormalizer(time.UTC, avl.NormalizerOptions{}, warn)
	res := norm.Normalize(raws)
	if len(res.Events) != 7 {
		t.Fatalf("expected 7 normalized events, got %d", len(res.Events))
	}
	return idx, res.Events, warn
}

func runOnce(t *testing.T) (*pipeline.Result, config.AppConfig) {
	t.Helper()
	idx, events, warn := loadFixture(t)
	cfg := helpers.TestConfig()

	p, err := pipeline.New(cfg, idx, nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	res, err := p.Run(context.Background(), events, warn)
	if err != nil {
		t.Fatalf("pipeline.Run: %v", err)
	}
	return res, cfg
}

func TestPipeline_EndToEnd(t *testing.T) {
	res, _ := runOnce(t)

	if res.EventCount != 7 {
		t.Errorf("event count = %d, want 7", res.EventCount)
	}
	if res.MatchedCount != 6 || res.UnmatchedCount != 0 {
		t.Fatalf("matched/unmatched = %d/%d, want 6/0", res.MatchedCount, res.UnmatchedCount)
	}
	if len(res.Visits) != 6 {
		t.Fatalf("visits = %d, want 6", len(res.Visits))
	}

	// Every vehicle ran exactly one minute late.
	for _, v := range res.Visits {
		if v.ArrivalDeviation != time.Minute {
			t.Errorf("%s/%s deviation = %s, want 1m", v.TripID, v.StopID, v.ArrivalDeviation)
		}
		if !v.OnTime {
			t.Errorf("%s/%s not on time", v.TripID, v.StopID)
		}
	}

	// The second vehicle sees the 20-minute headway at every stop.
	headways := 0
	for _, v := range res.Visits {
		if v.HasHeadway {
			headways++
			if v.Headway != 20*time.Minute {
				t.Errorf("headway = %s, want 20m", v.Headway)
			}
		}
	}
	if headways != 3 {
		t.Errorf("visits with headway = %d, want 3", headways)
	}

	// The off-schedule route is reported, not silently dropped.
	found := false
	for _, e := range res.Report.Entries {
		if e.Reason == quality.ReasonUnknownRoute && e.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Error("unknown route missing from quality report")
	}

	// Route-level adherence summary covers all six visits.
	for _, r := range res.Aggregates {
		if r.Metric == measures.MetricArrivalDeviation && r.RouteID == "R1" && r.TimeBucket == "AM" {
			if r.Count != 6 || r.Mean != 60 {
				t.Errorf("adherence row = %+v, want count 6 mean 60", r)
			}
			return
		}
	}
	t.Error("no AM adherence aggregate for R1")
}

func TestPipeline_FlagsTripCoverageGap(t *testing.T) {
	idx, events, warn := loadFixture(t)

	// Drop the second vehicle: T2 stays scheduled but unobserved.
	var kept []avl.ObservedEvent
	for _, ev := range events {
		if ev.VehicleID == "V1" {
			kept = append(kept, ev)
		}
	}

	p, err := pipeline.New(helpers.TestConfig(), idx, nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	res, err := p.Run(context.Background(), kept, warn)
	if err != nil {
		t.Fatalf("pipeline.Run: %v", err)
	}

	found := false
	for _, e := range res.Report.Entries {
		if e.Reason == quality.ReasonTripCoverageGap {
			found = true
			if e.Count != 1 {
				t.Errorf("coverage gap count = %d, want 1", e.Count)
			}
		}
	}
	if !found {
		t.Error("unobserved scheduled trip missing from quality report")
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	a, _ := runOnce(t)
	b, _ := runOnce(t)

	if !reflect.DeepEqual(a.Visits, b.Visits) {
		t.Error("visits differ between identical runs")
	}
	if !reflect.DeepEqual(a.Aggregates, b.Aggregates) {
		t.Error("aggregates differ between identical runs")
	}
	// Reports match except the generation timestamp.
	if !reflect.DeepEqual(a.Report.Entries, b.Report.Entries) {
		t.Error("quality entries differ between identical runs")
	}
}

func TestPipeline_CSVExport(t *testing.T) {
	res, _ := runOnce(t)
	dir := t.TempDir()

	visitsPath := filepath.Join(dir, "visits.csv")
	if err := export.WriteVisitsCSV(visitsPath, res.Visits); err != nil {
		t.Fatalf("WriteVisitsCSV: %v", err)
	}
	if err := export.WriteAggregatesCSV(filepath.Join(dir, "aggregates.csv"), res.Aggregates); err != nil {
		t.Fatalf("WriteAggregatesCSV: %v", err)
	}
	if err := export.WriteQualityCSV(filepath.Join(dir, "quality.csv"), res.Report); err != nil {
		t.Fatalf("WriteQualityCSV: %v", err)
	}

	data, err := os.ReadFile(visitsPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 7 { // header + 6 visits
		t.Fatalf("visits.csv has %d lines, want 7", len(lines))
	}
	cols := map[string]int{}
	for i, col := range strings.Split(lines[0], ",") {
		cols[col] = i
	}

	// Undefined running time at a trip's first stop exports empty, not 0.
	first := strings.Split(lines[1], ",")
	if got := first[cols["running_sec"]]; got != "" {
		t.Errorf("first-stop running_sec = %q, want empty", got)
	}

	// A mid-trip visit carries speed in both unit systems.
	second := strings.Split(lines[2], ",")
	kmh, err := strconv.ParseFloat(second[cols["speed_kmh"]], 64)
	if err != nil {
		t.Fatalf("speed_kmh = %q: %v", second[cols["speed_kmh"]], err)
	}
	mph, err := strconv.ParseFloat(second[cols["speed_mph"]], 64)
	if err != nil {
		t.Fatalf("speed_mph = %q: %v", second[cols["speed_mph"]], err)
	}
	if math.Abs(mph-kmh*0.621371) > 0.01 {
		t.Errorf("speed_mph = %g, want %g", mph, kmh*0.621371)
	}
}

func savedRun(t *testing.T, st store.Store, res *pipeline.Result, cfg config.AppConfig) store.Run {
	t.Helper()
	run := store.Run{
		ID:              "run-1",
		StartedAt:       time.Now().UTC().Add(-time.Minute).Truncate(time.Second),
		FinishedAt:      time.Now().UTC().Truncate(time.Second),
		ScheduleVersion: res.ScheduleVersion,
		ConfigDigest:    cfg.Digest(),
		EventCount:      res.EventCount,
		MatchedCount:    res.MatchedCount,
		UnmatchedCount:  res.UnmatchedCount,
	}
	if err := st.SaveRun(context.Background(), &run, res.Visits, res.Aggregates, res.Report); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	return run
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	res, cfg := runOnce(t)
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "perf.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	run := savedRun(t, st, res, cfg)
	ctx := context.Background()

	runs, err := st.ListRuns(ctx)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns: %v (%d runs)", err, len(runs))
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ScheduleVersion != run.ScheduleVersion || got.MatchedCount != 6 {
		t.Errorf("stored run mangled: %+v", got)
	}
	if _, err := st.GetRun(ctx, "no-such-run"); err != store.ErrNotFound {
		t.Errorf("missing run: got %v, want ErrNotFound", err)
	}

	rows, err := st.Aggregates(ctx, run.ID, store.AggregateFilter{
		RouteID: "R1", Metric: measures.MetricArrivalDeviation,
	})
	if err != nil {
		t.Fatalf("Aggregates: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("filtered aggregates empty")
	}
	for _, r := range rows {
		if r.RouteID != "R1" || r.Metric != measures.MetricArrivalDeviation {
			t.Errorf("filter leaked row %+v", r)
		}
	}

	rep, err := st.QualityReport(ctx, run.ID)
	if err != nil {
		t.Fatalf("QualityReport: %v", err)
	}
	if len(rep.Entries) == 0 {
		t.Error("stored quality report empty")
	}
}

func TestServer_Endpoints(t *testing.T) {
	res, cfg := runOnce(t)
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "perf.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	run := savedRun(t, st, res, cfg)

	srv := httptest.NewServer(server.New(st, cfg.Server))
	defer srv.Close()

	// Health.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}
	var health struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if health.Status != "ok" {
		t.Errorf("health status = %q", health.Status)
	}
	if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
		t.Errorf("health timestamp %q not RFC3339: %v", health.Timestamp, err)
	}

	// List runs.
	resp, err = http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Runs  []store.Run `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	resp.Body.Close()
	if list.Count != 1 || len(list.Runs) != 1 || list.Runs[0].ID != run.ID {
		t.Errorf("runs listing wrong: %+v", list)
	}

	// Filtered aggregates.
	resp, err = http.Get(srv.URL + "/api/runs/" + run.ID + "/aggregates?metric=" + measures.MetricArrivalDeviation)
	if err != nil {
		t.Fatal(err)
	}
	var aggs struct {
		Aggregates []aggregator.Row `json:"aggregates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&aggs); err != nil {
		t.Fatalf("decode aggregates: %v", err)
	}
	resp.Body.Close()
	if len(aggs.Aggregates) == 0 {
		t.Error("no aggregates returned")
	}
	for _, r := range aggs.Aggregates {
		if r.Metric != measures.MetricArrivalDeviation {
			t.Errorf("metric filter leaked %+v", r)
		}
	}

	// Missing run is a 404.
	resp, err = http.Get(srv.URL + "/api/runs/absent")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run = %d, want 404", resp.StatusCode)
	}
}
