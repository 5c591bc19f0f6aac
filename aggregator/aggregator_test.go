package aggregator_test

import (
	"math"
	"testing"
	"time"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/tests/helpers"
)

const version = "v-test"

func visit(t *testing.T, clock string, arrDev time.Duration) measures.StopVisit {
	t.Helper()
	return measures.StopVisit{
		ScheduleVersion:  version,
		ServiceDate:      helpers.Date,
		RouteID:          "R1",
		Direction:        "0",
		StopID:           "S1",
		ScheduledArrival: helpers.Clock(t, helpers.Date, clock),
		ArrivalDeviation: arrDev,
	}
}

func mustAgg(t *testing.T, opts aggregator.Options) *aggregator.Aggregator {
	t.Helper()
	a, err := aggregator.New(version, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func rowsFor(rows []aggregator.Row, metric string) []aggregator.Row {
	var out []aggregator.Row
	for _, r := range rows {
		if r.Metric == metric {
			out = append(out, r)
		}
	}
	return out
}

func TestWelford_MatchesDirectComputation(t *testing.T) {
	vals := []float64{4, 7, 13, 16, -2, 0, 9}

	var w aggregator.Welford
	for _, v := range vals {
		w.Update(v)
	}

	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	variance := 0.0
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))

	if w.Count != len(vals) {
		t.Fatalf("count = %d", w.Count)
	}
	if math.Abs(w.Mean-mean) > 1e-9 {
		t.Errorf("mean = %g, want %g", w.Mean, mean)
	}
	if math.Abs(w.StdDev()-math.Sqrt(variance)) > 1e-9 {
		t.Errorf("stddev = %g, want %g", w.StdDev(), math.Sqrt(variance))
	}
}

func TestWelford_MergeEqualsSequential(t *testing.T) {
	vals := []float64{120, -30, 45, 0, 310, -95, 60, 15}

	var whole aggregator.Welford
	for _, v := range vals {
		whole.Update(v)
	}
	var left, right aggregator.Welford
	for _, v := range vals[:3] {
		left.Update(v)
	}
	for _, v := range vals[3:] {
		right.Update(v)
	}
	left.Merge(right)

	if left.Count != whole.Count {
		t.Fatalf("count = %d, want %d", left.Count, whole.Count)
	}
	if math.Abs(left.Mean-whole.Mean) > 1e-9 {
		t.Errorf("mean = %g, want %g", left.Mean, whole.Mean)
	}
	if math.Abs(left.StdDev()-whole.StdDev()) > 1e-9 {
		t.Errorf("stddev = %g, want %g", left.StdDev(), whole.StdDev())
	}
}

func TestWelford_MergeIntoEmpty(t *testing.T) {
	var empty, filled aggregator.Welford
	filled.Update(3)
	filled.Update(5)

	empty.Merge(filled)
	if empty.Count != 2 || empty.Mean != 4 {
		t.Errorf("merge into empty lost state: %+v", empty)
	}

	before := filled
	filled.Merge(aggregator.Welford{})
	if filled != before {
		t.Errorf("merging an empty state changed %+v", filled)
	}
}

func TestAggregator_PartitionInvariance(t *testing.T) {
	visits := []measures.StopVisit{
		visit(t, "08:00:00", 60*time.Second),
		visit(t, "08:05:00", 120*time.Second),
		visit(t, "08:10:00", -30*time.Second),
		visit(t, "08:15:00", 240*time.Second),
		visit(t, "08:20:00", 0),
		visit(t, "08:25:00", 90*time.Second),
	}

	whole := mustAgg(t, aggregator.DefaultOptions())
	if err := whole.AddVisits(visits); err != nil {
		t.Fatal(err)
	}

	left := mustAgg(t, aggregator.DefaultOptions())
	right := mustAgg(t, aggregator.DefaultOptions())
	if err := left.AddVisits(visits[:2]); err != nil {
		t.Fatal(err)
	}
	if err := right.AddVisits(visits[2:]); err != nil {
		t.Fatal(err)
	}
	if err := left.Merge(right); err != nil {
		t.Fatal(err)
	}

	a, b := whole.Rows(nil), left.Rows(nil)
	if len(a) != len(b) {
		t.Fatalf("row counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Metric != b[i].Metric || a[i].Count != b[i].Count {
			t.Fatalf("row %d keys differ: %+v vs %+v", i, a[i], b[i])
		}
		// Order statistics are exact; moments agree to float tolerance.
		if a[i].Median != b[i].Median || a[i].PercentileLow != b[i].PercentileLow ||
			a[i].PercentileHigh != b[i].PercentileHigh {
			t.Errorf("row %d order stats differ: %+v vs %+v", i, a[i], b[i])
		}
		if math.Abs(a[i].Mean-b[i].Mean) > 1e-9 || math.Abs(a[i].StdDev-b[i].StdDev) > 1e-9 {
			t.Errorf("row %d moments differ: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestAggregator_MedianAndPercentiles(t *testing.T) {
	devs := []time.Duration{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	agg := mustAgg(t, aggregator.DefaultOptions())
	for _, d := range devs {
		v := visit(t, "08:00:00", d*time.Second)
		if err := agg.AddVisits([]measures.StopVisit{v}); err != nil {
			t.Fatal(err)
		}
	}

	rows := rowsFor(agg.Rows(nil), measures.MetricArrivalDeviation)
	if len(rows) != 1 {
		t.Fatalf("expected 1 adherence row, got %d", len(rows))
	}
	r := rows[0]
	if r.Count != 10 {
		t.Fatalf("count = %d", r.Count)
	}
	// Nearest-rank over 10..100: median 50, p10 10, p90 90.
	if r.Median != 50 || r.PercentileLow != 10 || r.PercentileHigh != 90 {
		t.Errorf("median/p10/p90 = %g/%g/%g, want 50/10/90", r.Median, r.PercentileLow, r.PercentileHigh)
	}
	if math.Abs(r.Mean-55) > 1e-9 {
		t.Errorf("mean = %g, want 55", r.Mean)
	}
}

func TestAggregator_OnTimeRate(t *testing.T) {
	agg := mustAgg(t, aggregator.DefaultOptions())
	for i := 0; i < 4; i++ {
		v := visit(t, "08:00:00", 0)
		v.OnTime = i < 3 // 3 of 4 on time
		if err := agg.AddVisits([]measures.StopVisit{v}); err != nil {
			t.Fatal(err)
		}
	}
	rows := rowsFor(agg.Rows(nil), measures.MetricOnTime)
	if len(rows) != 1 {
		t.Fatalf("expected 1 on-time row, got %d", len(rows))
	}
	if math.Abs(rows[0].Mean-0.75) > 1e-9 {
		t.Errorf("on-time rate = %g, want 0.75", rows[0].Mean)
	}
}

func TestAggregator_BucketAssignment(t *testing.T) {
	agg := mustAgg(t, aggregator.DefaultOptions())
	morning := visit(t, "08:00:00", 0)
	owl := visit(t, "25:30:00", 0) // 01:30 next calendar day, same service day
	if err := agg.AddVisits([]measures.StopVisit{morning, owl}); err != nil {
		t.Fatal(err)
	}

	rows := rowsFor(agg.Rows(nil), measures.MetricArrivalDeviation)
	buckets := map[string]bool{}
	for _, r := range rows {
		buckets[r.TimeBucket] = true
	}
	if !buckets["AM"] || !buckets["EV"] {
		t.Errorf("expected AM and EV buckets, got %v", buckets)
	}
}

func TestAggregator_Levels(t *testing.T) {
	tests := []struct {
		level     aggregator.Level
		wantRoute string
		wantStop  string
	}{
		{aggregator.LevelRouteStop, "R1", "S1"},
		{aggregator.LevelStop, "", "S1"},
		{aggregator.LevelRoute, "R1", ""},
		{aggregator.LevelSystem, "", ""},
	}
	for _, tc := range tests {
		t.Run(string(tc.level), func(t *testing.T) {
			opts := aggregator.DefaultOptions()
			opts.Level = tc.level
			agg := mustAgg(t, opts)
			if err := agg.AddVisits([]measures.StopVisit{visit(t, "08:00:00", 0)}); err != nil {
				t.Fatal(err)
			}
			rows := rowsFor(agg.Rows(nil), measures.MetricArrivalDeviation)
			if len(rows) != 1 {
				t.Fatalf("expected 1 row, got %d", len(rows))
			}
			if rows[0].RouteID != tc.wantRoute || rows[0].StopID != tc.wantStop {
				t.Errorf("key = %q/%q, want %q/%q", rows[0].RouteID, rows[0].StopID, tc.wantRoute, tc.wantStop)
			}
		})
	}
}

func TestAggregator_LowSampleFlaggedNotDropped(t *testing.T) {
	agg := mustAgg(t, aggregator.DefaultOptions()) // min sample 5
	if err := agg.AddVisits([]measures.StopVisit{visit(t, "08:00:00", 0)}); err != nil {
		t.Fatal(err)
	}

	warn := quality.NewCollector()
	rows := rowsFor(agg.Rows(warn), measures.MetricArrivalDeviation)
	if len(rows) != 1 {
		t.Fatalf("low-sample group dropped")
	}
	if !rows[0].LowSample {
		t.Error("low-sample group not flagged")
	}
	if warn.Count(quality.ReasonLowSampleGroup) == 0 {
		t.Error("low-sample group not reported")
	}
}

func TestAggregator_RejectsMixedScheduleVersions(t *testing.T) {
	agg := mustAgg(t, aggregator.DefaultOptions())
	v := visit(t, "08:00:00", 0)
	v.ScheduleVersion = "v-other"
	if err := agg.AddVisits([]measures.StopVisit{v}); err == nil {
		t.Error("expected error adding visit from another schedule version")
	}

	other, err := aggregator.New("v-other", aggregator.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := agg.Merge(other); err == nil {
		t.Error("expected error merging across schedule versions")
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*aggregator.Options)
	}{
		{"unknown level", func(o *aggregator.Options) { o.Level = "county" }},
		{"inverted percentiles", func(o *aggregator.Options) { o.PercentileLow, o.PercentileHigh = 90, 10 }},
		{"no buckets", func(o *aggregator.Options) { o.Buckets = nil }},
		{"empty bucket range", func(o *aggregator.Options) { o.Buckets[0].End = o.Buckets[0].Start }},
		{"zero min sample", func(o *aggregator.Options) { o.MinSampleCount = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := aggregator.DefaultOptions()
			tc.mutate(&opts)
			if err := opts.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
