package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/avl"
	"github.com/transit-data-tools/transitperf/config"
	"github.com/transit-data-tools/transitperf/matcher"
	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/schedule"
)

// Pipeline runs match + measure + aggregate over partitioned events.
// Partitions are (service date, route, direction) groups: matching
// invariants never cross them, so they process concurrently against the
// shared read-only index.
type Pipeline struct {
	cfg     config.AppConfig
	idx     *schedule.Index
	match   *matcher.Matcher
	metrics *Metrics
}

// New validates the matching options against the index. metrics may be
// nil.
func New(cfg config.AppConfig, idx *schedule.Index, metrics *Metrics) (*Pipeline, error) {
	m, err := matcher.New(idx, MatcherOptions(cfg.Matching))
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, idx: idx, match: m, metrics: metrics}, nil
}

// MatcherOptions converts the config section into matcher options.
func MatcherOptions(c config.MatchingConfig) matcher.Options {
	return matcher.Options{
		Window:            time.Duration(c.ToleranceMinutes * float64(time.Minute)),
		SpatialToleranceM: c.SpatialToleranceMeters,
		MinConfidence:     c.MinConfidence,
		TemporalWeight:    c.TemporalWeight,
		SpatialWeight:     c.SpatialWeight,
		TripWeight:        c.TripWeight,
	}
}

// MeasureOptions converts the config section into calculator options.
func MeasureOptions(c config.MeasuresConfig) measures.Options {
	return measures.Options{
		OnTimeEarly:     time.Duration(c.OnTimeEarlySeconds) * time.Second,
		OnTimeLate:      time.Duration(c.OnTimeLateSeconds) * time.Second,
		CrowdingVCRatio: c.CrowdingVCRatio,
		DefaultCapacity: c.DefaultCapacity,
	}
}

// AggregatorOptions converts the config section into aggregator options.
func AggregatorOptions(c config.AggregationConfig) aggregator.Options {
	opts := aggregator.Options{
		Level:          aggregator.Level(c.Level),
		PercentileLow:  c.PercentileLow,
		PercentileHigh: c.PercentileHigh,
		MinSampleCount: c.MinSampleCount,
	}
	for _, b := range c.TimeBuckets {
		opts.Buckets = append(opts.Buckets, aggregator.TimeBucket(b))
	}
	if len(opts.Buckets) == 0 {
		opts.Buckets = aggregator.DefaultTimeBuckets()
	}
	return opts
}

// Result is one run's complete output.
type Result struct {
	ScheduleVersion string

	Visits     []measures.StopVisit
	Aggregates []aggregator.Row
	Report     quality.Report

	EventCount     int
	MatchedCount   int
	UnmatchedCount int
}

// partitionResult carries one worker's output back for ordered merging.
type partitionResult struct {
	visits    []measures.StopVisit
	agg       *aggregator.Aggregator
	warn      *quality.Collector
	matched   int
	unmatched int
	err       error
}

// Run matches and measures all events, then merges partial aggregates.
// warn carries flags accumulated upstream (normalization, schedule load)
// and receives everything found here; the final Report includes both.
// Output ordering is deterministic regardless of worker interleaving:
// partial results merge in sorted partition order.
func (p *Pipeline) Run(ctx context.Context, events []avl.ObservedEvent, warn *quality.Collector) (*Result, error) {
	if warn == nil {
		warn = quality.NewCollector()
	}

	groups, byGroup := p.partition(events, warn)
	workers := p.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(groups) && len(groups) > 0 {
		workers = len(groups)
	}
	log.Printf("pipeline: %d events across %d partitions, %d workers",
		len(events), len(groups), workers)

	results := make([]partitionResult, len(groups))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					results[i] = partitionResult{err: ctx.Err()}
					continue
				default:
				}
				results[i] = p.runPartition(groups[i], byGroup[groups[i]])
			}
		}()
	}
	for i := range groups {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return p.merge(groups, results, warn, len(events))
}

// partition buckets events by group key. Events on groups the schedule
// does not cover are flagged and excluded from matching; their count is
// part of the quality report.
func (p *Pipeline) partition(events []avl.ObservedEvent, warn *quality.Collector) ([]schedule.GroupKey, map[schedule.GroupKey][]*avl.ObservedEvent) {
	byGroup := map[schedule.GroupKey][]*avl.ObservedEvent{}
	for i := range events {
		ev := &events[i]
		g := ev.Group()
		if len(p.idx.GroupRecords(g)) == 0 {
			warn.Add(quality.ReasonUnknownRoute, ev.SourceRef)
			continue
		}
		byGroup[g] = append(byGroup[g], ev)
	}
	groups := make([]schedule.GroupKey, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Date != groups[j].Date {
			return groups[i].Date < groups[j].Date
		}
		if groups[i].RouteID != groups[j].RouteID {
			return groups[i].RouteID < groups[j].RouteID
		}
		return groups[i].Direction < groups[j].Direction
	})
	return groups, byGroup
}

// runPartition matches, measures, and partially aggregates one group.
// Each partition gets its own collector and aggregator so workers share
// nothing mutable.
func (p *Pipeline) runPartition(group schedule.GroupKey, events []*avl.ObservedEvent) partitionResult {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActiveWorkers.Inc()
		defer p.metrics.ActiveWorkers.Dec()
	}

	pw := quality.NewCollector()
	res, err := p.match.MatchGroup(group, events, pw)
	if err != nil {
		return partitionResult{err: fmt.Errorf("partition %s: %w", group, err)}
	}

	calc := measures.NewCalculator(MeasureOptions(p.cfg.Measures), pw)
	visits := calc.Calculate(res)

	// Trip coverage: a partition where some scheduled trips went
	// unobserved biases its summaries toward the trips that did report.
	observedTrips := map[string]bool{}
	for i := range res.Matched {
		observedTrips[res.Matched[i].Scheduled.TripID] = true
	}
	if scheduled := p.idx.GetScheduledTripCount(group); len(observedTrips) < scheduled {
		pw.Add(quality.ReasonTripCoverageGap,
			fmt.Sprintf("%s: %d of %d trips observed", group, len(observedTrips), scheduled))
	}

	agg, err := aggregator.New(p.idx.Version, AggregatorOptions(p.cfg.Aggregation))
	if err != nil {
		return partitionResult{err: fmt.Errorf("partition %s: %w", group, err)}
	}
	if err := agg.AddVisits(visits); err != nil {
		return partitionResult{err: fmt.Errorf("partition %s: %w", group, err)}
	}

	if p.metrics != nil {
		p.metrics.Partitions.Inc()
		p.metrics.EventsProcessed.Add(float64(len(events)))
		p.metrics.Matched.Add(float64(len(res.Matched)))
		for _, u := range res.Unmatched {
			p.metrics.Unmatched.WithLabelValues(u.Reason).Inc()
		}
		p.metrics.PartitionDuration.Observe(time.Since(start).Seconds())
	}
	return partitionResult{
		visits:    visits,
		agg:       agg,
		warn:      pw,
		matched:   len(res.Matched),
		unmatched: len(res.Unmatched),
	}
}

// merge folds partition results in sorted group order.
func (p *Pipeline) merge(groups []schedule.GroupKey, results []partitionResult, warn *quality.Collector, eventCount int) (*Result, error) {
	out := &Result{ScheduleVersion: p.idx.Version, EventCount: eventCount}

	var agg *aggregator.Aggregator
	for i := range results {
		r := &results[i]
		if r.err != nil {
			return nil, r.err
		}
		out.Visits = append(out.Visits, r.visits...)
		out.MatchedCount += r.matched
		out.UnmatchedCount += r.unmatched
		warn.Merge(r.warn)
		if agg == nil {
			agg = r.agg
			continue
		}
		if err := agg.Merge(r.agg); err != nil {
			return nil, fmt.Errorf("merge partition %s: %w", groups[i], err)
		}
	}
	if agg == nil {
		empty, err := aggregator.New(p.idx.Version, AggregatorOptions(p.cfg.Aggregation))
		if err != nil {
			return nil, err
		}
		agg = empty
	}
	out.Aggregates = agg.Rows(warn)
	out.Report = warn.Report()
	return out, nil
}
