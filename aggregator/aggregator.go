package aggregator

import (
	"fmt"
	"sort"

	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/schedule"
)

// Level selects how finely groups are keyed.
type Level string

const (
	LevelRouteStop Level = "route-stop"
	LevelStop      Level = "stop"
	LevelRoute     Level = "route"
	LevelSystem    Level = "system"
)

// TimeBucket is a named time-of-day range in hours since midnight of the
// service date. End may exceed 24 so late-night service stays with its
// service day.
type TimeBucket struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// DefaultTimeBuckets returns the standard early/AM-peak/midday/PM-peak/
// evening split.
func DefaultTimeBuckets() []TimeBucket {
	return []TimeBucket{
		{Name: "EA", Start: 3, End: 6},
		{Name: "AM", Start: 6, End: 9},
		{Name: "MD", Start: 9, End: 16},
		{Name: "PM", Start: 16, End: 19},
		{Name: "EV", Start: 19, End: 27},
	}
}

// Options configures grouping and summary output.
type Options struct {
	Level          Level
	Buckets        []TimeBucket
	PercentileLow  float64
	PercentileHigh float64
	// MinSampleCount flags (never suppresses) groups with fewer
	// observations.
	MinSampleCount int
}

// DefaultOptions aggregates per route with the standard buckets and a
// 10/90 percentile band.
func DefaultOptions() Options {
	return Options{
		Level:          LevelRoute,
		Buckets:        DefaultTimeBuckets(),
		PercentileLow:  10,
		PercentileHigh: 90,
		MinSampleCount: 5,
	}
}

// Validate rejects contradictory settings.
func (o Options) Validate() error {
	switch o.Level {
	case LevelRouteStop, LevelStop, LevelRoute, LevelSystem:
	default:
		return fmt.Errorf("aggregator: unknown level %q", o.Level)
	}
	if o.PercentileLow <= 0 || o.PercentileHigh >= 100 || o.PercentileLow >= o.PercentileHigh {
		return fmt.Errorf("aggregator: percentile band %g/%g not ordered within (0,100)",
			o.PercentileLow, o.PercentileHigh)
	}
	if o.MinSampleCount < 1 {
		return fmt.Errorf("aggregator: min sample count must be at least 1")
	}
	if len(o.Buckets) == 0 {
		return fmt.Errorf("aggregator: no time buckets configured")
	}
	for _, b := range o.Buckets {
		if b.Name == "" || b.End <= b.Start {
			return fmt.Errorf("aggregator: malformed time bucket %+v", b)
		}
	}
	return nil
}

// Key identifies one aggregation group. Fields outside the configured
// level stay empty.
type Key struct {
	RouteID    string
	Direction  string
	StopID     string
	DayType    string
	TimeBucket string
	Metric     string
}

// groupState accumulates one group. The Welford state yields mean and
// standard deviation; the raw samples are kept for exact median and
// percentile computation after merging.
type groupState struct {
	stats   Welford
	samples []float64
}

// Aggregator rolls stop-visit measures into summary groups. Not safe for
// concurrent use: run one Aggregator per partition and Merge the partials
// afterwards (map-then-reduce).
type Aggregator struct {
	opts    Options
	version string
	groups  map[Key]*groupState
}

// New returns an empty aggregator bound to one schedule version.
func New(scheduleVersion string, opts Options) (*Aggregator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{opts: opts, version: scheduleVersion, groups: map[Key]*groupState{}}, nil
}

// AddVisits folds a batch of stop visits into the running groups. A
// visit from a different schedule version is a structural error: summary
// statistics must never silently mix schedule versions.
func (a *Aggregator) AddVisits(visits []measures.StopVisit) error {
	for i := range visits {
		v := &visits[i]
		if v.ScheduleVersion != a.version {
			return fmt.Errorf("aggregator: visit from schedule version %q cannot join aggregate over %q",
				v.ScheduleVersion, a.version)
		}
		a.addVisit(v)
	}
	return nil
}

func (a *Aggregator) addVisit(v *measures.StopVisit) {
	base := a.keyFor(v)

	a.observe(base, measures.MetricArrivalDeviation, v.ArrivalDeviation.Seconds())
	a.observe(base, measures.MetricDepartureDeviation, v.DepartureDeviation.Seconds())
	a.observe(base, measures.MetricOnTime, boolVal(v.OnTime))
	a.observe(base, measures.MetricDwellTime, v.Dwell.Seconds())
	a.observe(base, measures.MetricLoad, float64(v.Load))
	a.observe(base, measures.MetricPassengerKM, v.PassengerKM)
	a.observe(base, measures.MetricPassengerHours, v.PassengerHours)
	a.observe(base, measures.MetricPassengerDelay, v.PassengerDelay.Seconds())

	if v.HasRunning {
		a.observe(base, measures.MetricRunningTime, v.Running.Seconds())
	}
	if v.HasSpeed {
		a.observe(base, measures.MetricRunningSpeed, v.SpeedKMH)
	}
	if v.HasHeadway {
		a.observe(base, measures.MetricHeadway, v.Headway.Seconds())
		a.observe(base, measures.MetricWaitHours, v.WaitHours)
		if v.ScheduledHeadway > 0 {
			a.observe(base, measures.MetricHeadwayDeviation, (v.Headway - v.ScheduledHeadway).Seconds())
		}
	}
	if v.Capacity > 0 {
		a.observe(base, measures.MetricVCRatio, v.VCRatio)
	}
}

func (a *Aggregator) keyFor(v *measures.StopVisit) Key {
	k := Key{
		DayType:    string(v.ServiceDate.DayType()),
		TimeBucket: a.bucketFor(v),
	}
	switch a.opts.Level {
	case LevelRouteStop:
		k.RouteID = v.RouteID
		k.Direction = v.Direction
		k.StopID = v.StopID
	case LevelStop:
		k.StopID = v.StopID
	case LevelRoute:
		k.RouteID = v.RouteID
		k.Direction = v.Direction
	case LevelSystem:
	}
	return k
}

// bucketFor assigns a visit to a time-of-day bucket by its scheduled
// arrival hour, with hours before the service-day cutoff counted past 24
// so owl service lands in the evening bucket.
func (a *Aggregator) bucketFor(v *measures.StopVisit) string {
	hour := v.ScheduledArrival.Hour()
	if hour < schedule.DefaultCutoffHour {
		hour += 24
	}
	for _, b := range a.opts.Buckets {
		if hour >= b.Start && hour < b.End {
			return b.Name
		}
	}
	return "other"
}

func (a *Aggregator) observe(k Key, metric string, value float64) {
	k.Metric = metric
	g := a.groups[k]
	if g == nil {
		g = &groupState{}
		a.groups[k] = g
	}
	g.stats.Update(value)
	g.samples = append(g.samples, value)
}

// Merge folds another aggregator's partial groups into this one. Both
// sides must cover the same schedule version and options; mixing is a
// structural error. Merging is associative and commutative: the final
// rows do not depend on partition boundaries or merge order.
func (a *Aggregator) Merge(other *Aggregator) error {
	if other == nil {
		return nil
	}
	if other.version != a.version {
		return fmt.Errorf("aggregator: cannot merge schedule version %q into %q",
			other.version, a.version)
	}
	for k, g := range other.groups {
		dst := a.groups[k]
		if dst == nil {
			dst = &groupState{}
			a.groups[k] = dst
		}
		dst.stats.Merge(g.stats)
		dst.samples = append(dst.samples, g.samples...)
	}
	return nil
}

// Row is one summary group in the final output.
type Row struct {
	ScheduleVersion string  `json:"schedule_version"`
	RouteID         string  `json:"route_id,omitempty"`
	Direction       string  `json:"direction,omitempty"`
	StopID          string  `json:"stop_id,omitempty"`
	DayType         string  `json:"day_type"`
	TimeBucket      string  `json:"time_bucket"`
	Metric          string  `json:"metric"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	PercentileLow   float64 `json:"p_low"`
	PercentileHigh  float64 `json:"p_high"`
	StdDev          float64 `json:"stddev"`
	Count           int     `json:"count"`
	LowSample       bool    `json:"low_sample"`
}

// Rows materializes every group, sorted by key so output is stable. Low
// sample groups are flagged on the row and on warn, never dropped.
func (a *Aggregator) Rows(warn *quality.Collector) []Row {
	keys := make([]Key, 0, len(a.groups))
	for k := range a.groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		g := a.groups[k]
		sort.Float64s(g.samples)
		row := Row{
			ScheduleVersion: a.version,
			RouteID:         k.RouteID,
			Direction:       k.Direction,
			StopID:          k.StopID,
			DayType:         k.DayType,
			TimeBucket:      k.TimeBucket,
			Metric:          k.Metric,
			Mean:            g.stats.Mean,
			Median:          percentile(g.samples, 50),
			PercentileLow:   percentile(g.samples, a.opts.PercentileLow),
			PercentileHigh:  percentile(g.samples, a.opts.PercentileHigh),
			StdDev:          g.stats.StdDev(),
			Count:           g.stats.Count,
		}
		if row.Count < a.opts.MinSampleCount {
			row.LowSample = true
			if warn != nil {
				warn.Add(quality.ReasonLowSampleGroup, groupLabel(k))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// percentile returns the nearest-rank percentile of sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func keyLess(a, b Key) bool {
	if a.RouteID != b.RouteID {
		return a.RouteID < b.RouteID
	}
	if a.Direction != b.Direction {
		return a.Direction < b.Direction
	}
	if a.StopID != b.StopID {
		return a.StopID < b.StopID
	}
	if a.DayType != b.DayType {
		return a.DayType < b.DayType
	}
	if a.TimeBucket != b.TimeBucket {
		return a.TimeBucket < b.TimeBucket
	}
	return a.Metric < b.Metric
}

func groupLabel(k Key) string {
	label := k.Metric
	if k.RouteID != "" {
		label = k.RouteID + "/" + k.Direction + " " + label
	}
	if k.StopID != "" {
		label = k.StopID + " " + label
	}
	return label + " " + k.DayType + "/" + k.TimeBucket
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
