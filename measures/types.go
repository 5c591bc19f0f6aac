package measures

import (
	"time"

	"github.com/transit-data-tools/transitperf/schedule"
)

// Metric names produced per stop visit. The aggregator and the export
// layers key on these.
const (
	MetricArrivalDeviation   = "adherence_arrival_sec"
	MetricDepartureDeviation = "adherence_departure_sec"
	MetricRunningTime        = "running_time_sec"
	MetricDwellTime          = "dwell_sec"
	MetricHeadway            = "headway_sec"
	MetricHeadwayDeviation   = "headway_deviation_sec"
	MetricRunningSpeed       = "running_speed_kmh"
	MetricLoad               = "passenger_load"
	MetricVCRatio            = "vc_ratio"
	MetricOnTime             = "on_time"
	MetricPassengerKM        = "passenger_km"
	MetricPassengerHours     = "passenger_hours"
	MetricWaitHours          = "passenger_wait_hours"
	MetricPassengerDelay     = "passenger_delay_sec"
)

// Options sets the thresholds used while deriving measures.
type Options struct {
	// OnTimeEarly and OnTimeLate bound the on-time window (TCRP 165
	// style): on time means departure deviation > -OnTimeEarly and
	// arrival deviation < +OnTimeLate.
	OnTimeEarly time.Duration
	OnTimeLate  time.Duration

	// CrowdingVCRatio is the volume/capacity ratio above which a visit
	// is flagged crowded.
	CrowdingVCRatio float64

	// DefaultCapacity stands in when the feed reports no vehicle
	// capacity. 0 disables V/C and crowding output.
	DefaultCapacity int
}

// DefaultOptions returns the thresholds used when config carries none.
func DefaultOptions() Options {
	return Options{
		OnTimeEarly:     time.Minute,
		OnTimeLate:      5 * time.Minute,
		CrowdingVCRatio: 0.85,
		DefaultCapacity: 60,
	}
}

// StopVisit is one matched stop visit with every derived measure.
// Regenerated per run, never mutated afterwards.
type StopVisit struct {
	ScheduleVersion string
	ServiceDate     schedule.ServiceDate
	RouteID         string
	Direction       string
	TripID          string
	StopID          string
	StopSequence    int
	VehicleID       string

	ScheduledArrival   time.Time
	ScheduledDeparture time.Time
	ObservedArrival    time.Time
	ObservedDeparture  time.Time

	Confidence float64
	Method     string

	// Signed adherence, observed minus scheduled.
	ArrivalDeviation   time.Duration
	DepartureDeviation time.Duration
	OnTime             bool

	// Running time from the previous observed stop on the same trip.
	// Undefined (HasRunning false) at a trip's first matched stop.
	Running    time.Duration
	HasRunning bool
	Dwell      time.Duration

	// Headway since the previous vehicle at the same stop. Undefined
	// for the first vehicle of the service day.
	Headway          time.Duration
	HasHeadway       bool
	ScheduledHeadway time.Duration

	// Passenger quantities. Load is the onboard count departing the
	// stop: reported directly by the counter when available, otherwise
	// reconstructed as a running sum of boardings minus alightings,
	// clipped at zero.
	Boardings  int
	Alightings int
	Load       int

	// ReportedLoad is the counter hardware's direct onboard reading,
	// used instead of the running sum when present.
	ReportedLoad    int
	HasReportedLoad bool

	Capacity int
	VCRatio  float64
	Crowded  bool

	// Segment context from the schedule.
	SegmentKM float64
	SpeedKMH  float64
	HasSpeed  bool
	FirstStop bool
	LastStop  bool

	// Passenger-weighted quantities for aggregation.
	PassengerKM    float64
	PassengerHours float64
	WaitHours      float64
	PassengerDelay time.Duration

	// Flags carries data-quality reasons inherited from normalization
	// and matching plus anomalies found during calculation.
	Flags []string
}

// Flagged reports whether the visit carries the given data-quality flag.
func (v *StopVisit) Flagged(flag string) bool {
	for _, f := range v.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
