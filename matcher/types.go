package matcher

import (
	"fmt"
	"time"

	"github.com/transit-data-tools/transitperf/avl"
	"github.com/transit-data-tools/transitperf/schedule"
)

// Match methods, recorded on every MatchedRecord so consumers can weigh
// evidence quality.
const (
	// MethodStop means the event carried a stop reference and matched
	// against that stop's scheduled times.
	MethodStop = "stop"
	// MethodGeo means the event carried only a position and candidate
	// stops were found by spatial proximity.
	MethodGeo = "geo"
	// MethodTime means the event carried neither stop nor position and
	// matched on temporal proximity alone.
	MethodTime = "time-only"
)

// Unmatched reason codes.
const (
	ReasonNoCandidate       = "no-candidate"
	ReasonBelowThreshold    = "below-threshold"
	ReasonScheduleExhausted = "schedule-exhausted"
)

// Options configures candidate search and scoring. Zero weights disable
// a component; the weight sum must stay positive.
type Options struct {
	// Window bounds the temporal candidate search around an event's
	// observed time.
	Window time.Duration
	// SpatialToleranceM bounds the stop-proximity search for events
	// that carry a position.
	SpatialToleranceM float64
	// MinConfidence is the score a candidate must clear to bind.
	MinConfidence float64

	TemporalWeight float64
	SpatialWeight  float64
	TripWeight     float64
}

// Validate rejects contradictory settings before any matching starts.
func (o Options) Validate() error {
	switch {
	case o.Window <= 0:
		return fmt.Errorf("matcher: tolerance window must be positive, got %s", o.Window)
	case o.SpatialToleranceM <= 0:
		return fmt.Errorf("matcher: spatial tolerance must be positive, got %g", o.SpatialToleranceM)
	case o.MinConfidence < 0 || o.MinConfidence > 1:
		return fmt.Errorf("matcher: min confidence must be in [0,1], got %g", o.MinConfidence)
	case o.TemporalWeight < 0 || o.SpatialWeight < 0 || o.TripWeight < 0:
		return fmt.Errorf("matcher: scoring weights must not be negative")
	case o.TemporalWeight+o.SpatialWeight+o.TripWeight <= 0:
		return fmt.Errorf("matcher: scoring weights sum to zero")
	}
	return nil
}

// MatchedRecord binds one observed event to one scheduled stop time.
// Created only by the Matcher; read-only downstream.
type MatchedRecord struct {
	Scheduled *schedule.ScheduledStopTime
	Observed  *avl.ObservedEvent

	// Confidence is the winning candidate's score in [0,1].
	Confidence float64
	Method     string

	// Deviation is observed arrival minus scheduled arrival, signed.
	Deviation time.Duration
}

// UnmatchedEvent is an observation no scheduled stop time could be bound
// to, retained with its reason code.
type UnmatchedEvent struct {
	Observed *avl.ObservedEvent
	Reason   string
}

// Result holds one partition's matching outcome.
type Result struct {
	Group           schedule.GroupKey
	ScheduleVersion string

	Matched   []MatchedRecord
	Unmatched []UnmatchedEvent

	// UnmatchedScheduled lists scheduled stop times no observation
	// claimed; their rate measures schedule coverage.
	UnmatchedScheduled []*schedule.ScheduledStopTime
}
