package avl

import (
	"time"

	"github.com/transit-data-tools/transitperf/schedule"
)

// RawEvent is one vehicle-event row exactly as the AVL/APC export carried
// it. Fields are unparsed strings; the Normalizer turns them into typed
// ObservedEvent values and decides what is usable.
type RawEvent struct {
	VehicleID string
	RouteID   string
	Direction string
	TripID    string
	StopID    string

	ArrivalTime   string
	DepartureTime string

	Boardings  string
	Alightings string
	Load       string
	Capacity   string

	Lat string
	Lon string

	// SourceRef identifies the row in the raw input (file:line). It is
	// the example identifier used in data-quality reporting.
	SourceRef string
}

// ObservedEvent is the canonical form of one observed stop visit.
// Immutable after normalization: corrections produce a new event, never an
// in-place edit. Flags carry non-fatal irregularities found while
// normalizing.
type ObservedEvent struct {
	VehicleID string
	RouteID   string
	Direction string
	TripID    string // empty when the feed carried no trip reference
	StopID    string // empty when only a position is known

	ServiceDate schedule.ServiceDate
	Arrival     time.Time
	Departure   time.Time

	HasPosition bool
	Lat         float64
	Lon         float64

	Boardings  int
	Alightings int

	// Load is the onboard count reported by the counter hardware.
	// HasLoad is false when the feed carries only boarding/alighting
	// deltas and load must be reconstructed downstream.
	Load     int
	HasLoad  bool
	Capacity int // 0 when unknown

	Flags     []string
	SourceRef string
}

// Timestamp returns the event's primary observation time: arrival when
// present, departure otherwise.
func (e *ObservedEvent) Timestamp() time.Time {
	if !e.Arrival.IsZero() {
		return e.Arrival
	}
	return e.Departure
}

// Group returns the matching partition the event belongs to.
func (e *ObservedEvent) Group() schedule.GroupKey {
	return schedule.GroupKey{Date: e.ServiceDate, RouteID: e.RouteID, Direction: e.Direction}
}

// Flagged reports whether the event carries the given data-quality flag.
func (e *ObservedEvent) Flagged(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
