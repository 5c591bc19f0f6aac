package schedule

import "time"

// Direction values follow GTFS direction_id.
const (
	DirectionOutbound = "0"
	DirectionInbound  = "1"
)

// ScheduledStopTime is one planned stop visit of one trip on one service
// date. Immutable once the owning Index is built. Unique within an index
// by (ServiceDate, TripID, StopSequence).
type ScheduledStopTime struct {
	RouteID      string
	Direction    string
	TripID       string
	StopID       string
	StopSequence int
	ServiceDate  ServiceDate
	Arrival      time.Time
	Departure    time.Time

	// Stop geometry copied from the feed. HasCoord is false when the
	// feed carries no coordinates for the stop.
	Lat      float64
	Lon      float64
	HasCoord bool

	// Trip-shape context filled in during indexing.
	First      bool
	Last       bool
	PrevStopID string  // empty at the first stop
	SegmentKM  float64 // great-circle km from the previous stop, 0 at the first

	// Planned interval since the previous trip serving the same
	// (date, route, direction, stop); 0 for the first trip of the day.
	ScheduledHeadway time.Duration
}

// TripKey identifies one trip on one service date.
type TripKey struct {
	Date   ServiceDate
	TripID string
}

// GroupKey identifies one matching partition. Matching invariants are
// scoped inside a single group and never cross groups.
type GroupKey struct {
	Date      ServiceDate
	RouteID   string
	Direction string
}

func (k GroupKey) String() string {
	return string(k.Date) + "/" + k.RouteID + "/" + k.Direction
}
