package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/utils"
)

// Index stores one schedule version in memory for fast candidate lookups.
// Exported fields are the persistent form (they round-trip through the
// gob cache); lookup maps are rebuilt on load. Read-only after
// construction.
type Index struct {
	Version  string
	Timezone string
	Dates    []ServiceDate
	Records  []ScheduledStopTime

	StopNames  map[string]string // stop_id -> display name, optional
	RouteNames map[string]string // route_id -> short name, optional

	loc         *time.Location
	byTrip      map[TripKey][]int      // indices into Records, stop-sequence order
	byGroup     map[GroupKey][]int     // indices into Records, arrival order
	byGroupStop map[groupStopKey][]int // indices into Records, arrival order
	groupStops  map[GroupKey][]string  // distinct stop ids, lexical order
	stopCoords  map[string][2]float64  // stop_id -> lat, lon
	tripCounts  map[GroupKey]int
}

type groupStopKey struct {
	Group  GroupKey
	StopID string
}

// NewIndex builds an index over the given records for one schedule
// version. timezone is the feed's IANA zone name ("" means UTC). warn may
// be nil; when set, non-fatal irregularities such as stops without
// coordinates are recorded on it.
func NewIndex(records []ScheduledStopTime, version, timezone string, warn *quality.Collector) (*Index, error) {
	x := &Index{
		Version:    version,
		Timezone:   timezone,
		Records:    append([]ScheduledStopTime(nil), records...),
		StopNames:  map[string]string{},
		RouteNames: map[string]string{},
	}
	if err := x.build(warn); err != nil {
		return nil, err
	}
	return x, nil
}

// build sorts, validates, derives per-record context, and constructs the
// lookup maps. It runs both on fresh construction and after a gob load,
// so a corrupted cache can never produce an index that skipped
// validation.
func (x *Index) build(warn *quality.Collector) error {
	if x.Timezone == "" {
		x.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(x.Timezone)
	if err != nil {
		return fmt.Errorf("resolve schedule timezone %q: %w", x.Timezone, err)
	}
	x.loc = loc

	sortRecords(x.Records)
	if err := x.validate(); err != nil {
		return err
	}
	x.derive()
	x.buildLookups(warn)
	x.collectDates()
	return nil
}

// sortRecords orders records by (date, trip, stop sequence) with arrival
// and stop id as final keys so the order is total even before validation.
func sortRecords(recs []ScheduledStopTime) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if a.ServiceDate != b.ServiceDate {
			return a.ServiceDate < b.ServiceDate
		}
		if a.TripID != b.TripID {
			return a.TripID < b.TripID
		}
		if a.StopSequence != b.StopSequence {
			return a.StopSequence < b.StopSequence
		}
		if !a.Arrival.Equal(b.Arrival) {
			return a.Arrival.Before(b.Arrival)
		}
		return a.StopID < b.StopID
	})
}

func (x *Index) validate() error {
	for i := range x.Records {
		r := &x.Records[i]
		switch {
		case r.TripID == "":
			return &InconsistencyError{Reason: "record with empty trip_id"}
		case r.StopID == "":
			return &InconsistencyError{TripID: r.TripID, Reason: "record with empty stop_id"}
		case r.RouteID == "":
			return &InconsistencyError{TripID: r.TripID, Reason: "dangling trip reference: no route"}
		case r.Direction == "":
			return &InconsistencyError{TripID: r.TripID, Reason: "record with empty direction"}
		case r.ServiceDate == "":
			return &InconsistencyError{TripID: r.TripID, Reason: "record with empty service date"}
		case r.Arrival.IsZero() || r.Departure.IsZero():
			return &InconsistencyError{TripID: r.TripID, Reason: "record with missing scheduled times"}
		case r.Departure.Before(r.Arrival):
			return &InconsistencyError{TripID: r.TripID, Reason: fmt.Sprintf("departure before arrival at stop %s", r.StopID)}
		}
	}
	for i := 1; i < len(x.Records); i++ {
		prev, cur := &x.Records[i-1], &x.Records[i]
		if prev.ServiceDate != cur.ServiceDate || prev.TripID != cur.TripID {
			continue
		}
		if cur.StopSequence == prev.StopSequence {
			return &InconsistencyError{TripID: cur.TripID, Reason: fmt.Sprintf("duplicate stop_sequence %d", cur.StopSequence)}
		}
		if cur.Arrival.Before(prev.Departure) {
			return &InconsistencyError{TripID: cur.TripID, Reason: fmt.Sprintf("time regresses at stop_sequence %d", cur.StopSequence)}
		}
		if cur.RouteID != prev.RouteID || cur.Direction != prev.Direction {
			return &InconsistencyError{TripID: cur.TripID, Reason: "route or direction changes mid-trip"}
		}
	}
	return nil
}

// derive fills the trip-shape context of every record: endpoint flags,
// previous stop, and segment distance.
func (x *Index) derive() {
	start := 0
	for i := 1; i <= len(x.Records); i++ {
		if i < len(x.Records) &&
			x.Records[i].TripID == x.Records[start].TripID &&
			x.Records[i].ServiceDate == x.Records[start].ServiceDate {
			continue
		}
		trip := x.Records[start:i]
		for j := range trip {
			r := &trip[j]
			r.First = j == 0
			r.Last = j == len(trip)-1
			if j == 0 {
				r.PrevStopID = ""
				r.SegmentKM = 0
				continue
			}
			p := &trip[j-1]
			r.PrevStopID = p.StopID
			if r.HasCoord && p.HasCoord {
				r.SegmentKM = utils.HaversineKM(p.Lat, p.Lon, r.Lat, r.Lon)
			} else {
				r.SegmentKM = 0
			}
		}
		start = i
	}
}

func (x *Index) buildLookups(warn *quality.Collector) {
	x.byTrip = map[TripKey][]int{}
	x.byGroup = map[GroupKey][]int{}
	x.byGroupStop = map[groupStopKey][]int{}
	x.groupStops = map[GroupKey][]string{}
	x.stopCoords = map[string][2]float64{}
	x.tripCounts = map[GroupKey]int{}

	seenNoCoord := map[string]bool{}
	for i := range x.Records {
		r := &x.Records[i]
		tk := TripKey{Date: r.ServiceDate, TripID: r.TripID}
		gk := GroupKey{Date: r.ServiceDate, RouteID: r.RouteID, Direction: r.Direction}
		x.byTrip[tk] = append(x.byTrip[tk], i)
		x.byGroup[gk] = append(x.byGroup[gk], i)
		gsk := groupStopKey{Group: gk, StopID: r.StopID}
		x.byGroupStop[gsk] = append(x.byGroupStop[gsk], i)
		if r.HasCoord {
			x.stopCoords[r.StopID] = [2]float64{r.Lat, r.Lon}
		} else if warn != nil && !seenNoCoord[r.StopID] {
			seenNoCoord[r.StopID] = true
			warn.Add(quality.ReasonStopMissingCoord, r.StopID)
		}
	}

	for _, idxs := range x.byGroup {
		x.sortByArrival(idxs)
	}
	for gsk, idxs := range x.byGroupStop {
		x.sortByArrival(idxs)
		stops := x.groupStops[gsk.Group]
		pos := sort.SearchStrings(stops, gsk.StopID)
		if pos == len(stops) || stops[pos] != gsk.StopID {
			stops = append(stops, "")
			copy(stops[pos+1:], stops[pos:])
			stops[pos] = gsk.StopID
			x.groupStops[gsk.Group] = stops
		}
	}

	for _, idxs := range x.byTrip {
		r := &x.Records[idxs[0]]
		gk := GroupKey{Date: r.ServiceDate, RouteID: r.RouteID, Direction: r.Direction}
		x.tripCounts[gk]++
	}

	// Scheduled headway at each stop: interval between departures of
	// consecutive trips serving the same group-stop.
	for _, idxs := range x.byGroupStop {
		for j := 1; j < len(idxs); j++ {
			cur := &x.Records[idxs[j]]
			prev := &x.Records[idxs[j-1]]
			cur.ScheduledHeadway = cur.Departure.Sub(prev.Departure)
		}
	}
}

func (x *Index) sortByArrival(idxs []int) {
	sort.Slice(idxs, func(a, b int) bool {
		ra, rb := &x.Records[idxs[a]], &x.Records[idxs[b]]
		if !ra.Arrival.Equal(rb.Arrival) {
			return ra.Arrival.Before(rb.Arrival)
		}
		if ra.TripID != rb.TripID {
			return ra.TripID < rb.TripID
		}
		return ra.StopSequence < rb.StopSequence
	})
}

func (x *Index) collectDates() {
	seen := map[ServiceDate]bool{}
	dates := make([]ServiceDate, 0, len(x.Dates))
	for i := range x.Records {
		d := x.Records[i].ServiceDate
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	x.Dates = dates
}

// Candidates returns the scheduled stop times of the group whose arrival
// lies within window of t, restricted to a single stop when stopID is
// non-empty. Results are ordered by arrival, then trip.
func (x *Index) Candidates(group GroupKey, stopID string, t time.Time, window time.Duration) []*ScheduledStopTime {
	var idxs []int
	if stopID != "" {
		idxs = x.byGroupStop[groupStopKey{Group: group, StopID: stopID}]
	} else {
		idxs = x.byGroup[group]
	}
	return x.window(idxs, t, window)
}

// CandidatesNear returns candidates at every stop of the group lying
// within radiusM meters of (lat, lon), within window of t. Stops with no
// coordinates never qualify.
func (x *Index) CandidatesNear(group GroupKey, lat, lon, radiusM float64, t time.Time, window time.Duration) []*ScheduledStopTime {
	var out []*ScheduledStopTime
	for _, stopID := range x.groupStops[group] {
		c, ok := x.stopCoords[stopID]
		if !ok {
			continue
		}
		if utils.HaversineMeters(lat, lon, c[0], c[1]) > radiusM {
			continue
		}
		out = append(out, x.window(x.byGroupStop[groupStopKey{Group: group, StopID: stopID}], t, window)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Arrival.Equal(out[j].Arrival) {
			return out[i].Arrival.Before(out[j].Arrival)
		}
		if out[i].TripID != out[j].TripID {
			return out[i].TripID < out[j].TripID
		}
		return out[i].StopSequence < out[j].StopSequence
	})
	return out
}

func (x *Index) window(idxs []int, t time.Time, window time.Duration) []*ScheduledStopTime {
	if window < 0 {
		window = -window
	}
	lo := sort.Search(len(idxs), func(i int) bool {
		return !x.Records[idxs[i]].Arrival.Before(t.Add(-window))
	})
	var out []*ScheduledStopTime
	for i := lo; i < len(idxs); i++ {
		rec := &x.Records[idxs[i]]
		if rec.Arrival.After(t.Add(window)) {
			break
		}
		out = append(out, rec)
	}
	return out
}

// TripRecords returns the trip's stop times in stop-sequence order.
func (x *Index) TripRecords(k TripKey) []*ScheduledStopTime {
	idxs := x.byTrip[k]
	out := make([]*ScheduledStopTime, len(idxs))
	for i, idx := range idxs {
		out[i] = &x.Records[idx]
	}
	return out
}

// GroupRecords returns the group's stop times in arrival order.
func (x *Index) GroupRecords(group GroupKey) []*ScheduledStopTime {
	idxs := x.byGroup[group]
	out := make([]*ScheduledStopTime, len(idxs))
	for i, idx := range idxs {
		out[i] = &x.Records[idx]
	}
	return out
}

// Groups returns every (date, route, direction) partition in the index,
// sorted.
func (x *Index) Groups() []GroupKey {
	keys := make([]GroupKey, 0, len(x.byGroup))
	for k := range x.byGroup {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		if keys[i].RouteID != keys[j].RouteID {
			return keys[i].RouteID < keys[j].RouteID
		}
		return keys[i].Direction < keys[j].Direction
	})
	return keys
}

// GetScheduledTripCount returns the number of scheduled trips in a group.
func (x *Index) GetScheduledTripCount(group GroupKey) int {
	return x.tripCounts[group]
}

// GetStopName returns the stop's display name, or the stop id when the
// feed carried no name.
func (x *Index) GetStopName(stopID string) string {
	if n, ok := x.StopNames[stopID]; ok && n != "" {
		return n
	}
	return stopID
}

// GetRouteName returns the route's short name, or the route id when the
// feed carried no name.
func (x *Index) GetRouteName(routeID string) string {
	if n, ok := x.RouteNames[routeID]; ok && n != "" {
		return n
	}
	return routeID
}

// GetStopCoord returns a stop's coordinates if the feed carried them.
func (x *Index) GetStopCoord(stopID string) (lat, lon float64, ok bool) {
	c, ok := x.stopCoords[stopID]
	return c[0], c[1], ok
}

// Location returns the feed's local timezone.
func (x *Index) Location() *time.Location {
	return x.loc
}

// Len returns the number of scheduled stop times in the index.
func (x *Index) Len() int { return len(x.Records) }
