package avl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/schedule"
)

// Timestamp layouts accepted in raw exports, tried in order. Layouts
// without a zone are interpreted in the canonical location.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// NormalizerOptions adjusts how raw events become canonical ones.
type NormalizerOptions struct {
	// CutoffHour splits service days: local times before it belong to
	// the previous service date.
	CutoffHour int
	// MaxPassengerCount caps plausible per-stop counts; higher values
	// are flagged. 0 disables the check.
	MaxPassengerCount int
	// RouteAliases maps operator route numbering onto schedule route
	// IDs before matching.
	RouteAliases map[string]string
}

// Normalizer converts RawEvent rows into canonical ObservedEvent values.
// One Normalizer serves one run; it is not safe for concurrent use
// because the quality collector is not.
type Normalizer struct {
	loc  *time.Location
	opts NormalizerOptions
	warn *quality.Collector
}

// NewNormalizer creates a normalizer producing events in loc, the feed's
// canonical timezone.
func NewNormalizer(loc *time.Location, opts NormalizerOptions, warn *quality.Collector) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if opts.CutoffHour == 0 {
		opts.CutoffHour = schedule.DefaultCutoffHour
	}
	return &Normalizer{loc: loc, opts: opts, warn: warn}
}

// Result separates usable events from rejected ones. Rejected events are
// retained, never dropped: their rate is itself a data-quality measure.
type Result struct {
	Events   []ObservedEvent
	Rejected []ObservedEvent
}

// Normalize converts raws into canonical events: timezone conversion,
// service-date resolution, route aliasing, deduplication of repeated
// pings, and flagging of physically impossible values. Output order is
// deterministic: (timestamp, vehicle, source ref).
func (n *Normalizer) Normalize(raws []RawEvent) Result {
	var res Result
	seen := map[string]bool{}

	for i := range raws {
		ev, reject := n.normalizeOne(&raws[i])
		if reject {
			res.Rejected = append(res.Rejected, ev)
			continue
		}
		key := dedupKey(&ev)
		if seen[key] {
			n.flag(&ev, quality.ReasonDuplicateEvent)
			res.Rejected = append(res.Rejected, ev)
			continue
		}
		seen[key] = true
		res.Events = append(res.Events, ev)
	}

	sortEvents(res.Events)
	sortEvents(res.Rejected)
	return res
}

func (n *Normalizer) normalizeOne(raw *RawEvent) (ObservedEvent, bool) {
	ev := ObservedEvent{
		VehicleID: raw.VehicleID,
		RouteID:   raw.RouteID,
		Direction: normalizeDirection(raw.Direction),
		TripID:    raw.TripID,
		StopID:    raw.StopID,
		SourceRef: raw.SourceRef,
	}
	if alias, ok := n.opts.RouteAliases[ev.RouteID]; ok {
		ev.RouteID = alias
	}

	if ev.VehicleID == "" || ev.RouteID == "" || ev.Direction == "" {
		n.flag(&ev, quality.ReasonMissingField)
		return ev, true
	}
	if raw.ArrivalTime == "" && raw.DepartureTime == "" {
		n.flag(&ev, quality.ReasonMissingField)
		return ev, true
	}

	var badTime bool
	if raw.ArrivalTime != "" {
		t, err := n.parseTime(raw.ArrivalTime)
		if err != nil {
			badTime = true
		} else {
			ev.Arrival = t
		}
	}
	if raw.DepartureTime != "" {
		t, err := n.parseTime(raw.DepartureTime)
		if err != nil {
			badTime = true
		} else {
			ev.Departure = t
		}
	}
	if badTime || ev.Timestamp().IsZero() {
		n.flag(&ev, quality.ReasonUnparseableTime)
		return ev, true
	}
	if ev.Arrival.IsZero() {
		ev.Arrival = ev.Departure
	}
	if ev.Departure.IsZero() {
		ev.Departure = ev.Arrival
	}
	if ev.Departure.Before(ev.Arrival) {
		// Kept with both times; downstream dwell computation clips.
		n.flag(&ev, quality.ReasonTimeInversion)
	}
	ev.ServiceDate = schedule.ServiceDateFor(ev.Timestamp(), n.opts.CutoffHour)

	n.normalizePosition(raw, &ev)
	n.normalizeCounts(raw, &ev)
	return ev, false
}

func (n *Normalizer) normalizePosition(raw *RawEvent, ev *ObservedEvent) {
	if raw.Lat == "" || raw.Lon == "" {
		return
	}
	lat, errLat := strconv.ParseFloat(raw.Lat, 64)
	lon, errLon := strconv.ParseFloat(raw.Lon, 64)
	if errLat != nil || errLon != nil ||
		lat < -90 || lat > 90 || lon < -180 || lon > 180 ||
		(lat == 0 && lon == 0) {
		// Position cleared; the event still matches on time alone.
		n.flag(ev, quality.ReasonImpossibleCoord)
		return
	}
	ev.HasPosition = true
	ev.Lat = lat
	ev.Lon = lon
}

func (n *Normalizer) normalizeCounts(raw *RawEvent, ev *ObservedEvent) {
	ons, onsErr := parseCount(raw.Boardings)
	offs, offsErr := parseCount(raw.Alightings)
	if onsErr != nil || offsErr != nil || ons < 0 || offs < 0 {
		n.flag(ev, quality.ReasonNegativeCount)
		ons, offs = 0, 0
	}
	ev.Boardings = ons
	ev.Alightings = offs

	if raw.Capacity != "" {
		if c, err := parseCount(raw.Capacity); err == nil && c > 0 {
			ev.Capacity = c
		}
	}
	if raw.Load != "" {
		load, err := parseCount(raw.Load)
		switch {
		case err != nil || load < 0:
			n.flag(ev, quality.ReasonNegativeCount)
		default:
			ev.Load = load
			ev.HasLoad = true
		}
	}

	limit := n.opts.MaxPassengerCount
	if ev.Capacity > 0 && (limit == 0 || ev.Capacity < limit) {
		limit = ev.Capacity
	}
	if limit > 0 && (ev.Boardings > limit || ev.Alightings > limit || (ev.HasLoad && ev.Load > limit)) {
		// Counts kept; the flag travels with every derived measure.
		n.flag(ev, quality.ReasonCapacityExceeded)
	}
}

func (n *Normalizer) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(n.loc), nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func (n *Normalizer) flag(ev *ObservedEvent, reason string) {
	ev.Flags = append(ev.Flags, reason)
	if n.warn != nil {
		n.warn.Add(reason, ev.SourceRef)
	}
}

func parseCount(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// normalizeDirection maps common direction spellings onto GTFS
// direction_id values.
func normalizeDirection(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "o", "out", "outbound":
		return schedule.DirectionOutbound
	case "1", "i", "in", "inbound":
		return schedule.DirectionInbound
	default:
		return strings.TrimSpace(s)
	}
}

func dedupKey(ev *ObservedEvent) string {
	return ev.VehicleID + "|" + ev.StopID + "|" + strconv.FormatInt(ev.Timestamp().Unix(), 10)
}

// sortEvents orders events by (timestamp, vehicle, source ref) so every
// downstream stage sees the same order regardless of input order.
func sortEvents(events []ObservedEvent) {
	sort.Slice(events, func(i, j int) bool {
		ti, tj := events[i].Timestamp(), events[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if events[i].VehicleID != events[j].VehicleID {
			return events[i].VehicleID < events[j].VehicleID
		}
		return events[i].SourceRef < events[j].SourceRef
	})
}
