package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/transit-data-tools/transitperf/avl"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/schedule"
	"github.com/transit-data-tools/transitperf/utils"
)

// Matcher assigns observed events to scheduled stop times within one
// schedule index. The index is shared read-only, so one Matcher may be
// used from concurrent workers as long as each MatchGroup call gets its
// own partition.
type Matcher struct {
	idx  *schedule.Index
	opts Options
}

// New validates the options and returns a matcher over idx.
func New(idx *schedule.Index, opts Options) (*Matcher, error) {
	if idx == nil {
		return nil, fmt.Errorf("matcher: nil schedule index")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{idx: idx, opts: opts}, nil
}

// candidate is one scored scheduled stop time for one event.
type candidate struct {
	rec    *schedule.ScheduledStopTime
	score  float64
	dev    time.Duration // signed observed - scheduled arrival
	absDev time.Duration
	method string
}

// MatchGroup matches every event of one (service date, route, direction)
// partition. Events are processed in observed-time order with stable
// secondary ordering by vehicle and source reference; this ordering is
// part of the contract, not an accident: it is what makes the one-to-one
// claim resolution deterministic. Events from another partition are a
// structural error.
func (m *Matcher) MatchGroup(group schedule.GroupKey, events []*avl.ObservedEvent, warn *quality.Collector) (*Result, error) {
	res := &Result{Group: group, ScheduleVersion: m.idx.Version}

	ordered := make([]*avl.ObservedEvent, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool {
		ti, tj := ordered[i].Timestamp(), ordered[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if ordered[i].VehicleID != ordered[j].VehicleID {
			return ordered[i].VehicleID < ordered[j].VehicleID
		}
		return ordered[i].SourceRef < ordered[j].SourceRef
	})

	claimed := map[*schedule.ScheduledStopTime]bool{}
	for _, ev := range ordered {
		if ev.Group() != group {
			return nil, fmt.Errorf("matcher: event %s belongs to group %s, not %s",
				ev.SourceRef, ev.Group(), group)
		}
		cands := m.candidates(ev)
		if len(cands) == 0 {
			m.reject(res, ev, ReasonNoCandidate, warn)
			continue
		}

		// Re-score against the remaining candidates: anything already
		// claimed by an earlier event is off the table.
		open := cands[:0]
		for _, c := range cands {
			if !claimed[c.rec] {
				open = append(open, c)
			}
		}
		if len(open) == 0 {
			m.reject(res, ev, ReasonScheduleExhausted, warn)
			continue
		}

		best := pickBest(open)
		if best.score < m.opts.MinConfidence {
			m.reject(res, ev, ReasonBelowThreshold, warn)
			continue
		}
		claimed[best.rec] = true
		res.Matched = append(res.Matched, MatchedRecord{
			Scheduled:  best.rec,
			Observed:   ev,
			Confidence: best.score,
			Method:     best.method,
			Deviation:  best.dev,
		})
	}

	for _, rec := range m.idx.GroupRecords(group) {
		if claimed[rec] {
			continue
		}
		res.UnmatchedScheduled = append(res.UnmatchedScheduled, rec)
		if warn != nil {
			warn.Add(quality.ReasonUnmatchedScheduled,
				fmt.Sprintf("%s@%d", rec.TripID, rec.StopSequence))
		}
	}
	return res, nil
}

// candidates queries the index and scores every scheduled stop time in
// tolerance. The search narrows with the evidence the event carries: a
// stop reference restricts to that stop, a bare position restricts to
// nearby stops, otherwise the whole partition is in play.
func (m *Matcher) candidates(ev *avl.ObservedEvent) []candidate {
	t := ev.Timestamp()
	var recs []*schedule.ScheduledStopTime
	method := MethodTime
	switch {
	case ev.StopID != "":
		recs = m.idx.Candidates(ev.Group(), ev.StopID, t, m.opts.Window)
		method = MethodStop
	case ev.HasPosition:
		recs = m.idx.CandidatesNear(ev.Group(), ev.Lat, ev.Lon, m.opts.SpatialToleranceM, t, m.opts.Window)
		method = MethodGeo
	default:
		recs = m.idx.Candidates(ev.Group(), "", t, m.opts.Window)
	}

	cands := make([]candidate, 0, len(recs))
	for _, rec := range recs {
		cands = append(cands, m.score(ev, rec, method))
	}
	return cands
}

// score combines temporal proximity, spatial proximity, and trip
// agreement into one weighted confidence in [0,1]. Weights renormalize
// over the components the event actually has evidence for, so a feed
// without positions is not penalized for the missing signal.
func (m *Matcher) score(ev *avl.ObservedEvent, rec *schedule.ScheduledStopTime, method string) candidate {
	dev := ev.Timestamp().Sub(rec.Arrival)
	absDev := dev
	if absDev < 0 {
		absDev = -absDev
	}

	temporal := 1 - float64(absDev)/float64(m.opts.Window)
	if temporal < 0 {
		temporal = 0
	}
	sum := m.opts.TemporalWeight
	total := temporal * m.opts.TemporalWeight

	if ev.HasPosition && rec.HasCoord && m.opts.SpatialWeight > 0 {
		d := utils.HaversineMeters(ev.Lat, ev.Lon, rec.Lat, rec.Lon)
		spatial := 1 - d/m.opts.SpatialToleranceM
		if spatial < 0 {
			spatial = 0
		}
		total += spatial * m.opts.SpatialWeight
		sum += m.opts.SpatialWeight
	}
	if ev.TripID != "" && m.opts.TripWeight > 0 {
		agree := 0.0
		if ev.TripID == rec.TripID {
			agree = 1
		}
		total += agree * m.opts.TripWeight
		sum += m.opts.TripWeight
	}

	score := 0.0
	if sum > 0 {
		score = total / sum
	}
	return candidate{rec: rec, score: score, dev: dev, absDev: absDev, method: method}
}

// pickBest selects the highest-scoring candidate. Ties break by smallest
// temporal deviation, then earliest stop sequence, then trip id, giving
// a total order independent of candidate enumeration.
func pickBest(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best
}

func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.absDev != b.absDev {
		return a.absDev < b.absDev
	}
	if a.rec.StopSequence != b.rec.StopSequence {
		return a.rec.StopSequence < b.rec.StopSequence
	}
	return a.rec.TripID < b.rec.TripID
}

func (m *Matcher) reject(res *Result, ev *avl.ObservedEvent, reason string, warn *quality.Collector) {
	res.Unmatched = append(res.Unmatched, UnmatchedEvent{Observed: ev, Reason: reason})
	if warn != nil {
		warn.Add(reason, ev.SourceRef)
	}
}
