package measures

import (
	"sort"
	"time"

	"github.com/transit-data-tools/transitperf/matcher"
	"github.com/transit-data-tools/transitperf/quality"
)

// Calculator derives performance measures from matched records. All
// arithmetic stays inside one (service date, route, direction) partition;
// metrics never mix schedule versions or service dates because the input
// Result is already scoped to one of each.
type Calculator struct {
	opts Options
	warn *quality.Collector
}

// NewCalculator returns a calculator with the given thresholds. warn may
// be nil.
func NewCalculator(opts Options, warn *quality.Collector) *Calculator {
	if opts.OnTimeEarly <= 0 {
		opts.OnTimeEarly = DefaultOptions().OnTimeEarly
	}
	if opts.OnTimeLate <= 0 {
		opts.OnTimeLate = DefaultOptions().OnTimeLate
	}
	if opts.CrowdingVCRatio <= 0 {
		opts.CrowdingVCRatio = DefaultOptions().CrowdingVCRatio
	}
	return &Calculator{opts: opts, warn: warn}
}

// Calculate turns one partition's matched records into stop visits with
// derived measures. Output is ordered by (trip, stop sequence).
func (c *Calculator) Calculate(res *matcher.Result) []StopVisit {
	visits := make([]StopVisit, 0, len(res.Matched))
	for i := range res.Matched {
		visits = append(visits, c.baseVisit(res, &res.Matched[i]))
	}

	sort.Slice(visits, func(i, j int) bool {
		if visits[i].TripID != visits[j].TripID {
			return visits[i].TripID < visits[j].TripID
		}
		return visits[i].StopSequence < visits[j].StopSequence
	})

	c.deriveTripMeasures(visits)
	c.deriveHeadways(visits)
	for i := range visits {
		c.derivePassengerMeasures(&visits[i])
	}
	return visits
}

// baseVisit copies the matched pair into a visit and computes the
// per-record measures that need no trip or stop context.
func (c *Calculator) baseVisit(res *matcher.Result, m *matcher.MatchedRecord) StopVisit {
	sched, obs := m.Scheduled, m.Observed
	v := StopVisit{
		ScheduleVersion:    res.ScheduleVersion,
		ServiceDate:        sched.ServiceDate,
		RouteID:            sched.RouteID,
		Direction:          sched.Direction,
		TripID:             sched.TripID,
		StopID:             sched.StopID,
		StopSequence:       sched.StopSequence,
		VehicleID:          obs.VehicleID,
		ScheduledArrival:   sched.Arrival,
		ScheduledDeparture: sched.Departure,
		ObservedArrival:    obs.Arrival,
		ObservedDeparture:  obs.Departure,
		Confidence:         m.Confidence,
		Method:             m.Method,
		Boardings:          obs.Boardings,
		Alightings:         obs.Alightings,
		ReportedLoad:       obs.Load,
		HasReportedLoad:    obs.HasLoad,
		Capacity:           obs.Capacity,
		SegmentKM:          sched.SegmentKM,
		ScheduledHeadway:   sched.ScheduledHeadway,
		FirstStop:          sched.First,
		LastStop:           sched.Last,
		Flags:              append([]string(nil), obs.Flags...),
	}

	v.ArrivalDeviation = obs.Arrival.Sub(sched.Arrival)
	v.DepartureDeviation = obs.Departure.Sub(sched.Departure)
	v.OnTime = v.DepartureDeviation > -c.opts.OnTimeEarly &&
		v.ArrivalDeviation < c.opts.OnTimeLate

	v.Dwell = obs.Departure.Sub(obs.Arrival)
	if v.Dwell < 0 {
		v.Dwell = 0
	}
	// A vehicle does not hold at the line end; dwell there is layover,
	// not service.
	if v.LastStop {
		v.Dwell = 0
	}
	return v
}

// deriveTripMeasures walks each trip's visits in stop-sequence order and
// fills running time, running speed, and reconstructed passenger load.
// Visits must already be sorted by (trip, stop sequence).
func (c *Calculator) deriveTripMeasures(visits []StopVisit) {
	start := 0
	for i := 1; i <= len(visits); i++ {
		if i < len(visits) && visits[i].TripID == visits[start].TripID {
			continue
		}
		trip := visits[start:i]
		load := 0
		for j := range trip {
			v := &trip[j]

			if j > 0 && !v.FirstStop {
				prev := &trip[j-1]
				v.Running = v.ObservedArrival.Sub(prev.ObservedDeparture)
				v.HasRunning = true
				if v.Running < 0 {
					v.Running = 0
					c.flag(v, quality.ReasonNegativeRunTime)
				}
			}
			if v.HasRunning && v.Running > 0 && v.SegmentKM > 0 {
				v.SpeedKMH = v.SegmentKM / v.Running.Hours()
				v.HasSpeed = true
			}

			obs := visitLoad(v, load)
			if obs < 0 {
				c.flag(v, quality.ReasonNegativeLoad)
				obs = 0
			}
			load = obs
			v.Load = load
		}
		start = i
	}
}

// visitLoad returns the onboard count departing v: the counter's direct
// reading when present, otherwise the running sum carried from the
// previous stop. The value may be negative here; the caller clips and
// flags.
func visitLoad(v *StopVisit, carried int) int {
	if v.HasReportedLoad {
		return v.ReportedLoad
	}
	return carried + v.Boardings - v.Alightings
}

// deriveHeadways fills observed headway per stop: time since the previous
// vehicle's arrival at the same (date, route, direction, stop).
func (c *Calculator) deriveHeadways(visits []StopVisit) {
	byStop := map[string][]int{}
	for i := range visits {
		byStop[visits[i].StopID] = append(byStop[visits[i].StopID], i)
	}
	for _, idxs := range byStop {
		sort.Slice(idxs, func(a, b int) bool {
			va, vb := &visits[idxs[a]], &visits[idxs[b]]
			if !va.ObservedArrival.Equal(vb.ObservedArrival) {
				return va.ObservedArrival.Before(vb.ObservedArrival)
			}
			if va.TripID != vb.TripID {
				return va.TripID < vb.TripID
			}
			return va.StopSequence < vb.StopSequence
		})
		for j := 1; j < len(idxs); j++ {
			cur := &visits[idxs[j]]
			prev := &visits[idxs[j-1]]
			cur.Headway = cur.ObservedArrival.Sub(prev.ObservedArrival)
			cur.HasHeadway = true
		}
	}
}

// derivePassengerMeasures fills V/C, crowding, and passenger-weighted
// quantities once load and headway are known.
func (c *Calculator) derivePassengerMeasures(v *StopVisit) {
	capacity := v.Capacity
	if capacity == 0 {
		capacity = c.opts.DefaultCapacity
	}
	if capacity > 0 {
		v.Capacity = capacity
		v.VCRatio = float64(v.Load) / float64(capacity)
		v.Crowded = v.VCRatio > c.opts.CrowdingVCRatio
	}

	v.PassengerKM = float64(v.Load) * v.SegmentKM
	if v.HasRunning {
		v.PassengerHours = float64(v.Load) * (v.Running + v.Dwell).Hours()
	} else {
		v.PassengerHours = float64(v.Load) * v.Dwell.Hours()
	}
	if v.HasHeadway {
		// Random-arrival assumption: mean wait is half the headway.
		v.WaitHours = float64(v.Boardings) * (v.Headway / 2).Hours()
	}
	if v.DepartureDeviation > 0 {
		v.PassengerDelay = time.Duration(v.Boardings) * v.DepartureDeviation
	}
}

func (c *Calculator) flag(v *StopVisit, reason string) {
	v.Flags = append(v.Flags, reason)
	if c.warn != nil {
		c.warn.Add(reason, v.TripID+"@"+v.StopID)
	}
}
