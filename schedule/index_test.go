package schedule_test

import (
	"errors"
	"testing"
	"time"

	"github.com/transit-data-tools/transitperf/schedule"
	"github.com/transit-data-tools/transitperf/tests/helpers"
)

func twoTripIndex(t *testing.T) *schedule.Index {
	t.Helper()
	recs := helpers.Trip(t, "R1", "0", "T1",
		helpers.StopSpec{StopID: "S1", Seq: 1, Arr: "08:00:00", Lat: 45.50, Lon: -122.60},
		helpers.StopSpec{StopID: "S2", Seq: 2, Arr: "08:05:00", Lat: 45.505, Lon: -122.60},
		helpers.StopSpec{StopID: "S3", Seq: 3, Arr: "08:10:00", Lat: 45.51, Lon: -122.60},
	)
	recs = append(recs, helpers.Trip(t, "R1", "0", "T2",
		helpers.StopSpec{StopID: "S1", Seq: 1, Arr: "08:20:00", Lat: 45.50, Lon: -122.60},
		helpers.StopSpec{StopID: "S2", Seq: 2, Arr: "08:25:00", Lat: 45.505, Lon: -122.60},
		helpers.StopSpec{StopID: "S3", Seq: 3, Arr: "08:30:00", Lat: 45.51, Lon: -122.60},
	)...)
	return helpers.BuildIndex(t, recs)
}

func TestIndex_CandidatesAtStop(t *testing.T) {
	idx := twoTripIndex(t)
	group := schedule.GroupKey{Date: helpers.Date, RouteID: "R1", Direction: "0"}

	cands := idx.Candidates(group, "S1", helpers.Clock(t, helpers.Date, "08:03:00"), 5*time.Minute)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].TripID != "T1" {
		t.Errorf("expected T1, got %s", cands[0].TripID)
	}

	// A wider window picks up the second trip too, in arrival order.
	cands = idx.Candidates(group, "S1", helpers.Clock(t, helpers.Date, "08:10:00"), 15*time.Minute)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].TripID != "T1" || cands[1].TripID != "T2" {
		t.Errorf("candidates out of arrival order: %s, %s", cands[0].TripID, cands[1].TripID)
	}
}

func TestIndex_CandidatesNear(t *testing.T) {
	idx := twoTripIndex(t)
	group := schedule.GroupKey{Date: helpers.Date, RouteID: "R1", Direction: "0"}

	// A position right on S2 with a tight radius must only see S2.
	cands := idx.CandidatesNear(group, 45.505, -122.60, 100,
		helpers.Clock(t, helpers.Date, "08:05:00"), 5*time.Minute)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].StopID != "S2" {
		t.Errorf("expected S2, got %s", cands[0].StopID)
	}
}

func TestIndex_DerivedTripContext(t *testing.T) {
	idx := twoTripIndex(t)
	trip := idx.TripRecords(schedule.TripKey{Date: helpers.Date, TripID: "T1"})
	if len(trip) != 3 {
		t.Fatalf("expected 3 stop times, got %d", len(trip))
	}
	if !trip[0].First || trip[0].Last {
		t.Errorf("first stop endpoint flags wrong: %+v", trip[0])
	}
	if trip[2].PrevStopID != "S2" {
		t.Errorf("expected PrevStopID S2, got %q", trip[2].PrevStopID)
	}
	if trip[1].SegmentKM <= 0 {
		t.Errorf("expected positive segment distance, got %g", trip[1].SegmentKM)
	}
}

func TestIndex_ScheduledHeadway(t *testing.T) {
	idx := twoTripIndex(t)
	trip := idx.TripRecords(schedule.TripKey{Date: helpers.Date, TripID: "T2"})
	if got := trip[0].ScheduledHeadway; got != 20*time.Minute {
		t.Errorf("expected 20m scheduled headway at S1, got %s", got)
	}
	first := idx.TripRecords(schedule.TripKey{Date: helpers.Date, TripID: "T1"})
	if first[0].ScheduledHeadway != 0 {
		t.Errorf("first trip of the day must have zero headway, got %s", first[0].ScheduledHeadway)
	}
}

func TestIndex_ScheduledTripCount(t *testing.T) {
	idx := twoTripIndex(t)
	group := schedule.GroupKey{Date: helpers.Date, RouteID: "R1", Direction: "0"}
	if got := idx.GetScheduledTripCount(group); got != 2 {
		t.Errorf("scheduled trips = %d, want 2", got)
	}
	other := schedule.GroupKey{Date: helpers.Date, RouteID: "R9", Direction: "0"}
	if got := idx.GetScheduledTripCount(other); got != 0 {
		t.Errorf("unknown group trips = %d, want 0", got)
	}
}

func TestIndex_InconsistencyErrors(t *testing.T) {
	base := func() []schedule.ScheduledStopTime {
		return helpers.Trip(t, "R1", "0", "T1",
			helpers.StopSpec{StopID: "S1", Seq: 1, Arr: "08:00:00"},
			helpers.StopSpec{StopID: "S2", Seq: 2, Arr: "08:05:00"},
		)
	}
	tests := []struct {
		name   string
		mutate func([]schedule.ScheduledStopTime) []schedule.ScheduledStopTime
	}{
		{"duplicate stop sequence", func(r []schedule.ScheduledStopTime) []schedule.ScheduledStopTime {
			r[1].StopSequence = 1
			return r
		}},
		{"time regression", func(r []schedule.ScheduledStopTime) []schedule.ScheduledStopTime {
			r[1].Arrival = r[0].Arrival.Add(-time.Minute)
			r[1].Departure = r[1].Arrival
			return r
		}},
		{"dangling route", func(r []schedule.ScheduledStopTime) []schedule.ScheduledStopTime {
			r[0].RouteID = ""
			return r
		}},
		{"route changes mid-trip", func(r []schedule.ScheduledStopTime) []schedule.ScheduledStopTime {
			r[1].RouteID = "R2"
			return r
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := schedule.NewIndex(tc.mutate(base()), "v", "UTC", nil)
			var incons *schedule.InconsistencyError
			if !errors.As(err, &incons) {
				t.Fatalf("expected InconsistencyError, got %v", err)
			}
		})
	}
}

func TestIndex_GroupsSorted(t *testing.T) {
	recs := helpers.Trip(t, "R2", "1", "T9", helpers.StopSpec{StopID: "S1", Seq: 1, Arr: "09:00:00"})
	recs = append(recs, helpers.Trip(t, "R1", "0", "T1", helpers.StopSpec{StopID: "S1", Seq: 1, Arr: "08:00:00"})...)
	idx := helpers.BuildIndex(t, recs)

	groups := idx.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].RouteID != "R1" || groups[1].RouteID != "R2" {
		t.Errorf("groups not sorted: %v", groups)
	}
}
