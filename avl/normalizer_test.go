package avl

import (
	"strings"
	"testing"
	"time"

	"github.com/transit-data-tools/transitperf/quality"
)

const eventsCSV = `vehicle_id,route_id,direction_id,trip_id,stop_id,arrival_time,departure_time,boardings,alightings,lat,lon
1001,91,0,T1,S1,2025-06-03 08:03:00,2025-06-03 08:03:30,5,0,45.50,-122.60
1001,91,0,T1,S1,2025-06-03 08:03:00,2025-06-03 08:03:30,5,0,45.50,-122.60
1001,91,0,T1,S2,2025-06-03 08:08:00,2025-06-03 08:08:20,2,1,45.505,-122.60
,91,0,T1,S3,2025-06-03 08:12:00,,0,0,,
1002,91,0,T2,S1,not-a-time,,0,0,,
1003,91,0,T3,S1,2025-06-03 09:00:00,,-3,0,,
1004,91,0,T4,S1,2025-06-03 09:10:00,,4,0,200.0,-122.60
`

func readAndNormalize(t *testing.T, csvBody string, opts NormalizerOptions) (Result, *quality.Collector) {
	t.Helper()
	warn := quality.NewCollector()
	raws, err := Read(strings.NewReader(csvBody), "events.csv", warn)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n := NewNormalizer(time.UTC, opts, warn)
	return n.Normalize(raws), warn
}

func TestNormalize_HappyPath(t *testing.T) {
	res, _ := readAndNormalize(t, eventsCSV, NormalizerOptions{})

	// 7 rows: 1 duplicate, 1 missing vehicle, 1 unparseable time are
	// rejected; the negative-count and bad-coordinate rows survive
	// flagged.
	if len(res.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(res.Events))
	}
	ev := res.Events[0]
	if ev.VehicleID != "1001" || ev.StopID != "S1" {
		t.Fatalf("events not in time order: %+v", ev)
	}
	if ev.ServiceDate != "2025-06-03" {
		t.Errorf("service date = %s", ev.ServiceDate)
	}
	if !ev.HasPosition || ev.Lat != 45.50 {
		t.Errorf("position not kept: %+v", ev)
	}
	if ev.Boardings != 5 || ev.Alightings != 0 {
		t.Errorf("counts wrong: %+v", ev)
	}
}

func TestNormalize_RejectionsAndFlags(t *testing.T) {
	res, warn := readAndNormalize(t, eventsCSV, NormalizerOptions{})

	if len(res.Rejected) != 3 {
		t.Fatalf("expected 3 rejected, got %d", len(res.Rejected))
	}
	if got := warn.Count(quality.ReasonDuplicateEvent); got != 1 {
		t.Errorf("duplicate count = %d", got)
	}
	if got := warn.Count(quality.ReasonMissingField); got != 1 {
		t.Errorf("missing field count = %d", got)
	}
	if got := warn.Count(quality.ReasonUnparseableTime); got != 1 {
		t.Errorf("unparseable time count = %d", got)
	}

	// Negative counts are cleared and flagged, event kept.
	var negEvent *ObservedEvent
	for i := range res.Events {
		if res.Events[i].VehicleID == "1003" {
			negEvent = &res.Events[i]
		}
	}
	if negEvent == nil {
		t.Fatal("negative-count event was dropped")
	}
	if !negEvent.Flagged(quality.ReasonNegativeCount) || negEvent.Boardings != 0 {
		t.Errorf("negative counts not handled: %+v", negEvent)
	}

	// Impossible coordinates are cleared and flagged, event kept.
	var coordEvent *ObservedEvent
	for i := range res.Events {
		if res.Events[i].VehicleID == "1004" {
			coordEvent = &res.Events[i]
		}
	}
	if coordEvent == nil {
		t.Fatal("bad-coordinate event was dropped")
	}
	if coordEvent.HasPosition || !coordEvent.Flagged(quality.ReasonImpossibleCoord) {
		t.Errorf("impossible coordinate not handled: %+v", coordEvent)
	}
}

func TestNormalize_ServiceDayCutoff(t *testing.T) {
	csvBody := "vehicle_id,route_id,direction_id,stop_id,arrival_time\n" +
		"1001,91,0,S1,2025-06-04 01:30:00\n" +
		"1001,91,0,S1,2025-06-04 03:30:00\n"
	res, _ := readAndNormalize(t, csvBody, NormalizerOptions{CutoffHour: 3})

	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Events))
	}
	if res.Events[0].ServiceDate != "2025-06-03" {
		t.Errorf("owl event service date = %s, want 2025-06-03", res.Events[0].ServiceDate)
	}
	if res.Events[1].ServiceDate != "2025-06-04" {
		t.Errorf("post-cutoff event service date = %s, want 2025-06-04", res.Events[1].ServiceDate)
	}
}

func TestNormalize_RouteAliasAndDirection(t *testing.T) {
	csvBody := "vehicle_id,route_id,direction_id,stop_id,arrival_time\n" +
		"1001,0091,outbound,S1,2025-06-03 08:00:00\n"
	res, _ := readAndNormalize(t, csvBody, NormalizerOptions{
		RouteAliases: map[string]string{"0091": "91"},
	})

	if len(res.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(res.Events))
	}
	if res.Events[0].RouteID != "91" {
		t.Errorf("route alias not applied: %q", res.Events[0].RouteID)
	}
	if res.Events[0].Direction != "0" {
		t.Errorf("direction not normalized: %q", res.Events[0].Direction)
	}
}

func TestNormalize_CapacityExceededFlagged(t *testing.T) {
	csvBody := "vehicle_id,route_id,direction_id,stop_id,arrival_time,boardings,capacity\n" +
		"1001,91,0,S1,2025-06-03 08:00:00,80,60\n"
	res, warn := readAndNormalize(t, csvBody, NormalizerOptions{})

	if len(res.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(res.Events))
	}
	ev := res.Events[0]
	if !ev.Flagged(quality.ReasonCapacityExceeded) {
		t.Error("capacity overflow not flagged")
	}
	if ev.Boardings != 80 {
		t.Errorf("counts must be kept, got %d", ev.Boardings)
	}
	if warn.Count(quality.ReasonCapacityExceeded) != 1 {
		t.Error("capacity overflow not reported")
	}
}

func TestNormalize_TimeInversionKept(t *testing.T) {
	csvBody := "vehicle_id,route_id,direction_id,stop_id,arrival_time,departure_time\n" +
		"1001,91,0,S1,2025-06-03 08:05:00,2025-06-03 08:04:00\n"
	res, _ := readAndNormalize(t, csvBody, NormalizerOptions{})

	if len(res.Events) != 1 {
		t.Fatalf("time-inverted event must be kept, got %d events", len(res.Events))
	}
	if !res.Events[0].Flagged(quality.ReasonTimeInversion) {
		t.Error("time inversion not flagged")
	}
}

func TestRead_MalformedRowsSkipped(t *testing.T) {
	csvBody := "vehicle_id,route_id,arrival_time\n" +
		"1001,91,2025-06-03 08:00:00\n" +
		"1002,\"91,2025-06-03 08:01:00\n"
	warn := quality.NewCollector()
	raws, err := Read(strings.NewReader(csvBody), "events.csv", warn)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected the one good row, got %d", len(raws))
	}
	if warn.Count(quality.ReasonMalformedRow) == 0 {
		t.Error("malformed row not counted")
	}
}
