package avl

import (
	"strings"
	"testing"

	"github.com/transit-data-tools/transitperf/quality"
)

func TestRead_HeaderAliases(t *testing.T) {
	csv := "veh,line,dir,arr_time,on,off\n" +
		"V1,R1,0,2025-06-03T08:00:00Z,5,2\n"
	raws, err := Read(strings.NewReader(csv), "events.csv", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 row, got %d", len(raws))
	}
	r := raws[0]
	if r.VehicleID != "V1" || r.RouteID != "R1" || r.Direction != "0" {
		t.Errorf("aliases not resolved: %+v", r)
	}
	if r.ArrivalTime != "2025-06-03T08:00:00Z" || r.Boardings != "5" || r.Alightings != "2" {
		t.Errorf("field mapping wrong: %+v", r)
	}
	if r.SourceRef != "events.csv:2" {
		t.Errorf("source ref = %q, want events.csv:2", r.SourceRef)
	}
}

func TestRead_StripsHeaderByteOrderMark(t *testing.T) {
	// A BOM on the export sticks to the first header cell; resolution
	// must still find the vehicle column behind it.
	csv := "\ufeffvehicle_id,route_id,arrival_time\n" +
		"V1,R1,2025-06-03T08:00:00Z\n"
	raws, err := Read(strings.NewReader(csv), "events.csv", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(raws) != 1 || raws[0].VehicleID != "V1" {
		t.Fatalf("BOM broke column resolution: %+v", raws)
	}
}

func TestRead_RejectsHeaderWithoutVehicle(t *testing.T) {
	csv := "route_id,arrival_time\nR1,2025-06-03T08:00:00Z\n"
	if _, err := Read(strings.NewReader(csv), "events.csv", quality.NewCollector()); err == nil {
		t.Fatal("expected error for header without a vehicle column")
	}
}
