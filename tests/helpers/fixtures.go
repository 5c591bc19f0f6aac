package helpers

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transit-data-tools/transitperf/avl"
	"github.com/transit-data-tools/transitperf/config"
	"github.com/transit-data-tools/transitperf/schedule"
	"github.com/transit-data-tools/transitperf/utils"
)

// Date is the service date most fixtures run on (a Tuesday).
const Date = schedule.ServiceDate("2025-06-03")

// StopSpec describes one scheduled stop for trip builders. Arr/Dep are
// clock values ("08:00:00"); an empty Dep means no hold.
type StopSpec struct {
	StopID string
	Seq    int
	Arr    string
	Dep    string
	Lat    float64
	Lon    float64
}

// Trip builds scheduled stop times for one trip on Date, in UTC.
func Trip(t *testing.T, routeID, direction, tripID string, stops ...StopSpec) []schedule.ScheduledStopTime {
	t.Helper()
	return TripOn(t, Date, routeID, direction, tripID, stops...)
}

// TripOn builds scheduled stop times for one trip on an arbitrary date.
func TripOn(t *testing.T, date schedule.ServiceDate, routeID, direction, tripID string, stops ...StopSpec) []schedule.ScheduledStopTime {
	t.Helper()
	recs := make([]schedule.ScheduledStopTime, 0, len(stops))
	for _, s := range stops {
		dep := s.Dep
		if dep == "" {
			dep = s.Arr
		}
		rec := schedule.ScheduledStopTime{
			RouteID:      routeID,
			Direction:    direction,
			TripID:       tripID,
			StopID:       s.StopID,
			StopSequence: s.Seq,
			ServiceDate:  date,
			Arrival:      Clock(t, date, s.Arr),
			Departure:    Clock(t, date, dep),
		}
		if s.Lat != 0 || s.Lon != 0 {
			rec.Lat, rec.Lon, rec.HasCoord = s.Lat, s.Lon, true
		}
		recs = append(recs, rec)
	}
	return recs
}

// Clock resolves a clock value on a service date, in UTC.
func Clock(t *testing.T, date schedule.ServiceDate, clock string) time.Time {
	t.Helper()
	sec, err := utils.ParseDaySeconds(clock)
	if err != nil {
		t.Fatalf("bad clock %q: %v", clock, err)
	}
	return date.At(sec, time.UTC)
}

// BuildIndex builds an index over records for schedule version "v-test"
// in UTC, failing the test on inconsistency.
func BuildIndex(t *testing.T, records []schedule.ScheduledStopTime) *schedule.Index {
	t.Helper()
	idx, err := schedule.NewIndex(records, "v-test", "UTC", nil)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

// EventSpec describes one observed event for Event.
type EventSpec struct {
	Vehicle string
	Route   string
	Dir     string
	Trip    string
	Stop    string
	Arr     string // clock value on Date
	Dep     string // defaults to Arr
	Ons     int
	Offs    int
	Lat     float64
	Lon     float64
	Ref     string
}

// Event builds a canonical observed event on Date, in UTC.
func Event(t *testing.T, s EventSpec) avl.ObservedEvent {
	t.Helper()
	dep := s.Dep
	if dep == "" {
		dep = s.Arr
	}
	ref := s.Ref
	if ref == "" {
		ref = "test:" + s.Vehicle + ":" + s.Arr
	}
	ev := avl.ObservedEvent{
		VehicleID:   s.Vehicle,
		RouteID:     s.Route,
		Direction:   s.Dir,
		TripID:      s.Trip,
		StopID:      s.Stop,
		ServiceDate: Date,
		Arrival:     Clock(t, Date, s.Arr),
		Departure:   Clock(t, Date, dep),
		Boardings:   s.Ons,
		Alightings:  s.Offs,
		SourceRef:   ref,
	}
	if s.Lat != 0 || s.Lon != 0 {
		ev.HasPosition, ev.Lat, ev.Lon = true, s.Lat, s.Lon
	}
	return ev
}

// TestConfig returns the default configuration with a single worker so
// tests stay order-stable even under the race detector.
func TestConfig() config.AppConfig {
	cfg := config.Default()
	cfg.Pipeline.Workers = 1
	return cfg
}

// WriteGTFSZip writes a minimal two-trip GTFS feed and returns its path.
// Route R1 runs two outbound trips on 2025-06-03 with three stops each.
func WriteGTFSZip(t *testing.T) string {
	t.Helper()
	files := map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"A1,Test Transit,https://example.org,UTC\n",
		"feed_info.txt": "feed_publisher_name,feed_publisher_url,feed_lang,feed_version\n" +
			"Test Transit,https://example.org,en,2025-06\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_type\n" +
			"R1,A1,1,3\n",
		"trips.txt": "route_id,service_id,trip_id,direction_id\n" +
			"R1,WK,T1,0\nR1,WK,T2,0\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,First,45.5000,-122.6000\n" +
			"S2,Second,45.5050,-122.6000\n" +
			"S3,Third,45.5100,-122.6000\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:30,S1,1\n" +
			"T1,08:05:00,08:05:30,S2,2\n" +
			"T1,08:10:00,08:10:00,S3,3\n" +
			"T2,08:20:00,08:20:30,S1,1\n" +
			"T2,08:25:00,08:25:30,S2,2\n" +
			"T2,08:30:00,08:30:00,S3,3\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20250101,20251231\n",
	}

	return WriteZip(t, "gtfs.zip", files)
}

// WriteZip writes the given files into a zip under a test temp dir and
// returns its path.
func WriteZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for entry, body := range files {
		w, err := zw.Create(entry)
		if err != nil {
			t.Fatalf("zip entry %s: %v", entry, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", entry, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}
