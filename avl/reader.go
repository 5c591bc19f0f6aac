package avl

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/transit-data-tools/transitperf/quality"
)

// Column names accepted in raw AVL/APC CSV exports. Matching is
// case-insensitive; the first listed alias wins when several are present.
var rawColumns = map[string][]string{
	"vehicle":   {"vehicle_id", "vehicle", "veh"},
	"route":     {"route_id", "route", "line"},
	"direction": {"direction_id", "direction", "dir"},
	"trip":      {"trip_id", "trip"},
	"stop":      {"stop_id", "stop"},
	"arrival":   {"arrival_time", "arrival", "arr_time"},
	"departure": {"departure_time", "departure", "dep_time"},
	"ons":       {"boardings", "ons", "on"},
	"offs":      {"alightings", "offs", "off"},
	"load":      {"load", "load_dep", "passengers"},
	"capacity":  {"capacity", "veh_capacity"},
	"lat":       {"lat", "latitude"},
	"lon":       {"lon", "lng", "longitude"},
}

// ReadFile reads a raw vehicle-event CSV export into RawEvent values.
// Malformed rows are counted on warn and skipped, never fatal; only an
// unreadable file or a header with no usable columns aborts.
func ReadFile(path string, warn *quality.Collector) ([]RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	return Read(f, path, warn)
}

// Read parses CSV rows from r. name labels the source in SourceRef values
// and diagnostics.
func Read(r io.Reader, name string, warn *quality.Collector) ([]RawEvent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows are validated per field, not per width

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	cols := makeColumnIndex(header)
	if _, ok := cols["vehicle"]; !ok {
		return nil, fmt.Errorf("%s: no vehicle column in header", name)
	}
	if _, ok := cols["route"]; !ok {
		return nil, fmt.Errorf("%s: no route column in header", name)
	}

	field := func(row []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []RawEvent
	line := 1
	for {
		line++
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		ref := fmt.Sprintf("%s:%d", name, line)
		if err != nil {
			if warn != nil {
				warn.Add(quality.ReasonMalformedRow, ref)
			}
			continue
		}
		out = append(out, RawEvent{
			VehicleID:     field(row, "vehicle"),
			RouteID:       field(row, "route"),
			Direction:     field(row, "direction"),
			TripID:        field(row, "trip"),
			StopID:        field(row, "stop"),
			ArrivalTime:   field(row, "arrival"),
			DepartureTime: field(row, "departure"),
			Boardings:     field(row, "ons"),
			Alightings:    field(row, "offs"),
			Load:          field(row, "load"),
			Capacity:      field(row, "capacity"),
			Lat:           field(row, "lat"),
			Lon:           field(row, "lon"),
			SourceRef:     ref,
		})
	}
	return out, nil
}

// makeColumnIndex resolves header names to canonical column keys. The
// first header matching an alias claims the key.
func makeColumnIndex(header []string) map[string]int {
	cols := map[string]int{}
	for key, aliases := range rawColumns {
		for _, alias := range aliases {
			for i, h := range header {
				h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
				if strings.EqualFold(h, alias) {
					cols[key] = i
					break
				}
			}
			if _, ok := cols[key]; ok {
				break
			}
		}
	}
	return cols
}
