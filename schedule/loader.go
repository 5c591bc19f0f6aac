package schedule

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/utils"
)

// LoaderOptions adjusts GTFS zip loading.
type LoaderOptions struct {
	// TimezoneOverride replaces the agency timezone from the feed.
	TimezoneOverride string
	// VersionOverride replaces the feed_version (or zip name) used as the
	// schedule version.
	VersionOverride string
}

// LoadZip reads a GTFS zip and materializes an Index holding the
// scheduled stop times of the requested service dates. Calendar plus
// calendar-date exceptions select the trips active on each date; GTFS
// clock values past 24:00:00 land on the following calendar day but keep
// their service date.
func LoadZip(path string, dates []ServiceDate, opts LoaderOptions, warn *quality.Collector) (*Index, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("no service dates requested")
	}
	f := newFeedTables()
	if err := f.loadFromLocalZip(path); err != nil {
		return nil, fmt.Errorf("read gtfs zip %s: %w", path, err)
	}
	if len(f.calendar) == 0 && len(f.calendarAdd) == 0 {
		return nil, fmt.Errorf("gtfs zip %s has neither calendar.txt nor calendar_dates.txt", path)
	}

	tz := f.agencyTZ
	if opts.TimezoneOverride != "" {
		tz = opts.TimezoneOverride
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("resolve feed timezone %q: %w", tz, err)
	}

	version := opts.VersionOverride
	if version == "" {
		version = f.feedVersion
	}
	if version == "" {
		version = filepath.Base(path)
	}

	records, err := f.materialize(dates, loc, warn)
	if err != nil {
		return nil, err
	}

	idx, err := NewIndex(records, version, tz, warn)
	if err != nil {
		return nil, err
	}
	idx.StopNames = f.stopNames
	idx.RouteNames = f.routeNames
	return idx, nil
}

type feedTrip struct {
	routeID   string
	direction string
	serviceID string
}

type feedStopTime struct {
	stopID string
	seq    int
	arrSec int
	depSec int
}

type feedCalendar struct {
	weekdays [7]bool // indexed by time.Weekday
	start    ServiceDate
	end      ServiceDate
}

type feedTables struct {
	agencyTZ    string
	feedVersion string

	routeNames  map[string]string
	trips       map[string]feedTrip
	stopNames   map[string]string
	stopCoords  map[string][2]float64
	stopTimes   map[string][]feedStopTime
	calendar    map[string]feedCalendar
	calendarAdd map[string]map[ServiceDate]bool
	calendarDel map[string]map[ServiceDate]bool
}

func newFeedTables() *feedTables {
	return &feedTables{
		routeNames:  map[string]string{},
		trips:       map[string]feedTrip{},
		stopNames:   map[string]string{},
		stopCoords:  map[string][2]float64{},
		stopTimes:   map[string][]feedStopTime{},
		calendar:    map[string]feedCalendar{},
		calendarAdd: map[string]map[ServiceDate]bool{},
		calendarDel: map[string]map[ServiceDate]bool{},
	}
}

// loadFromLocalZip opens a local GTFS zip file and consumes required CSVs.
func (f *feedTables) loadFromLocalZip(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, zf := range zr.File {
		name := strings.ToLower(zf.Name)
		switch name {
		case "agency.txt", "routes.txt", "trips.txt", "stops.txt",
			"stop_times.txt", "calendar.txt", "calendar_dates.txt", "feed_info.txt":
			if err := f.consumeCSV(zf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *feedTables) consumeCSV(zf *zip.File) error {
	r, err := zf.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	csvr := csv.NewReader(r)
	rec, err := csvr.ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", zf.Name, err)
	}
	if len(rec) == 0 {
		return nil
	}
	head := rec[0]
	idx := func(col string) int {
		for i, h := range head {
			// strip UTF-8 BOM some feeds carry on the first header
			h = strings.TrimPrefix(h, "\ufeff")
			if strings.EqualFold(h, col) {
				return i
			}
		}
		return -1
	}
	switch strings.ToLower(zf.Name) {
	case "agency.txt":
		agTZ := idx("agency_timezone")
		if len(rec) > 1 && agTZ >= 0 && f.agencyTZ == "" {
			f.agencyTZ = rec[1][agTZ]
		}
	case "feed_info.txt":
		ver := idx("feed_version")
		if len(rec) > 1 && ver >= 0 {
			f.feedVersion = rec[1][ver]
		}
	case "routes.txt":
		rID := idx("route_id")
		rSN := idx("route_short_name")
		if rID < 0 {
			return nil
		}
		for _, row := range rec[1:] {
			name := row[rID]
			if rSN >= 0 && row[rSN] != "" {
				name = row[rSN]
			}
			f.routeNames[row[rID]] = name
		}
	case "trips.txt":
		rID := idx("route_id")
		tID := idx("trip_id")
		svc := idx("service_id")
		dir := idx("direction_id")
		if rID < 0 || tID < 0 || svc < 0 {
			return nil
		}
		for _, row := range rec[1:] {
			direction := DirectionOutbound
			if dir >= 0 && row[dir] != "" {
				direction = row[dir]
			}
			f.trips[row[tID]] = feedTrip{
				routeID:   row[rID],
				direction: direction,
				serviceID: row[svc],
			}
		}
	case "stops.txt":
		sID := idx("stop_id")
		sN := idx("stop_name")
		sLat := idx("stop_lat")
		sLon := idx("stop_lon")
		if sID < 0 {
			return nil
		}
		for _, row := range rec[1:] {
			if sN >= 0 {
				f.stopNames[row[sID]] = row[sN]
			}
			if sLat >= 0 && sLon >= 0 && row[sLat] != "" && row[sLon] != "" {
				lat, errLat := strconv.ParseFloat(row[sLat], 64)
				lon, errLon := strconv.ParseFloat(row[sLon], 64)
				if errLat == nil && errLon == nil {
					f.stopCoords[row[sID]] = [2]float64{lat, lon}
				}
			}
		}
	case "stop_times.txt":
		tID := idx("trip_id")
		sID := idx("stop_id")
		sq := idx("stop_sequence")
		arrTime := idx("arrival_time")
		depTime := idx("departure_time")
		if tID < 0 || sID < 0 || sq < 0 {
			return nil
		}
		for _, row := range rec[1:] {
			seq, err := strconv.Atoi(row[sq])
			if err != nil {
				continue
			}
			arr := ""
			if arrTime >= 0 {
				arr = row[arrTime]
			}
			dep := ""
			if depTime >= 0 {
				dep = row[depTime]
			}
			f.stopTimes[row[tID]] = append(f.stopTimes[row[tID]], feedStopTime{
				stopID: row[sID],
				seq:    seq,
				arrSec: rawClock(arr),
				depSec: rawClock(dep),
			})
		}
	case "calendar.txt":
		svc := idx("service_id")
		if svc < 0 {
			return nil
		}
		days := []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
		dayIdx := make([]int, len(days))
		for i, d := range days {
			dayIdx[i] = idx(d)
		}
		startIdx := idx("start_date")
		endIdx := idx("end_date")
		for _, row := range rec[1:] {
			var cal feedCalendar
			for i, di := range dayIdx {
				if di >= 0 && row[di] == "1" {
					cal.weekdays[i] = true
				}
			}
			if startIdx >= 0 {
				cal.start, _ = parseGTFSDate(row[startIdx])
			}
			if endIdx >= 0 {
				cal.end, _ = parseGTFSDate(row[endIdx])
			}
			f.calendar[row[svc]] = cal
		}
	case "calendar_dates.txt":
		svc := idx("service_id")
		dateIdx := idx("date")
		exc := idx("exception_type")
		if svc < 0 || dateIdx < 0 || exc < 0 {
			return nil
		}
		for _, row := range rec[1:] {
			d, err := parseGTFSDate(row[dateIdx])
			if err != nil {
				continue
			}
			switch row[exc] {
			case "1":
				if f.calendarAdd[row[svc]] == nil {
					f.calendarAdd[row[svc]] = map[ServiceDate]bool{}
				}
				f.calendarAdd[row[svc]][d] = true
			case "2":
				if f.calendarDel[row[svc]] == nil {
					f.calendarDel[row[svc]] = map[ServiceDate]bool{}
				}
				f.calendarDel[row[svc]][d] = true
			}
		}
	}
	return nil
}

// rawClock keeps the unparsed seconds value; -1 marks a blank or
// malformed clock so materialize can decide per row.
func rawClock(s string) int {
	if strings.TrimSpace(s) == "" {
		return -1
	}
	sec, err := utils.ParseDaySeconds(s)
	if err != nil {
		return -1
	}
	return sec
}

func parseGTFSDate(s string) (ServiceDate, error) {
	t, err := time.Parse("20060102", strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid gtfs date %q: %w", s, err)
	}
	return MakeServiceDate(t), nil
}

// activeServices returns the service ids running on a date.
func (f *feedTables) activeServices(date ServiceDate) map[string]bool {
	out := map[string]bool{}
	wd := int(date.Weekday())
	for sid, cal := range f.calendar {
		if cal.start != "" && date < cal.start {
			continue
		}
		if cal.end != "" && date > cal.end {
			continue
		}
		if cal.weekdays[wd] {
			out[sid] = true
		}
	}
	for sid, dates := range f.calendarAdd {
		if dates[date] {
			out[sid] = true
		}
	}
	for sid, dates := range f.calendarDel {
		if dates[date] {
			delete(out, sid)
		}
	}
	return out
}

// materialize expands the feed into concrete ScheduledStopTime records
// for the requested dates. Stop times naming a trip the feed never
// declared, and trips naming an unknown route, are structural defects.
func (f *feedTables) materialize(dates []ServiceDate, loc *time.Location, warn *quality.Collector) ([]ScheduledStopTime, error) {
	for tripID := range f.stopTimes {
		if _, ok := f.trips[tripID]; !ok {
			return nil, &InconsistencyError{TripID: tripID, Reason: "stop times reference an undeclared trip"}
		}
	}
	for tripID, tr := range f.trips {
		if _, ok := f.routeNames[tr.routeID]; !ok {
			return nil, &InconsistencyError{TripID: tripID, Reason: fmt.Sprintf("dangling route reference %q", tr.routeID)}
		}
	}

	tripIDs := make([]string, 0, len(f.trips))
	for tripID := range f.trips {
		tripIDs = append(tripIDs, tripID)
	}
	sort.Strings(tripIDs)

	var records []ScheduledStopTime
	for _, date := range dates {
		active := f.activeServices(date)
		for _, tripID := range tripIDs {
			tr := f.trips[tripID]
			if !active[tr.serviceID] {
				continue
			}
			rows := f.stopTimes[tripID]
			if len(rows) == 0 {
				if warn != nil {
					warn.Add(quality.ReasonTripNoStopTimes, tripID)
				}
				continue
			}
			sorted := append([]feedStopTime(nil), rows...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })
			for _, row := range sorted {
				arrSec, depSec := row.arrSec, row.depSec
				// GTFS allows one side blank at timed stops
				if arrSec < 0 {
					arrSec = depSec
				}
				if depSec < 0 {
					depSec = arrSec
				}
				if arrSec < 0 {
					if warn != nil {
						warn.Add(quality.ReasonUntimedStop, tripID+"/"+row.stopID)
					}
					continue
				}
				rec := ScheduledStopTime{
					RouteID:      tr.routeID,
					Direction:    tr.direction,
					TripID:       tripID,
					StopID:       row.stopID,
					StopSequence: row.seq,
					ServiceDate:  date,
					Arrival:      date.At(arrSec, loc),
					Departure:    date.At(depSec, loc),
				}
				if c, ok := f.stopCoords[row.stopID]; ok {
					rec.Lat, rec.Lon, rec.HasCoord = c[0], c[1], true
				}
				records = append(records, rec)
			}
		}
	}
	return records, nil
}
