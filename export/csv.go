package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/measures"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/utils"
)

// WriteVisitsCSV writes per-visit measures as one CSV row per stop
// visit. Undefined measures (running time at a trip's first stop,
// headway for the day's first vehicle) are left empty rather than zero.
func WriteVisitsCSV(path string, visits []measures.StopVisit) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"service_date", "route_id", "direction", "trip_id", "stop_id",
		"stop_sequence", "vehicle_id", "sched_arrival", "obs_arrival",
		"arrival_dev_sec", "departure_dev_sec", "on_time", "running_sec",
		"dwell_sec", "headway_sec", "speed_kmh", "speed_mph", "load",
		"vc_ratio", "confidence", "method", "flags",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for i := range visits {
		v := &visits[i]
		row := []string{
			string(v.ServiceDate), v.RouteID, v.Direction, v.TripID, v.StopID,
			strconv.Itoa(v.StopSequence), v.VehicleID,
			v.ScheduledArrival.Format(time.RFC3339),
			v.ObservedArrival.Format(time.RFC3339),
			formatFloat(v.ArrivalDeviation.Seconds()),
			formatFloat(v.DepartureDeviation.Seconds()),
			strconv.FormatBool(v.OnTime),
			optionalFloat(v.Running.Seconds(), v.HasRunning),
			formatFloat(v.Dwell.Seconds()),
			optionalFloat(v.Headway.Seconds(), v.HasHeadway),
			optionalFloat(v.SpeedKMH, v.HasSpeed),
			optionalFloat(v.SpeedKMH*utils.MilesPerKilometer, v.HasSpeed),
			strconv.Itoa(v.Load),
			formatFloat(v.VCRatio),
			formatFloat(v.Confidence),
			v.Method,
			strings.Join(v.Flags, ";"),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteAggregatesCSV writes summary rows.
func WriteAggregatesCSV(path string, rows []aggregator.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"schedule_version", "route_id", "direction", "stop_id", "day_type",
		"time_bucket", "metric", "mean", "median", "p_low", "p_high",
		"stddev", "count", "low_sample",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{
			r.ScheduleVersion, r.RouteID, r.Direction, r.StopID, r.DayType,
			r.TimeBucket, r.Metric,
			formatFloat(r.Mean), formatFloat(r.Median),
			formatFloat(r.PercentileLow), formatFloat(r.PercentileHigh),
			formatFloat(r.StdDev), strconv.Itoa(r.Count),
			strconv.FormatBool(r.LowSample),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteQualityCSV writes the data-quality report.
func WriteQualityCSV(path string, rep quality.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"reason", "count", "examples"}); err != nil {
		return err
	}
	for _, e := range rep.Entries {
		if err := w.Write([]string{e.Reason, strconv.Itoa(e.Count), strings.Join(e.Examples, ";")}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func optionalFloat(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return formatFloat(v)
}
