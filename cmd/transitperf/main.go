package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transit-data-tools/transitperf/avl"
	"github.com/transit-data-tools/transitperf/config"
	"github.com/transit-data-tools/transitperf/export"
	"github.com/transit-data-tools/transitperf/internal"
	"github.com/transit-data-tools/transitperf/pipeline"
	"github.com/transit-data-tools/transitperf/quality"
	"github.com/transit-data-tools/transitperf/report"
	"github.com/transit-data-tools/transitperf/schedule"
	"github.com/transit-data-tools/transitperf/store"
)

func main() {
	configPath := flag.String("config", "config.yml", "configuration file")
	gtfsPath := flag.String("gtfs", "", "GTFS schedule zip (required)")
	eventsPath := flag.String("events", "", "raw AVL/APC events CSV (required)")
	datesFlag := flag.String("dates", "", "comma-separated service dates YYYY-MM-DD (required)")
	outDir := flag.String("out", "", "output directory (overrides config)")
	flag.Parse()

	internal.InitLogging()

	if *gtfsPath == "" || *eventsPath == "" || *datesFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *outDir != "" {
		cfg.Pipeline.OutputDir = *outDir
	}

	dates, err := parseDates(*datesFlag)
	if err != nil {
		log.Fatalf("invalid -dates: %v", err)
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	warn := quality.NewCollector()

	idx, err := loadIndex(cfg, *gtfsPath, dates, warn)
	if err != nil {
		log.Fatalf("load schedule: %v", err)
	}
	log.Printf("schedule version %s: %d stop times across %d dates (%s)",
		idx.Version, idx.Len(), len(idx.Dates), idx.Timezone)

	raws, err := avl.ReadFile(*eventsPath, warn)
	if err != nil {
		log.Fatalf("read events: %v", err)
	}

	loc := idx.Location()
	if cfg.Normalization.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Normalization.Timezone)
		if err != nil {
			log.Fatalf("resolve normalization timezone: %v", err)
		}
	}
	norm := avl.NewNormalizer(loc, avl.NormalizerOptions{
		CutoffHour:        cfg.Normalization.ServiceDayCutoffHour,
		MaxPassengerCount: cfg.Normalization.MaxPassengerCount,
		RouteAliases:      cfg.Normalization.RouteAliases,
	}, warn)
	normRes := norm.Normalize(raws)
	log.Printf("normalized %d events (%d rejected)", len(normRes.Events), len(normRes.Rejected))

	metrics := pipeline.NewMetrics()
	metrics.EventsRejected.Add(float64(len(normRes.Rejected)))
	var metricsSrv *http.Server
	if cfg.Pipeline.MetricsAddr != "" {
		metricsSrv = metrics.Serve(cfg.Pipeline.MetricsAddr)
	}

	pl, err := pipeline.New(cfg, idx, metrics)
	if err != nil {
		log.Fatalf("%v", err)
	}
	result, err := pl.Run(context.Background(), normRes.Events, warn)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	finishedAt := time.Now()
	log.Printf("run %s: %d matched, %d unmatched, %d aggregate rows in %s",
		runID, result.MatchedCount, result.UnmatchedCount,
		len(result.Aggregates), finishedAt.Sub(startedAt).Round(time.Millisecond))

	if err := writeOutputs(cfg, result); err != nil {
		log.Fatalf("write outputs: %v", err)
	}

	run := &store.Run{
		ID:              runID,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		ScheduleVersion: result.ScheduleVersion,
		ConfigDigest:    cfg.Digest(),
		EventCount:      result.EventCount,
		MatchedCount:    result.MatchedCount,
		UnmatchedCount:  result.UnmatchedCount,
	}
	if err := persist(cfg, run, result); err != nil {
		log.Fatalf("persist run: %v", err)
	}
	if err := publish(cfg, runID, result); err != nil {
		// Publishing is best-effort; results are already on disk and in
		// the store.
		log.Printf("nats publish failed: %v", err)
	}

	warn.LogAll(runID)
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func parseDates(s string) ([]schedule.ServiceDate, error) {
	var dates []schedule.ServiceDate
	for _, part := range strings.Split(s, ",") {
		d, err := schedule.ParseServiceDate(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// loadIndex reads the schedule from the gob cache when it covers the
// requested dates, falling back to a fresh GTFS parse.
func loadIndex(cfg config.AppConfig, gtfsPath string, dates []schedule.ServiceDate, warn *quality.Collector) (*schedule.Index, error) {
	cache := cfg.Schedule.CachePath
	if cache != "" {
		if idx, err := schedule.DeserializeIndexFromFile(cache); err == nil && coversDates(idx, dates) {
			log.Printf("schedule loaded from cache %s", cache)
			return idx, nil
		}
	}
	idx, err := schedule.LoadZip(gtfsPath, dates, schedule.LoaderOptions{
		TimezoneOverride: cfg.Schedule.TimezoneOverride,
		VersionOverride:  cfg.Schedule.VersionOverride,
	}, warn)
	if err != nil {
		return nil, err
	}
	if cache != "" {
		if err := schedule.SerializeIndexToFile(idx, cache); err != nil {
			log.Printf("schedule cache write failed: %v", err)
		}
	}
	return idx, nil
}

func coversDates(idx *schedule.Index, dates []schedule.ServiceDate) bool {
	have := map[schedule.ServiceDate]bool{}
	for _, d := range idx.Dates {
		have[d] = true
	}
	for _, d := range dates {
		if !have[d] {
			return false
		}
	}
	return true
}

func writeOutputs(cfg config.AppConfig, result *pipeline.Result) error {
	dir := cfg.Pipeline.OutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := export.WriteVisitsCSV(filepath.Join(dir, "stop_visits.csv"), result.Visits); err != nil {
		return err
	}
	if err := export.WriteAggregatesCSV(filepath.Join(dir, "aggregates.csv"), result.Aggregates); err != nil {
		return err
	}
	if err := export.WriteQualityCSV(filepath.Join(dir, "quality.csv"), result.Report); err != nil {
		return err
	}
	if cfg.Pipeline.Charts {
		if err := report.RenderRouteCharts(filepath.Join(dir, "charts"), result.Visits); err != nil {
			return err
		}
	}
	return nil
}

func persist(cfg config.AppConfig, run *store.Run, result *pipeline.Result) error {
	st, err := store.Open(cfg.Store.Backend, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return st.SaveRun(ctx, run, result.Visits, result.Aggregates, result.Report)
}

func publish(cfg config.AppConfig, runID string, result *pipeline.Result) error {
	if cfg.NATS.URL == "" {
		return nil
	}
	pub, err := export.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		return err
	}
	defer pub.Close()

	if err := pub.PublishAggregates(runID, result.Aggregates); err != nil {
		return err
	}
	return pub.PublishQualityReport(runID, result.Report)
}
