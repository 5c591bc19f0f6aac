package export

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/transit-data-tools/transitperf/aggregator"
	"github.com/transit-data-tools/transitperf/quality"
)

// Publisher pushes run results to NATS for downstream dashboards.
// Optional: a nil *Publisher is a no-op on every method, so callers need
// no branching when publishing is disabled.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects to url. prefix heads every subject
// (prefix.aggregates.<route>, prefix.quality).
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transitperf"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("export: connect nats %s: %w", url, err)
	}
	if prefix == "" {
		prefix = "transitperf"
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Close drains pending messages before closing.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}

// PublishAggregates publishes each summary row on a per-route subject.
func (p *Publisher) PublishAggregates(runID string, rows []aggregator.Row) error {
	if p == nil {
		return nil
	}
	for _, r := range rows {
		route := r.RouteID
		if route == "" {
			route = "system"
		}
		subject := fmt.Sprintf("%s.aggregates.%s", p.prefix, subjectToken(route))
		msg := struct {
			RunID string `json:"run_id"`
			aggregator.Row
		}{RunID: runID, Row: r}
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := p.nc.Publish(subject, b); err != nil {
			return fmt.Errorf("export: publish %s: %w", subject, err)
		}
	}
	return p.nc.Flush()
}

// PublishQualityReport publishes the final data-quality report.
func (p *Publisher) PublishQualityReport(runID string, rep quality.Report) error {
	if p == nil {
		return nil
	}
	msg := struct {
		RunID string `json:"run_id"`
		quality.Report
	}{RunID: runID, Report: rep}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := p.prefix + ".quality"
	if err := p.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("export: publish %s: %w", subject, err)
	}
	return p.nc.Flush()
}

// subjectToken sanitizes an id for use as a NATS subject token.
func subjectToken(s string) string {
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(strings.TrimSpace(s))
	if s == "" {
		s = "_"
	}
	return s
}
