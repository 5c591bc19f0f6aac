// Package export hands pipeline output to downstream consumers: CSV
// tables for per-visit measures, aggregates, and the quality report,
// plus an optional NATS publisher feeding dashboards.
package export
