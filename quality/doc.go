// Package quality collects data-quality flags raised while a batch run
// moves through normalization, matching, measurement, and aggregation.
//
// Irregular records are never dropped silently and never logged one line
// at a time. Each stage records a reason code plus an example identifier
// on a Collector; the pipeline merges per-partition collectors in a fixed
// order and renders one consolidated Report that travels with the run's
// output tables.
package quality
