/*
Package measures derives per-stop-visit performance measures from
matched schedule/observation pairs: adherence, running time, dwell,
headway, running speed, passenger load, and the passenger-weighted
quantities the aggregator rolls up.

Every measure stays inside one (service date, route, direction)
partition. Anomalies found during calculation (negative running time,
negative reconstructed load) are clipped and flagged, never raised as
errors.
*/
package measures
