// Package server serves stored run results over HTTP: run listing,
// aggregate queries filtered by route/metric/day-type, and quality
// report retrieval.
package server
