/*
Package pipeline orchestrates one batch run: it partitions normalized
events by (service date, route, direction), matches and measures each
partition on a bounded worker pool against the shared read-only schedule
index, and merges partial aggregates exactly in sorted partition order,
so the output never depends on worker interleaving.
*/
package pipeline
