/*
Package schedule provides planned-service loading and indexing.

The package turns scheduled stop times for a service period into an
immutable in-memory Index queryable by (service date, route, direction)
group, stop, and approximate time. The Matcher asks the Index for
candidate scheduled stop times inside a tolerance window; everything else
downstream treats index records as read-only.

# Basic Usage

Build an index from records produced by any source:

	idx, err := schedule.NewIndex(records, "2025-08", "America/Chicago", nil)
	if err != nil {
	    log.Fatal(err)
	}
	cands := idx.Candidates(group, "stop_42", obsTime, 20*time.Minute)

Or load directly from a GTFS zip for a set of service dates:

	idx, err := schedule.LoadZip("gtfs.zip", dates, schedule.LoaderOptions{}, warnings)

# Consistency

NewIndex fails with *InconsistencyError when stop sequences repeat or run
backwards within a trip, when times regress along a trip, or when records
dangle (no route, no trip, no stop). Structural defects abort the run;
they are never downgraded to data-quality flags.

# Caching

Parsing a large GTFS zip and materializing several service dates takes
seconds; the gob cache (SerializeIndexToFile / DeserializeIndexFromFile)
lets repeated runs over the same schedule version skip the parse.

# Concurrency

The Index never mutates after construction. Share one instance by
reference across concurrent matcher workers; no locking is required.
*/
package schedule
