/*
Package avl reads and normalizes raw AVL/APC vehicle-event records.

The reader is deliberately lenient: exports from counter hardware are
messy, so malformed rows are counted and skipped rather than failing the
run. The Normalizer converts surviving rows into canonical ObservedEvent
values: timestamps in the feed's timezone, service dates assigned with
the late-night cutoff, duplicate pings suppressed, and physically
impossible values flagged. Rejected events are retained alongside the
usable ones because the rejection rate is itself a performance measure.
*/
package avl
