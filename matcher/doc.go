/*
Package matcher reconciles observed vehicle events with scheduled stop
times.

For each event the matcher queries the schedule index for candidates on
the same (service date, route, direction) within a temporal tolerance
window, scores them by weighted temporal proximity, spatial proximity,
and trip-identifier agreement, and binds the best candidate above the
confidence threshold. A scheduled stop time binds at most one event per
service day; events whose candidates are all claimed, absent, or too
weak are retained unmatched with a reason code.

Ambiguity is never an error here: it shows up as lower confidence on the
MatchedRecord. Only structural problems (a nil index, an event handed to
the wrong partition, contradictory options) return errors.
*/
package matcher
