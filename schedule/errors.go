package schedule

import "fmt"

// InconsistencyError reports a structural schedule defect that prevents
// indexing: duplicate or backwards stop sequences, time regressing along
// a trip, or records that dangle (stop times for a trip the feed never
// declared, trips pointing at unknown routes). Structural defects abort
// the run rather than becoming data-quality flags.
type InconsistencyError struct {
	TripID string
	Reason string
}

func (e *InconsistencyError) Error() string {
	if e.TripID == "" {
		return fmt.Sprintf("inconsistent schedule: %s", e.Reason)
	}
	return fmt.Sprintf("inconsistent schedule: trip %s: %s", e.TripID, e.Reason)
}
