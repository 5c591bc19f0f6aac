package quality

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Reason code constants
const (
	// Normalization
	ReasonMissingField        = "missing_field"
	ReasonUnparseableTime     = "unparseable_time"
	ReasonImpossibleCoord     = "impossible_coordinate"
	ReasonNegativeCount       = "negative_count"
	ReasonCapacityExceeded    = "capacity_exceeded"
	ReasonTimeInversion       = "time_inversion"
	ReasonDuplicateEvent      = "duplicate_event"
	ReasonUnknownRoute        = "unknown_route"
	ReasonMalformedRow        = "malformed_row"
	ReasonStopMissingCoord    = "stop_missing_coordinates"

	// Schedule loading
	ReasonTripNoStopTimes = "trip_no_stop_times"
	ReasonUntimedStop     = "untimed_stop"

	// Matching
	ReasonNoCandidate        = "no-candidate"
	ReasonBelowThreshold     = "below-threshold"
	ReasonScheduleExhausted  = "schedule-exhausted"
	ReasonUnmatchedScheduled = "unmatched_scheduled_stop"
	ReasonTripCoverageGap    = "trip_coverage_gap"

	// Measures
	ReasonNegativeLoad    = "negative_load"
	ReasonNegativeRunTime = "negative_running_time"

	// Aggregation
	ReasonLowSampleGroup = "low_sample_group"
)

const maxExamples = 3

// reasonInfo holds aggregated information about a specific reason code
type reasonInfo struct {
	count    int
	examples []string
}

// Collector accumulates data-quality flags and outputs consolidated
// summaries. It is not safe for concurrent use; give each pipeline worker
// its own Collector and Merge them in a fixed order so example selection
// stays deterministic.
type Collector struct {
	reasons map[string]*reasonInfo
}

// NewCollector creates a new empty collector
func NewCollector() *Collector {
	return &Collector{
		reasons: make(map[string]*reasonInfo),
	}
}

// Add records one occurrence of a reason with an example identifier
func (c *Collector) Add(reason, exampleID string) {
	if c.reasons[reason] == nil {
		c.reasons[reason] = &reasonInfo{
			examples: make([]string, 0, maxExamples),
		}
	}

	info := c.reasons[reason]
	info.count++

	if len(info.examples) < maxExamples {
		info.examples = append(info.examples, exampleID)
	}
}

// Count returns the number of occurrences recorded for a reason
func (c *Collector) Count(reason string) int {
	if info, ok := c.reasons[reason]; ok {
		return info.count
	}
	return 0
}

// Total returns the number of occurrences across all reasons
func (c *Collector) Total() int {
	n := 0
	for _, info := range c.reasons {
		n += info.count
	}
	return n
}

// Merge folds another collector's counts and examples into this one.
// Examples beyond the cap are discarded in merge order.
func (c *Collector) Merge(other *Collector) {
	if other == nil {
		return
	}
	for _, reason := range other.reasonKeys() {
		info := other.reasons[reason]
		if c.reasons[reason] == nil {
			c.reasons[reason] = &reasonInfo{
				examples: make([]string, 0, maxExamples),
			}
		}
		dst := c.reasons[reason]
		dst.count += info.count
		for _, ex := range info.examples {
			if len(dst.examples) >= maxExamples {
				break
			}
			dst.examples = append(dst.examples, ex)
		}
	}
}

// Entry is one row of the final data-quality report
type Entry struct {
	Reason   string   `json:"reason"`
	Count    int      `json:"count"`
	Examples []string `json:"examples,omitempty"`
}

// Report is the consolidated data-quality output for one run
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries"`
}

// Report materializes the collected flags, sorted by reason code
func (c *Collector) Report() Report {
	entries := make([]Entry, 0, len(c.reasons))
	for _, reason := range c.reasonKeys() {
		info := c.reasons[reason]
		entries = append(entries, Entry{
			Reason:   reason,
			Count:    info.count,
			Examples: append([]string(nil), info.examples...),
		})
	}
	return Report{GeneratedAt: time.Now().UTC(), Entries: entries}
}

// LogAll outputs all collected flags in consolidated format
func (c *Collector) LogAll(runLabel string) {
	if len(c.reasons) == 0 {
		return
	}

	for _, reason := range c.reasonKeys() {
		info := c.reasons[reason]
		log.Printf("%s", c.formatMessage(reason, runLabel, info))
	}
}

func (c *Collector) reasonKeys() []string {
	keys := make([]string, 0, len(c.reasons))
	for k := range c.reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatMessage creates a human-readable summary line
func (c *Collector) formatMessage(reason, runLabel string, info *reasonInfo) string {
	description, action := Describe(reason)

	examplesStr := strings.Join(info.examples, ", ")

	return fmt.Sprintf("Run %s has %s (%d occurrences). %s. Examples: %s",
		runLabel, description, info.count, action, examplesStr)
}

// Describe returns the human-readable description and handling note for a
// reason code.
func Describe(reason string) (description, action string) {
	switch reason {
	case ReasonMissingField:
		return "events missing a required field", "Event excluded from matching, retained in report"
	case ReasonUnparseableTime:
		return "events with unparseable timestamps", "Event excluded from matching, retained in report"
	case ReasonImpossibleCoord:
		return "events with coordinates off the globe", "Position cleared, event matched on time only"
	case ReasonNegativeCount:
		return "events with negative passenger counts", "Counts cleared, event flagged"
	case ReasonCapacityExceeded:
		return "events with passenger counts above vehicle capacity", "Counts kept, event flagged"
	case ReasonTimeInversion:
		return "events with departure before arrival", "Times kept, event flagged"
	case ReasonDuplicateEvent:
		return "duplicate raw pings", "Kept first occurrence, suppressed the rest"
	case ReasonUnknownRoute:
		return "events on routes absent from the schedule", "Event excluded from matching, retained in report"
	case ReasonMalformedRow:
		return "unreadable raw input rows", "Row skipped"
	case ReasonStopMissingCoord:
		return "scheduled stops with no coordinates", "Spatial scoring disabled for these stops"
	case ReasonTripNoStopTimes:
		return "active trips with no stop times in the feed", "Trip skipped for the service date"
	case ReasonUntimedStop:
		return "scheduled stops with neither arrival nor departure time", "Stop time skipped"
	case ReasonNoCandidate:
		return "observations with no schedule candidate in tolerance", "Reported unmatched"
	case ReasonBelowThreshold:
		return "observations whose best candidate scored below the confidence threshold", "Reported unmatched"
	case ReasonScheduleExhausted:
		return "observations whose candidates were all claimed by earlier observations", "Reported unmatched"
	case ReasonUnmatchedScheduled:
		return "scheduled stop times with no observation", "Counted toward coverage"
	case ReasonTripCoverageGap:
		return "partitions where scheduled trips had no matched observation", "Partition flagged; summaries cover observed trips only"
	case ReasonNegativeLoad:
		return "stop visits where passenger load went negative before clipping", "Load clipped to zero, visit flagged"
	case ReasonNegativeRunTime:
		return "stop visits with negative running time", "Running time clipped to zero, visit flagged"
	case ReasonLowSampleGroup:
		return "aggregate groups below the minimum sample count", "Group flagged low-confidence, not suppressed"
	default:
		return "an unrecognized irregularity", "Recorded without special handling"
	}
}
