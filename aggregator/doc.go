/*
Package aggregator rolls per-visit measures into summary statistics per
(route, stop, day-type, time-of-day, metric) group.

The state is map-then-reduce shaped: each pipeline partition fills its
own Aggregator and the partials Merge exactly afterwards, so aggregating
a dataset in one pass or in disjoint chunks yields the same rows. Mean
and standard deviation come from merged Welford states; median and
percentile bands come from the merged raw samples, which keeps them
exact rather than approximated.

Groups under the minimum sample count are flagged low-confidence, never
suppressed, and mixing schedule versions in one aggregate is an error.
*/
package aggregator
