package aggregator

import "math"

// Welford holds running statistics using Welford's online algorithm, so
// mean and variance accumulate in O(1) space without keeping every
// observation in the state.
// Reference: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
type Welford struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared differences from the mean
}

// Update adds one observation.
func (w *Welford) Update(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Merge folds another state into this one using the parallel variance
// combination (Chan et al.), so partial aggregates from independently
// processed partitions combine exactly.
func (w *Welford) Merge(o Welford) {
	if o.Count == 0 {
		return
	}
	if w.Count == 0 {
		*w = o
		return
	}
	n := float64(w.Count + o.Count)
	delta := o.Mean - w.Mean
	w.Mean += delta * float64(o.Count) / n
	w.M2 += o.M2 + delta*delta*float64(w.Count)*float64(o.Count)/n
	w.Count += o.Count
}

// StdDev returns the population standard deviation, 0 with fewer than
// two observations.
func (w *Welford) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
