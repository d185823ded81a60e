// Package telemetry keeps bounded per-tick sample histories and computes the
// aggregate statistics consumed by external tuning tools.
package telemetry

import "gonum.org/v1/gonum/stat"

// DefaultCapacity is the number of samples kept per history.
const DefaultCapacity = 500

// Ring is a bounded append-only history: once the capacity is exceeded the
// oldest sample is dropped.
type Ring struct {
	capacity int
	values   []float64
}

// NewRing creates a history bounded to the given capacity. Non-positive
// capacities fall back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		values:   make([]float64, 0, capacity),
	}
}

// Append adds a sample, dropping the oldest once the ring is full.
func (r *Ring) Append(v float64) {
	if len(r.values) >= r.capacity {
		copy(r.values, r.values[1:])
		r.values = r.values[:len(r.values)-1]
	}
	r.values = append(r.values, v)
}

// Len returns the number of stored samples.
func (r *Ring) Len() int { return len(r.values) }

// Last returns the most recent sample, or false when the ring is empty.
func (r *Ring) Last() (float64, bool) {
	if len(r.values) == 0 {
		return 0, false
	}
	return r.values[len(r.values)-1], true
}

// Values returns a copy of the stored samples in insertion order.
func (r *Ring) Values() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Reset drops all samples.
func (r *Ring) Reset() {
	r.values = r.values[:0]
}

// Stats summarizes a sample history.
type Stats struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
}

// Stats computes the mean, variance, and standard deviation of the stored
// samples. An empty ring yields zero stats.
func (r *Ring) Stats() Stats {
	if len(r.values) == 0 {
		return Stats{}
	}
	mean := stat.Mean(r.values, nil)
	var variance, stddev float64
	if len(r.values) > 1 {
		variance = stat.Variance(r.values, nil)
		stddev = stat.StdDev(r.values, nil)
	}
	return Stats{
		Count:    len(r.values),
		Mean:     mean,
		Variance: variance,
		StdDev:   stddev,
	}
}

// Deltas returns the consecutive differences of the stored samples, the
// discrete derivative external tuning tools read. A ring with fewer than two
// samples yields an empty slice.
func (r *Ring) Deltas() []float64 {
	if len(r.values) < 2 {
		return nil
	}
	out := make([]float64, len(r.values)-1)
	for i := 1; i < len(r.values); i++ {
		out[i-1] = r.values[i] - r.values[i-1]
	}
	return out
}
