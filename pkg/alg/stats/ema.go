package stats

import "time"

// EMA computes an exponential moving average with a fixed smoothing factor.
type EMA struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewEMA creates an EMA with the given smoothing factor alpha in (0, 1].
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

// Update feeds a new observation and returns the updated average.
// The first call initializes the EMA to the observation value.
func (e *EMA) Update(v float64) float64 {
	if !e.initialized {
		e.value = v
		e.initialized = true

		return e.value
	}

	e.value = e.alpha*v + (1-e.alpha)*e.value

	return e.value
}

// Value returns the current EMA value (0 before any Update).
func (e *EMA) Value() float64 {
	return e.value
}

// Initialized reports whether Update has been called at least once.
func (e *EMA) Initialized() bool {
	return e.initialized
}

// Remaining estimates the time left for the given number of outstanding
// units when the EMA tracks per-unit durations in seconds.
func (e *EMA) Remaining(units int) time.Duration {
	if !e.initialized || units <= 0 {
		return 0
	}

	return time.Duration(e.value * float64(units) * float64(time.Second))
}
