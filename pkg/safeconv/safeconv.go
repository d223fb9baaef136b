// Package safeconv provides integer conversions that panic on overflow.
// Use them only where the value has already been range-checked.
package safeconv

import "math"

// MustInt64ToUint64 converts int64 to uint64, panics if negative.
func MustInt64ToUint64(v int64) uint64 {
	if v < 0 {
		panic("safeconv: negative int64 to uint64 conversion")
	}

	return uint64(v)
}

// MustUint64ToInt64 converts uint64 to int64, panics on overflow.
func MustUint64ToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		panic("safeconv: uint64 to int64 overflow")
	}

	return int64(v)
}

// MustUint64ToInt converts uint64 to int, panics on overflow.
func MustUint64ToInt(v uint64) int {
	if v > uint64(math.MaxInt) {
		panic("safeconv: uint64 to int overflow")
	}

	return int(v)
}
