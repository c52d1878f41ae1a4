package currmon

import "time"

// RingF64 is a fixed-capacity circular buffer of float64s.  Appends wrap
// around and overwrite the oldest values.  Not safe for concurrent use;
// the Monitor guards access.
type RingF64 struct {
	buf    []float64
	cursor int
	full   bool
}

// Init allocates the buffer with the given capacity
func (r *RingF64) Init(capacity int) {
	r.buf = make([]float64, capacity)
	r.cursor = 0
	r.full = false
}

// Append adds a value, overwriting the oldest when full
func (r *RingF64) Append(v float64) {
	r.buf[r.cursor] = v
	r.cursor++
	if r.cursor == len(r.buf) {
		r.cursor = 0
		r.full = true
	}
}

// Contiguous returns the stored values oldest first
func (r *RingF64) Contiguous() []float64 {
	if !r.full {
		out := make([]float64, r.cursor)
		copy(out, r.buf[:r.cursor])
		return out
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	out = append(out, r.buf[:r.cursor]...)
	return out
}

// Len returns the number of stored values
func (r *RingF64) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.cursor
}

// RingTime is RingF64 for timestamps
type RingTime struct {
	buf    []time.Time
	cursor int
	full   bool
}

// Init allocates the buffer with the given capacity
func (r *RingTime) Init(capacity int) {
	r.buf = make([]time.Time, capacity)
	r.cursor = 0
	r.full = false
}

// Append adds a value, overwriting the oldest when full
func (r *RingTime) Append(t time.Time) {
	r.buf[r.cursor] = t
	r.cursor++
	if r.cursor == len(r.buf) {
		r.cursor = 0
		r.full = true
	}
}

// Contiguous returns the stored values oldest first
func (r *RingTime) Contiguous() []time.Time {
	if !r.full {
		out := make([]time.Time, r.cursor)
		copy(out, r.buf[:r.cursor])
		return out
	}
	out := make([]time.Time, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	out = append(out, r.buf[:r.cursor]...)
	return out
}

// Len returns the number of stored values
func (r *RingTime) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.cursor
}
