package sampler

import (
	"math"
	"time"
)

// TickSample is one measured host tick.
type TickSample struct {
	Seq      uint64        `json:"seq"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// MSPT returns the sample duration in milliseconds.
func (t TickSample) MSPT() float64 {
	return float64(t.Duration) / float64(time.Millisecond)
}

// Window is a fixed-capacity ring of tick samples. It keeps running sums so
// that mean and deviation are O(1); min and max are rescanned only when the
// evicted sample held the extreme.
type Window struct {
	buf   []TickSample
	start int
	n     int
	sum   float64
	sumSq float64
	min   float64
	max   float64
}

// NewWindow returns an empty window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]TickSample, capacity)}
}

// Add appends s, evicting the oldest sample once the window is full.
func (w *Window) Add(s TickSample) {
	ms := s.MSPT()
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		w.sum += ms
		w.sumSq += ms * ms
		if w.n == 1 || ms < w.min {
			w.min = ms
		}
		if w.n == 1 || ms > w.max {
			w.max = ms
		}
		return
	}

	old := w.buf[w.start].MSPT()
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
	w.sum += ms - old
	w.sumSq += ms*ms - old*old
	if old <= w.min || old >= w.max {
		w.rescan()
		return
	}
	if ms < w.min {
		w.min = ms
	}
	if ms > w.max {
		w.max = ms
	}
}

func (w *Window) rescan() {
	w.min, w.max = math.Inf(1), math.Inf(-1)
	for i := 0; i < w.n; i++ {
		ms := w.at(i).MSPT()
		w.min = math.Min(w.min, ms)
		w.max = math.Max(w.max, ms)
	}
}

// at returns the i-th oldest sample.
func (w *Window) at(i int) TickSample {
	return w.buf[(w.start+i)%len(w.buf)]
}

// Len returns the number of samples held.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Mean returns the average MSPT, or NaN when empty.
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return math.NaN()
	}
	return math.Max(0, w.sum/float64(w.n))
}

// StdDev returns the sample standard deviation of MSPT, or NaN under two samples.
func (w *Window) StdDev() float64 {
	if w.n < 2 {
		return math.NaN()
	}
	n := float64(w.n)
	v := (w.sumSq - w.sum*w.sum/n) / (n - 1)
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// Min returns the smallest MSPT held, or NaN when empty.
func (w *Window) Min() float64 {
	if w.n == 0 {
		return math.NaN()
	}
	return w.min
}

// Max returns the largest MSPT held, or NaN when empty.
func (w *Window) Max() float64 {
	if w.n == 0 {
		return math.NaN()
	}
	return w.max
}

// First returns the oldest sample.
func (w *Window) First() (TickSample, bool) {
	if w.n == 0 {
		return TickSample{}, false
	}
	return w.at(0), true
}

// Last returns the newest sample.
func (w *Window) Last() (TickSample, bool) {
	if w.n == 0 {
		return TickSample{}, false
	}
	return w.at(w.n - 1), true
}

// Tail copies the newest n samples, oldest first. n <= 0 copies everything.
func (w *Window) Tail(n int) []TickSample {
	if n <= 0 || n > w.n {
		n = w.n
	}
	out := make([]TickSample, n)
	for i := 0; i < n; i++ {
		out[i] = w.at(w.n - n + i)
	}
	return out
}
