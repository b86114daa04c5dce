package breaker

import "time"

// Counts summarises the calls observed in the rolling window.
type Counts struct {
	Requests  int
	Successes int
	Failures  int
	Timeouts  int
	Rejects   int
}

// Errors counts failures, timeouts and rejects.
func (c Counts) Errors() int {
	return c.Failures + c.Timeouts + c.Rejects
}

// ErrorPercentage returns Errors as a percentage of Requests, 0 when empty.
func (c Counts) ErrorPercentage() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Errors()) * 100 / float64(c.Requests)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeReject
)

type bucket struct {
	start time.Time
	Counts
}

// rollingWindow is a ring of time buckets. Buckets older than the window
// are ignored when summing and recycled when their slot comes round again.
type rollingWindow struct {
	buckets []bucket
	width   time.Duration
	length  time.Duration
}

func newRollingWindow(length time.Duration, n int) *rollingWindow {
	width := length / time.Duration(n)
	if width <= 0 {
		width, n = length, 1
	}
	return &rollingWindow{
		buckets: make([]bucket, n),
		width:   width,
		length:  width * time.Duration(n),
	}
}

func (w *rollingWindow) record(now time.Time, o outcome) {
	start := now.Truncate(w.width)
	idx := int((start.UnixNano() / int64(w.width)) % int64(len(w.buckets)))
	if idx < 0 {
		idx += len(w.buckets)
	}
	b := &w.buckets[idx]
	if !b.start.Equal(start) {
		*b = bucket{start: start}
	}

	b.Requests++
	switch o {
	case outcomeSuccess:
		b.Successes++
	case outcomeFailure:
		b.Failures++
	case outcomeTimeout:
		b.Timeouts++
	case outcomeReject:
		b.Rejects++
	}
}

func (w *rollingWindow) counts(now time.Time) Counts {
	var c Counts
	oldest := now.Truncate(w.width).Add(-w.length + w.width)
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.start.IsZero() || b.start.Before(oldest) || b.start.After(now) {
			continue
		}
		c.Requests += b.Requests
		c.Successes += b.Successes
		c.Failures += b.Failures
		c.Timeouts += b.Timeouts
		c.Rejects += b.Rejects
	}
	return c
}

func (w *rollingWindow) reset() {
	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
}
