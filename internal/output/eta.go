package output

import (
	"math"
	"sync"
	"time"
)

// Estimator projects the remaining time of an operation from fractional
// progress samples. It assumes a constant rate since creation and does no
// smoothing.
type Estimator struct {
	mu          sync.Mutex
	now         func() time.Time
	start       time.Time
	lastPercent int
	history     []EstimateSample
}

// EstimateSample is the projected end time recorded when the whole-percent
// value increased.
type EstimateSample struct {
	Percent int
	End     time.Time
}

// NewEstimator starts an estimator at the current time.
func NewEstimator() *Estimator {
	return newEstimator(time.Now)
}

func newEstimator(now func() time.Time) *Estimator {
	return &Estimator{now: now, start: now(), lastPercent: -1}
}

// Update takes progress as a fraction in (0, 1] and returns the projected
// remaining time. ok is false when percent is not positive.
func (e *Estimator) Update(percent float64) (time.Duration, bool) {
	if percent <= 0 || math.IsNaN(percent) {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	elapsed := now.Sub(e.start)
	projected := time.Duration(float64(elapsed) / percent)
	end := e.start.Add(projected)
	remaining := end.Sub(now)

	if rounded := int(math.Floor(percent * 100)); rounded > e.lastPercent {
		e.history = append(e.history, EstimateSample{Percent: rounded, End: end})
		e.lastPercent = rounded
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Elapsed returns the time since the estimator started.
func (e *Estimator) Elapsed() time.Duration {
	return e.now().Sub(e.start)
}

// History returns the recorded samples, oldest first.
func (e *Estimator) History() []EstimateSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EstimateSample(nil), e.history...)
}
