package download

import (
	"time"

	"golang.org/x/time/rate"
)

// transfer is the in-flight state of one download. Raw progress is always
// recorded; publication is throttled so UI listeners are not flooded by
// per-read callbacks.
type transfer struct {
	fraction float64
	reported float64
	minDelta float64
	limiter  *rate.Limiter
}

func newTransfer(minDelta float64, interval time.Duration) *transfer {
	return &transfer{
		minDelta: minDelta,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// update records f and reports whether it should be published. Completion
// is always published once; otherwise the change must reach minDelta and
// the interval limiter must allow it.
func (t *transfer) update(f float64) bool {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	if f > t.fraction {
		t.fraction = f
	}

	if f >= 1 {
		if t.reported >= 1 {
			return false
		}
		t.reported = 1
		return true
	}
	if f-t.reported < t.minDelta || f <= t.reported {
		return false
	}
	if !t.limiter.Allow() {
		return false
	}
	t.reported = f
	return true
}
