package watch

import (
	"math/rand/v2"
	"time"
)

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// jittered returns interval shifted by a uniform offset in [-jitter, +jitter], never below
// a tenth of interval.
func jittered(interval, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return interval
	}
	d := interval + time.Duration(rand.Int64N(int64(2*jitter)+1)) - jitter
	if floor := interval / 10; d < floor {
		return floor
	}
	return d
}
