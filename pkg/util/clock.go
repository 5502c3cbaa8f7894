package util

import "time"

// Clock abstracts time for the trading loop's cadence and transaction
// timestamps, so tests can drive cycles without waiting.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }
