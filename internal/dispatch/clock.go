package dispatch

import "time"

// Clock abstracts time so tests can assert pacing and backoff without real
// sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now().UTC() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func NewClock() Clock {
	return realClock{}
}
