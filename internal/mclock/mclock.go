// Package mclock provides a monotonic clock abstraction, adapted from the
// teacher's common/mclock package, for measuring tick and task durations
// without being affected by wall-clock adjustments.
package mclock

import (
	"time"

	"github.com/aristanetworks/goarista/monotime"
)

// AbsTime represents absolute monotonic time in nanoseconds since an
// arbitrary, process-local epoch. Only differences between AbsTime values
// are meaningful.
type AbsTime time.Duration

// Now returns the current absolute monotonic time.
func Now() AbsTime {
	return AbsTime(monotime.Now())
}

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d)
}

// Sub returns the duration elapsed between t and t2, i.e. t - t2.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t - t2)
}

// Clock abstracts timekeeping so workers can be tested with a fake clock
// instead of waiting on real timers.
type Clock interface {
	Now() AbsTime
	Sleep(time.Duration)
	After(time.Duration) <-chan time.Time
}

// System is the production Clock backed by the OS monotonic clock.
type System struct{}

func (System) Now() AbsTime               { return Now() }
func (System) Sleep(d time.Duration)      { time.Sleep(d) }
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ Clock = System{}
