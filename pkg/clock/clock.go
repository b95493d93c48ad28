package clock

import "time"

// Clock is the single source of "now" for time-sensitive policy code. Pure
// decision logic never reads the system clock directly so boundary tests can
// pin time exactly.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock. Used everywhere outside tests.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// At builds a fixed clock for tests.
func At(t time.Time) Clock { return Fixed(t) }
