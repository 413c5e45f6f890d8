package clock

import "time"

// Clock abstracts time for services that stamp ledger rows and subscription
// periods, so tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed returns a clock frozen at the given instant.
func Fixed(at time.Time) Clock { return fixedClock{at: at.UTC()} }

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }
