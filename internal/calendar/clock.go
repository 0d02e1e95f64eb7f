package calendar

import (
	"fmt"
	"time"
)

// Clock is the source of wall-clock time for the daily limit and history
// timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// LoadClock returns a SystemClock for the named IANA zone. An empty name or
// "local" uses the process zone.
func LoadClock(name string) (SystemClock, error) {
	if name == "" || name == "local" || name == "Local" {
		return SystemClock{Location: time.Local}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return SystemClock{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return SystemClock{Location: loc}, nil
}

// FixedClock always returns T. Tests move it forward with Advance.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// Today is the local calendar date according to c.
func Today(c Clock) Date {
	return DateOf(c.Now())
}
