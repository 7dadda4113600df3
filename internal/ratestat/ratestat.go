// Package ratestat contains a sliding-window event counter.
package ratestat

import (
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// Config is the configuration structure for a *Statistic.
type Config struct {
	// Clock is used to get the time of the samples.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// Period is the length of the sliding window.  It must be positive.
	Period time.Duration
}

// Statistic counts the events recorded within the trailing period.  It is safe
// for concurrent use.
//
// The window is half-open, (now - period, now], so an event recorded exactly
// one period ago is no longer counted.  Consequently, Age with a duration of at
// least one period always makes Rate return zero, even with a clock that does
// not move.
type Statistic struct {
	clock timeutil.Clock

	// mu protects samples, max, and count.
	mu *sync.Mutex

	// samples are the times of the recorded events within the window, oldest
	// first.
	samples []time.Time

	period time.Duration
	max    int
	count  uint64
}

// New returns a new properly initialized *Statistic.  c must not be nil.
func New(c *Config) (s *Statistic) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &Statistic{
		clock:  clock,
		mu:     &sync.Mutex{},
		period: c.Period,
	}
}

// Period returns the length of the sliding window.
func (s *Statistic) Period() (p time.Duration) {
	return s.period
}

// Record records an event at the current time and returns the number of events
// within the window, including this one.
func (s *Statistic) Record() (rate int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++

	now := s.clock.Now()
	s.samples = append(s.samples, now)
	s.purge(now)

	rate = len(s.samples)
	s.max = max(s.max, rate)

	return rate
}

// Rate returns the number of events within the window without recording a new
// one.
func (s *Statistic) Rate() (rate int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge(s.clock.Now())

	return len(s.samples)
}

// Age moves every retained sample d into the past and then drops the ones that
// left the window.  It must only be used in tests and diagnostics.
func (s *Statistic) Age(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.samples {
		s.samples[i] = t.Add(-d)
	}

	s.purge(s.clock.Now())
}

// Reset drops all samples and zeroes the maximum and the total count.  It must
// only be used in tests and diagnostics.
func (s *Statistic) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = nil
	s.max = 0
	s.count = 0
}

// Max returns the largest number of events ever observed within the window
// since the last reset.
func (s *Statistic) Max() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.max
}

// Count returns the total number of recorded events since the last reset.
func (s *Statistic) Count() (n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// Samples returns the ages of the samples within the window, oldest first.
func (s *Statistic) Samples() (ages []time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.purge(now)

	ages = make([]time.Duration, 0, len(s.samples))
	for _, t := range s.samples {
		ages = append(ages, now.Sub(t))
	}

	return ages
}

// type check
var _ fmt.Stringer = (*Statistic)(nil)

// String implements the [fmt.Stringer] interface for *Statistic.
func (s *Statistic) String() (str string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge(s.clock.Now())

	return fmt.Sprintf(
		"ratestat{count=%d,max=%d,rate=%d per %s}",
		s.count,
		s.max,
		len(s.samples),
		s.period,
	)
}

// purge drops the samples taken at or before now minus the period, so that an
// event exactly one period old is no longer counted.  Samples are appended in a
// non-decreasing order, so only a prefix is ever dropped.  s.mu must be locked.
func (s *Statistic) purge(now time.Time) {
	expire := now.Add(-s.period)

	i := 0
	for i < len(s.samples) && !s.samples[i].After(expire) {
		i++
	}

	if i == len(s.samples) {
		// Reuse the underlying array when everything has expired.
		s.samples = s.samples[:0]

		return
	}

	s.samples = s.samples[i:]
}
