package ratestat_test

import (
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/ratestat"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPeriod is the common window length for tests.
const testPeriod = 1 * time.Second

// testStart is the common start time for tests.
var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestStatistic returns a statistic with a fake clock and a function that
// moves that clock forward.
func newTestStatistic(tb testing.TB) (s *ratestat.Statistic, advance func(d time.Duration)) {
	tb.Helper()

	mu := &sync.Mutex{}
	now := testStart
	clock := &faketime.Clock{
		OnNow: func() (t time.Time) {
			mu.Lock()
			defer mu.Unlock()

			return now
		},
	}

	advance = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(d)
	}

	return ratestat.New(&ratestat.Config{
		Clock:  clock,
		Period: testPeriod,
	}), advance
}

func TestStatistic_Record(t *testing.T) {
	t.Parallel()

	s, advance := newTestStatistic(t)

	for i := range 10 {
		assert.Equal(t, i+1, s.Record())

		advance(50 * time.Millisecond)
	}

	// 500ms have passed, all samples are still within the window.
	assert.Equal(t, 10, s.Rate())
	assert.Equal(t, 10, s.Max())

	// The first six samples were taken at 0ms-250ms.  Move to 1280ms, which
	// expires everything up to 280ms.
	advance(780 * time.Millisecond)
	assert.Equal(t, 4, s.Rate())

	assert.Equal(t, 5, s.Record())
	assert.Equal(t, 10, s.Max())
	assert.Equal(t, uint64(11), s.Count())

	advance(testPeriod + time.Millisecond)
	assert.Zero(t, s.Rate())
	assert.Equal(t, uint64(11), s.Count())
}

func TestStatistic_Rate_trailingWindow(t *testing.T) {
	t.Parallel()

	s, advance := newTestStatistic(t)

	// Record with different gaps and check that the rate never exceeds the
	// number of calls made within the trailing period.
	gaps := []time.Duration{
		0,
		100 * time.Millisecond,
		400 * time.Millisecond,
		10 * time.Millisecond,
		600 * time.Millisecond,
		2 * time.Second,
		1 * time.Millisecond,
	}

	var times []time.Duration
	elapsed := time.Duration(0)
	for _, gap := range gaps {
		advance(gap)
		elapsed += gap
		times = append(times, elapsed)

		rate := s.Record()

		inWindow := 0
		for _, ts := range times {
			if elapsed-ts <= testPeriod {
				inWindow++
			}
		}

		assert.LessOrEqual(t, rate, inWindow)
		assert.Equal(t, rate, s.Rate())
	}
}

func TestStatistic_Rate_boundary(t *testing.T) {
	t.Parallel()

	s, advance := newTestStatistic(t)
	require.Equal(t, 1, s.Record())

	advance(testPeriod - time.Nanosecond)
	assert.Equal(t, 1, s.Rate())

	// A sample exactly one period old is outside of the window.
	advance(time.Nanosecond)
	assert.Zero(t, s.Rate())
}

func TestStatistic_Max(t *testing.T) {
	t.Parallel()

	s, advance := newTestStatistic(t)

	prevMax := 0
	highest := 0
	for i := range 30 {
		rate := s.Record()
		highest = max(highest, rate)

		m := s.Max()
		assert.GreaterOrEqual(t, m, prevMax)
		assert.Equal(t, highest, m)
		prevMax = m

		// Speed up and then slow down the events.
		if i < 15 {
			advance(10 * time.Millisecond)
		} else {
			advance(300 * time.Millisecond)
		}
	}
}

func TestStatistic_Age(t *testing.T) {
	t.Parallel()

	t.Run("full_period", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestStatistic(t)
		for range 100 {
			s.Record()
		}

		require.Equal(t, 100, s.Rate())

		s.Age(testPeriod + time.Nanosecond)
		assert.Zero(t, s.Rate())
		assert.Equal(t, 100, s.Max())
		assert.Equal(t, uint64(100), s.Count())
	})

	t.Run("exact_period", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestStatistic(t)
		s.Record()

		s.Age(testPeriod)
		assert.Zero(t, s.Rate())
	})

	t.Run("partial", func(t *testing.T) {
		t.Parallel()

		s, advance := newTestStatistic(t)
		s.Record()
		advance(600 * time.Millisecond)
		s.Record()

		s.Age(500 * time.Millisecond)
		assert.Equal(t, 1, s.Rate())

		ages := s.Samples()
		require.Len(t, ages, 1)
		assert.Equal(t, 500*time.Millisecond, ages[0])
	})
}

func TestStatistic_Reset(t *testing.T) {
	t.Parallel()

	s, _ := newTestStatistic(t)
	for range 5 {
		s.Record()
	}

	s.Reset()
	assert.Zero(t, s.Rate())
	assert.Zero(t, s.Max())
	assert.Zero(t, s.Count())

	assert.Equal(t, 1, s.Record())
	assert.Equal(t, 1, s.Max())
}

func TestStatistic_String(t *testing.T) {
	t.Parallel()

	s, _ := newTestStatistic(t)
	s.Record()
	s.Record()

	assert.Equal(t, "ratestat{count=2,max=2,rate=2 per 1s}", s.String())
}

func TestStatistic_concurrent(t *testing.T) {
	t.Parallel()

	s := ratestat.New(&ratestat.Config{
		Period: time.Hour,
	})

	const (
		goroutines = 8
		perG       = 1_000
	)

	wg := &sync.WaitGroup{}
	for range goroutines {
		wg.Go(func() {
			for range perG {
				s.Record()
			}
		})
	}

	wg.Wait()

	assert.Equal(t, uint64(goroutines*perG), s.Count())
	assert.Equal(t, goroutines*perG, s.Rate())
	assert.Equal(t, goroutines*perG, s.Max())
}

func BenchmarkStatistic_Record(b *testing.B) {
	s := ratestat.New(&ratestat.Config{
		Period: 10 * time.Millisecond,
	})

	var rate int

	b.ReportAllocs()
	for b.Loop() {
		rate = s.Record()
	}

	assert.Positive(b, rate)
}
