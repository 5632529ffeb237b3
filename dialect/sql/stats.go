package sql

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// QueryStats holds statement and transaction counters of a Driver.
type QueryStats struct {
	// TotalQueries is the total number of row-returning statements.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of statements run without rows.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of statement errors.
	Errors atomic.Int64
	// Commits is the count of committed transactions.
	Commits atomic.Int64
	// Rollbacks is the count of rolled back transactions.
	Rollbacks atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
		Commits:       s.Commits.Load(),
		Rollbacks:     s.Rollbacks.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
	s.Commits.Store(0)
	s.Rollbacks.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	Commits       int64
	Rollbacks     int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d commits=%d rollbacks=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors, s.Commits, s.Rollbacks,
	)
}

// SlowQueryHook is a function called when a slow query is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// WithStats makes the driver record statistics into s.
func WithStats(s *QueryStats) Option {
	return func(d *Driver) {
		d.stats = s
	}
}

// WithSlowThreshold sets the threshold for slow query detection.
// Statements taking longer than this duration count as slow.
// Default is 100ms.
func WithSlowThreshold(t time.Duration) Option {
	return func(d *Driver) {
		d.slowThreshold = t
	}
}

// WithSlowQueryHook sets a callback function for slow queries.
// The hook is called whenever a statement exceeds the slow threshold.
func WithSlowQueryHook(hook SlowQueryHook) Option {
	return func(d *Driver) {
		d.slowHook = hook
	}
}

// WithSlowQueryLog logs slow queries to the driver logger.
// This is a convenience wrapper around WithSlowQueryHook.
func WithSlowQueryLog() Option {
	return func(d *Driver) {
		d.slowHook = func(ctx context.Context, query string, args []any, duration time.Duration) {
			d.log.WarnContext(ctx, "slow query detected", "duration", duration, "query", query, "args", args)
		}
	}
}

// QueryStats returns the statistics recorded by the driver, or nil if
// none are collected.
func (d *Driver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow query threshold.
func (d *Driver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (d *Driver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

func (d *Driver) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if s := d.stats; s != nil {
		if isQuery {
			s.TotalQueries.Add(1)
		} else {
			s.TotalExecs.Add(1)
		}
		s.TotalDuration.Add(int64(duration))
		if err != nil {
			s.Errors.Add(1)
		}
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		if d.stats != nil {
			d.stats.SlowQueries.Add(1)
		}
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

// recordTx counts a finished transaction.
func (d *Driver) recordTx(committed bool) {
	switch {
	case d.stats == nil:
	case committed:
		d.stats.Commits.Add(1)
	default:
		d.stats.Rollbacks.Add(1)
	}
}
