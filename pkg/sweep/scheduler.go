// Package sweep runs the scheduled bulk eviction of cache tiers.
package sweep

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// DefaultSchedule fires daily at 08:00.
const DefaultSchedule = "0 0 8 * * *"

// Sweeper clears every evictable tier and reports how many entries it removed.
type Sweeper interface {
	SweepAll() int
}

// Scheduler triggers Sweeper.SweepAll on a cron schedule. Missed firings are
// not replayed.
type Scheduler struct {
	target   Sweeper
	schedule cron.Schedule
	loc      *time.Location
	cron     *cron.Cron
	log      *zap.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New parses spec, a six-field cron expression with seconds, and returns a
// stopped Scheduler. A nil loc means local time.
func New(spec string, loc *time.Location, target Sweeper, log *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	sched, err := cron.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		target:   target,
		schedule: sched,
		loc:      loc,
		cron:     cron.NewWithLocation(loc),
		log:      log,
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.Run() }))
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info("sweep scheduler started", zap.Time("next", s.next(time.Now())))
}

// Stop cancels future firings. A sweep already in progress completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cron.Stop()
	s.log.Info("sweep scheduler stopped")
}

// Run performs one sweep immediately. A panicking sweeper is logged and does
// not take down the scheduler.
func (s *Scheduler) Run() (removed int) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep panicked", zap.Any("panic", r))
			removed = 0
		}
	}()

	removed = s.target.SweepAll()

	s.mu.Lock()
	s.lastRun = start
	s.mu.Unlock()
	s.log.Info("sweep finished",
		zap.Int("removed", removed),
		zap.Duration("elapsed", time.Since(start)))
	return removed
}

// Next returns the first firing time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.next(t)
}

func (s *Scheduler) next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// LastRun returns the start time of the most recent completed sweep.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
