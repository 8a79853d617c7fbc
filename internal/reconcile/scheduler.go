package reconcile

import (
	"context"
	"log"
	"time"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/engine"
)

// Scheduler drives the three reconciliation procedures on their cadences:
// the inactivity sweep on a fixed interval, the force-exit pass once a day
// at a fixed wall-clock hour, and the duration rollover at midnight on the
// first of every month. A failed run is logged and retried at the next
// scheduled firing; it never stops the loop.
type Scheduler struct {
	cfg    *config.SchedulerConfig
	engine *engine.Engine
	loc    *time.Location
}

// NewScheduler creates a scheduler for the given engine.
func NewScheduler(cfg *config.SchedulerConfig, eng *engine.Engine) *Scheduler {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("Warning: invalid timezone %q: %v. Falling back to local time.", cfg.Timezone, err)
		loc = time.Local
	}
	return &Scheduler{cfg: cfg, engine: eng, loc: loc}
}

// Run blocks until ctx is cancelled, firing the jobs at their cadences.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("Starting reconciliation scheduler...")

	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	now := time.Now().In(s.loc)
	nextDaily := s.nextDailyExit(now)
	nextMonthly := nextRollover(now)
	dailyTimer := time.NewTimer(time.Until(nextDaily))
	defer dailyTimer.Stop()
	monthlyTimer := time.NewTimer(time.Until(nextMonthly))
	defer monthlyTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation scheduler shutting down.")
			return

		case <-sweepTicker.C:
			swept, err := s.engine.SweepInactive(ctx, time.Now(), s.cfg.InactivityWindow)
			if err != nil {
				log.Printf("Error in inactivity sweep: %v", err)
			} else if swept > 0 {
				log.Printf("Inactivity sweep force-exited %d devices", swept)
			}

		case <-dailyTimer.C:
			exited, err := s.engine.ForceExitAll(ctx, nextDaily)
			if err != nil {
				log.Printf("Error in daily force-exit: %v", err)
			} else {
				log.Printf("Daily force-exit moved %d devices outside", exited)
			}
			nextDaily = s.nextDailyExit(time.Now().In(s.loc))
			dailyTimer.Reset(time.Until(nextDaily))

		case <-monthlyTimer.C:
			if err := s.engine.RolloverMonth(ctx, nextMonthly); err != nil {
				log.Printf("Error in monthly rollover: %v", err)
			} else {
				log.Println("Monthly rollover complete, duration totals reset.")
			}
			nextMonthly = nextRollover(time.Now().In(s.loc))
			monthlyTimer.Reset(time.Until(nextMonthly))
		}
	}
}

// nextDailyExit returns the next occurrence of the configured exit hour.
func (s *Scheduler) nextDailyExit(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.DailyExitHour, 0, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// nextRollover returns the next first-of-month midnight after now.
func nextRollover(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
