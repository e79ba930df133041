// Package scheduler drives the once-per-day pipeline run. A minutely cron
// tick checks the wall clock against the configured fetch time and a
// day-of-year guard file so the job runs exactly once per day, surviving
// restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appconfig "wattson/config"
	"wattson/internal/store"
	"wattson/logger"
)

// DailyJob is the pipeline entry the scheduler fires. The ledger implements
// it.
type DailyJob interface {
	TriggerDailyUpdate(ctx context.Context) error
}

type Scheduler struct {
	config  *appconfig.Config
	store   *store.Store
	job     DailyJob
	cron    *cron.Cron
	ctx     context.Context
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	now func() time.Time
}

func New(cfg *appconfig.Config, st *store.Store, job DailyJob) *Scheduler {
	return &Scheduler{
		config: cfg,
		store:  st,
		job:    job,
		cron:   cron.New(cron.WithSeconds()),
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

// Start registers the minutely check and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{"operation": "Start"})
	if _, err := s.cron.AddFunc(s.config.Schedule.CheckCron, s.checkTick); err != nil {
		return fmt.Errorf("register daily check: %w", err)
	}
	// Nightly sweep of temp files left behind by interrupted atomic writes.
	if _, err := s.cron.AddFunc("0 0 3 * * *", s.houseKeeping); err != nil {
		return fmt.Errorf("register housekeeping: %w", err)
	}
	s.cron.Start()
	log.WithFields(logger.Fields{
		"cron":         s.config.Schedule.CheckCron,
		"fetch_hour":   s.config.Schedule.FetchHour,
		"fetch_minute": s.config.Schedule.FetchMinute,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}

// checkTick fires every minute. It runs the daily job when the configured
// fetch time has passed and today's run has not happened yet.
func (s *Scheduler) checkTick() {
	now := s.now()
	if !s.shouldRun(now) {
		return
	}

	last, err := s.lastRunDay()
	if err != nil {
		s.log.WithComponent("scheduler").WithError(err).Warn("could not read run guard, skipping tick")
		return
	}
	if last == now.YearDay() {
		return
	}

	runID := uuid.NewString()
	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{"run_id": runID})
	log.Info("fetch time reached, running daily job")

	jobErr := s.job.TriggerDailyUpdate(s.ctx)
	if errors.Is(jobErr, store.ErrBusy) {
		// Leave the guard untouched so the next tick retries.
		log.Warn("store busy, daily job deferred to next tick")
		return
	}
	if jobErr != nil {
		log.WithError(jobErr).Error("daily job failed")
	} else {
		log.Info("daily job completed")
	}

	// Failed runs other than contention still consume the day. Startup
	// backfill is the recovery path; hammering a broken upstream every
	// minute is not.
	if err := s.markRunDay(now.YearDay()); err != nil {
		log.WithError(err).Warn("could not persist run guard")
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	h, m := now.Hour(), now.Minute()
	if h > s.config.Schedule.FetchHour {
		return true
	}
	return h == s.config.Schedule.FetchHour && m >= s.config.Schedule.FetchMinute
}

// lastRunDay reads the day-of-year of the last completed run, 0 when the
// guard file does not exist yet.
func (s *Scheduler) lastRunDay() (int, error) {
	day := 0
	err := s.store.With(s.config.Store.GuardTimeout, func(v *store.Volume) error {
		if !v.Exists(store.LastFetchDayPath()) {
			return nil
		}
		data, err := v.ReadFile(store.LastFetchDayPath())
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			// Corrupt guard reads as never-ran so the job recovers on
			// its own.
			return nil
		}
		day = n
		return nil
	})
	return day, err
}

func (s *Scheduler) markRunDay(yearDay int) error {
	return s.store.With(s.config.Store.WriteTimeout, func(v *store.Volume) error {
		return v.WriteFile(store.LastFetchDayPath(), []byte(strconv.Itoa(yearDay)))
	})
}

// houseKeeping removes temp files a crash mid-write may have stranded next
// to the ledger documents.
func (s *Scheduler) houseKeeping() {
	log := s.log.WithComponent("scheduler")
	removed := 0
	err := s.store.With(s.config.Store.GuardTimeout, func(v *store.Volume) error {
		for _, dir := range []string{"daily", "archive"} {
			names, err := v.List(dir)
			if err != nil {
				return err
			}
			for _, name := range names {
				if !strings.Contains(name, ".tmp") {
					continue
				}
				if err := v.Remove(dir + "/" + name); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("housekeeping sweep failed")
		return
	}
	if removed > 0 {
		log.WithFields(logger.Fields{"removed": removed}).Info("stranded temp files removed")
	}
}
