// Package scheduler runs the daily housekeeping: pruning the session
// journal and removing old log files.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/db"
	"github.com/blockgate-project/blockgate/internal/util"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	journal *db.SessionJournal
	now     func() time.Time
}

// NewScheduler creates a new task scheduler. journal may be nil, in which
// case only log cleanup runs.
func NewScheduler(cfg *config.Config, journal *db.SessionJournal) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		journal: journal,
		now:     time.Now,
	}
}

// Start runs housekeeping once, then daily at the configured prune time,
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	s.RunHousekeeping()

	for {
		nextRun := s.nextRunTime()
		sleep := nextRun.Sub(s.now())

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("housekeeping scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunHousekeeping()
		}
	}
}

// RunHousekeeping prunes old sessions and log files.
func (s *Scheduler) RunHousekeeping() {
	s.pruneSessions()
	s.cleanLogs()
}

func (s *Scheduler) pruneSessions() {
	if s.journal == nil {
		return
	}
	retention := s.cfg.GetStorage().Retention()
	if retention <= 0 {
		return
	}

	removed, err := s.journal.Prune(retention)
	if err != nil {
		log.Warn().Err(err).Msg("session journal pruning failed")
		return
	}

	stats, err := s.journal.Stats()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session stats")
		return
	}
	log.Info().
		Int64("removed", removed).
		Int("sessions", stats.Total).
		Int("unique_players", stats.UniquePlayers).
		Msg("daily session stats")
}

func (s *Scheduler) cleanLogs() {
	logCfg := s.cfg.GetLogging()
	if removed := util.CleanOldLogs(logCfg.Directory, logCfg.MaxBackups); removed > 0 {
		log.Info().Int("removed", removed).Msg("removed old log files")
	}
}

// nextRunTime returns the next occurrence of the configured prune time.
func (s *Scheduler) nextRunTime() time.Time {
	hour, minute, err := s.cfg.GetStorage().PruneClock()
	if err != nil {
		hour, minute = 4, 0
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
