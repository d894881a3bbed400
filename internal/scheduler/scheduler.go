// Package scheduler runs the daily retention task: pruning recorded probe
// samples and failures from the profile store and removing old log files.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/util"
)

// Pruner deletes history older than a cutoff. *db.ProfileStore implements it.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the retention task once a day at the configured time.
type Scheduler struct {
	history config.HistoryConfig
	logDir  string
	store   Pruner
	now     func() time.Time
}

// NewScheduler creates a retention scheduler. store may be nil when the
// profile store is disabled.
func NewScheduler(cfg *config.Config, store Pruner) *Scheduler {
	return &Scheduler{
		history: cfg.GetHistory(),
		logDir:  cfg.Logging.Directory,
		store:   store,
		now:     time.Now,
	}
}

// Start runs the retention loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.history.Enabled {
		log.Info().Msg("history retention disabled")
		return
	}
	log.Info().Msg("scheduler started")

	for {
		nextRun := s.NextRun()
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunCleanup(ctx)
		}
	}
}

// RunCleanup applies the retention limits once.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	now := s.now()

	if s.store != nil && s.history.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.history.RetentionDays)
		removed, err := s.store.PruneBefore(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("history prune failed")
		} else {
			log.Info().
				Int64("rows", removed).
				Int("retention_days", s.history.RetentionDays).
				Msg("history pruned")
		}
	}

	if s.logDir != "" && s.history.LogRetentionDays > 0 {
		n := util.CleanOldLogs(s.logDir, s.history.LogRetentionDays, now)
		log.Info().Int("deleted_files", n).Msg("log cleanup completed")
	}
}

// NextRun returns the next occurrence of the configured cleanup time.
func (s *Scheduler) NextRun() time.Time {
	parts := strings.Split(s.history.CleanupTime, ":")

	hour, minute := 4, 0
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
