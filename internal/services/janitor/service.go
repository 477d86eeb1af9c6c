// Package janitor periodically sweeps expired grants out of the cache so a
// persistent backend does not accumulate dead entries between lookups.
package janitor

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/interfaces"
)

// Service runs a cron-scheduled sweep of the grant cache.
type Service struct {
	grants   interfaces.GrantCache
	logger   arbor.ILogger
	schedule string
	cron     *cron.Cron
}

// NewService creates a new janitor with a cron schedule (standard 5-field
// format, e.g. "*/5 * * * *").
func NewService(grants interfaces.GrantCache, schedule string, logger arbor.ILogger) *Service {
	return &Service{
		grants:   grants,
		logger:   logger,
		schedule: schedule,
	}
}

// Start schedules the sweep. Returns an error for an invalid schedule.
func (s *Service) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Grant cache janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Debug().Msg("Grant cache janitor stopped")
}

func (s *Service) sweep() {
	removed, err := s.grants.SweepExpired(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Grant cache sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Grant cache sweep complete")
	}
}
