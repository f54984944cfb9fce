package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corralhq/corral/pkg/config"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/types"
)

// Scheduler runs every maintenance job on its own cadence. While the
// health score is below the configured threshold, intervals shrink by
// the degraded cadence factor so a struggling directory gets attention
// sooner.
type Scheduler struct {
	runner *Runner
	cfg    config.MaintenanceConfig
	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over the job runner
func NewScheduler(runner *Runner, cfg config.MaintenanceConfig) *Scheduler {
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start launches one loop per job. An immediate health check seeds the
// degraded flag before the first ticks fire.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.runner.RunJob(ctx, JobHealthCheck); err != nil {
		s.logger.Warn().Err(err).Msg("initial health check failed")
	}

	for _, job := range []struct {
		name     string
		interval time.Duration
	}{
		{JobHealthCheck, s.cfg.HealthCheckInterval},
		{JobArchive, s.cfg.ArchiveInterval},
		{JobRotateSpanLog, s.cfg.RotateInterval},
		{JobRealityVerify, s.cfg.VerifyInterval},
		{JobStaleSweep, s.cfg.SweepInterval},
		{JobRebalance, s.cfg.RebalanceInterval},
		{JobOptimize, s.cfg.OptimizeInterval},
		{JobStatusReport, s.cfg.ReportInterval},
	} {
		if job.interval <= 0 {
			s.logger.Warn().Str("job", job.name).Msg("job disabled, no interval")
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job.name, job.interval)
	}
	s.logger.Info().Msg("maintenance scheduler started")
}

// Stop stops every job loop and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("maintenance scheduler stopped")
}

// loop runs one job on its cadence. The timer is re-armed after each
// run so a slow job never overlaps itself.
func (s *Scheduler) loop(ctx context.Context, name string, base time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval(base))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if err := s.runner.RunJob(ctx, name); err != nil {
				// BUSY means another maintenance run holds the token;
				// the next tick retries
				if types.KindOf(err) != types.ErrBusy {
					s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
				}
			}
			timer.Reset(s.interval(base))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// interval applies the degraded cadence factor to a base interval
func (s *Scheduler) interval(base time.Duration) time.Duration {
	if !s.runner.Degraded() {
		return base
	}
	factor := s.cfg.DegradedCadenceFactor
	if factor <= 1 {
		return base
	}
	return time.Duration(float64(base) / factor)
}
