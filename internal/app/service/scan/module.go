package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/internal/app/service/record"
	"github.com/quiethall/doorman/pkg/config"
	"github.com/quiethall/doorman/pkg/types"
)

// Scheduler owns the fixed-cadence trigger. The runner itself serializes
// passes, so a tick landing during a long pass is coalesced, not queued.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	log    *zap.SugaredLogger
	cancel context.CancelFunc
}

func NewScheduler(cfg *config.Config, runner *Runner, log *zap.SugaredLogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		log:    log,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	spec := fmt.Sprintf("@every %s", cfg.Scan.Interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := runner.Run(ctx, types.ScanTriggerTimer); err != nil && !errors.Is(err, ErrScanInProgress) {
			log.Errorw("scheduled scan failed", "err", err)
		}
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule scan: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infow("scan scheduler started")
}

// Stop cancels any in-flight pass and waits for the cron goroutines.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Infow("scan scheduler stopped")
}

var Module = fx.Options(
	fx.Provide(
		NewRunner,
		NewScheduler,
		func(r *record.Service) Records { return r },
	),
	fx.Invoke(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
