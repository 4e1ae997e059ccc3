// Package scheduler runs the periodic verification reconcile sweep. The
// sweep repairs credential projections that drifted from their decided
// requests, so a crashed dual-write heals without operator action.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/skillvouch/skillvouch/internal/clock"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Config struct {
	RunInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = 5 * time.Minute
	}
	return c
}

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	VerificationSvc verificationdomain.Service
	Config          Config `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	verificationSvc verificationdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.VerificationSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		verificationSvc: p.VerificationSvc,
	}, nil
}

// RunOnce executes a single reconcile sweep.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	start := s.clock.Now()
	report, err := s.verificationSvc.Reconcile(ctx)
	if err != nil {
		s.log.Error("reconcile sweep failed", zap.Error(err))
		return err
	}

	if report.Repaired > 0 {
		s.log.Warn("reconcile sweep repaired drifted credentials",
			zap.Int("scanned", report.Scanned),
			zap.Int("repaired", report.Repaired),
			zap.Duration("took", s.clock.Now().Sub(start)),
		)
		return nil
	}

	s.log.Debug("reconcile sweep clean",
		zap.Int("scanned", report.Scanned),
		zap.Duration("took", s.clock.Now().Sub(start)),
	)
	return nil
}

// RunForever sweeps on the configured interval until the context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}
