// Package jobs runs the periodic out-of-band maintenance work that must not
// sit on the request path.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/store"
)

// Sweeper deletes expired refresh tokens and stale in-flight login states.
type Sweeper struct {
	cron  *cron.Cron
	store store.Store
	log   *zap.Logger
}

// NewSweeper creates a sweeper bound to the given store.
func NewSweeper(s store.Store, log *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:  cron.New(),
		store: s,
		log:   log,
	}
}

// Start runs one sweep immediately, then every 10 minutes.
func (s *Sweeper) Start() {
	go s.Sweep(context.Background())
	s.cron.AddFunc("@every 10m", func() {
		s.Sweep(context.Background())
	})
	s.cron.Start()
	s.log.Info("credential sweeper started")
}

// Stop stops the scheduler.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.log.Info("credential sweeper stopped")
}

// Sweep deletes everything past its expiry.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	n, err := s.store.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		s.log.Error("failed to sweep expired refresh tokens", zap.Error(err))
	} else if n > 0 {
		s.log.Info("swept expired refresh tokens", zap.Int64("count", n))
	}

	n, err = s.store.DeleteExpiredLoginStates(ctx, now)
	if err != nil {
		s.log.Error("failed to sweep expired login states", zap.Error(err))
	} else if n > 0 {
		s.log.Info("swept expired login states", zap.Int64("count", n))
	}
}
