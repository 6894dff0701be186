// Package sweeper hosts the periodic cleanup jobs: marking timed-out OTP
// challenges expired and deleting ghost identities past their retention
// window. Sweeps absorb per-item failures so one bad row never starves the
// rest of the batch.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ghostauth/internal/config"
	"ghostauth/internal/identity/store"
	otpdomain "ghostauth/internal/otp/domain"
	otprepo "ghostauth/internal/otp/repository"
	"ghostauth/internal/privilege"
)

// Sweeper runs the cleanup jobs against the identity store and OTP repository.
type Sweeper struct {
	store       store.Store
	otps        otprepo.Repository
	ghostsOn    bool
	cleanupOn   bool
	ghostTTL    time.Duration
	emailDomain string
	ghostRole   string
	log         zerolog.Logger
	now         func() time.Time
}

// New returns a Sweeper configured from cfg.
func New(st store.Store, otps otprepo.Repository, cfg *config.Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:       st,
		otps:        otps,
		ghostsOn:    cfg.GhostEnabled,
		cleanupOn:   cfg.GhostAutoCleanup,
		ghostTTL:    cfg.GhostTTL(),
		emailDomain: cfg.GhostEmailDomain,
		ghostRole:   cfg.GhostRole,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SweepExpiredOTPs transitions every overdue Valid challenge to Expired and
// returns the number transitioned.
func (s *Sweeper) SweepExpiredOTPs(ctx context.Context) (int, error) {
	overdue, err := s.otps.ListValidExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, c := range overdue {
		ok, err := s.otps.TransitionStatus(ctx, c.ID, otpdomain.StatusValid, otpdomain.StatusExpired)
		if err != nil {
			s.log.Error().Err(err).Str("challenge", c.ID).Msg("otp sweep transition failed")
			continue
		}
		if ok {
			swept++
		}
	}
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("expired overdue otp challenges")
	}
	return swept, nil
}

// SweepExpiredGhosts force-deletes ghost identities older than the retention
// window and returns the number deleted. It is a no-op unless both the ghost
// feature and auto-cleanup are enabled.
func (s *Sweeper) SweepExpiredGhosts(ctx context.Context) (int, error) {
	if !s.ghostsOn || !s.cleanupOn {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ghostTTL)
	ghosts, err := s.store.ListEphemeralBefore(ctx, cutoff, s.emailDomain, s.ghostRole)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, g := range ghosts {
		err := privilege.RunElevated(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, g.Key, true)
		})
		if err != nil {
			s.log.Error().Err(err).Str("identity", g.Key).Msg("ghost cleanup delete failed")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info().Int("count", deleted).Msg("deleted expired ghost identities")
	}
	return deleted, nil
}

// Run executes both sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpiredOTPs(ctx); err != nil {
				s.log.Error().Err(err).Msg("otp sweep failed")
			}
			if _, err := s.SweepExpiredGhosts(ctx); err != nil {
				s.log.Error().Err(err).Msg("ghost sweep failed")
			}
		}
	}
}
