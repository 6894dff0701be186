package repository

import (
	"context"
	"time"

	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/otp/domain"
)

// Repository defines persistence for OTP challenges. Challenges are mutated
// through status transitions and never deleted (retained for audit).
type Repository interface {
	// Create persists the challenge. The challenge must have ID set.
	Create(ctx context.Context, c *domain.Challenge) error
	// FindValidByCodeHash returns the Valid challenge matching the code hash,
	// purpose, and target, or nil if none. An empty target matches challenges
	// regardless of contact point (anonymous lookup).
	FindValidByCodeHash(ctx context.Context, codeHash string, purpose domain.Purpose, target identitydomain.Target) (*domain.Challenge, error)
	// ExpireValidByTarget transitions all Valid challenges for the target and
	// purpose to Expired, except the one with exceptID. Returns the number
	// transitioned.
	ExpireValidByTarget(ctx context.Context, target identitydomain.Target, purpose domain.Purpose, exceptID string) (int, error)
	// TransitionStatus moves the challenge from one status to another.
	// Returns false if the challenge was not in the from status, which is the
	// compare-and-set that makes consumption race-free.
	TransitionStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	// CountCreatedSince counts challenges created for the target at or after
	// since, regardless of status. Drives the sliding-window attempt cap.
	CountCreatedSince(ctx context.Context, target identitydomain.Target, since time.Time) (int, error)
	// ListValidExpiredBefore returns Valid challenges whose expiry has passed
	// at now. Used by the cleanup sweep.
	ListValidExpiredBefore(ctx context.Context, now time.Time) ([]*domain.Challenge, error)
}
