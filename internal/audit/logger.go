// Package audit records identity-lifecycle events (OTP issuance, ghost
// creation, conversion, token revocation). Recording is best-effort: failures
// are logged and never affect the caller.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostauth/internal/audit/domain"
	auditrepo "ghostauth/internal/audit/repository"
)

// SentinelActor is used for events with no acting identity (scheduled sweeps).
const SentinelActor = "_system"

// Actions recorded by the core services.
const (
	ActionOTPGenerated      = "otp.generated"
	ActionOTPVerified       = "otp.verified"
	ActionGhostCreated      = "ghost.created"
	ActionIdentityConverted = "identity.converted"
	ActionTokenRefreshed    = "token.refreshed"
	ActionTokensRevoked     = "token.revoked"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Recorder writes a single audit event with explicit action/resource.
type Recorder interface {
	LogEvent(ctx context.Context, actor, action, resource, metadata string)
}

// Emitter mirrors recorded events to a secondary sink (e.g. OTel logs).
type Emitter interface {
	Emit(ctx context.Context, a *domain.AuditLog)
}

// Logger implements Recorder using the audit repository, an optional emitter,
// and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	emitter     Emitter
	ipExtractor IPExtractor
	log         zerolog.Logger
}

// NewLogger returns a Recorder that persists to repo, mirrors to emitter
// (may be nil), and uses ipExtractor (may be nil; IP recorded as "unknown").
func NewLogger(repo auditrepo.Repository, emitter Emitter, ipExtractor IPExtractor, log zerolog.Logger) *Logger {
	return &Logger{repo: repo, emitter: emitter, ipExtractor: ipExtractor, log: log}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not
// returned.
func (l *Logger) LogEvent(ctx context.Context, actor, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if actor == "" {
		actor = SentinelActor
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Error().Err(err).Str("action", action).Str("resource", resource).Msg("audit write failed")
	}
	if l.emitter != nil {
		l.emitter.Emit(ctx, entry)
	}
}

// Nop is a Recorder that discards events; useful in tests.
type Nop struct{}

// LogEvent implements Recorder.
func (Nop) LogEvent(context.Context, string, string, string, string) {}
