package audit

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"ghostauth/internal/audit/domain"
)

// NewOTelEmitter returns an Emitter that mirrors audit events as OTel log
// records via the given LoggerProvider. If provider is nil, returns a no-op
// emitter.
func NewOTelEmitter(provider *sdklog.LoggerProvider) Emitter {
	if provider == nil {
		return nopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("ghostauth.audit")}
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, *domain.AuditLog) {}

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the audit entry to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, a *domain.AuditLog) {
	if a == nil {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(a.CreatedAt)
	rec.SetBody(otellog.StringValue(a.Action))
	rec.AddAttributes(
		otellog.String("actor", a.Actor),
		otellog.String("resource", a.Resource),
		otellog.String("ip", a.IP),
	)
	if a.Metadata != "" {
		rec.AddAttributes(otellog.String("metadata", a.Metadata))
	}
	e.logger.Emit(ctx, rec)
}
