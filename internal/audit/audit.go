// Package audit records security-relevant operations: every encrypt and
// decrypt of certificate material and every status change.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Operations
const (
	OpEncrypt  = "encrypt"
	OpDecrypt  = "decrypt"
	OpIssue    = "certificate.issue"
	OpRevoke   = "certificate.revoke"
	OpSuspend  = "certificate.suspend"
	OpRotate   = "certificate.rotate"
	OpWebhook  = "gateway.webhook"
	OpComplete = "transaction.complete"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SystemActor is used when no actor is attached to the context
const SystemActor = "system"

// Event is one audited operation
type Event struct {
	Actor      string
	Operation  string
	ResourceID string
	Outcome    string
	Detail     string
}

// Sink receives audit events. Record must not block on the caller's behalf
// for longer than writing one entry.
type Sink interface {
	Record(ctx context.Context, e Event)
}

type actorKey struct{}

// WithActor attaches the acting principal to ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting principal attached to ctx
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

// Record builds an event from ctx and sends it to sink. A nil sink is ignored.
func Record(ctx context.Context, sink Sink, operation, resourceID string, err error) {
	if sink == nil {
		return
	}
	e := Event{
		Actor:      ActorFrom(ctx),
		Operation:  operation,
		ResourceID: resourceID,
		Outcome:    OutcomeSuccess,
	}
	if err != nil {
		e.Outcome = OutcomeFailure
		e.Detail = err.Error()
	}
	sink.Record(ctx, e)
}

// LogSink writes audit events as structured log entries
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that writes to logger
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Record writes one audit entry
func (s *LogSink) Record(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("actor", e.Actor),
		zap.String("operation", e.Operation),
		zap.String("resource_id", e.ResourceID),
		zap.String("outcome", e.Outcome),
		zap.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}

	if e.Outcome == OutcomeFailure {
		s.logger.Warn("audit event", fields...)
		return
	}
	s.logger.Info("audit event", fields...)
}
