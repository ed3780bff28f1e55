package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for queue job identifiers.
	FieldJobID = "job_id"
	// FieldJobKind is the standardized structured logging key for job kinds.
	FieldJobKind = "job_kind"
	// FieldPhase is the standardized structured logging key for enrichment phase names.
	FieldPhase = "phase"
	// FieldEntityID is the standardized structured logging key for entity identifiers.
	FieldEntityID = "entity_id"
	// FieldEntityType is the standardized structured logging key for entity types.
	FieldEntityType = "entity_type"
	// FieldProvider is the standardized structured logging key for provider names.
	FieldProvider = "provider"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log records with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries an operator-facing remediation hint.
	FieldErrorHint = "error_hint"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	jobKindKey
	phaseKey
	correlationIDKey
)

// WithJobID attaches a job identifier to the context.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithJobKind attaches a job kind to the context.
func WithJobKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, jobKindKey, kind)
}

// WithPhase attaches an enrichment phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// WithCorrelationID attaches a request correlation identifier to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := ctx.Value(jobIDKey).(int64); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if kind, ok := ctx.Value(jobKindKey).(string); ok {
		fields = append(fields, slog.String(FieldJobKind, kind))
	}
	if phase, ok := ctx.Value(phaseKey).(string); ok {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	if rid, ok := ctx.Value(correlationIDKey).(string); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
