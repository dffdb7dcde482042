// Package tracer provides a small tracing abstraction for ingestion and
// verification, so those paths can emit spans without importing
// OpenTelemetry directly.
//
// Implementations:
//   - NoopTracer: for tests and when tracing is disabled
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, marking it failed when err is non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span. The returned context carries it to child
	// operations.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanVerify,
	//       tracer.String(tracer.AttrURI, uri.String()),
	//   )
	//   defer span.End(nil)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanApply  = "claims.ingest.apply"
	SpanVerify = "claims.verify"
)

// Attribute keys.
const (
	AttrURI       = "claim.uri"
	AttrDigest    = "claim.digest"
	AttrAction    = "ingest.action"
	AttrOutcome   = "ingest.outcome"
	AttrSource    = "ingest.source"
	AttrProofType = "proof.type"
	AttrSigner    = "proof.signer"
	AttrVerdict   = "proof.verdict"
	AttrReason    = "proof.reason"
)

// Event names.
const (
	EventQueued  = "verify.queued"
	EventDropped = "record.dropped"
)
