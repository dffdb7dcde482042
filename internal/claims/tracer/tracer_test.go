package tracer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	ctx := context.Background()
	newCtx, span := tracer.NewNoop().Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrURI, "at://x"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Bool("cached", true))
	span.AddEvent(tracer.EventQueued)
	span.End(errors.New("boom"))
}

func TestRecorder_CapturesFinishedSpans(t *testing.T) {
	rec := tracer.NewRecorder()
	boom := errors.New("boom")

	_, span := rec.Start(context.Background(), tracer.SpanApply, tracer.String(tracer.AttrAction, "create"))
	span.SetAttributes(tracer.String(tracer.AttrOutcome, "created"))
	span.AddEvent(tracer.EventQueued)
	assert.Empty(t, rec.Spans(""), "span is recorded only once ended")
	span.End(nil)

	_, span = rec.Start(context.Background(), tracer.SpanVerify)
	span.End(boom)

	applied := rec.Spans(tracer.SpanApply)
	require.Len(t, applied, 1)
	assert.Equal(t, "create", applied[0].Attrs[tracer.AttrAction])
	assert.Equal(t, "created", applied[0].Attrs[tracer.AttrOutcome])
	assert.Equal(t, []string{tracer.EventQueued}, applied[0].Events)
	assert.NoError(t, applied[0].Err)

	verified := rec.Spans(tracer.SpanVerify)
	require.Len(t, verified, 1)
	assert.ErrorIs(t, verified[0].Err, boom)
	assert.Len(t, rec.Spans(""), 2)
}

func TestOTelTracer_GlobalProvider(t *testing.T) {
	ctx, span := tracer.NewOTel().Start(context.Background(), tracer.SpanApply,
		tracer.String(tracer.AttrURI, "at://did:plc:x/com.linkedclaims.claim/r1"),
		tracer.Int64("seq", 3),
		tracer.Float64("confidence", 0.5),
		tracer.Bool("signed", true),
	)
	require.NotNil(t, ctx)
	span.AddEvent(tracer.EventDropped, tracer.String(tracer.AttrReason, "bad_json"))
	span.End(errors.New("failed"))
}

func TestDuration(t *testing.T) {
	attr := tracer.Duration("latency", 150_000_000)
	assert.Equal(t, int64(150), attr.Value)
}
