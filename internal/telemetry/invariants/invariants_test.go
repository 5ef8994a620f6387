package invariants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInvariantViolationAddsEventToActiveSpan(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	InvariantViolation(ctx, InvariantPhaseTransitionLegal, SeverityError, ViolationDetails{
		WhatInvariant: "phases advance strictly forward",
		WhereDetected: "campaign.checkPhaseTransition",
		WhyViolated:   "phase index jumped from 0 to 2",
		Additional: map[string]string{
			"campaign_id": "campaign-1",
		},
	})
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 1)
	assert.Equal(t, "invariant.violation", events[0].Name)
	assert.Equal(t, InvariantPhaseTransitionLegal, eventAttr(events[0], "invariant_name"))
	assert.Equal(t, SeverityError, eventAttr(events[0], "severity"))
	assert.Equal(t, "campaign.checkPhaseTransition", eventAttr(events[0], "where_detected"))
	assert.Equal(t, "campaign-1", eventAttr(events[0], "context.campaign_id"))
}

func TestInvariantViolationDisabledSkipsEmission(t *testing.T) {
	previous := Enabled()
	SetEnabled(false)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	InvariantViolation(ctx, InvariantPhaseTransitionLegal, SeverityError, ViolationDetails{
		WhereDetected: "campaign.checkPhaseTransition",
	})
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 0)
}

func TestPredefinedInvariantChecksEmitExpectedNames(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	tests := []struct {
		name          string
		wantInvariant string
		run           func(ctx context.Context) bool
	}{
		{
			name:          "phase_transition_legal",
			wantInvariant: InvariantPhaseTransitionLegal,
			run: func(ctx context.Context) bool {
				return CheckPhaseTransitionLegal(ctx, "campaign.checkPhaseTransition", 0, 2)
			},
		},
		{
			name:          "progress_monotonic",
			wantInvariant: InvariantProgressMonotonic,
			run: func(ctx context.Context) bool {
				return CheckProgressMonotonic(ctx, "campaign.RunCycle", 62.5, 48.0)
			},
		},
		{
			name:          "cooldown_respected",
			wantInvariant: InvariantCooldownRespected,
			run: func(ctx context.Context) bool {
				return CheckCooldownRespected(ctx, "engine.Act", 12*time.Second, 30*time.Second)
			},
		},
		{
			name:          "log_append_only",
			wantInvariant: InvariantLogAppendOnly,
			run: func(ctx context.Context) bool {
				return CheckLogAppendOnly(ctx, "session.AppendLog", 5, 3)
			},
		},
		{
			name:          "conclude_once",
			wantInvariant: InvariantConcludeOnce,
			run: func(ctx context.Context) bool {
				return CheckConcludeOnce(ctx, "campaign.conclude", true)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			recorder, restore := installTracerProvider()
			defer restore()

			ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
			assert.False(t, tt.run(ctx))
			span.End()

			events := spanEventsByName(recorder, "operation")
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantInvariant, eventAttr(events[0], "invariant_name"))
		})
	}
}

func TestPredefinedInvariantChecksPassQuietly(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	assert.True(t, CheckPhaseTransitionLegal(ctx, "campaign.checkPhaseTransition", 0, 1))
	assert.True(t, CheckProgressMonotonic(ctx, "campaign.RunCycle", 48.0, 62.5))
	assert.True(t, CheckCooldownRespected(ctx, "engine.Act", 31*time.Second, 30*time.Second))
	assert.True(t, CheckLogAppendOnly(ctx, "session.AppendLog", 3, 5))
	assert.True(t, CheckConcludeOnce(ctx, "campaign.conclude", false))
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 0)
}

func TestCheckCooldownRespectedUsesWarnSeverity(t *testing.T) {
	previous := Enabled()
	SetEnabled(true)
	t.Cleanup(func() {
		SetEnabled(previous)
	})

	recorder, restore := installTracerProvider()
	defer restore()

	ctx, span := otel.Tracer("test/invariants").Start(context.Background(), "operation")
	assert.False(t, CheckCooldownRespected(ctx, "engine.Act", time.Second, 30*time.Second))
	span.End()

	events := spanEventsByName(recorder, "operation")
	require.Len(t, events, 1)
	assert.Equal(t, SeverityWarn, eventAttr(events[0], "severity"))
}

func installTracerProvider() (*tracetest.SpanRecorder, func()) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	return recorder, func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			otel.Handle(err)
		}
		otel.SetTracerProvider(previous)
	}
}

func spanEventsByName(recorder *tracetest.SpanRecorder, spanName string) []sdktrace.Event {
	for _, finished := range recorder.Ended() {
		if finished.Name() != spanName {
			continue
		}
		return finished.Events()
	}
	return nil
}

func eventAttr(event sdktrace.Event, key string) string {
	for _, attr := range event.Attributes {
		if string(attr.Key) != key {
			continue
		}
		return attr.Value.AsString()
	}
	return ""
}
