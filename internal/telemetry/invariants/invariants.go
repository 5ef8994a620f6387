package invariants

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InvariantPhaseTransitionLegal requires phase advances to follow the ordered timeline.
	InvariantPhaseTransitionLegal = "phase_transition_legal"
	// InvariantProgressMonotonic requires timeline progress to never move backward.
	InvariantProgressMonotonic = "progress_monotonic"
	// InvariantCooldownRespected requires autonomous actions to honor the cooldown window.
	InvariantCooldownRespected = "cooldown_respected"
	// InvariantLogAppendOnly requires the campaign log to only ever grow.
	InvariantLogAppendOnly = "log_append_only"
	// InvariantConcludeOnce requires campaign conclusion to happen exactly once.
	InvariantConcludeOnce = "conclude_once"
)

const (
	// SeverityWarn is used for non-fatal invariant violations.
	SeverityWarn = "warn"
	// SeverityError is used for fatal invariant violations.
	SeverityError = "error"
)

var invariantChecksEnabled atomic.Bool

func init() {
	invariantChecksEnabled.Store(true)
}

// ViolationDetails captures invariant violation context for telemetry events.
type ViolationDetails struct {
	WhatInvariant string
	WhereDetected string
	WhyViolated   string
	Additional    map[string]string
}

// SetEnabled globally enables or disables invariant checks.
func SetEnabled(enabled bool) {
	invariantChecksEnabled.Store(enabled)
}

// Enabled reports whether invariant checks are currently enabled.
func Enabled() bool {
	return invariantChecksEnabled.Load()
}

// InvariantViolation emits an invariant.violation telemetry event on the active span.
// If the context has no active span, a short synthetic span is created for observability.
func InvariantViolation(
	ctx context.Context,
	invariantName string,
	severity string,
	details ViolationDetails,
) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	invariantName = strings.TrimSpace(invariantName)
	if invariantName == "" {
		invariantName = "unknown_invariant"
	}
	severity = normalizeSeverity(severity)

	attrs := []attribute.KeyValue{
		attribute.String("invariant_name", invariantName),
		attribute.String("severity", severity),
		attribute.String("what_invariant", strings.TrimSpace(details.WhatInvariant)),
		attribute.String("where_detected", strings.TrimSpace(details.WhereDetected)),
		attribute.String("why_violated", strings.TrimSpace(details.WhyViolated)),
	}

	if len(details.Additional) > 0 {
		keys := make([]string, 0, len(details.Additional))
		for key := range details.Additional {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(details.Additional[key])
			if value == "" {
				continue
			}
			attrs = append(attrs, attribute.String("context."+key, value))
		}
	}

	span := trace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().IsValid() {
		span.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
		return
	}

	tracedCtx, temporarySpan := otel.Tracer("parley/invariants").Start(ctx, "invariant.violation")
	defer temporarySpan.End()
	temporarySpan.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
	_ = tracedCtx
}

// CheckPhaseTransitionLegal validates the phase_transition_legal invariant:
// phases advance by exactly one index, in order.
func CheckPhaseTransitionLegal(ctx context.Context, whereDetected string, fromIndex, toIndex int) bool {
	if toIndex == fromIndex+1 {
		return true
	}
	InvariantViolation(ctx, InvariantPhaseTransitionLegal, SeverityError, ViolationDetails{
		WhatInvariant: "phase transitions follow the ordered timeline",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("illegal phase advance from index %d to %d", fromIndex, toIndex),
		Additional: map[string]string{
			"from_index": fmt.Sprintf("%d", fromIndex),
			"to_index":   fmt.Sprintf("%d", toIndex),
		},
	})
	return false
}

// CheckProgressMonotonic validates the progress_monotonic invariant.
func CheckProgressMonotonic(ctx context.Context, whereDetected string, previous, current float64) bool {
	if current >= previous {
		return true
	}
	InvariantViolation(ctx, InvariantProgressMonotonic, SeverityError, ViolationDetails{
		WhatInvariant: "timeline progress never decreases while active",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("progress moved backward from %.2f to %.2f", previous, current),
		Additional: map[string]string{
			"previous": fmt.Sprintf("%.2f", previous),
			"current":  fmt.Sprintf("%.2f", current),
		},
	})
	return false
}

// CheckCooldownRespected validates the cooldown_respected invariant.
func CheckCooldownRespected(
	ctx context.Context,
	whereDetected string,
	sinceLastAction time.Duration,
	cooldown time.Duration,
) bool {
	if sinceLastAction >= cooldown {
		return true
	}
	InvariantViolation(ctx, InvariantCooldownRespected, SeverityWarn, ViolationDetails{
		WhatInvariant: "autonomous actions honor the cooldown window",
		WhereDetected: whereDetected,
		WhyViolated: fmt.Sprintf(
			"action executed %s after the previous one, cooldown is %s",
			sinceLastAction, cooldown,
		),
	})
	return false
}

// CheckLogAppendOnly validates the log_append_only invariant.
func CheckLogAppendOnly(ctx context.Context, whereDetected string, previousLength, currentLength int) bool {
	if currentLength >= previousLength {
		return true
	}
	InvariantViolation(ctx, InvariantLogAppendOnly, SeverityError, ViolationDetails{
		WhatInvariant: "campaign log only ever grows",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("log shrank from %d to %d entries", previousLength, currentLength),
	})
	return false
}

// CheckConcludeOnce validates the conclude_once invariant.
func CheckConcludeOnce(ctx context.Context, whereDetected string, alreadyConcluded bool) bool {
	if !alreadyConcluded {
		return true
	}
	InvariantViolation(ctx, InvariantConcludeOnce, SeverityWarn, ViolationDetails{
		WhatInvariant: "campaign conclusion happens exactly once",
		WhereDetected: whereDetected,
		WhyViolated:   "conclude requested on an already-concluded campaign",
	})
	return false
}

func normalizeSeverity(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SeverityWarn:
		return SeverityWarn
	case SeverityError:
		return SeverityError
	default:
		return SeverityError
	}
}
