package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorMessageBytes = 512

var (
	sensitiveInlinePattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`)
	bearerTokenPattern     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	apiTokenPattern        = regexp.MustCompile(`\bsk-[A-Za-z0-9]{10,}\b`)
)

// GeneratorCallRequest defines telemetry metadata for one generator interaction.
type GeneratorCallRequest struct {
	Operation  string
	CampaignID string
	Prompt     string
}

// GeneratorCall tracks one generator.call span lifecycle.
type GeneratorCall struct {
	span      trace.Span
	startedAt time.Time

	mu    sync.Mutex
	ended bool
}

type generatorCallContextKey struct{}

// StartGeneratorCall starts a generator.call span and returns a context carrying the tracker.
func StartGeneratorCall(ctx context.Context, req GeneratorCallRequest) (context.Context, *GeneratorCall) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("campaign_id", normalizeOrUnknown(req.CampaignID)),
		attribute.Int("prompt_bytes", len(req.Prompt)),
		attribute.String("prompt_hash", hashPrompt(req.Prompt)),
	}
	if operation := strings.TrimSpace(req.Operation); operation != "" {
		attrs = append(attrs, attribute.String("operation", operation))
	}

	spanCtx, span := otel.Tracer("parley/telemetry/generator").Start(
		ctx,
		"generator.call",
		trace.WithAttributes(attrs...),
	)

	call := &GeneratorCall{
		span:      span,
		startedAt: time.Now(),
	}

	return context.WithValue(spanCtx, generatorCallContextKey{}, call), call
}

// GeneratorCallFromContext returns the generator call tracker if one exists on the context.
func GeneratorCallFromContext(ctx context.Context) *GeneratorCall {
	if ctx == nil {
		return nil
	}
	callValue := ctx.Value(generatorCallContextKey{})
	call, ok := callValue.(*GeneratorCall)
	if !ok {
		return nil
	}
	return call
}

// RecordFallback marks the span when the engine degrades to the local action library.
func (c *GeneratorCall) RecordFallback(reason string) {
	if c == nil || c.span == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}

	c.span.AddEvent(
		"generator.fallback",
		trace.WithAttributes(
			attribute.String("reason", redactSecrets(reason)),
		),
	)
}

// End finalizes the generator.call span with latency and outcome.
func (c *GeneratorCall) End(err error) {
	if c == nil || c.span == nil {
		return
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	durationMS := time.Since(c.startedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	c.span.SetAttributes(attribute.Int64("latency_ms", durationMS))

	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, redactSecrets(err.Error()))
	} else {
		c.span.SetStatus(codes.Ok, "generator call completed")
	}
	c.span.End()
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(redactSecrets(prompt)))
	return hex.EncodeToString(sum[:])
}

func redactSecrets(input string) string {
	redacted := strings.TrimSpace(input)
	if redacted == "" {
		return ""
	}
	redacted = sensitiveInlinePattern.ReplaceAllString(redacted, "$1=<redacted>")
	redacted = bearerTokenPattern.ReplaceAllString(redacted, "bearer <redacted>")
	redacted = apiTokenPattern.ReplaceAllString(redacted, "<redacted>")
	if len(redacted) > maxErrorMessageBytes {
		return redacted[:maxErrorMessageBytes-len("...[truncated]")] + "...[truncated]"
	}
	return redacted
}

func normalizeOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
