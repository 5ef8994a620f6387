package tracing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxOutputEventBytes = 1024

// ExecuteCommand runs an external collaborator command and emits
// deterministic tracing metadata. Prompt or narration text is piped through
// stdin so it never appears in process listings.
func ExecuteCommand(
	ctx context.Context,
	commandName string,
	args []string,
	stdin io.Reader,
) (int, string, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	commandName = strings.TrimSpace(commandName)
	if commandName == "" {
		return 0, "", "", errors.New("command name must not be empty")
	}

	redactedArgs := redactArgs(args)
	spanCtx, span := otel.Tracer("parley/tracing/tools").Start(
		ctx,
		"collaborator.exec",
		trace.WithAttributes(
			attribute.String("command_name", commandName),
			attribute.String("args_redacted", strings.Join(redactedArgs, " ")),
		),
	)
	_ = spanCtx

	started := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	cmd := exec.CommandContext(ctx, commandName, args...)
	cmd.Stdin = stdin

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := resolveExitCode(cmd, err, ctx)
	stdoutText := strings.TrimSpace(stdout.String())
	stderrText := strings.TrimSpace(stderr.String())

	span.SetAttributes(
		attribute.Int("exit_code", exitCode),
		attribute.Int("stdout_bytes", len(stdoutText)),
	)
	if stderrText != "" {
		span.AddEvent(
			"collaborator.stderr",
			trace.WithAttributes(attribute.String("output", truncateOutput(stderrText, maxOutputEventBytes))),
		)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return exitCode, stdoutText, stderrText, err
	}

	span.SetStatus(codes.Ok, "collaborator command completed")
	return exitCode, stdoutText, stderrText, nil
}

func resolveExitCode(cmd *exec.Cmd, runErr error, ctx context.Context) int {
	if runErr == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return 0
}

func truncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}

func redactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, "<redacted>")
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if strings.Contains(trimmed, "=") {
			parts := strings.SplitN(trimmed, "=", 2)
			if len(parts) == 2 && isSensitiveToken(strings.ToLower(parts[0])) {
				redacted = append(redacted, parts[0]+"=<redacted>")
				continue
			}
		}

		lower := strings.ToLower(trimmed)
		if isSensitiveToken(lower) {
			maskNext = true
			redacted = append(redacted, trimmed)
			continue
		}

		redacted = append(redacted, trimmed)
	}

	return redacted
}

func isSensitiveToken(value string) bool {
	sensitiveSubstrings := []string{
		"token",
		"password",
		"passwd",
		"secret",
		"api-key",
		"apikey",
		"auth",
		"bearer",
	}
	for _, candidate := range sensitiveSubstrings {
		if strings.Contains(value, candidate) {
			return true
		}
	}
	return false
}

// FormatCommand returns a deterministic, shell-safe command preview for traces/logs.
func FormatCommand(commandName string, args []string) string {
	parts := append([]string{strings.TrimSpace(commandName)}, args...)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, " ")
}

// WrapExecutionError annotates execution failures with command identity.
func WrapExecutionError(commandName string, args []string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("run %s: %w", FormatCommand(commandName, args), err)
}
