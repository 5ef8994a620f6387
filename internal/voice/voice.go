// Package voice provides voice-playback collaborator adapters. Playback is
// best-effort by contract: callers log and swallow every failure.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/parley-sim/parley/internal/engine"
	"github.com/parley-sim/parley/internal/tracing"
)

// CommandRunner executes the external playback process.
type CommandRunner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)
}

type defaultCommandRunner struct{}

func (d defaultCommandRunner) Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	_, stdout, _, err := tracing.ExecuteCommand(ctx, name, args, strings.NewReader(stdin))
	if err != nil {
		return nil, tracing.WrapExecutionError(name, args, err)
	}
	return []byte(stdout), nil
}

// Command pipes speech text to an external playback CLI. The voice id and
// tuning settings are passed as flags; the text arrives on stdin.
type Command struct {
	runner CommandRunner
	name   string
	args   []string
}

// NewCommand builds a command-backed speaker.
func NewCommand(name string, args ...string) (*Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("voice command is required")
	}
	return &Command{
		runner: defaultCommandRunner{},
		name:   name,
		args:   append([]string(nil), args...),
	}, nil
}

// NewCommandWithRunner builds a command-backed speaker with an injectable
// runner for tests.
func NewCommandWithRunner(runner CommandRunner, name string, args ...string) (*Command, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	speaker, err := NewCommand(name, args...)
	if err != nil {
		return nil, err
	}
	speaker.runner = runner
	return speaker, nil
}

// Speak plays back one piece of character speech.
func (c *Command) Speak(ctx context.Context, text, voiceID string, settings engine.VoiceSettings) error {
	if c == nil {
		return errors.New("speaker is nil")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("speech text must not be empty")
	}

	args := append([]string(nil), c.args...)
	if voiceID = strings.TrimSpace(voiceID); voiceID != "" {
		args = append(args, "--voice", voiceID)
	}
	args = append(args,
		"--stability", formatSetting(settings.Stability),
		"--similarity", formatSetting(settings.SimilarityBoost),
	)

	if _, err := c.runner.Run(ctx, text, c.name, args...); err != nil {
		return fmt.Errorf("voice playback: %w", err)
	}
	return nil
}

// Null discards all playback requests. Used when no audio backend exists.
type Null struct{}

// Speak does nothing and always succeeds.
func (Null) Speak(_ context.Context, _, _ string, _ engine.VoiceSettings) error {
	return nil
}

func formatSetting(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
