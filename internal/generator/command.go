// Package generator provides diplomatic-generator collaborator adapters.
// The orchestrator only depends on the engine.Generator contract; how the
// text is produced is this package's concern.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/parley-sim/parley/internal/engine"
	"github.com/parley-sim/parley/internal/session"
	"github.com/parley-sim/parley/internal/tracing"
)

// CommandRunner executes the external generator process.
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

// Command invokes an external CLI to produce diplomatic developments. The
// process receives the prompt on stdin and emits one JSON object per line:
// character responses as {"character": id, "content": text} and crisis
// updates as {"crisis_update": text}. Unparseable lines are skipped.
type Command struct {
	runner CommandRunner
	name   string
	args   []string
}

// NewCommand builds a command-backed generator.
func NewCommand(name string, args ...string) (*Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("generator command is required")
	}
	return &Command{
		runner: defaultCommandRunner{},
		name:   name,
		args:   append([]string(nil), args...),
	}, nil
}

// NewCommandWithRunner builds a command-backed generator with an injectable
// runner for tests.
func NewCommandWithRunner(runner CommandRunner, name string, args ...string) (*Command, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	generator, err := NewCommand(name, args...)
	if err != nil {
		return nil, err
	}
	generator.runner = runner
	return generator, nil
}

// Generate runs the external command and parses its response lines.
func (c *Command) Generate(ctx context.Context, prompt string, _ *session.Session) (*engine.GeneratorResult, error) {
	if c == nil {
		return nil, errors.New("generator is nil")
	}

	out, err := c.runner.Run(ctx, prompt, c.name, c.args...)
	if err != nil {
		return nil, fmt.Errorf("invoke generator command: %w", err)
	}

	result := parseResponseLines(string(out))
	if len(result.CharacterResponses) == 0 && result.CrisisUpdate == "" {
		return nil, errors.New("generator produced no usable output")
	}
	return result, nil
}

type responseLine struct {
	Character    string `json:"character"`
	Content      string `json:"content"`
	CrisisUpdate string `json:"crisis_update"`
}

func parseResponseLines(output string) *engine.GeneratorResult {
	result := &engine.GeneratorResult{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var decoded responseLine
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			continue
		}
		if update := strings.TrimSpace(decoded.CrisisUpdate); update != "" {
			result.CrisisUpdate = update
			continue
		}
		character := strings.TrimSpace(decoded.Character)
		content := strings.TrimSpace(decoded.Content)
		if character == "" || content == "" {
			continue
		}
		result.CharacterResponses = append(result.CharacterResponses, engine.CharacterResponse{
			CharacterID: character,
			Content:     content,
		})
	}
	return result
}
