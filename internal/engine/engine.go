package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parley-sim/parley/internal/events"
	"github.com/parley-sim/parley/internal/session"
	"github.com/parley-sim/parley/internal/telemetry"
	"github.com/parley-sim/parley/internal/telemetry/invariants"
	"github.com/parley-sim/parley/internal/timeline"
)

const (
	// ActionCharacterInitiative is an AI-character diplomatic initiative.
	ActionCharacterInitiative = "character_initiative"
	// ActionCrisisDevelopment is a locally-generated crisis development.
	ActionCrisisDevelopment = "crisis_development"
	// ActionPhaseTransition records a phase advance.
	ActionPhaseTransition = "phase_transition"
	// ActionResolutionProposal records a tabled settlement proposal.
	ActionResolutionProposal = "resolution_proposal"

	// SystemActor is the literal actor recorded for system-initiated actions.
	SystemActor = "system"

	// DefaultCooldown is the minimum spacing between autonomous actions.
	DefaultCooldown = 30 * time.Second
	// DefaultCallTimeout bounds one generator or voice call.
	DefaultCallTimeout = 10 * time.Second

	promptContextEntries = 3
)

// Action is one system- or AI-initiated event injected into the campaign.
// Actions are immutable once created.
type Action struct {
	Kind        string    `json:"kind"`
	ExecutedBy  string    `json:"executed_by"`
	Description string    `json:"description"`
	Impacts     []string  `json:"impacts"`
	Timestamp   time.Time `json:"timestamp"`
}

// CharacterResponse is one character-attributed line from the generator.
type CharacterResponse struct {
	CharacterID string
	Content     string
}

// GeneratorResult is the usable portion of one generator call.
type GeneratorResult struct {
	CharacterResponses []CharacterResponse
	CrisisUpdate       string
}

// Generator produces diplomatic developments. Implementations may fail or
// return nothing usable; the engine treats both identically.
type Generator interface {
	Generate(ctx context.Context, prompt string, sess *session.Session) (*GeneratorResult, error)
}

// VoiceSettings tunes the voice-playback collaborator.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// Speaker plays back character speech. Playback is best-effort.
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string, settings VoiceSettings) error
}

// EventPublisher surfaces degraded-mode failures and executed actions.
type EventPublisher interface {
	Publish(event events.Event)
}

// Source identifies where an action came from.
type Source string

const (
	// SourceGenerator marks generator-backed actions.
	SourceGenerator Source = "generator"
	// SourceFallback marks deterministic local fallback actions.
	SourceFallback Source = "fallback"
)

// Outcome reports one engine invocation. Action is nil when the cooldown
// suppressed the cycle. Collaborator errors are carried here so callers can
// assert on degraded-mode behavior instead of reading side-channel logs.
type Outcome struct {
	Action       *Action
	Source       Source
	GeneratorErr error
	VoiceErr     error
}

// Config tunes engine timing.
type Config struct {
	Cooldown    time.Duration
	CallTimeout time.Duration
	VoiceTuning VoiceSettings
}

// Option configures engine construction.
type Option func(*Engine)

// WithRand injects the RNG used for fallback selection. Tests pass a seeded
// source for reproducible picks.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithSpeaker attaches the voice-playback collaborator.
func WithSpeaker(speaker Speaker) Option {
	return func(e *Engine) {
		e.speaker = speaker
	}
}

// WithPublisher attaches the event bus publisher.
func WithPublisher(publisher EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// Engine injects autonomous diplomatic developments into a campaign,
// throttled by a cooldown and degrading to a fixed local action library
// when the generator collaborator fails.
type Engine struct {
	generator Generator
	speaker   Speaker
	publisher EventPublisher
	logger    *log.Logger
	cfg       Config
	rng       *rand.Rand

	mu             sync.Mutex
	lastActionTime time.Time
	history        []Action
}

// New creates an autonomous action engine.
func New(generator Generator, logger *log.Logger, cfg Config, options ...Option) (*Engine, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	e := &Engine{
		generator: generator,
		logger:    logger,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		history:   []Action{},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(e)
	}
	return e, nil
}

// Act runs one engine cycle. It does nothing while the cooldown window is
// open; otherwise it requests a development from the generator, falls back
// to the local action library on failure, and appends the result to the
// campaign log.
func (e *Engine) Act(
	ctx context.Context,
	sess *session.Session,
	phase *timeline.Phase,
	timeRemaining time.Duration,
	now time.Time,
) Outcome {
	if e == nil || sess == nil || phase == nil {
		return Outcome{}
	}

	e.mu.Lock()
	if !e.lastActionTime.IsZero() && now.Sub(e.lastActionTime) < e.cfg.Cooldown {
		e.mu.Unlock()
		return Outcome{}
	}
	e.mu.Unlock()

	prompt := buildPrompt(sess, phase, timeRemaining, e.recentDescriptions(promptContextEntries))
	callCtx, call, result, generatorErr := e.callGenerator(ctx, "engine.act", prompt, sess)

	var outcome Outcome
	if response, ok := usableResponse(result); ok {
		outcome = e.executeInitiative(ctx, sess, response, now)
	} else {
		if generatorErr == nil {
			generatorErr = errors.New("generator returned no usable response")
		}
		outcome = e.executeFallback(callCtx, sess, phase, now)
	}
	call.End(generatorErr)
	outcome.GeneratorErr = generatorErr

	if generatorErr != nil {
		e.logger.With("phase", phase.ID, "error", generatorErr).
			Warn("generator unavailable, using fallback action")
		e.publishFailure(sess.ID, phase.ID, "generator", generatorErr)
	}

	e.mu.Lock()
	// The gate above is not atomic with this update, so overlapping callers
	// could both slip through; surface that as a cooldown violation.
	if !e.lastActionTime.IsZero() {
		invariants.CheckCooldownRespected(ctx, "engine.act", now.Sub(e.lastActionTime), e.cfg.Cooldown)
	}
	e.lastActionTime = now
	if outcome.Action != nil {
		e.history = append(e.history, *outcome.Action)
	}
	e.mu.Unlock()

	if outcome.Action != nil {
		e.publishAction(sess.ID, phase.ID, *outcome.Action)
	}
	return outcome
}

// CrisisUpdate asks the generator for a crisis development and rewrites the
// session's crisis description. Failures degrade to the local crisis
// library. The update bypasses the action cooldown because it does not
// count as an autonomous action.
func (e *Engine) CrisisUpdate(ctx context.Context, sess *session.Session, phase *timeline.Phase, now time.Time) Outcome {
	if e == nil || sess == nil || phase == nil {
		return Outcome{}
	}

	prompt := buildCrisisPrompt(sess, phase)
	_, call, result, generatorErr := e.callGenerator(ctx, "engine.crisis_update", prompt, sess)

	update := ""
	source := SourceGenerator
	if result != nil {
		update = strings.TrimSpace(result.CrisisUpdate)
	}
	if update == "" {
		if generatorErr == nil {
			generatorErr = errors.New("generator returned no crisis update")
		}
		call.RecordFallback("degrading to local crisis library")
		update = pickFallback(e.rng, crisisUpdateLibrary)
		source = SourceFallback
	}
	call.End(generatorErr)

	if generatorErr != nil {
		e.logger.With("phase", phase.ID, "error", generatorErr).
			Warn("generator unavailable, using fallback crisis update")
		e.publishFailure(sess.ID, phase.ID, "generator", generatorErr)
	}

	sess.SetCrisis(update)
	sess.AppendLog(session.LogEntry{
		Title:     "Crisis Update",
		Content:   update,
		Timestamp: now.UTC(),
		Type:      session.EntryTypeCrisisDevelopment,
	})

	return Outcome{Source: source, GeneratorErr: generatorErr}
}

// Record appends an orchestrator-created action (phase transitions,
// resolution proposals) to the shared action history.
func (e *Engine) Record(action Action) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, action)
}

// History returns a copy of the accumulated action history.
func (e *Engine) History() []Action {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, len(e.history))
	copy(out, e.history)
	return out
}

// ActionCount returns the total number of recorded actions.
func (e *Engine) ActionCount() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// ActionsSince counts actions recorded at or after t.
func (e *Engine) ActionsSince(t time.Time) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, action := range e.history {
		if !action.Timestamp.Before(t) {
			count++
		}
	}
	return count
}

// NextActionIn reports how long until the cooldown window reopens.
func (e *Engine) NextActionIn(now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastActionTime.IsZero() {
		return 0
	}
	remaining := e.cfg.Cooldown - now.Sub(e.lastActionTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// callGenerator runs one collaborator call under the configured timeout.
// The returned span tracker stays open so the caller can mark the fallback
// decision on it before ending; the returned context carries the tracker
// for code further down the degradation path.
func (e *Engine) callGenerator(
	ctx context.Context,
	operation string,
	prompt string,
	sess *session.Session,
) (context.Context, *telemetry.GeneratorCall, *GeneratorResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	callCtx, call := telemetry.StartGeneratorCall(callCtx, telemetry.GeneratorCallRequest{
		Operation:  operation,
		CampaignID: sess.ID,
		Prompt:     prompt,
	})
	result, err := e.generator.Generate(callCtx, prompt, sess)
	return callCtx, call, result, err
}

func (e *Engine) executeInitiative(
	ctx context.Context,
	sess *session.Session,
	response CharacterResponse,
	now time.Time,
) Outcome {
	character, known := sess.CharacterByID(response.CharacterID)
	if !known {
		character = session.Character{ID: response.CharacterID, Name: response.CharacterID}
	}

	action := Action{
		Kind:        ActionCharacterInitiative,
		ExecutedBy:  character.ID,
		Description: response.Content,
		Impacts:     []string{"advances the negotiation", "shifts committee momentum"},
		Timestamp:   now.UTC(),
	}

	entry := session.LogEntry{
		Title:     fmt.Sprintf("Diplomatic Initiative — %s", character.Name),
		Content:   response.Content,
		Timestamp: now.UTC(),
		Type:      session.EntryTypeAutonomousAction,
	}
	if known {
		entry.Character = &session.Character{
			ID:      character.ID,
			Name:    character.Name,
			Country: character.Country,
			Color:   character.Color,
		}
	}
	sess.AppendLog(entry)

	var voiceErr error
	if e.speaker != nil {
		voiceErr = e.speak(ctx, sess.ID, response.Content, character.VoiceID)
	}

	return Outcome{Action: &action, Source: SourceGenerator, VoiceErr: voiceErr}
}

func (e *Engine) executeFallback(ctx context.Context, sess *session.Session, phase *timeline.Phase, now time.Time) Outcome {
	if call := telemetry.GeneratorCallFromContext(ctx); call != nil {
		call.RecordFallback("degrading to local action library for phase " + phase.ID)
	}

	pick := pickFallbackAction(e.rng, phase.ID)

	action := Action{
		Kind:        ActionCrisisDevelopment,
		ExecutedBy:  SystemActor,
		Description: pick.description,
		Impacts:     append([]string(nil), pick.impacts...),
		Timestamp:   now.UTC(),
	}

	sess.AppendLog(session.LogEntry{
		Title:     "Crisis Development",
		Content:   pick.description,
		Timestamp: now.UTC(),
		Type:      session.EntryTypeCrisisDevelopment,
	})

	return Outcome{Action: &action, Source: SourceFallback}
}

func (e *Engine) speak(ctx context.Context, campaignID, text, voiceID string) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	err := e.speaker.Speak(callCtx, text, voiceID, e.cfg.VoiceTuning)
	if err == nil {
		return nil
	}

	// Playback failures never propagate and never block the cycle.
	e.logger.With("voice_id", voiceID, "error", err).Warn("voice playback failed")
	e.publishFailure(campaignID, "", "voice", err)
	return err
}

func (e *Engine) publishFailure(campaignID, phaseID, collaborator string, err error) {
	if e.publisher == nil || err == nil {
		return
	}
	e.publisher.Publish(events.Event{
		Type:       events.EventTypeCollaboratorFailure,
		CampaignID: campaignID,
		Phase:      phaseID,
		Payload: events.CollaboratorFailure{
			Collaborator: collaborator,
			Err:          err.Error(),
		},
		Severity: events.SeverityWarn,
	})
}

func (e *Engine) publishAction(campaignID, phaseID string, action Action) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(events.Event{
		Type:       events.EventTypeActionExecuted,
		CampaignID: campaignID,
		Phase:      phaseID,
		Payload:    action,
		Severity:   events.SeverityInfo,
	})
}

func (e *Engine) recentDescriptions(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := len(e.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(e.history)-start)
	for _, action := range e.history[start:] {
		out = append(out, action.Description)
	}
	return out
}

func usableResponse(result *GeneratorResult) (CharacterResponse, bool) {
	if result == nil {
		return CharacterResponse{}, false
	}
	for _, response := range result.CharacterResponses {
		if strings.TrimSpace(response.CharacterID) == "" {
			continue
		}
		if strings.TrimSpace(response.Content) == "" {
			continue
		}
		return CharacterResponse{
			CharacterID: strings.TrimSpace(response.CharacterID),
			Content:     strings.TrimSpace(response.Content),
		}, true
	}
	return CharacterResponse{}, false
}
