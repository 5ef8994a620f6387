package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-sim/parley/internal/engine"
	"github.com/parley-sim/parley/internal/events"
	"github.com/parley-sim/parley/internal/resolution"
	"github.com/parley-sim/parley/internal/session"
	"github.com/parley-sim/parley/internal/telemetry/invariants"
	"github.com/parley-sim/parley/internal/timeline"
)

const (
	// DefaultTickInterval is the orchestration cycle period.
	DefaultTickInterval = 15 * time.Second
	// DefaultObjectiveThreshold is the phase objective-completion score
	// needed to advance before maxDuration forces it.
	DefaultObjectiveThreshold = 0.7
	// DefaultCrisisIdleThreshold is the log inactivity window after which
	// the loop opportunistically generates a crisis update.
	DefaultCrisisIdleThreshold = 2 * time.Minute
)

// ErrAlreadyStarted indicates Start was called on a running orchestrator.
var ErrAlreadyStarted = errors.New("campaign already started")

// ErrConcluded indicates the campaign already reached its terminal state.
var ErrConcluded = errors.New("campaign already concluded")

// Gateway durably saves orchestrator state after each cycle. Failures are
// logged, not retried within the cycle, and never abort the cycle.
type Gateway interface {
	Save(ctx context.Context, snapshot session.Snapshot) error
}

// EventPublisher publishes campaign lifecycle events.
type EventPublisher interface {
	Publish(event events.Event)
}

// Config tunes orchestration behavior. All heuristic constants live here so
// the scoring formulas stay reproducible without inline magic numbers.
type Config struct {
	TickInterval        time.Duration
	ObjectiveThreshold  float64
	CrisisIdleThreshold time.Duration
	Partition           timeline.PartitionBounds
	Thresholds          resolution.Thresholds
}

// DefaultConfig returns the documented orchestration defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:        DefaultTickInterval,
		ObjectiveThreshold:  DefaultObjectiveThreshold,
		CrisisIdleThreshold: DefaultCrisisIdleThreshold,
		Partition:           timeline.DefaultPartitionBounds(),
		Thresholds:          resolution.DefaultThresholds(),
	}
}

// Option configures orchestrator construction.
type Option func(*Orchestrator)

// WithClock injects the time source used for every cycle. Tests advance a
// virtual clock instead of waiting on real intervals.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTracer configures the tracer used for phase transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPublisher attaches the event bus publisher.
func WithPublisher(publisher EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

// Status is a read-only snapshot safe to poll at any rate.
type Status struct {
	Timeline          *timeline.Timeline `json:"timeline"`
	IsActive          bool               `json:"is_active"`
	CurrentPhase      string             `json:"current_phase,omitempty"`
	AutonomousActions int                `json:"autonomous_actions"`
	NextActionInMS    int64              `json:"next_action_in_ms"`
}

// Orchestrator drives one timed negotiation campaign to a conclusion
// without human intervention. Each instance owns its timeline and action
// history for the lifetime of one campaign run and holds only a reference
// to the externally-owned session. One process may run many orchestrators,
// one per session.
type Orchestrator struct {
	id        string
	sess      *session.Session
	eng       *engine.Engine
	gateway   Gateway
	publisher EventPublisher
	logger    *log.Logger
	tracer    trace.Tracer
	cfg       Config
	now       func() time.Time

	// mu serializes cycles: lastActionTime and the timeline are only ever
	// mutated by one in-flight cycle at a time.
	mu        sync.Mutex
	tl        *timeline.Timeline
	active    bool
	concluded bool
	final     *resolution.Resolution

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates an orchestrator for one campaign session.
func New(
	id string,
	sess *session.Session,
	eng *engine.Engine,
	gateway Gateway,
	logger *log.Logger,
	cfg Config,
	options ...Option,
) (*Orchestrator, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("campaign id must not be empty")
	}
	if sess == nil {
		return nil, errors.New("session is required")
	}
	if eng == nil {
		return nil, errors.New("action engine is required")
	}
	if gateway == nil {
		return nil, errors.New("persistence gateway is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ObjectiveThreshold <= 0 {
		cfg.ObjectiveThreshold = DefaultObjectiveThreshold
	}
	if cfg.CrisisIdleThreshold <= 0 {
		cfg.CrisisIdleThreshold = DefaultCrisisIdleThreshold
	}
	if cfg.Thresholds == (resolution.Thresholds{}) {
		cfg.Thresholds = resolution.DefaultThresholds()
	}
	if cfg.Partition == (timeline.PartitionBounds{}) {
		cfg.Partition = timeline.DefaultPartitionBounds()
	}

	o := &Orchestrator{
		id:      strings.TrimSpace(id),
		sess:    sess,
		eng:     eng,
		gateway: gateway,
		logger:  logger.With("campaign_id", strings.TrimSpace(id)),
		tracer:  otel.Tracer("parley/campaign"),
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(o)
	}
	return o, nil
}

// Start builds the campaign timeline and launches the orchestration clock.
// Construction fails on an invalid duration; the orchestrator refuses to
// start a campaign it cannot finish.
func (o *Orchestrator) Start(ctx context.Context, totalDurationMinutes int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active {
		return ErrAlreadyStarted
	}
	if o.concluded {
		return ErrConcluded
	}

	start := o.now().UTC()
	tl, err := timeline.New(totalDurationMinutes, o.cfg.Partition, start)
	if err != nil {
		return fmt.Errorf("build campaign timeline: %w", err)
	}
	tl.Phases[0].StartTime = &start
	o.tl = tl
	o.active = true

	o.sess.AppendLog(session.LogEntry{
		Title: "Campaign Started",
		Content: fmt.Sprintf(
			"Autonomous campaign underway: %d minutes across %d phases, beginning with %s.",
			totalDurationMinutes, len(tl.Phases), tl.Phases[0].Name,
		),
		Timestamp: start,
		Type:      session.EntryTypeSystemMessage,
	})
	o.publish(events.Event{
		Type:       events.EventTypeCampaignStarted,
		CampaignID: o.id,
		Phase:      tl.Phases[0].ID,
		Severity:   events.SeverityInfo,
	})
	o.logger.With("total_minutes", totalDurationMinutes).Info("campaign started")

	go o.run(ctx)
	return nil
}

// Stop cancels the orchestration clock. It is safe to call any number of
// times, including before Start; a cycle already in flight completes first.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
}

// Done returns a channel closed when the orchestration loop has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.doneCh
}

// ID returns the campaign run identifier.
func (o *Orchestrator) ID() string {
	return o.id
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			o.deactivate()
			return
		case <-ctx.Done():
			o.deactivate()
			return
		case <-ticker.C:
			o.RunCycle(ctx)
			if o.Concluded() {
				return
			}
		}
	}
}

// RunCycle executes one orchestration cycle at the injected clock's current
// instant: refresh timeline, evaluate resolution, check early end, check
// phase transition, run the action engine, opportunistically update the
// crisis, persist. Cycles are serialized; concurrent callers block.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.active || o.concluded || o.tl == nil {
		return
	}
	now := o.now().UTC()

	logLengthBefore := o.sess.LogLength()
	defer func() {
		invariants.CheckLogAppendOnly(ctx, "campaign.cycle", logLengthBefore, o.sess.LogLength())
	}()

	previousProgress := o.tl.ProgressPercentage
	o.tl.Refresh(now)
	invariants.CheckProgressMonotonic(ctx, "campaign.cycle", previousProgress, o.tl.ProgressPercentage)

	if o.tl.Exhausted() {
		o.concludeLocked(ctx, now, true)
		o.persistLocked(ctx)
		return
	}

	result := resolution.EvaluateSafe(o.evaluatorInput(false), o.cfg.Thresholds)
	if result.CanEndEarly && result.PlayerScore >= o.cfg.Thresholds.EarlyEndScore {
		o.concludeWithLocked(ctx, now, result)
		o.persistLocked(ctx)
		return
	}

	o.checkPhaseTransitionLocked(ctx, now)
	if o.concluded {
		o.persistLocked(ctx)
		return
	}

	phase := o.tl.CurrentPhase()
	if phase != nil {
		o.eng.Act(ctx, o.sess, phase, o.tl.TimeRemaining, now)

		lastLog := o.sess.LastLogTime()
		if !lastLog.IsZero() && now.Sub(lastLog) >= o.cfg.CrisisIdleThreshold {
			o.eng.CrisisUpdate(ctx, o.sess, phase, now)
		}
	}

	o.persistLocked(ctx)
}

// Status returns a read-only snapshot of the campaign.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now().UTC()
	status := Status{
		IsActive:          o.active && !o.concluded,
		AutonomousActions: o.eng.ActionCount(),
		NextActionInMS:    o.eng.NextActionIn(now).Milliseconds(),
	}
	if o.tl != nil {
		status.Timeline = o.tl.Clone()
		if phase := o.tl.CurrentPhase(); phase != nil && !o.concluded {
			status.CurrentPhase = phase.Name
		}
	}
	return status
}

// Concluded reports whether the campaign reached its terminal state.
func (o *Orchestrator) Concluded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.concluded
}

// FinalResolution returns the concluding resolution, or nil while active.
func (o *Orchestrator) FinalResolution() *resolution.Resolution {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.final == nil {
		return nil
	}
	copied := *o.final
	return &copied
}

func (o *Orchestrator) evaluatorInput(timeExpired bool) resolution.Input {
	return resolution.Input{
		TimelineProgress: o.tl.ProgressPercentage,
		PhaseIndex:       o.tl.CurrentPhaseIndex,
		TotalPhases:      len(o.tl.Phases),
		ActionCount:      o.eng.ActionCount(),
		TimeExpired:      timeExpired,
	}
}

// checkPhaseTransitionLocked advances the phase when its minimum duration
// has elapsed and either the objective score clears the threshold or the
// maximum duration forces the move. Advancing past the last phase
// concludes the campaign.
func (o *Orchestrator) checkPhaseTransitionLocked(ctx context.Context, now time.Time) {
	phase := o.tl.CurrentPhase()
	if phase == nil || phase.StartTime == nil {
		return
	}

	elapsed := phase.Elapsed(now)
	if elapsed < phase.MinDuration {
		return
	}

	objective := o.objectiveScore(phase, elapsed)
	if objective < o.cfg.ObjectiveThreshold && elapsed < phase.MaxDuration {
		return
	}

	ctx, span := o.tracer.Start(ctx, "campaign.phase_transition")
	defer span.End()

	fromIndex := o.tl.CurrentPhaseIndex
	phase.Completed = true
	end := now.UTC()
	phase.EndTime = &end

	if fromIndex+1 >= len(o.tl.Phases) {
		span.SetAttributes(
			attribute.String("from_phase", phase.ID),
			attribute.String("to_phase", "concluded"),
		)
		o.concludeLocked(ctx, now, false)
		span.SetStatus(codes.Ok, "campaign concluded after final phase")
		return
	}

	toIndex := fromIndex + 1
	invariants.CheckPhaseTransitionLegal(ctx, "campaign.phase_transition", fromIndex, toIndex)

	next := o.tl.Phases[toIndex]
	start := now.UTC()
	next.StartTime = &start
	o.tl.CurrentPhaseIndex = toIndex

	span.SetAttributes(
		attribute.String("from_phase", phase.ID),
		attribute.String("to_phase", next.ID),
		attribute.Float64("objective_score", objective),
	)
	span.SetStatus(codes.Ok, "phase advanced")

	description := fmt.Sprintf("The campaign moves from %s to %s.", phase.Name, next.Name)
	o.eng.Record(engine.Action{
		Kind:        engine.ActionPhaseTransition,
		ExecutedBy:  engine.SystemActor,
		Description: description,
		Impacts:     []string{fmt.Sprintf("phase %s completed", phase.ID)},
		Timestamp:   now.UTC(),
	})
	o.sess.AppendLog(session.LogEntry{
		Title:     fmt.Sprintf("Phase Transition — %s", next.Name),
		Content:   description,
		Timestamp: now.UTC(),
		Type:      session.EntryTypePhaseTransition,
	})
	o.publish(events.Event{
		Type:       events.EventTypePhaseTransition,
		CampaignID: o.id,
		Phase:      next.ID,
		Payload:    description,
		Severity:   events.SeverityInfo,
	})
	o.logger.With("from", phase.ID, "to", next.ID, "objective_score", objective).
		Info("phase advanced")
}

// objectiveScore is the phase-completion heuristic:
//
//	min(1, actionsSincePhaseStart*0.2 + phaseTimeFraction*0.8)
//
// Either sustained autonomous activity or elapsed-time pressure can
// satisfy a phase. The shape must stay exactly this for behavioral parity.
func (o *Orchestrator) objectiveScore(phase *timeline.Phase, elapsed time.Duration) float64 {
	actions := 0
	if phase.StartTime != nil {
		actions = o.eng.ActionsSince(*phase.StartTime)
	}

	fraction := 0.0
	if phase.MaxDuration > 0 {
		fraction = float64(elapsed) / float64(phase.MaxDuration)
	}
	if fraction > 1 {
		fraction = 1
	}

	score := float64(actions)*0.2 + fraction*0.8
	if score > 1 {
		score = 1
	}
	return score
}

// concludeLocked evaluates a final resolution and ends the campaign. When
// timeExpired is set the classification is forced to time_expired.
func (o *Orchestrator) concludeLocked(ctx context.Context, now time.Time, timeExpired bool) {
	result := resolution.EvaluateSafe(o.evaluatorInput(timeExpired), o.cfg.Thresholds)
	o.concludeWithLocked(ctx, now, result)
}

// concludeWithLocked ends the campaign exactly once; repeated conclusion
// requests are no-ops.
func (o *Orchestrator) concludeWithLocked(ctx context.Context, now time.Time, result resolution.Resolution) {
	if !invariants.CheckConcludeOnce(ctx, "campaign.conclude", o.concluded) {
		return
	}
	o.concluded = true
	o.active = false

	result.RelationshipChanges = relationshipChanges(result.Kind, o.sess.Snapshot().Characters)
	o.final = &result

	if phase := o.tl.CurrentPhase(); phase != nil && !phase.Completed {
		phase.Completed = true
		end := now.UTC()
		phase.EndTime = &end
	}

	o.sess.SetOutcome(string(result.Kind), result.PlayerScore, result.Outcomes)
	o.sess.AppendLog(session.LogEntry{
		Title:     "Campaign Concluded",
		Content:   result.Description,
		Timestamp: now.UTC(),
		Type:      session.EntryTypeCampaignConclusion,
	})
	o.publish(events.Event{
		Type:       events.EventTypeCampaignConcluded,
		CampaignID: o.id,
		Payload:    result,
		Severity:   events.SeverityInfo,
	})
	o.logger.With("resolution", string(result.Kind), "score", result.PlayerScore).
		Info("campaign concluded")

	o.Stop()
}

// persistLocked saves the session snapshot through the gateway. Saves run
// at the end of the cycle so their order matches the order of state
// mutation; failures degrade to a warning and a bus event.
func (o *Orchestrator) persistLocked(ctx context.Context) {
	if err := o.gateway.Save(ctx, o.sess.Snapshot()); err != nil {
		o.logger.With("error", err).Warn("persistence save failed")
		o.publish(events.Event{
			Type:       events.EventTypeCollaboratorFailure,
			CampaignID: o.id,
			Payload: events.CollaboratorFailure{
				Collaborator: "persistence",
				Err:          err.Error(),
			},
			Severity: events.SeverityWarn,
		})
	}
}

func (o *Orchestrator) deactivate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = false
}

func (o *Orchestrator) publish(event events.Event) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(event)
}

func relationshipChanges(kind resolution.Kind, characters []session.Character) map[string]float64 {
	if len(characters) == 0 {
		return nil
	}

	delta := 0.0
	switch kind {
	case resolution.KindDiplomaticSuccess:
		delta = 0.2
	case resolution.KindPartialResolution:
		delta = 0.1
	case resolution.KindCrisisEscalation:
		delta = -0.2
	case resolution.KindTimeExpired:
		delta = -0.05
	}

	changes := make(map[string]float64, len(characters))
	for _, character := range characters {
		changes[character.ID] = delta
	}
	return changes
}
