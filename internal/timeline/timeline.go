package timeline

import (
	"fmt"
	"strings"
	"time"
)

const (
	// PhaseOpening is the opening-statements phase identifier.
	PhaseOpening = "opening"
	// PhaseNegotiation is the active-negotiation phase identifier.
	PhaseNegotiation = "negotiation"
	// PhaseResolution is the final-resolution phase identifier.
	PhaseResolution = "resolution"
)

const (
	// TriggerKindTime fires on elapsed-time conditions.
	TriggerKindTime = "time"
	// TriggerKindPlayerAction fires on direct player interventions.
	TriggerKindPlayerAction = "player_action"
	// TriggerKindCrisisEscalation fires on escalating crisis developments.
	TriggerKindCrisisEscalation = "crisis_escalation"
	// TriggerKindResolutionReached fires when a resolution proposal lands.
	TriggerKindResolutionReached = "resolution_reached"
)

// InvalidConfigurationError is returned when a timeline cannot be built
// from the requested duration.
type InvalidConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "invalid timeline configuration"
	}
	return fmt.Sprintf("invalid configuration %s=%s: %s", e.Field, e.Value, reason)
}

// Is enables errors.Is checks for configuration failures.
func (e *InvalidConfigurationError) Is(target error) bool {
	_, ok := target.(*InvalidConfigurationError)
	return ok
}

// Trigger declares why a phase may end early or be forced to end.
type Trigger struct {
	Kind      string `json:"kind"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

// Phase is one named stage of the campaign. Phases are created once at
// timeline construction and retained for audit; only the orchestrator flips
// their lifecycle fields.
type Phase struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	Objectives  []string      `json:"objectives"`
	Triggers    []Trigger     `json:"triggers"`
	Completed   bool          `json:"completed"`
	StartTime   *time.Time    `json:"start_time,omitempty"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
}

// Elapsed returns the time spent in the phase as of now. It is zero before
// the phase starts and frozen once the phase ends.
func (p *Phase) Elapsed(now time.Time) time.Duration {
	if p == nil || p.StartTime == nil {
		return 0
	}
	end := now
	if p.EndTime != nil {
		end = *p.EndTime
	}
	if end.Before(*p.StartTime) {
		return 0
	}
	return end.Sub(*p.StartTime)
}

// Clone returns a deep copy of the phase. Mutating the copy never touches
// the original.
func (p *Phase) Clone() *Phase {
	if p == nil {
		return nil
	}
	copied := *p
	copied.Objectives = append([]string(nil), p.Objectives...)
	copied.Triggers = append([]Trigger(nil), p.Triggers...)
	if p.StartTime != nil {
		start := *p.StartTime
		copied.StartTime = &start
	}
	if p.EndTime != nil {
		end := *p.EndTime
		copied.EndTime = &end
	}
	return &copied
}

// Timeline owns the ordered phase list and derives elapsed/remaining time
// and progress from the campaign start instant.
type Timeline struct {
	TotalDuration      time.Duration `json:"total_duration"`
	Phases             []*Phase      `json:"phases"`
	CurrentPhaseIndex  int           `json:"current_phase_index"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	TimeRemaining      time.Duration `json:"time_remaining"`
	ProgressPercentage float64       `json:"progress_percentage"`
}

// Clone returns a deep copy of the timeline, phases included.
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return nil
	}
	copied := *t
	copied.Phases = make([]*Phase, len(t.Phases))
	for i, phase := range t.Phases {
		copied.Phases[i] = phase.Clone()
	}
	return &copied
}

// PartitionBounds are the proportional phase-split fractions applied to the
// total campaign duration.
type PartitionBounds struct {
	OpeningMin     float64
	OpeningMax     float64
	NegotiationMin float64
	NegotiationMax float64
	ResolutionMin  float64
	ResolutionMax  float64
	// MinPhaseMinutes is the floor applied to every phase minimum.
	MinPhaseMinutes int
}

// DefaultPartitionBounds returns the documented phase-split defaults.
func DefaultPartitionBounds() PartitionBounds {
	return PartitionBounds{
		OpeningMin:      0.15,
		OpeningMax:      0.25,
		NegotiationMin:  0.40,
		NegotiationMax:  0.60,
		ResolutionMin:   0.10,
		ResolutionMax:   0.20,
		MinPhaseMinutes: 2,
	}
}

// New deterministically partitions totalDurationMinutes into the three
// campaign phases and anchors the timeline at start.
func New(totalDurationMinutes int, bounds PartitionBounds, start time.Time) (*Timeline, error) {
	if totalDurationMinutes <= 0 {
		return nil, &InvalidConfigurationError{
			Field:  "total_duration_minutes",
			Value:  fmt.Sprintf("%d", totalDurationMinutes),
			Reason: "must be positive",
		}
	}
	floor := bounds.MinPhaseMinutes
	if floor < 2 {
		floor = 2
	}

	phases := []*Phase{
		buildPhase(
			PhaseOpening,
			"Opening Statements",
			"Delegations state positions and establish the negotiation frame.",
			totalDurationMinutes, bounds.OpeningMin, bounds.OpeningMax, floor,
			[]string{
				"Every delegation delivers an opening position",
				"Core dispute points are on the record",
			},
			[]Trigger{
				{Kind: TriggerKindTime, Condition: "minimum phase duration elapsed", Action: "advance"},
				{Kind: TriggerKindPlayerAction, Condition: "all openings delivered", Action: "advance"},
			},
		),
		buildPhase(
			PhaseNegotiation,
			"Active Negotiation",
			"Delegations trade concessions while the crisis develops around them.",
			totalDurationMinutes, bounds.NegotiationMin, bounds.NegotiationMax, floor,
			[]string{
				"At least one working proposal circulated",
				"Crisis developments addressed in committee",
				"Coalition positions consolidated",
			},
			[]Trigger{
				{Kind: TriggerKindCrisisEscalation, Condition: "crisis severity spikes", Action: "force_session"},
				{Kind: TriggerKindResolutionReached, Condition: "draft resolution tabled", Action: "advance"},
			},
		),
		buildPhase(
			PhaseResolution,
			"Final Resolution",
			"Delegations finalize terms and vote on the settlement.",
			totalDurationMinutes, bounds.ResolutionMin, bounds.ResolutionMax, floor,
			[]string{
				"Final settlement text agreed",
				"Outcome recorded for all parties",
			},
			[]Trigger{
				{Kind: TriggerKindResolutionReached, Condition: "settlement ratified", Action: "conclude"},
				{Kind: TriggerKindTime, Condition: "campaign clock exhausted", Action: "conclude"},
			},
		),
	}

	total := time.Duration(totalDurationMinutes) * time.Minute
	return &Timeline{
		TotalDuration:     total,
		Phases:            phases,
		CurrentPhaseIndex: 0,
		StartTime:         start.UTC(),
		EndTime:           start.UTC().Add(total),
		TimeRemaining:     total,
	}, nil
}

func buildPhase(
	id, name, description string,
	totalMinutes int,
	minFrac, maxFrac float64,
	floorMinutes int,
	objectives []string,
	triggers []Trigger,
) *Phase {
	minMinutes := int(float64(totalMinutes) * minFrac)
	if minMinutes < floorMinutes {
		minMinutes = floorMinutes
	}
	maxMinutes := int(float64(totalMinutes) * maxFrac)
	if maxMinutes < minMinutes {
		maxMinutes = minMinutes
	}

	return &Phase{
		ID:          id,
		Name:        name,
		Description: description,
		MinDuration: time.Duration(minMinutes) * time.Minute,
		MaxDuration: time.Duration(maxMinutes) * time.Minute,
		Objectives:  append([]string(nil), objectives...),
		Triggers:    append([]Trigger(nil), triggers...),
	}
}

// Refresh recomputes time remaining and progress from now. Progress is
// clamped to [0,100] and never moves backward for a non-decreasing clock.
func (t *Timeline) Refresh(now time.Time) {
	if t == nil {
		return
	}
	elapsed := now.Sub(t.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := t.TotalDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	t.TimeRemaining = remaining

	progress := float64(elapsed) / float64(t.TotalDuration) * 100
	if progress > 100 {
		progress = 100
	}
	if progress > t.ProgressPercentage {
		t.ProgressPercentage = progress
	}
}

// CurrentPhase returns the active phase, or nil past the last phase.
func (t *Timeline) CurrentPhase() *Phase {
	if t == nil || t.CurrentPhaseIndex < 0 || t.CurrentPhaseIndex >= len(t.Phases) {
		return nil
	}
	return t.Phases[t.CurrentPhaseIndex]
}

// Exhausted reports whether the campaign clock has run out.
func (t *Timeline) Exhausted() bool {
	return t != nil && t.TimeRemaining <= 0
}
