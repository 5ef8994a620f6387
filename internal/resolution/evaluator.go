package resolution

// Kind classifies the evaluated end-state of a campaign.
type Kind string

const (
	// KindDiplomaticSuccess indicates a strongly positive settlement.
	KindDiplomaticSuccess Kind = "diplomatic_success"
	// KindPartialResolution indicates a workable but incomplete settlement.
	KindPartialResolution Kind = "partial_resolution"
	// KindStalemate indicates deadlocked negotiations.
	KindStalemate Kind = "stalemate"
	// KindCrisisEscalation indicates the crisis outran the negotiations.
	KindCrisisEscalation Kind = "crisis_escalation"
	// KindTimeExpired indicates the campaign clock ran out.
	KindTimeExpired Kind = "time_expired"
)

// Thresholds holds the classification and early-end constants. The values
// are deliberately exposed as configuration so the scoring formula stays
// reproducible without magic numbers inline.
type Thresholds struct {
	DiplomaticSuccess float64
	PartialResolution float64
	Stalemate         float64
	EarlyEndScore     float64
	EarlyEndMinPhase  int
	EarlyEndProgress  float64
}

// DefaultThresholds returns the documented scoring defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiplomaticSuccess: 0.9,
		PartialResolution: 0.7,
		Stalemate:         0.4,
		EarlyEndScore:     0.8,
		EarlyEndMinPhase:  1,
		EarlyEndProgress:  60,
	}
}

// Input is the full state the evaluator scores. The evaluator reads nothing
// else, which keeps it a pure function.
type Input struct {
	TimelineProgress float64
	PhaseIndex       int
	TotalPhases      int
	ActionCount      int
	TimeExpired      bool
}

// Resolution is one evaluated campaign end-state. Resolutions are computed
// fresh every cycle and superseded, never mutated.
type Resolution struct {
	Kind                Kind               `json:"kind"`
	Description         string             `json:"description"`
	PlayerScore         float64            `json:"player_score"`
	RelationshipChanges map[string]float64 `json:"relationship_changes,omitempty"`
	Outcomes            []string           `json:"outcomes"`
	CanEndEarly         bool               `json:"can_end_early"`
}

// Evaluate scores the campaign state. The score formula is
//
//	0.5 + (phaseIndex/totalPhases)*0.3 + min(actionCount*0.05, 0.2)
//
// and must stay exactly this shape for behavioral parity with the campaign
// log consumers.
func Evaluate(in Input, thresholds Thresholds) Resolution {
	totalPhases := in.TotalPhases
	if totalPhases <= 0 {
		totalPhases = 1
	}
	phaseIndex := in.PhaseIndex
	if phaseIndex < 0 {
		phaseIndex = 0
	}

	actionBonus := float64(in.ActionCount) * 0.05
	if actionBonus > 0.2 {
		actionBonus = 0.2
	}
	score := 0.5 + float64(phaseIndex)/float64(totalPhases)*0.3 + actionBonus

	kind := classify(score, thresholds)
	if in.TimeExpired {
		kind = KindTimeExpired
	}

	canEndEarly := score >= thresholds.EarlyEndScore &&
		phaseIndex >= thresholds.EarlyEndMinPhase &&
		in.TimelineProgress >= thresholds.EarlyEndProgress

	return Resolution{
		Kind:        kind,
		Description: describe(kind),
		PlayerScore: score,
		Outcomes:    outcomes(kind),
		CanEndEarly: canEndEarly,
	}
}

// Neutral is the degraded-mode fallback used when evaluation itself fails.
// A single bad cycle must never crash or stall the orchestration loop.
func Neutral() Resolution {
	return Resolution{
		Kind:        KindStalemate,
		Description: describe(KindStalemate),
		PlayerScore: 0.5,
		Outcomes:    outcomes(KindStalemate),
		CanEndEarly: false,
	}
}

// EvaluateSafe runs Evaluate and degrades to the neutral resolution if the
// evaluation panics.
func EvaluateSafe(in Input, thresholds Thresholds) (result Resolution) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Neutral()
		}
	}()
	return Evaluate(in, thresholds)
}

func classify(score float64, thresholds Thresholds) Kind {
	switch {
	case score >= thresholds.DiplomaticSuccess:
		return KindDiplomaticSuccess
	case score >= thresholds.PartialResolution:
		return KindPartialResolution
	case score >= thresholds.Stalemate:
		return KindStalemate
	default:
		return KindCrisisEscalation
	}
}

func describe(kind Kind) string {
	switch kind {
	case KindDiplomaticSuccess:
		return "The delegations reached a comprehensive settlement resolving the crisis."
	case KindPartialResolution:
		return "A partial accord holds the crisis in check, though key disputes remain open."
	case KindStalemate:
		return "Negotiations deadlocked; the crisis is contained but unresolved."
	case KindCrisisEscalation:
		return "Talks collapsed and the crisis escalated beyond the committee's control."
	case KindTimeExpired:
		return "The session clock expired before the delegations could finalize terms."
	default:
		return "The campaign ended."
	}
}

func outcomes(kind Kind) []string {
	switch kind {
	case KindDiplomaticSuccess:
		return []string{
			"Settlement ratified by all delegations",
			"Crisis de-escalation measures in force",
		}
	case KindPartialResolution:
		return []string{
			"Interim accord signed",
			"Follow-up session scheduled for open disputes",
		}
	case KindStalemate:
		return []string{
			"No settlement reached",
			"Status-quo monitoring mandate extended",
		}
	case KindCrisisEscalation:
		return []string{
			"Negotiations abandoned",
			"Emergency contingency protocols activated",
		}
	case KindTimeExpired:
		return []string{
			"Session adjourned at deadline",
			"Partial positions recorded for the record",
		}
	default:
		return nil
	}
}
