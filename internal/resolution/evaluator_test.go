package resolution

import (
	"math"
	"testing"
)

func TestEvaluateScoreFormula(t *testing.T) {
	tests := []struct {
		name      string
		input     Input
		wantScore float64
		wantKind  Kind
	}{
		{
			name:      "baseline first phase no actions",
			input:     Input{PhaseIndex: 0, TotalPhases: 3, ActionCount: 0},
			wantScore: 0.5,
			wantKind:  KindStalemate,
		},
		{
			name:      "mid campaign with actions",
			input:     Input{PhaseIndex: 1, TotalPhases: 3, ActionCount: 4},
			wantScore: 0.8,
			wantKind:  KindPartialResolution,
		},
		{
			name:      "action bonus capped at point two",
			input:     Input{PhaseIndex: 1, TotalPhases: 3, ActionCount: 100},
			wantScore: 0.8,
			wantKind:  KindPartialResolution,
		},
		{
			name:      "final phase with capped bonus",
			input:     Input{PhaseIndex: 2, TotalPhases: 3, ActionCount: 4},
			wantScore: 0.9,
			wantKind:  KindDiplomaticSuccess,
		},
		{
			name:      "zero total phases treated as one",
			input:     Input{PhaseIndex: 0, TotalPhases: 0, ActionCount: 1},
			wantScore: 0.55,
			wantKind:  KindStalemate,
		},
		{
			name:      "negative phase index clamped",
			input:     Input{PhaseIndex: -2, TotalPhases: 3, ActionCount: 0},
			wantScore: 0.5,
			wantKind:  KindStalemate,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.input, DefaultThresholds())
			if math.Abs(got.PlayerScore-tc.wantScore) > 1e-9 {
				t.Fatalf("score = %v, want %v", got.PlayerScore, tc.wantScore)
			}
			if got.Kind != tc.wantKind {
				t.Fatalf("kind = %q, want %q", got.Kind, tc.wantKind)
			}
			if got.Description == "" || len(got.Outcomes) == 0 {
				t.Fatalf("resolution missing narrative fields: %#v", got)
			}
		})
	}
}

func TestEvaluateTimeExpiredOverridesClassification(t *testing.T) {
	got := Evaluate(Input{PhaseIndex: 2, TotalPhases: 3, ActionCount: 4, TimeExpired: true}, DefaultThresholds())
	if got.Kind != KindTimeExpired {
		t.Fatalf("kind = %q, want %q", got.Kind, KindTimeExpired)
	}
	// The score is still computed from the formula, not zeroed by expiry.
	if math.Abs(got.PlayerScore-0.9) > 1e-9 {
		t.Fatalf("score = %v, want 0.9", got.PlayerScore)
	}
}

func TestEvaluateCanEndEarly(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		want  bool
	}{
		{
			name:  "all conditions met",
			input: Input{TimelineProgress: 65, PhaseIndex: 1, TotalPhases: 3, ActionCount: 4},
			want:  true,
		},
		{
			name:  "score too low",
			input: Input{TimelineProgress: 65, PhaseIndex: 1, TotalPhases: 3, ActionCount: 1},
			want:  false,
		},
		{
			name:  "still in opening phase",
			input: Input{TimelineProgress: 65, PhaseIndex: 0, TotalPhases: 3, ActionCount: 10},
			want:  false,
		},
		{
			name:  "progress below sixty percent",
			input: Input{TimelineProgress: 59.9, PhaseIndex: 1, TotalPhases: 3, ActionCount: 4},
			want:  false,
		},
		{
			name:  "boundary values all inclusive",
			input: Input{TimelineProgress: 60, PhaseIndex: 1, TotalPhases: 3, ActionCount: 4},
			want:  true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.input, DefaultThresholds())
			if got.CanEndEarly != tc.want {
				t.Fatalf("canEndEarly = %v, want %v (score %v)", got.CanEndEarly, tc.want, got.PlayerScore)
			}
		})
	}
}

func TestClassifyBoundaries(t *testing.T) {
	thresholds := DefaultThresholds()
	tests := []struct {
		score float64
		want  Kind
	}{
		{0.95, KindDiplomaticSuccess},
		{0.9, KindDiplomaticSuccess},
		{0.89, KindPartialResolution},
		{0.7, KindPartialResolution},
		{0.69, KindStalemate},
		{0.4, KindStalemate},
		{0.39, KindCrisisEscalation},
	}
	for _, tc := range tests {
		if got := classify(tc.score, thresholds); got != tc.want {
			t.Fatalf("classify(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestNeutralResolution(t *testing.T) {
	got := Neutral()
	if got.Kind != KindStalemate {
		t.Fatalf("kind = %q, want stalemate", got.Kind)
	}
	if got.PlayerScore != 0.5 {
		t.Fatalf("score = %v, want 0.5", got.PlayerScore)
	}
	if got.CanEndEarly {
		t.Fatal("neutral resolution must not end the campaign early")
	}
}

func TestEvaluateSafeMatchesEvaluate(t *testing.T) {
	input := Input{TimelineProgress: 65, PhaseIndex: 1, TotalPhases: 3, ActionCount: 4}
	direct := Evaluate(input, DefaultThresholds())
	safe := EvaluateSafe(input, DefaultThresholds())
	if direct.Kind != safe.Kind || direct.PlayerScore != safe.PlayerScore || direct.CanEndEarly != safe.CanEndEarly {
		t.Fatalf("EvaluateSafe diverged: %#v vs %#v", safe, direct)
	}
}
