package engine

import (
	"math/rand"

	"github.com/parley-sim/parley/internal/timeline"
)

// fallbackAction is one entry of the deterministic local action library.
type fallbackAction struct {
	description string
	impacts     []string
}

// fallbackLibrary maps each phase to its fixed fallback list. Selection is
// uniform over the list; the lists are never empty so the engine can always
// make forward progress when the generator is down.
var fallbackLibrary = map[string][]fallbackAction{
	timeline.PhaseOpening: {
		{
			description: "A delegation circulates a position paper hardening its opening stance.",
			impacts:     []string{"positions clarified", "tension rises"},
		},
		{
			description: "Back-channel talks open between two rival delegations.",
			impacts:     []string{"informal channel established"},
		},
		{
			description: "An observer state requests speaking rights, reshuffling the agenda.",
			impacts:     []string{"agenda pressure", "procedural delay"},
		},
	},
	timeline.PhaseNegotiation: {
		{
			description: "A border incident is reported, raising the stakes for all parties.",
			impacts:     []string{"crisis pressure increases", "urgency rises"},
		},
		{
			description: "A mediator tables a compromise framework on the most contested clause.",
			impacts:     []string{"working proposal circulated"},
		},
		{
			description: "Two delegations announce a provisional coalition position.",
			impacts:     []string{"coalition formed", "voting arithmetic shifts"},
		},
		{
			description: "Leaked communiqué strains trust between negotiating blocs.",
			impacts:     []string{"trust degraded", "positions re-entrenched"},
		},
	},
	timeline.PhaseResolution: {
		{
			description: "The chair circulates a consolidated settlement draft for final review.",
			impacts:     []string{"settlement text on the table"},
		},
		{
			description: "A holdout delegation signals conditional support pending minor amendments.",
			impacts:     []string{"path to ratification opens"},
		},
		{
			description: "Deadline pressure forces delegations to prioritize their core demands.",
			impacts:     []string{"scope narrowed", "pace accelerates"},
		},
	},
}

// crisisUpdateLibrary backs the opportunistic crisis updates when the
// generator is unavailable.
var crisisUpdateLibrary = []string{
	"Humanitarian conditions in the affected region continue to deteriorate as talks drag on.",
	"International media attention intensifies, adding public pressure on every delegation.",
	"Neighboring states begin quiet preparations for the possibility that negotiations fail.",
	"Economic fallout from the crisis spreads, raising the cost of a prolonged stalemate.",
}

func pickFallbackAction(rng *rand.Rand, phaseID string) fallbackAction {
	library, ok := fallbackLibrary[phaseID]
	if !ok || len(library) == 0 {
		library = fallbackLibrary[timeline.PhaseNegotiation]
	}
	return library[rng.Intn(len(library))]
}

func pickFallback(rng *rand.Rand, library []string) string {
	return library[rng.Intn(len(library))]
}
