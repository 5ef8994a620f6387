package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/parley-sim/parley/internal/session"
	"github.com/parley-sim/parley/internal/timeline"
)

// buildPrompt assembles the context summary sent to the generator: current
// phase, its objectives, time remaining, and the most recent action
// descriptions.
func buildPrompt(
	sess *session.Session,
	phase *timeline.Phase,
	timeRemaining time.Duration,
	recentActions []string,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are directing an autonomous diplomatic negotiation simulation.\n\n")
	fmt.Fprintf(&b, "Crisis: %s\n", sess.CurrentCrisis())
	fmt.Fprintf(&b, "Current phase: %s — %s\n", phase.Name, phase.Description)
	fmt.Fprintf(&b, "Time remaining: %d minutes\n", int(timeRemaining.Minutes()))

	if len(phase.Objectives) > 0 {
		b.WriteString("Phase objectives:\n")
		for _, objective := range phase.Objectives {
			fmt.Fprintf(&b, "- %s\n", objective)
		}
	}

	if len(recentActions) > 0 {
		b.WriteString("Recent developments:\n")
		for _, description := range recentActions {
			fmt.Fprintf(&b, "- %s\n", description)
		}
	}

	if roster := rosterSummary(sess); roster != "" {
		fmt.Fprintf(&b, "Delegations: %s\n", roster)
	}

	b.WriteString("\nProduce the next diplomatic development as a character-attributed statement.")
	return b.String()
}

// buildCrisisPrompt asks for an updated crisis description reflecting the
// negotiation state.
func buildCrisisPrompt(sess *session.Session, phase *timeline.Phase) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Update the crisis situation for an autonomous negotiation simulation.\n\n")
	fmt.Fprintf(&b, "Current crisis: %s\n", sess.CurrentCrisis())
	fmt.Fprintf(&b, "Current phase: %s\n", phase.Name)
	b.WriteString("\nDescribe how the crisis has developed in one short paragraph.")
	return b.String()
}

func rosterSummary(sess *session.Session) string {
	snapshot := sess.Snapshot()
	if len(snapshot.Characters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(snapshot.Characters))
	for _, character := range snapshot.Characters {
		if character.Country != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", character.Name, character.Country))
			continue
		}
		parts = append(parts, character.Name)
	}
	return strings.Join(parts, ", ")
}
