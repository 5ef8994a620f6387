package session

import (
	"strings"
	"sync"
	"time"
)

const (
	// EntryTypeSystemMessage identifies orchestrator announcements.
	EntryTypeSystemMessage = "system_message"
	// EntryTypeAutonomousAction identifies AI-character initiatives.
	EntryTypeAutonomousAction = "autonomous_action"
	// EntryTypeCrisisDevelopment identifies locally-generated crisis developments.
	EntryTypeCrisisDevelopment = "crisis_development"
	// EntryTypePhaseTransition identifies phase advance announcements.
	EntryTypePhaseTransition = "phase_transition"
	// EntryTypeCampaignConclusion identifies the terminal campaign entry.
	EntryTypeCampaignConclusion = "campaign_conclusion"
)

// Character is one AI-played delegate in the negotiation roster.
type Character struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Color   string `json:"color"`
	VoiceID string `json:"voice_id,omitempty"`
}

// LogEntry is one campaign log record. The JSON shape is consumed verbatim
// by the UI and must not change.
type LogEntry struct {
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Type      string     `json:"type"`
	Character *Character `json:"character,omitempty"`
}

// Session is the externally-owned campaign document. The orchestrator holds
// a reference, appends to the log, and annotates outcome fields; it never
// creates or destroys the session itself.
type Session struct {
	mu sync.Mutex

	ID         string      `json:"id"`
	Crisis     string      `json:"crisis"`
	Characters []Character `json:"characters"`

	CampaignLog []LogEntry `json:"campaign_log"`

	Outcomes       []string `json:"outcomes,omitempty"`
	FinalScore     float64  `json:"final_score,omitempty"`
	ResolutionType string   `json:"resolution_type,omitempty"`
}

// New builds a session document for one campaign run.
func New(id, crisis string, characters []Character) *Session {
	return &Session{
		ID:         strings.TrimSpace(id),
		Crisis:     strings.TrimSpace(crisis),
		Characters: append([]Character(nil), characters...),
	}
}

// AppendLog appends one entry to the campaign log. The log is append-only;
// entries are never rewritten or removed.
func (s *Session) AppendLog(entry LogEntry) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CampaignLog = append(s.CampaignLog, entry)
}

// LastEntries returns up to n most recent log entries, oldest first.
func (s *Session) LastEntries(n int) []LogEntry {
	if s == nil || n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.CampaignLog) - n
	if start < 0 {
		start = 0
	}
	out := make([]LogEntry, len(s.CampaignLog)-start)
	copy(out, s.CampaignLog[start:])
	return out
}

// LogLength returns the current campaign log length.
func (s *Session) LogLength() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CampaignLog)
}

// LastLogTime returns the timestamp of the newest log entry, or zero when
// the log is empty.
func (s *Session) LastLogTime() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.CampaignLog) == 0 {
		return time.Time{}
	}
	return s.CampaignLog[len(s.CampaignLog)-1].Timestamp
}

// SetOutcome annotates the session with the concluded campaign result.
func (s *Session) SetOutcome(resolutionType string, finalScore float64, outcomes []string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResolutionType = strings.TrimSpace(resolutionType)
	s.FinalScore = finalScore
	s.Outcomes = append([]string(nil), outcomes...)
}

// SetCrisis replaces the current crisis description.
func (s *Session) SetCrisis(crisis string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Crisis = strings.TrimSpace(crisis)
}

// CurrentCrisis returns the current crisis description.
func (s *Session) CurrentCrisis() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Crisis
}

// CharacterByID finds a roster character by id.
func (s *Session) CharacterByID(id string) (Character, bool) {
	if s == nil {
		return Character{}, false
	}
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, character := range s.Characters {
		if character.ID == id {
			return character, true
		}
	}
	return Character{}, false
}

// Snapshot is a copy of the session document safe to marshal and persist
// while the orchestrator keeps mutating the live session.
type Snapshot struct {
	ID             string      `json:"id"`
	Crisis         string      `json:"crisis"`
	Characters     []Character `json:"characters"`
	CampaignLog    []LogEntry  `json:"campaign_log"`
	Outcomes       []string    `json:"outcomes,omitempty"`
	FinalScore     float64     `json:"final_score,omitempty"`
	ResolutionType string      `json:"resolution_type,omitempty"`
}

// Snapshot captures a point-in-time copy of the session document.
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.ID,
		Crisis:         s.Crisis,
		Characters:     append([]Character(nil), s.Characters...),
		CampaignLog:    append([]LogEntry(nil), s.CampaignLog...),
		Outcomes:       append([]string(nil), s.Outcomes...),
		FinalScore:     s.FinalScore,
		ResolutionType: s.ResolutionType,
	}
}

// IsSupportedEntryType reports whether value is a known log entry type.
func IsSupportedEntryType(value string) bool {
	switch strings.TrimSpace(value) {
	case EntryTypeSystemMessage,
		EntryTypeAutonomousAction,
		EntryTypeCrisisDevelopment,
		EntryTypePhaseTransition,
		EntryTypeCampaignConclusion:
		return true
	default:
		return false
	}
}
