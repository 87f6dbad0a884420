package loan

import "time"

// Phase is the coarse-grained stage of a session.
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseCollected  Phase = "collected"
	PhaseEvaluating Phase = "evaluating"
	PhaseComplete   Phase = "complete"
)

// Rank orders phases; collected and evaluating share a rank.
func (p Phase) Rank() int {
	switch p {
	case PhaseCollecting:
		return 0
	case PhaseCollected, PhaseEvaluating:
		return 1
	case PhaseComplete:
		return 2
	default:
		return -1
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Rank() >= 0
}

// CanMoveTo reports whether a session in phase p may be moved to next.
func (p Phase) CanMoveTo(next Phase) bool {
	return next.Valid() && next.Rank() >= p.Rank()
}

// Speakers used in transcripts besides participant roles.
const (
	SpeakerUser   = "user"
	SpeakerSystem = "system"
)

// Turn is one transcript entry.
type Turn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}

// Session captures one end-to-end loan conversation.
type Session struct {
	ID         string            `json:"id"`
	Phase      Phase             `json:"phase"`
	Transcript []Turn            `json:"transcript"`
	Fields     map[string]string `json:"collectedFields"`
	Findings   []Finding         `json:"findings,omitempty"`
	Decision   *Decision         `json:"decision,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices or maps with a store.
func (s Session) Clone() Session {
	out := s
	out.Transcript = append([]Turn(nil), s.Transcript...)
	out.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	out.Findings = append([]Finding(nil), s.Findings...)
	if s.Decision != nil {
		d := s.Decision.Clone()
		out.Decision = &d
	}
	return out
}

// Finding returns the recorded finding for role, if any.
func (s Session) Finding(role string) (Finding, bool) {
	for _, f := range s.Findings {
		if f.Role == role {
			return f, true
		}
	}
	return Finding{}, false
}
