package loan

import "time"

// Verdict is the normalized outcome of a specialist or of the final decision.
type Verdict string

const (
	VerdictApprove      Verdict = "approve"
	VerdictModify       Verdict = "modify"
	VerdictMoreInfo     Verdict = "more_information"
	VerdictDecline      Verdict = "decline"
	VerdictLowRisk      Verdict = "low_risk"
	VerdictMediumRisk   Verdict = "medium_risk"
	VerdictHighRisk     Verdict = "high_risk"
	VerdictCompliant    Verdict = "compliant"
	VerdictNonCompliant Verdict = "non_compliant"
	VerdictIncomplete   Verdict = "incomplete"
	VerdictUnknown      Verdict = "unknown"
)

// Finding is one specialist's evaluation output. Immutable once recorded.
type Finding struct {
	Role      string    `json:"role"`
	Verdict   Verdict   `json:"verdict"`
	Score     int       `json:"score"`
	Rationale string    `json:"rationale"`
	CreatedAt time.Time `json:"createdAt"`
}

// Decision is the aggregated final verdict for a session.
type Decision struct {
	Verdict   Verdict   `json:"verdict"`
	Summary   string    `json:"summary"`
	Findings  []Finding `json:"findings"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Clone returns a deep copy of the decision.
func (d Decision) Clone() Decision {
	out := d
	out.Findings = append([]Finding(nil), d.Findings...)
	return out
}
