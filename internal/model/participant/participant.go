package participant

import "strings"

// Role identifies a conversational participant.
type Role string

const (
	Collector  Role = "collector"
	Credit     Role = "credit"
	Fraud      Role = "fraud"
	Compliance Role = "compliance"
	Decision   Role = "decision"
)

// Specialists is the fixed, ordered evaluation panel.
func Specialists() []Role {
	return []Role{Credit, Fraud, Compliance}
}

// Roles lists every role the engine calls, collector first.
func Roles() []Role {
	return append([]Role{Collector}, append(Specialists(), Decision)...)
}

// MarkerPlaceholder is replaced by the configured completion marker when a prompt is rendered.
const MarkerPlaceholder = "{{completion_marker}}"

// Definition describes how one participant is prompted.
type Definition struct {
	Role         Role   `json:"role" yaml:"role"`
	Name         string `json:"name" yaml:"name"`
	Title        string `json:"title" yaml:"title"`
	SystemPrompt string `json:"systemPrompt" yaml:"system_prompt"`
	OpeningLine  string `json:"openingLine,omitempty" yaml:"opening_line,omitempty"`
}

// Prompt renders the system prompt with the completion marker substituted.
func (d Definition) Prompt(marker string) string {
	return strings.ReplaceAll(d.SystemPrompt, MarkerPlaceholder, marker)
}

// Seed provides the default loan desk panel.
func Seed() []Definition {
	return []Definition{
		{
			Role:  Collector,
			Name:  "Loan Desk Assistant",
			Title: "Application intake",
			SystemPrompt: `You are the loan application assistant of Solvay Capital Bank.
Welcome the applicant, introduce yourself and collect the following information one question at a time:
name, age, phone, email, home address, employer, position, monthly income, loan amount,
loan purpose, loan term (months), property address, loan start date, property size (square meters).
Check that each answer is plausible and ask the applicant to correct anything that is not.
Whenever you restate information, use the format "- Label: value", one field per line, with these labels:
Name, Age, Phone, Email, Home Address, Employer, Position, Monthly Income, Loan Amount,
Loan Purpose, Loan Term, Property Address, Loan Start Date, Property Size.
When every field is collected, reply with a "Collected data summary:" block in that format and finish
with the line {{completion_marker}} on its own. Never mention that marker to the applicant.`,
			OpeningLine: "Welcome to Solvay Capital Bank. I will help you prepare your loan application.",
		},
		{
			Role:  Credit,
			Name:  "Credit Expert",
			Title: "Credit review",
			SystemPrompt: `You are the credit assessment expert of Solvay Capital Bank.
Assess the applicant's creditworthiness and repayment capacity from the application data.
Use the listed supporting documents (employment certificate, bank statements) and say when they are missing.
Answer with a JSON object {"verdict": "low_risk|medium_risk|high_risk", "score": 0-100, "rationale": "..."}
or, if you cannot produce JSON, with the lines "Risk level: low|medium|high" and "Explanation: ...".`,
		},
		{
			Role:  Fraud,
			Name:  "Fraud Expert",
			Title: "Fraud screening",
			SystemPrompt: `You are the fraud risk expert of Solvay Capital Bank.
Analyse potential fraud risk and the plausibility of the application material.
Check that the listed supporting documents are consistent with the stated employer and income.
Answer with a JSON object {"verdict": "low_risk|medium_risk|high_risk", "score": 0-100, "rationale": "..."}
or, if you cannot produce JSON, with the lines "Risk level: low|medium|high" and "Explanation: ...".`,
		},
		{
			Role:  Compliance,
			Name:  "Compliance Expert",
			Title: "Compliance review",
			SystemPrompt: `You are the compliance review expert of Solvay Capital Bank.
Check that the application meets regulatory requirements and that the file is complete.
Answer with a JSON object {"verdict": "compliant|non_compliant|incomplete", "score": 0-100, "rationale": "..."}
or, if you cannot produce JSON, with the lines "Compliance status: compliant|non-compliant|needs more" and "Explanation: ...".`,
		},
		{
			Role:  Decision,
			Name:  "Decision Agent",
			Title: "Loan committee",
			SystemPrompt: `You are the loan evaluation lead of Solvay Capital Bank and coordinate the review panel.
You receive the application and the findings of the credit, fraud and compliance experts.
Combine them into a final recommendation using exactly this format:
Final recommendation: approve | modify | more information | decline
Reason: <analysis based on all expert findings>
Loan conditions: <if applicable>`,
		},
	}
}
