package evaluation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
)

type findingPayload struct {
	Verdict   string `json:"verdict"`
	Score     *int   `json:"score"`
	Rationale string `json:"rationale"`
}

// ParseFinding turns a specialist reply into a Finding. A JSON object is preferred;
// otherwise "Risk level:" / "Compliance status:" lines are used.
func ParseFinding(role participant.Role, reply string) loan.Finding {
	finding := loan.Finding{Role: string(role), Verdict: loan.VerdictUnknown}

	if payload, err := parseFindingOutput(reply); err == nil {
		if verdict, ok := parseVerdict(payload.Verdict); ok {
			finding.Verdict = verdict
			finding.Rationale = strings.TrimSpace(payload.Rationale)
			finding.Score = defaultScore(verdict)
			if payload.Score != nil {
				finding.Score = clampScore(*payload.Score)
			}
			if finding.Rationale == "" {
				finding.Rationale = strings.TrimSpace(reply)
			}
			return finding
		}
	}

	if raw, ok := labelledValue(reply, verdictLabels); ok {
		if verdict, ok := parseVerdict(raw); ok {
			finding.Verdict = verdict
		}
	}
	finding.Score = defaultScore(finding.Verdict)
	if rationale, ok := labelledValue(reply, rationaleLabels); ok {
		finding.Rationale = rationale
	} else {
		finding.Rationale = strings.TrimSpace(reply)
	}
	return finding
}

// ParseDecisionVerdict reads the "Final recommendation:" line of the decision reply.
func ParseDecisionVerdict(reply string) loan.Verdict {
	raw, ok := labelledValue(reply, recommendationLabels)
	if !ok {
		return loan.VerdictUnknown
	}
	normalized := strings.ToLower(raw)
	switch {
	case strings.Contains(normalized, "more info"), strings.Contains(normalized, "更多信息"), strings.Contains(normalized, "补充"):
		return loan.VerdictMoreInfo
	case strings.Contains(normalized, "decline"), strings.Contains(normalized, "reject"), strings.Contains(normalized, "拒绝"):
		return loan.VerdictDecline
	case strings.Contains(normalized, "modify"), strings.Contains(normalized, "修改"):
		return loan.VerdictModify
	case strings.Contains(normalized, "approve"), strings.Contains(normalized, "批准"):
		return loan.VerdictApprove
	default:
		return loan.VerdictUnknown
	}
}

// parseFindingOutput 解析回复中的 JSON 对象。
func parseFindingOutput(content string) (*findingPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &findingPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func parseVerdict(raw string) (loan.Verdict, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "low", "low_risk", "低", "低风险":
		return loan.VerdictLowRisk, true
	case "medium", "medium_risk", "moderate", "中", "中风险", "中等":
		return loan.VerdictMediumRisk, true
	case "high", "high_risk", "高", "高风险":
		return loan.VerdictHighRisk, true
	case "compliant", "合规":
		return loan.VerdictCompliant, true
	case "non_compliant", "noncompliant", "不合规":
		return loan.VerdictNonCompliant, true
	case "incomplete", "needs_more", "needs_more_information", "需要补充", "需要更多信息":
		return loan.VerdictIncomplete, true
	default:
		return "", false
	}
}

func defaultScore(verdict loan.Verdict) int {
	switch verdict {
	case loan.VerdictLowRisk, loan.VerdictCompliant:
		return 80
	case loan.VerdictMediumRisk, loan.VerdictIncomplete:
		return 50
	case loan.VerdictHighRisk, loan.VerdictNonCompliant:
		return 20
	default:
		return 0
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

var (
	verdictLabels        = []string{"risk level", "compliance status", "风险等级", "合规状态"}
	rationaleLabels      = []string{"explanation", "reason", "rationale", "说明", "理由"}
	recommendationLabels = []string{"final recommendation", "recommendation", "最终建议"}

	labelledLine = regexp.MustCompile(`^\s*(?:[-*]\s*)?(?:\*\*)?([^:：*]{1,40}?)(?:\*\*)?\s*[:：]\s*(.+?)\s*$`)
)

// labelledValue returns the value of the first "Label: value" line whose label is in labels.
func labelledValue(text string, labels []string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		m := labelledLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(m[1]))
		for _, want := range labels {
			if label == want {
				return strings.Trim(strings.TrimSpace(m[2]), "*"), true
			}
		}
	}
	return "", false
}
