// Package summary 从数据收集助手的回复中提取 "- 标签: 值" 形式的字段。
package summary

import (
	"regexp"
	"strings"

	"github.com/loandesk/backend/internal/model/loan"
)

// labelBuckets 将字段键映射到可接受的标签写法（英文与中文）。
var labelBuckets = map[string][]string{
	loan.FieldName:            {"name", "full name", "applicant name", "姓名"},
	loan.FieldAge:             {"age", "年龄"},
	loan.FieldPhone:           {"phone", "phone number", "telephone", "mobile", "电话", "手机", "联系电话"},
	loan.FieldEmail:           {"email", "e-mail", "email address", "电子邮件", "邮箱"},
	loan.FieldAddress:         {"home address", "address", "residential address", "地址", "家庭地址", "住址"},
	loan.FieldEmployer:        {"employer", "company", "workplace", "工作单位", "单位"},
	loan.FieldPosition:        {"position", "job title", "title", "occupation", "职务", "职位"},
	loan.FieldMonthlyIncome:   {"monthly income", "income", "月收入"},
	loan.FieldLoanAmount:      {"loan amount", "amount", "贷款金额"},
	loan.FieldLoanPurpose:     {"loan purpose", "purpose", "贷款用途"},
	loan.FieldLoanTerm:        {"loan term", "term", "loan term (months)", "贷款期限", "贷款期限（月）"},
	loan.FieldPropertyAddress: {"property address", "房屋地址", "房产地址"},
	loan.FieldPropertySize:    {"property size", "property size (m2)", "property area", "房屋面积", "房屋面积（平方米）"},
	loan.FieldLoanStartDate:   {"loan start date", "start date", "贷款开始日期"},
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]string {
	index := make(map[string]string)
	for key, aliases := range labelBuckets {
		for _, alias := range aliases {
			index[normalizeLabel(alias)] = key
		}
	}
	return index
}

// 形如 "- **Loan Amount**: $200,000" 或 "贷款金额：50万元" 的行。
var linePattern = regexp.MustCompile(`^\s*(?:[-*•]\s*|\d+[.)]\s*)?(?:\*\*)?([^:：*]{1,40}?)(?:\*\*)?\s*[:：]\s*(.+?)\s*$`)

// placeholder 匹配模板中未填写的值，例如 "[姓名]"。
var placeholder = regexp.MustCompile(`^\[[^\]]*\]$`)

// Extract 解析文本中所有可识别的字段行，同一字段出现多次时取最后一次。
func Extract(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := ParseLine(line)
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

// ParseLine 解析单行，返回字段键与原始值。
func ParseLine(line string) (string, string, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	key, ok := aliasIndex[normalizeLabel(m[1])]
	if !ok {
		return "", "", false
	}
	value := strings.Trim(strings.TrimSpace(m[2]), "*")
	value = strings.TrimSpace(value)
	if value == "" || placeholder.MatchString(value) {
		return "", "", false
	}
	return key, value, true
}

// Merge 将 update 覆盖写入 base 的副本。
func Merge(base, update map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, "²", "2")
	label = strings.ReplaceAll(label, "_", " ")
	return strings.Join(strings.Fields(label), " ")
}

// ResolveLabel 将标签或字段键（如 "Loan Amount"、"loan_amount"、"贷款金额"）解析为字段键。
func ResolveLabel(label string) (string, bool) {
	key, ok := aliasIndex[normalizeLabel(label)]
	return key, ok
}
