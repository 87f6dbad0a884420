package loan

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

// Field keys of the application form, in the order they are collected.
const (
	FieldName            = "name"
	FieldPhone           = "phone"
	FieldEmail           = "email"
	FieldAddress         = "address"
	FieldAge             = "age"
	FieldEmployer        = "employer"
	FieldPosition        = "position"
	FieldMonthlyIncome   = "monthly_income"
	FieldLoanAmount      = "loan_amount"
	FieldLoanPurpose     = "loan_purpose"
	FieldLoanTerm        = "loan_term"
	FieldPropertyAddress = "property_address"
	FieldPropertySize    = "property_size"
	FieldLoanStartDate   = "loan_start_date"
)

// RequiredFields lists every field that must be filled before evaluation.
var RequiredFields = []string{
	FieldName,
	FieldPhone,
	FieldEmail,
	FieldAddress,
	FieldAge,
	FieldEmployer,
	FieldPosition,
	FieldMonthlyIncome,
	FieldLoanAmount,
	FieldLoanPurpose,
	FieldLoanTerm,
	FieldPropertyAddress,
	FieldPropertySize,
	FieldLoanStartDate,
}

var fieldLabels = map[string]string{
	FieldName:            "Name",
	FieldPhone:           "Phone",
	FieldEmail:           "Email",
	FieldAddress:         "Home Address",
	FieldAge:             "Age",
	FieldEmployer:        "Employer",
	FieldPosition:        "Position",
	FieldMonthlyIncome:   "Monthly Income",
	FieldLoanAmount:      "Loan Amount",
	FieldLoanPurpose:     "Loan Purpose",
	FieldLoanTerm:        "Loan Term",
	FieldPropertyAddress: "Property Address",
	FieldPropertySize:    "Property Size",
	FieldLoanStartDate:   "Loan Start Date",
}

// FieldLabel returns the human-readable label for a field key.
func FieldLabel(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	return key
}

// ApplicationRecord is the fully collected, type-checked application.
type ApplicationRecord struct {
	Name            string  `json:"name" yaml:"name"`
	Phone           string  `json:"phone" yaml:"phone"`
	Email           string  `json:"email" yaml:"email"`
	Address         string  `json:"address" yaml:"address"`
	Age             int     `json:"age" yaml:"age"`
	Employer        string  `json:"employer" yaml:"employer"`
	Position        string  `json:"position" yaml:"position"`
	MonthlyIncome   float64 `json:"monthlyIncome" yaml:"monthly_income"`
	LoanAmount      float64 `json:"loanAmount" yaml:"loan_amount"`
	LoanPurpose     string  `json:"loanPurpose" yaml:"loan_purpose"`
	LoanTermMonths  int     `json:"loanTermMonths" yaml:"loan_term_months"`
	PropertyAddress string  `json:"propertyAddress" yaml:"property_address"`
	PropertySize    float64 `json:"propertySize" yaml:"property_size"`
	LoanStartDate   string  `json:"loanStartDate" yaml:"loan_start_date"`
}

// ValidationError lists the fields that are absent or cannot be parsed.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(labels(e.Missing), ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(labels(e.Invalid), ", "))
	}
	return "incomplete application: " + strings.Join(parts, "; ")
}

// Fields returns every offending key, missing first.
func (e *ValidationError) Fields() []string {
	return append(append([]string(nil), e.Missing...), e.Invalid...)
}

func labels(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = FieldLabel(key)
	}
	return out
}

// BuildRecord converts a raw field map into a record. It returns a *ValidationError
// naming every required field that is empty or not type-correct.
func BuildRecord(fields map[string]string) (ApplicationRecord, error) {
	var (
		rec     ApplicationRecord
		missing []string
		invalid []string
	)

	for _, key := range RequiredFields {
		raw := strings.TrimSpace(fields[key])
		if raw == "" {
			missing = append(missing, key)
			continue
		}
		if err := rec.assign(key, raw); err != nil {
			invalid = append(invalid, key)
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return ApplicationRecord{}, &ValidationError{Missing: missing, Invalid: invalid}
	}
	return rec, nil
}

func (r *ApplicationRecord) assign(key, raw string) error {
	var err error
	switch key {
	case FieldName:
		r.Name = raw
	case FieldPhone:
		if countDigits(raw) < 5 {
			return fmt.Errorf("phone %q has too few digits", raw)
		}
		r.Phone = raw
	case FieldEmail:
		addr, parseErr := mail.ParseAddress(raw)
		if parseErr != nil {
			return parseErr
		}
		r.Email = addr.Address
	case FieldAddress:
		r.Address = raw
	case FieldAge:
		r.Age, err = parseAge(raw)
	case FieldEmployer:
		r.Employer = raw
	case FieldPosition:
		r.Position = raw
	case FieldMonthlyIncome:
		r.MonthlyIncome, err = ParseAmount(raw)
	case FieldLoanAmount:
		r.LoanAmount, err = ParseAmount(raw)
	case FieldLoanPurpose:
		r.LoanPurpose = raw
	case FieldLoanTerm:
		r.LoanTermMonths, err = ParseTermMonths(raw)
	case FieldPropertyAddress:
		r.PropertyAddress = raw
	case FieldPropertySize:
		r.PropertySize, err = parseLeadingNumber(raw)
	case FieldLoanStartDate:
		r.LoanStartDate = raw
	default:
		return fmt.Errorf("unknown field %q", key)
	}
	return err
}

// Validate checks a record submitted directly, without conversational collection.
func (r ApplicationRecord) Validate() error {
	_, err := BuildRecord(r.Fields())
	return err
}

// Fields renders the record back into the raw field map.
func (r ApplicationRecord) Fields() map[string]string {
	fields := map[string]string{
		FieldName:            r.Name,
		FieldPhone:           r.Phone,
		FieldEmail:           r.Email,
		FieldAddress:         r.Address,
		FieldEmployer:        r.Employer,
		FieldPosition:        r.Position,
		FieldLoanPurpose:     r.LoanPurpose,
		FieldPropertyAddress: r.PropertyAddress,
		FieldLoanStartDate:   r.LoanStartDate,
	}
	if r.Age > 0 {
		fields[FieldAge] = strconv.Itoa(r.Age)
	}
	if r.MonthlyIncome > 0 {
		fields[FieldMonthlyIncome] = formatNumber(r.MonthlyIncome)
	}
	if r.LoanAmount > 0 {
		fields[FieldLoanAmount] = formatNumber(r.LoanAmount)
	}
	if r.LoanTermMonths > 0 {
		fields[FieldLoanTerm] = strconv.Itoa(r.LoanTermMonths) + " months"
	}
	if r.PropertySize > 0 {
		fields[FieldPropertySize] = formatNumber(r.PropertySize)
	}
	for key, value := range fields {
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// Summary renders the record as the "- Label: value" block used in prompts.
func (r ApplicationRecord) Summary() string {
	fields := r.Fields()
	var builder strings.Builder
	for _, key := range RequiredFields {
		builder.WriteString("- ")
		builder.WriteString(FieldLabel(key))
		builder.WriteString(": ")
		builder.WriteString(fields[key])
		builder.WriteString("\n")
	}
	return builder.String()
}

var (
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	amountCleaner = strings.NewReplacer(
		",", "", " ", "", "$", "", "¥", "", "￥", "", "€", "", "£", "",
		"usd", "", "cny", "", "rmb", "", "dollars", "", "元", "",
	)
)

// ParseAmount parses money such as "$200,000", "200k" or "20万".
func ParseAmount(raw string) (float64, error) {
	cleaned := amountCleaner.Replace(strings.ToLower(strings.TrimSpace(raw)))
	multiplier := 1.0
	switch {
	case strings.HasSuffix(cleaned, "k"):
		multiplier, cleaned = 1e3, strings.TrimSuffix(cleaned, "k")
	case strings.HasSuffix(cleaned, "m"):
		multiplier, cleaned = 1e6, strings.TrimSuffix(cleaned, "m")
	case strings.HasSuffix(cleaned, "万"):
		multiplier, cleaned = 1e4, strings.TrimSuffix(cleaned, "万")
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("amount %q must be positive", raw)
	}
	return value * multiplier, nil
}

// ParseTermMonths parses "15 years", "180 months" or "180"; bare numbers are months.
func ParseTermMonths(raw string) (int, error) {
	value, err := parseLeadingNumber(raw)
	if err != nil {
		return 0, err
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "year") || strings.Contains(lower, "yr") || strings.Contains(lower, "年") {
		value *= 12
	}
	months := int(value)
	if months <= 0 {
		return 0, fmt.Errorf("loan term %q must be positive", raw)
	}
	return months, nil
}

func parseAge(raw string) (int, error) {
	value, err := parseLeadingNumber(raw)
	if err != nil {
		return 0, err
	}
	age := int(value)
	if age <= 0 || age > 130 {
		return 0, fmt.Errorf("age %q out of range", raw)
	}
	return age, nil
}

func parseLeadingNumber(raw string) (float64, error) {
	match := numberPattern.FindString(strings.ReplaceAll(raw, ",", ""))
	if match == "" {
		return 0, fmt.Errorf("no number in %q", raw)
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("value %q must be positive", raw)
	}
	return value, nil
}

func countDigits(raw string) int {
	n := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
