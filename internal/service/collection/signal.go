package collection

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMarker is the sentinel the collector emits once every field is gathered.
const DefaultMarker = "DATA_COLLECTION_COMPLETE"

// CompletionSignal decides whether a collector reply declares the collection finished.
type CompletionSignal interface {
	Complete(reply string) bool
	// Strip removes the signal from text shown to the applicant.
	Strip(reply string) string
}

// MarkerSignal matches an exact, case-sensitive token anywhere in the reply.
type MarkerSignal struct {
	Token string
}

// NewMarkerSignal returns a MarkerSignal, falling back to DefaultMarker.
func NewMarkerSignal(token string) MarkerSignal {
	token = strings.TrimSpace(token)
	if token == "" {
		token = DefaultMarker
	}
	return MarkerSignal{Token: token}
}

func (m MarkerSignal) Complete(reply string) bool {
	return strings.Contains(reply, m.Token)
}

func (m MarkerSignal) Strip(reply string) string {
	return tidy(strings.ReplaceAll(reply, m.Token, ""))
}

// RegexSignal matches a regular expression.
type RegexSignal struct {
	pattern *regexp.Regexp
}

// NewRegexSignal compiles expr into a RegexSignal.
func NewRegexSignal(expr string) (*RegexSignal, error) {
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile completion pattern: %w", err)
	}
	return &RegexSignal{pattern: pattern}, nil
}

func (r *RegexSignal) Complete(reply string) bool {
	return r.pattern.MatchString(reply)
}

func (r *RegexSignal) Strip(reply string) string {
	return tidy(r.pattern.ReplaceAllString(reply, ""))
}

// tidy drops lines left empty at the end and trailing spaces.
func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
