package executor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

// ValidationSelector matches the form error markers of the target application.
const ValidationSelector = ".popover-content:has-text('Mandatory'), .help-block:has-text('Mandatory'), .text-danger:has-text('Mandatory')"

// MaxValidationErrors bounds how many marker texts a report keeps.
const MaxValidationErrors = 5

const (
	errValidation    = "Validation errors detected: %d"
	errMissingRecord = "Invoice creation flow ended without a created invoice id."
)

var createdRecordPattern = regexp.MustCompile(`(?:/edit/(\d+)|[?&]id=(\d+))`)

// CreatedRecordID extracts the id of a freshly created record from the URL the
// application redirects to after saving it.
func CreatedRecordID(url string) (string, bool) {
	m := createdRecordPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// ExpectsCreatedRecord reports whether a skill is a record-creating workflow
// whose success is proven by a created id.
func ExpectsCreatedRecord(skillID string) bool {
	id := strings.ToLower(skillID)
	return strings.Contains(id, "invoice") &&
		!strings.Contains(id, "extract") &&
		!strings.Contains(id, "bulk")
}

// Classify sets the terminal status of a run whose steps all completed.
// Validation errors win over a missing created record.
func Classify(r *schemas.RunReport) {
	switch {
	case len(r.ValidationErrors) > 0:
		r.Fail(fmt.Sprintf(errValidation, len(r.ValidationErrors)), "", schemas.FailureValidationError)
	case ExpectsCreatedRecord(r.SkillID) && r.CreatedInvoiceID == nil:
		r.Fail(errMissingRecord, "", schemas.FailureMissingCreatedRecord)
	default:
		r.Status = schemas.RunStatusSuccess
	}
}

// URLPattern is one compiled wait_for_url alternative.
type URLPattern struct {
	raw string
	re  *regexp.Regexp
}

func (p URLPattern) String() string { return p.raw }

// CompileURLPatterns splits value on "|" and compiles every alternative. In a
// pattern "**" matches anything and "*" anything except "/"; the rest is a
// regular expression searched anywhere in the URL.
func CompileURLPatterns(value string) ([]URLPattern, error) {
	var out []URLPattern
	for _, raw := range strings.Split(value, "|") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		expr := strings.ReplaceAll(raw, "**", "\x00")
		expr = strings.ReplaceAll(expr, "*", "[^/]*")
		expr = strings.ReplaceAll(expr, "\x00", ".*")
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid URL pattern %q: %w", raw, err)
		}
		out = append(out, URLPattern{raw: raw, re: re})
	}
	return out, nil
}

// MatchAny reports whether url matches at least one pattern.
func MatchAny(patterns []URLPattern, url string) bool {
	for _, p := range patterns {
		if p.re.MatchString(url) {
			return true
		}
	}
	return false
}
