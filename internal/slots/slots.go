// Package slots fills {{name}} placeholders in step values from a flat slot map
// and supplies the business defaults the target application expects.
package slots

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

// DateLayout is the dd.mm.yyyy format the target application's date pickers accept.
const DateLayout = "02.01.2006"

// PaymentTermDays is the default gap between the invoice date and its deadline.
const PaymentTermDays = 14

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	leftoverPattern    = regexp.MustCompile(`\{\{.+?\}\}`)
)

// Resolve substitutes every {{name}} in value with the string form of slots[name].
// ok is false when any placeholder is left unresolved; the returned value is then
// empty and the caller is expected to skip the step.
func Resolve(value string, slots map[string]any) (resolved string, ok bool) {
	if !strings.Contains(value, "{{") {
		return value, true
	}

	out := placeholderPattern.ReplaceAllStringFunc(value, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		v, present := slots[name]
		if !present || v == nil {
			return m
		}
		return Format(v)
	})

	if leftoverPattern.MatchString(out) {
		return "", false
	}
	return out, true
}

// Placeholders lists the distinct placeholder names in value, in order of appearance.
func Placeholders(value string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(value, -1) {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Format renders a slot value as text. Whole floats print without a fraction
// (500 rather than 500.000000) and booleans as true/false.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Defaults returns the default slot values for the given day.
func Defaults(now time.Time) map[string]any {
	today := now.Format(DateLayout)
	deadline := now.AddDate(0, 0, PaymentTermDays).Format(DateLayout)
	return map[string]any{
		"invoice_date":     today,
		"delivery_date":    today,
		"payment_deadline": deadline,
		"due_date":         deadline,
		"currency":         "EUR",
		"quantity":         "1",
		"unit":             "month",
		"description":      "General Service",
		"tax_rule":         "Service export",
	}
}

// ApplyDefaults merges caller slots over the defaults for now. Empty caller
// values (nil or blank strings) never override a default. The input map is not modified.
func ApplyDefaults(slots map[string]any, now time.Time) map[string]any {
	merged := Defaults(now)
	for k, v := range slots {
		if isEmpty(v) {
			if _, hasDefault := merged[k]; hasDefault {
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// Validate checks slots against the skill's slot schema. It returns one finding
// per violation; findings are advisory. The error is reserved for a schema that
// cannot be compiled.
func Validate(schema schemas.SlotsSchema, slots map[string]any) ([]string, error) {
	if slots == nil {
		slots = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(slots),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate slots: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	findings := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		findings = append(findings, desc.String())
	}
	sort.Strings(findings)
	return findings, nil
}

// Undeclared returns the placeholder names used across steps that the schema does not declare.
func Undeclared(spec schemas.SkillSpecification) []string {
	var missing []string
	seen := make(map[string]struct{})
	for _, step := range spec.Steps {
		for _, field := range []string{step.Value, step.Selector, step.Items} {
			for _, name := range Placeholders(field) {
				if spec.SlotsSchema.Declares(name) {
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
	}
	return missing
}
