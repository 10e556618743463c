// Package skillspec turns loosely shaped skill documents (as produced by miners,
// patchers or hand-written seeds) into canonical schemas.SkillSpecification values.
//
// Everything before normalization is treated as an untyped document
// (map[string]any). Everything after it is the closed, typed Step variant the
// executor dispatches on.
package skillspec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

const (
	defaultDescription = "Auto-generated workflow skill."
	defaultSlotType    = "string"
)

// actionAliases maps legacy or miner-produced action spellings onto runtime actions.
var actionAliases = map[string]schemas.Action{
	"navigate":          schemas.ActionGoto,
	"open_url":          schemas.ActionGoto,
	"wait_for_selector": schemas.ActionWait,
}

// slotTypes are the argument types carried through into the derived slot schema.
var slotTypes = map[string]struct{}{
	"string":  {},
	"number":  {},
	"integer": {},
	"boolean": {},
}

// Normalize converts a loosely typed document into a canonical skill specification.
// defaultID and defaultBaseURL are used when the document does not carry its own.
//
// Normalize never fails: unsupported steps are dropped, unconvertible timeouts are
// discarded and a slot schema is always present.
func Normalize(doc map[string]any, defaultID, defaultBaseURL string) schemas.SkillSpecification {
	if doc == nil {
		doc = map[string]any{}
	}

	spec := schemas.SkillSpecification{}
	spec.ID = firstString(doc["id"], defaultID)
	spec.Name = firstString(doc["name"], "Skill "+spec.ID)
	spec.Description = firstString(doc["description"], defaultDescription)
	spec.BaseURL = firstString(doc["base_url"], defaultBaseURL)

	spec.Version = 1
	if v, ok := toInt(doc["version"]); ok && v > 0 {
		spec.Version = v
	}

	spec.Steps = make([]schemas.Step, 0)
	if rawSteps, ok := doc["steps"].([]any); ok {
		for _, raw := range rawSteps {
			stepDoc, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			step := normalizeStep(stepDoc)
			if !step.Action.Supported() {
				continue
			}
			spec.Steps = append(spec.Steps, step)
		}
	}

	if rawSchema, ok := doc["slots_schema"].(map[string]any); ok {
		spec.SlotsSchema = parseSlotsSchema(rawSchema)
	} else if rawArgs, ok := doc["arguments"].([]any); ok {
		spec.SlotsSchema = argumentsToSlotsSchema(rawArgs)
	}

	if spec.SlotsSchema.Type == "" {
		spec.SlotsSchema.Type = "object"
	}
	if spec.SlotsSchema.Properties == nil {
		spec.SlotsSchema.Properties = map[string]schemas.SlotProperty{}
	}
	if len(spec.SlotsSchema.Required) == 0 {
		spec.SlotsSchema.Required = nil
	}
	return spec
}

// normalizeStep resolves every logical field through direct field, then params, then args.
func normalizeStep(step map[string]any) schemas.Step {
	params, _ := step["params"].(map[string]any)
	args, _ := step["args"].(map[string]any)

	pick := func(key string) any {
		for _, container := range []map[string]any{step, params, args} {
			if container == nil {
				continue
			}
			if v, ok := container[key]; ok && v != nil {
				return v
			}
		}
		return nil
	}

	name := ""
	if raw := step["action"]; raw != nil {
		name = strings.TrimSpace(stringify(raw))
	}
	action := schemas.Action(name)
	if alias, ok := actionAliases[name]; ok {
		action = alias
	}

	out := schemas.Step{Action: action}

	value := pick("value")
	if value == nil && (action == schemas.ActionGoto || action == schemas.ActionWaitForURL) {
		value = pick("url")
	}
	timeout := pick("timeout")
	if timeout == nil && action == schemas.ActionWait {
		timeout = pick("duration")
	}

	if v := pick("selector"); v != nil {
		out.Selector = stringify(v)
	}
	if value != nil {
		out.Value = stringify(value)
	}
	if timeout != nil {
		if ms, ok := toInt(timeout); ok {
			out.Timeout = &ms
		}
	}
	if v := pick("search"); v != nil {
		out.Search = stringify(v)
	}
	if v := pick("result"); v != nil {
		out.Result = stringify(v)
	}
	if v := pick("store_as"); v != nil {
		out.StoreAs = stringify(v)
	}
	if v := pick("items"); v != nil {
		out.Items = stringify(v)
	}
	if v := pick("skill"); v != nil {
		out.Skill = stringify(v)
	}
	if v := pick("optional"); v != nil {
		b := toBool(v)
		out.Optional = &b
	}
	if v := pick("skip_if_exists"); v != nil {
		b := toBool(v)
		out.SkipIfExists = &b
	}
	return out
}

func parseSlotsSchema(raw map[string]any) schemas.SlotsSchema {
	schema := schemas.SlotsSchema{
		Type:       firstString(raw["type"], "object"),
		Properties: map[string]schemas.SlotProperty{},
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		for name, rawProp := range props {
			prop := schemas.SlotProperty{Type: defaultSlotType}
			if m, ok := rawProp.(map[string]any); ok {
				prop.Type = firstString(m["type"], defaultSlotType)
				if d := m["description"]; d != nil {
					prop.Description = stringify(d)
				}
			}
			schema.Properties[name] = prop
		}
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if r == nil {
				continue
			}
			if s := stringify(r); s != "" {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// argumentsToSlotsSchema derives a slot schema from a flat "arguments" list.
func argumentsToSlotsSchema(arguments []any) schemas.SlotsSchema {
	schema := schemas.SlotsSchema{
		Type:       "object",
		Properties: map[string]schemas.SlotProperty{},
	}
	for _, raw := range arguments {
		arg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(firstString(arg["name"], ""))
		if name == "" {
			continue
		}
		argType := strings.ToLower(strings.TrimSpace(firstString(arg["type"], defaultSlotType)))
		if _, known := slotTypes[argType]; !known {
			argType = defaultSlotType
		}
		prop := schemas.SlotProperty{Type: argType}
		if d := strings.TrimSpace(firstString(arg["description"], "")); d != "" {
			prop.Description = d
		}
		schema.Properties[name] = prop

		required := true
		if r, present := arg["required"]; present && r != nil {
			required = toBool(r)
		}
		if required {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

// firstString returns the string form of v, or def when v is nil or renders empty.
func firstString(v any, def string) string {
	if v == nil {
		return def
	}
	if s := stringify(v); s != "" {
		return s
	}
	return def
}

func stringify(v any) string {
	switch t := v.(type) {
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
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i, true
		}
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
		return t != ""
	case nil:
		return false
	}
	if i, ok := toInt(v); ok {
		return i != 0
	}
	return true
}
