package skillspec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

// ErrSpecNotFound is returned by Load when the specification file does not exist.
var ErrSpecNotFound = errors.New("skill specification not found")

// loose decodes documents into map[string]any while keeping numbers as json.Number,
// so integer timeouts and versions never pick up float noise.
var loose = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Load reads a JSON or YAML skill document from path and normalizes it. The
// specification id defaults to the file's base name without extension.
func Load(path, defaultBaseURL string) (schemas.SkillSpecification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schemas.SkillSpecification{}, fmt.Errorf("%w: %s", ErrSpecNotFound, path)
		}
		return schemas.SkillSpecification{}, fmt.Errorf("failed to read skill file '%s': %w", path, err)
	}

	doc, err := DecodeDocument(data, filepath.Ext(path))
	if err != nil {
		return schemas.SkillSpecification{}, fmt.Errorf("failed to decode skill file '%s': %w", path, err)
	}

	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return Normalize(doc, id, defaultBaseURL), nil
}

// DecodeDocument parses raw bytes into a loose document. ext selects the format;
// ".yaml" and ".yml" are YAML, everything else is JSON.
func DecodeDocument(data []byte, ext string) (map[string]any, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		doc, ok := looseYAML(raw).(map[string]any)
		if !ok {
			return nil, errors.New("top-level YAML value is not a mapping")
		}
		return doc, nil
	default:
		var doc map[string]any
		if err := loose.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, errors.New("top-level JSON value is not an object")
		}
		return doc, nil
	}
}

// ToDocument renders a specification back into its loose document form.
func ToDocument(spec schemas.SkillSpecification) (map[string]any, error) {
	data, err := loose.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode skill specification: %w", err)
	}
	var doc map[string]any
	if err := loose.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode skill specification: %w", err)
	}
	return doc, nil
}

// Marshal renders a specification as indented JSON.
func Marshal(spec schemas.SkillSpecification) ([]byte, error) {
	return loose.MarshalIndent(spec, "", "  ")
}

// looseYAML rewrites yaml.v3 output so nested mappings share the JSON document shape.
func looseYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = looseYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = looseYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = looseYAML(val)
		}
		return t
	default:
		return v
	}
}
