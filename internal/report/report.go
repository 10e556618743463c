// Package report persists run reports under the artifact directory and reads
// them back for inspection.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/itchyny/gojq"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

// FileName is the report file inside a run's artifact directory.
const FileName = "run_report.json"

// ErrReportNotFound is returned by Load when no report exists for a run.
var ErrReportNotFound = errors.New("run report not found")

// Dir returns the artifact directory of one run.
func Dir(artifactDir, runID string) string {
	return filepath.Join(artifactDir, runID)
}

// Path returns the report location of one run.
func Path(artifactDir, runID string) string {
	return filepath.Join(Dir(artifactDir, runID), FileName)
}

// Write records the report's own path as the run_report_json artifact and
// writes it as indented JSON. It returns the path written.
func Write(artifactDir string, r *schemas.RunReport) (string, error) {
	if r.RunID == "" {
		return "", fmt.Errorf("cannot persist a report without a run id")
	}
	path := Path(artifactDir, r.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	r.AddArtifact(schemas.ArtifactRunReport, path)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}

// Load reads the report of runID.
func Load(artifactDir, runID string) (*schemas.RunReport, error) {
	path := Path(artifactDir, runID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}
	var r schemas.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode run report '%s': %w", path, err)
	}
	return &r, nil
}

// Query evaluates a jq expression against the report and returns every result.
func Query(r *schemas.RunReport, expr string) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", expr, err)
	}

	// gojq works on plain JSON values.
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run report: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}

	var out []any
	iter := query.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("error evaluating query %q: %w", expr, err)
		}
		out = append(out, v)
	}
	return out, nil
}
