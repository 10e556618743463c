package engine

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Task is one entry of a batch file.
type Task struct {
	// Skill is the path of the skill file. Relative paths are resolved
	// against the directory of the batch file.
	Skill string         `json:"skill"`
	Slots map[string]any `json:"slots,omitempty"`
	RunID string         `json:"run_id,omitempty"`
}

// LoadTasks reads a JSON array of tasks.
func LoadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range tasks {
		if tasks[i].Skill == "" {
			return nil, fmt.Errorf("task %d has no skill", i+1)
		}
		if !filepath.IsAbs(tasks[i].Skill) {
			tasks[i].Skill = filepath.Join(base, tasks[i].Skill)
		}
	}
	return tasks, nil
}
