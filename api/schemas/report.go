package schemas

import (
	"time"
)

// -- Run Report Schemas --

// RunStatus is the lifecycle state of a single skill execution.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// FailureClass is a coarse, stable failure category consumed by downstream evaluators.
type FailureClass string

const (
	FailureValidationError      FailureClass = "validation_error"
	FailureMissingCreatedRecord FailureClass = "missing_created_record"
	FailureRuntimeError         FailureClass = "runtime_error"
)

// Well-known artifact keys.
const (
	ArtifactRunReport = "run_report_json"
	ArtifactLastPNG   = "last_png"
	ArtifactTraceZip  = "trace_zip"
	ArtifactVideoWebm = "video_webm"
)

// RunReport is the structured, persisted outcome of one skill execution.
type RunReport struct {
	RunID            string            `json:"run_id"`
	SkillID          string            `json:"skill_id"`
	SkillVersion     int               `json:"skill_version"`
	Status           RunStatus         `json:"status"`
	StepsCompleted   int               `json:"steps_completed"`
	StepsTotal       int               `json:"steps_total"`
	Artifacts        map[string]string `json:"artifacts"`
	ExtractedData    map[string]any    `json:"extracted_data"`
	ValidationErrors []string          `json:"validation_errors"`
	FinalURL         string            `json:"final_url,omitempty"`
	CreatedInvoiceID *string           `json:"created_invoice_id"`
	Error            string            `json:"error,omitempty"`
	ErrorDetails     string            `json:"error_details,omitempty"`
	FailureClass     FailureClass      `json:"failure_class,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
}

// NewRunReport creates a report in the running state.
func NewRunReport(runID string) *RunReport {
	return &RunReport{
		RunID:            runID,
		Status:           RunStatusRunning,
		Artifacts:        make(map[string]string),
		ExtractedData:    make(map[string]any),
		ValidationErrors: []string{},
		StartedAt:        time.Now().UTC(),
	}
}

// AddArtifact records a local artifact path under a logical name.
func (r *RunReport) AddArtifact(name, path string) {
	if r.Artifacts == nil {
		r.Artifacts = make(map[string]string)
	}
	r.Artifacts[name] = path
}

// Fail marks the report failed with an optional failure class.
func (r *RunReport) Fail(summary, details string, class FailureClass) {
	r.Status = RunStatusFailed
	r.Error = summary
	r.ErrorDetails = details
	r.FailureClass = class
}

// Failed reports whether the run ended in a failed state.
func (r *RunReport) Failed() bool {
	return r.Status == RunStatusFailed
}
