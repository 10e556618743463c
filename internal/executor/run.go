package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/events"
	"github.com/xkilldash9x/skillrunner/internal/recovery"
	"github.com/xkilldash9x/skillrunner/internal/report"
	"github.com/xkilldash9x/skillrunner/internal/slots"
	"github.com/xkilldash9x/skillrunner/internal/widgets"
)

// run is the state of one execution. It is owned by a single goroutine.
type run struct {
	e        *Executor
	spec     *schemas.SkillSpecification
	slots    map[string]any
	report   *schemas.RunReport
	dir      string
	authPath string
	logger   *zap.Logger

	// eventsCtx outlives cancellation of the execution so the terminal
	// events are still delivered.
	eventsCtx context.Context

	browser browser.Browser
	session browser.Session
	page    browser.Page

	widgets     *widgets.Strategies
	recoverer   *recovery.Recoverer
	screenshots int
}

// note logs one executor decision and mirrors it to the event log.
func (r *run) note(action, detail string) {
	fields := []zap.Field{zap.String("action", action), zap.String("details", detail)}
	switch action {
	case "warning":
		r.logger.Warn("Agent action.", fields...)
	case "error":
		r.logger.Error("Agent action.", fields...)
	default:
		r.logger.Info("Agent action.", fields...)
	}
	r.emit(events.TypeAgentAction, action+" "+detail, map[string]any{"action": action})
}

func (r *run) emit(eventType, details string, metadata map[string]any) {
	res := r.e.sink.Emit(r.eventsCtx, events.New(eventType, details, r.report.RunID, metadata))
	if !res.OK() {
		r.logger.Debug("Event was not recorded.", zap.String("event_type", eventType), zap.Error(res.Err))
	}
}

// checkSlots validates the slot values against the skill's slot schema. Findings are warnings only.
func (r *run) checkSlots() {
	findings, err := slots.Validate(r.spec.SlotsSchema, r.slots)
	if err != nil {
		r.logger.Warn("Could not validate slots against the slot schema.", zap.Error(err))
		return
	}
	for _, f := range findings {
		r.note("warning", "slot check: "+f)
	}
}

// execute opens the session and runs every step. A panic anywhere below is
// converted into the returned error.
func (r *run) execute(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Recovered from panic during skill execution.",
				zap.Any("panic", p),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic during step %d: %v", r.report.StepsCompleted+1, p)
		}
	}()

	if err := r.open(ctx); err != nil {
		return err
	}

	for i, step := range r.spec.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution interrupted before step %d: %w", i+1, err)
		}
		if err := r.dispatch(ctx, step); err != nil {
			return fmt.Errorf("step %d (%s) failed: %w", i+1, step.Action, err)
		}
		r.report.StepsCompleted++
	}

	return r.conclude(ctx)
}

func (r *run) open(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	b, err := r.e.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	r.browser = b

	bcfg := r.e.cfg.Browser()
	opts := browser.SessionOptions{
		ArtifactDir: r.dir,
		Trace:       bcfg.Trace,
		RecordVideo: bcfg.RecordVideo,
	}
	if _, err := os.Stat(r.authPath); err == nil {
		opts.StorageStatePath = r.authPath
		r.note("loading", "auth session from "+r.authPath)
	} else {
		r.note("warning", "no auth session found, proceeding without login")
	}

	s, err := b.NewSession(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	r.session = s
	r.page = s.Page()
	return nil
}

func (r *run) dispatch(ctx context.Context, step schemas.Step) error {
	value, ok := slots.Resolve(step.Value, r.slots)
	if !ok {
		r.note("skip", fmt.Sprintf("%s '%s' has unresolved placeholders %v", step.Action, step.Selector, slots.Placeholders(step.Value)))
	}

	if step.Action != schemas.ActionGoto {
		r.recoverSession(ctx, "")
	}

	handler, found := r.e.handlers[step.Action]
	if !found {
		r.note("warning", fmt.Sprintf("unknown action '%s', skipping", step.Action))
		return nil
	}
	return handler(ctx, r, step, value)
}

func (r *run) recoverSession(ctx context.Context, resumeURL string) bool {
	return r.recoverer.RecoverIfNeeded(ctx, r.page, r.session, resumeURL)
}

// conclude captures the final state of the page and classifies the run.
func (r *run) conclude(ctx context.Context) error {
	last := filepath.Join(r.dir, "last.png")
	if err := r.page.Screenshot(ctx, last); err != nil {
		return fmt.Errorf("failed to capture final screenshot: %w", err)
	}
	r.report.AddArtifact(schemas.ArtifactLastPNG, last)

	finalURL, err := r.page.URL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read final URL: %w", err)
	}
	r.report.FinalURL = finalURL
	if id, ok := CreatedRecordID(finalURL); ok {
		r.report.CreatedInvoiceID = &id
		r.note("success", "invoice created with ID "+id)
	}

	Classify(r.report)
	switch r.report.FailureClass {
	case schemas.FailureValidationError:
		r.note("error", "validation errors detected; marking run as failed")
	case schemas.FailureMissingCreatedRecord:
		r.note("error", "no created invoice id found in final URL; marking run as failed")
	default:
		r.note("finished", "workflow completed successfully")
	}
	return nil
}

// crash records err as the cause of an aborted run.
func (r *run) crash(ctx context.Context, err error) {
	summary := summarize(err)
	r.note("error", "encountered: "+summary)
	r.report.Fail(summary, strings.TrimSpace(err.Error()), "")

	if r.page == nil {
		return
	}
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	path := filepath.Join(r.dir, "error.png")
	if serr := r.page.Screenshot(cctx, path); serr != nil {
		r.logger.Debug("Could not capture error screenshot.", zap.Error(serr))
		return
	}
	r.report.AddArtifact(schemas.ArtifactLastPNG, path)
}

// finish releases the session and browser and persists the report. It runs on
// every exit path of Execute.
func (r *run) finish(ctx context.Context) {
	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	if r.session != nil {
		r.note("saving", "trace and video artifacts")
		tracePath := filepath.Join(r.dir, "trace.zip")
		if ok, err := r.session.StopTrace(cctx, tracePath); err != nil {
			r.logger.Warn("Failed to save trace archive.", zap.Error(err))
		} else if ok {
			r.report.AddArtifact(schemas.ArtifactTraceZip, tracePath)
		}

		videoPath := filepath.Join(r.dir, "video.webm")
		if ok, err := r.session.FinalizeVideo(cctx, videoPath); err != nil {
			r.logger.Warn("Failed to save session video.", zap.Error(err))
		} else if ok {
			r.report.AddArtifact(schemas.ArtifactVideoWebm, videoPath)
		}

		if err := r.session.Close(cctx); err != nil {
			r.logger.Debug("Error closing browser session.", zap.Error(err))
		}
	}
	if r.browser != nil {
		if err := r.browser.Close(cctx); err != nil {
			r.logger.Debug("Error closing browser.", zap.Error(err))
		}
	}

	finished := r.e.now().UTC()
	r.report.FinishedAt = &finished
	if path, err := report.Write(r.e.artifactDir, r.report); err != nil {
		r.logger.Error("Failed to persist run report.", zap.Error(err))
	} else {
		r.logger.Info("Run report persisted.", zap.String("path", path), zap.String("status", string(r.report.Status)))
	}

	metadata := map[string]any{
		"status":          string(r.report.Status),
		"steps_completed": r.report.StepsCompleted,
		"steps_total":     r.report.StepsTotal,
	}
	if r.report.Failed() {
		metadata["failure_class"] = string(r.report.FailureClass)
		r.emit(events.TypeRunFailed, r.report.Error, metadata)
		return
	}
	r.emit(events.TypeRunSuccess, "run completed for skill "+r.spec.ID, metadata)
}

// cleanupContext bounds release work without inheriting the cancellation of
// an execution that has already timed out.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// summarize returns the first line of err's text, or its type when the text is empty.
func summarize(err error) string {
	text := strings.TrimSpace(err.Error())
	if text == "" {
		return fmt.Sprintf("%T", err)
	}
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(line)
}
