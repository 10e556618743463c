// Package executor runs a normalized skill specification against a single
// browser session and produces its run report.
//
// One execution is strictly sequential. Step failures abort the run but never
// escape Execute: the caller always gets a persisted report back. Only a nil
// specification or one without steps is rejected with an error, before any
// browser is started.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/events"
	"github.com/xkilldash9x/skillrunner/internal/observability"
	"github.com/xkilldash9x/skillrunner/internal/recovery"
	"github.com/xkilldash9x/skillrunner/internal/report"
	"github.com/xkilldash9x/skillrunner/internal/slots"
	"github.com/xkilldash9x/skillrunner/internal/widgets"
)

var (
	// ErrNilSpec is returned when Execute is called without a specification.
	ErrNilSpec = errors.New("skill specification is nil")
	// ErrNoSteps is returned for a specification with nothing to execute.
	ErrNoSteps = errors.New("skill specification has no steps")
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultActionTimeout     = 8 * time.Second
	fillIfVisibleTimeout     = 3 * time.Second
	cleanupTimeout           = 60 * time.Second

	defaultWaitTimeoutMs    = 10000
	defaultSleepMs          = 1000
	defaultURLWaitTimeoutMs = 15000
)

// actionHandler runs one step. value is the step's resolved value.
type actionHandler func(ctx context.Context, r *run, step schemas.Step, value string) error

// Executor runs skill specifications. It is safe for concurrent use; every
// call to Execute owns its own browser, session and report.
type Executor struct {
	logger   *zap.Logger
	cfg      config.Interface
	launcher browser.Launcher
	sink     events.Sink
	handlers map[schemas.Action]actionHandler
	now      func() time.Time

	artifactDir   string
	authStatePath string
}

// New creates an executor. A nil sink disables the event log.
func New(logger *zap.Logger, cfg config.Interface, launcher browser.Launcher, sink events.Sink) *Executor {
	if sink == nil {
		sink = events.Nop{}
	}
	e := &Executor{
		logger:      logger.Named("executor"),
		cfg:         cfg,
		launcher:    launcher,
		sink:        sink,
		handlers:    make(map[schemas.Action]actionHandler),
		now:         time.Now,
		artifactDir: cfg.State().ArtifactDir,
	}
	e.registerHandlers()
	return e
}

// Isolated returns an executor sharing e's dependencies that writes artifacts
// under artifactDir and uses authStatePath as its auth state file.
func (e *Executor) Isolated(artifactDir, authStatePath string) *Executor {
	clone := *e
	clone.artifactDir = artifactDir
	clone.authStatePath = authStatePath
	return &clone
}

// ArtifactDir is the directory run directories are created in.
func (e *Executor) ArtifactDir() string { return e.artifactDir }

// AuthStatePath is the storage state file restored at session start and
// rewritten by session recovery.
func (e *Executor) AuthStatePath() string {
	if e.authStatePath != "" {
		return e.authStatePath
	}
	return e.cfg.State().AuthStatePath(e.cfg.Auth().Account)
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionGoto] = e.handleGoto
	e.handlers[schemas.ActionClick] = e.handleClick
	e.handlers[schemas.ActionFill] = e.handleFill
	e.handlers[schemas.ActionFillIfVisible] = e.handleFillIfVisible
	e.handlers[schemas.ActionFillDate] = e.handleFillDate
	e.handlers[schemas.ActionSelectOption] = e.handleSelectOption
	e.handlers[schemas.ActionSelect2] = e.handleSelect2
	e.handlers[schemas.ActionSelect2Tax] = e.handleSelect2Tax
	e.handlers[schemas.ActionWait] = e.handleWait
	e.handlers[schemas.ActionWaitForURL] = e.handleWaitForURL
	e.handlers[schemas.ActionEvaluate] = e.handleEvaluate
	e.handlers[schemas.ActionCheckValidation] = e.handleCheckValidation
	e.handlers[schemas.ActionScreenshot] = e.handleScreenshot
	e.handlers[schemas.ActionHandleCookies] = e.handleCookies
	e.handlers[schemas.ActionForeach] = e.handleForeach
}

// Execute runs spec with the caller's slot values and returns the persisted
// report. An empty runID gets a generated one.
func (e *Executor) Execute(ctx context.Context, spec *schemas.SkillSpecification, slotValues map[string]any, runID string) (*schemas.RunReport, error) {
	if spec == nil {
		return nil, ErrNilSpec
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSteps, spec.ID)
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	r := e.newRun(ctx, spec, runID)
	r.emit(events.TypeRunInitialized, "run started for skill "+spec.ID, map[string]any{
		"skill_id":      spec.ID,
		"skill_version": spec.Version,
		"steps_total":   len(spec.Steps),
	})

	r.slots = slots.ApplyDefaults(slotValues, e.now())
	r.checkSlots()

	defer r.finish(ctx)
	if err := r.execute(ctx); err != nil {
		r.crash(ctx, err)
	}
	return r.report, nil
}

func (e *Executor) newRun(ctx context.Context, spec *schemas.SkillSpecification, runID string) *run {
	rep := schemas.NewRunReport(runID)
	rep.SkillID = spec.ID
	rep.SkillVersion = spec.Version
	rep.StepsTotal = len(spec.Steps)

	r := &run{
		e:         e,
		spec:      spec,
		report:    rep,
		dir:       report.Dir(e.artifactDir, runID),
		authPath:  e.AuthStatePath(),
		logger:    observability.RunLogger(e.logger, runID, spec.ID),
		eventsCtx: context.WithoutCancel(ctx),
	}
	r.widgets = widgets.New(r.logger, r.note)
	r.recoverer = recovery.New(r.logger, e.cfg.Auth(), r.authPath, r.note)
	return r
}

func (e *Executor) navigationTimeout() time.Duration {
	if t := e.cfg.Network().NavigationTimeout; t > 0 {
		return t
	}
	return defaultNavigationTimeout
}

func (e *Executor) actionTimeout() time.Duration {
	if t := e.cfg.Network().ActionTimeout; t > 0 {
		return t
	}
	return defaultActionTimeout
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
