// Package engine runs independent skill executions through a bounded pool of
// workers. Every task gets its own artifact directory and its own copy of the
// auth state, so tasks cannot observe or corrupt each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/executor"
	"github.com/xkilldash9x/skillrunner/internal/report"
	"github.com/xkilldash9x/skillrunner/internal/skillspec"
	"github.com/xkilldash9x/skillrunner/internal/store"
)

const (
	defaultConcurrency = 2
	defaultTaskTimeout = 10 * time.Minute
	persistTimeout     = 30 * time.Second
)

// Store mirrors finished reports. Sync failures are advisory.
type Store interface {
	SyncReport(ctx context.Context, r *schemas.RunReport) store.SyncResult
}

// Result is the outcome of one task. Report is nil only when the task never
// started because the batch was canceled first.
type Result struct {
	Task   Task
	Report *schemas.RunReport
	Err    error
}

// Engine manages the in-process distribution of tasks to a pool of workers.
type Engine struct {
	cfg    config.Interface
	logger *zap.Logger
	exec   *executor.Executor
	store  Store
}

type job struct {
	index int
	task  Task
}

// New creates an engine. store may be nil.
func New(cfg config.Interface, logger *zap.Logger, exec *executor.Executor, store Store) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if exec == nil {
		return nil, errors.New("executor cannot be nil")
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "batch_engine")),
		exec:   exec,
		store:  store,
	}, nil
}

// Run executes tasks and blocks until every one of them has finished. Results
// are returned in task order. A failing task never affects its siblings; the
// returned error is only set when ctx ended before all tasks were started.
func (e *Engine) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i].Task = t
	}
	if len(tasks) == 0 {
		return results, nil
	}

	batchID := uuid.NewString()
	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	queueSize := e.cfg.Engine().QueueSize
	if queueSize <= 0 {
		queueSize = len(tasks)
	}

	logger := e.logger.With(zap.String("batch_id", batchID))
	logger.Info("Starting batch worker pool", zap.Int("tasks", len(tasks)), zap.Int("concurrency", concurrency))

	queue := make(chan job, queueSize)
	var g errgroup.Group

	g.Go(func() error {
		defer close(queue)
		for i, t := range tasks {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case queue <- job{index: i, task: t}:
			}
		}
		return nil
	})

	for w := 0; w < concurrency; w++ {
		workerID := w + 1
		g.Go(func() error {
			e.runWorker(ctx, batchID, workerID, queue, results)
			return nil
		})
	}

	err := g.Wait()
	for i := range results {
		if results[i].Report == nil && results[i].Err == nil {
			results[i].Err = fmt.Errorf("task %d was not started: %w", i+1, ctx.Err())
		}
	}
	logger.Info("Batch finished", zap.Int("tasks", len(tasks)))
	return results, err
}

// runWorker consumes the queue until it is closed or ctx is canceled. Each
// worker writes only the result slots of the jobs it took.
func (e *Engine) runWorker(ctx context.Context, batchID string, workerID int, queue <-chan job, results []Result) {
	logger := e.logger.With(zap.String("batch_id", batchID), zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case j, ok := <-queue:
			if !ok {
				logger.Debug("Task queue closed and drained, worker shutting down.")
				return
			}
			results[j.index].Report = e.process(ctx, batchID, j, logger)
		}
	}
}

// process runs a single task to completion and always returns a report.
func (e *Engine) process(ctx context.Context, batchID string, j job, logger *zap.Logger) (rep *schemas.RunReport) {
	runID := j.task.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%03d", batchID, j.index+1)
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("skill", j.task.Skill))
	logger.Info("Processing task")

	taskDir := filepath.Join(e.exec.ArtifactDir(), "batch-"+batchID, fmt.Sprintf("task-%03d", j.index+1))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Recovered from panic in batch task.", zap.Any("panic", p), zap.String("stack", string(debug.Stack())))
			rep = e.failed(taskDir, runID, j.task, fmt.Sprintf("panic while running task: %v", p))
		}
		e.persist(rep, logger)
	}()

	spec, err := skillspec.Load(j.task.Skill, e.cfg.App().BaseURL)
	if err != nil {
		logger.Error("Failed to load skill specification.", zap.Error(err))
		return e.failed(taskDir, runID, j.task, err.Error())
	}

	authCopy := filepath.Join(taskDir, "auth_state.json")
	copied, err := browser.CopyStorageState(e.exec.AuthStatePath(), authCopy)
	if err != nil {
		logger.Warn("Could not copy auth state for task.", zap.Error(err))
	} else if !copied {
		logger.Debug("No auth state to copy for task.")
	}

	timeout := e.cfg.Engine().DefaultTaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rep, err = e.exec.Isolated(taskDir, authCopy).Execute(taskCtx, &spec, j.task.Slots, runID)
	if err != nil {
		logger.Error("Task was rejected.", zap.Error(err))
		return e.failed(taskDir, runID, j.task, err.Error())
	}

	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && rep.Failed() {
		logger.Warn("Task processing timed out.", zap.Duration("timeout", timeout))
		rep.FailureClass = schemas.FailureRuntimeError
		if _, err := report.Write(taskDir, rep); err != nil {
			logger.Warn("Failed to rewrite timed out report.", zap.Error(err))
		}
	}
	return rep
}

// failed builds and persists the report of a task that could not be executed.
func (e *Engine) failed(taskDir, runID string, t Task, reason string) *schemas.RunReport {
	rep := schemas.NewRunReport(runID)
	rep.SkillID = t.Skill
	rep.Fail(reason, reason, schemas.FailureRuntimeError)
	finished := time.Now().UTC()
	rep.FinishedAt = &finished
	if _, err := report.Write(taskDir, rep); err != nil {
		e.logger.Warn("Failed to persist report of failed task.", zap.String("run_id", runID), zap.Error(err))
	}
	return rep
}

// persist mirrors a report to the store on a context detached from the
// batch, so reports of canceled batches still arrive.
func (e *Engine) persist(rep *schemas.RunReport, logger *zap.Logger) {
	if e.store == nil || rep == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if res := e.store.SyncReport(ctx, rep); res.Err != nil {
		logger.Warn("Failed to sync run report.", zap.Error(res.Err))
	} else {
		logger.Debug("Run report synced.", zap.Int("artifacts", res.Artifacts))
	}
}

// Summarize counts successful and failed results.
func Summarize(results []Result) (succeeded, failed int) {
	for _, r := range results {
		if r.Report != nil && r.Report.Status == schemas.RunStatusSuccess {
			succeeded++
			continue
		}
		failed++
	}
	return succeeded, failed
}
