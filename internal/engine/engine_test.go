package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/executor"
	"github.com/xkilldash9x/skillrunner/internal/mocks"
	"github.com/xkilldash9x/skillrunner/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const skillJSON = `{
  "id": "x.customer.open",
  "steps": [
    {"action": "goto", "url": "https://app.example.com/desktop/customer/edit/7"},
    {"action": "screenshot"}
  ]
}`

// recordingStore collects synced reports.
type recordingStore struct {
	mu     sync.Mutex
	synced []string
}

func (s *recordingStore) SyncReport(ctx context.Context, r *schemas.RunReport) store.SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, r.RunID)
	return store.SyncResult{Synced: true, Artifacts: len(r.Artifacts)}
}

type harness struct {
	cfg      *config.Config
	launcher *mocks.FakeLauncher
	engine   *Engine
	store    *recordingStore
	dir      string
}

func newHarness(t *testing.T, newPage func() *mocks.FakePage, opts ...func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.StateCfg.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.StateCfg.AuthDir = filepath.Join(dir, "auth")
	cfg.EngineCfg.WorkerConcurrency = 2
	cfg.EngineCfg.QueueSize = 1
	cfg.EngineCfg.DefaultTaskTimeout = 5 * time.Second
	for _, opt := range opts {
		opt(cfg)
	}

	if newPage == nil {
		newPage = func() *mocks.FakePage { return mocks.NewFakePage("about:blank") }
	}
	launcher := &mocks.FakeLauncher{NewPage: newPage}
	logger := zaptest.NewLogger(t)
	rs := &recordingStore{}

	eng, err := New(mocks.NewMockConfig(cfg), logger, executor.New(logger, cfg, launcher, nil), rs)
	require.NoError(t, err)
	return &harness{cfg: cfg, launcher: launcher, engine: eng, store: rs, dir: dir}
}

func (h *harness) writeSkill(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNew(t *testing.T) {
	cfg := config.NewDefaultConfig()
	exec := executor.New(zap.NewNop(), cfg, &mocks.FakeLauncher{}, nil)

	_, err := New(nil, zap.NewNop(), exec, nil)
	assert.EqualError(t, err, "config cannot be nil")
	_, err = New(cfg, nil, exec, nil)
	assert.EqualError(t, err, "logger cannot be nil")
	_, err = New(cfg, zap.NewNop(), nil, nil)
	assert.EqualError(t, err, "executor cannot be nil")

	eng, err := New(cfg, zap.NewNop(), exec, nil)
	require.NoError(t, err)
	results, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunIsolatesTasks(t *testing.T) {
	h := newHarness(t, nil)
	authPath := h.cfg.StateCfg.AuthStatePath(h.cfg.AuthCfg.Account)
	state := &browser.StorageState{Cookies: []browser.Cookie{{Name: "sid", Value: "abc", Domain: "app.example.com", Path: "/"}}}
	require.NoError(t, state.Save(authPath))

	skill := h.writeSkill(t, "skill.json", skillJSON)
	tasks := []Task{{Skill: skill}, {Skill: skill, RunID: "named"}, {Skill: skill}}

	results, err := h.engine.Run(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		require.NoError(t, res.Err)
		require.NotNil(t, res.Report, "task %d", i)
		assert.Equal(t, schemas.RunStatusSuccess, res.Report.Status)
		assert.FileExists(t, res.Report.Artifacts[schemas.ArtifactRunReport])
		assert.Equal(t, tasks[i], res.Task, "results keep task order")
	}
	assert.Equal(t, "named", results[1].Report.RunID)

	sessions := h.launcher.Sessions()
	require.Len(t, sessions, 3)
	seen := map[string]bool{}
	for _, s := range sessions {
		path := s.Opts.StorageStatePath
		require.NotEmpty(t, path)
		assert.NotEqual(t, authPath, path, "tasks never share the account's auth file")
		assert.False(t, seen[path], "every task has its own auth copy")
		seen[path] = true

		copied, err := browser.LoadStorageState(path)
		require.NoError(t, err)
		assert.Equal(t, state.Cookies, copied.Cookies)
	}

	assert.ElementsMatch(t, []string{results[0].Report.RunID, "named", results[2].Report.RunID}, h.store.synced)
	succeeded, failed := Summarize(results)
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)
}

func TestRunLoadFailureIsRuntimeError(t *testing.T) {
	h := newHarness(t, nil)
	skill := h.writeSkill(t, "skill.json", skillJSON)

	results, err := h.engine.Run(context.Background(), []Task{
		{Skill: filepath.Join(h.dir, "missing.json")},
		{Skill: skill},
	})
	require.NoError(t, err)

	broken := results[0].Report
	require.NotNil(t, broken)
	assert.Equal(t, schemas.RunStatusFailed, broken.Status)
	assert.Equal(t, schemas.FailureRuntimeError, broken.FailureClass)
	assert.NotEmpty(t, broken.Error)
	assert.FileExists(t, broken.Artifacts[schemas.ArtifactRunReport])

	assert.Equal(t, schemas.RunStatusSuccess, results[1].Report.Status, "siblings are unaffected")
	assert.Len(t, h.launcher.Browsers(), 1, "no browser for a task that failed to load")

	succeeded, failed := Summarize(results)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

func TestRunTimeoutIsRuntimeError(t *testing.T) {
	h := newHarness(t, func() *mocks.FakePage {
		p := mocks.NewFakePage("about:blank")
		p.OnGoto = func(*mocks.FakePage, string) { time.Sleep(150 * time.Millisecond) }
		return p
	}, func(cfg *config.Config) { cfg.EngineCfg.DefaultTaskTimeout = 20 * time.Millisecond })
	skill := h.writeSkill(t, "skill.json", skillJSON)

	results, err := h.engine.Run(context.Background(), []Task{{Skill: skill}})
	require.NoError(t, err)

	rep := results[0].Report
	require.NotNil(t, rep)
	assert.Equal(t, schemas.RunStatusFailed, rep.Status)
	assert.Equal(t, schemas.FailureRuntimeError, rep.FailureClass)
	assert.Equal(t, 1, rep.StepsCompleted)
	assert.True(t, h.launcher.Sessions()[0].Closed)
}

func TestRunCanceledBatch(t *testing.T) {
	h := newHarness(t, nil)
	skill := h.writeSkill(t, "skill.json", skillJSON)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{{Skill: skill}, {Skill: skill}, {Skill: skill}, {Skill: skill}}
	results, err := h.engine.Run(ctx, tasks)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, len(tasks))
	for _, res := range results {
		if res.Report == nil {
			assert.ErrorIs(t, res.Err, context.Canceled)
		}
	}
}

func TestLoadTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	abs := filepath.Join(dir, "elsewhere", "b.yaml")
	body := `[{"skill": "skills/a.json", "slots": {"amount": 5}}, {"skill": "` + filepath.ToSlash(abs) + `", "run_id": "r2"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	tasks, err := LoadTasks(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, filepath.Join(dir, "skills", "a.json"), tasks[0].Skill)
	assert.Equal(t, float64(5), tasks[0].Slots["amount"])
	assert.Equal(t, "r2", tasks[1].RunID)

	require.NoError(t, os.WriteFile(path, []byte(`[{"slots": {}}]`), 0o644))
	_, err = LoadTasks(path)
	assert.EqualError(t, err, "task 1 has no skill")

	_, err = LoadTasks(filepath.Join(dir, "nope.json"))
	assert.ErrorContains(t, err, "failed to read batch file")
}
