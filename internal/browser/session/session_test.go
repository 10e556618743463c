// internal/browser/session/session_test.go
package session

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
)

func TestViewport(t *testing.T) {
	w, h := viewport(config.BrowserConfig{})
	assert.Equal(t, defaultViewportWidth, w)
	assert.Equal(t, defaultViewportHeight, h)

	w, h = viewport(config.BrowserConfig{Viewport: map[string]int{"width": 1280, "height": -1}})
	assert.Equal(t, 1280, w)
	assert.Equal(t, defaultViewportHeight, h)
}

func TestExecOptions(t *testing.T) {
	base := execOptions(config.BrowserConfig{})
	headless := execOptions(config.BrowserConfig{Headless: true})
	assert.Len(t, headless, len(base)+1)

	withArgs := execOptions(config.BrowserConfig{
		UserAgent: "skillrunner-test",
		Args:      []string{"--lang=de-DE", "disable-extensions", "  ", "--"},
	})
	// user agent plus two parsed flags; blank entries are ignored.
	assert.Len(t, withArgs, len(base)+3)
}

func TestElementScript(t *testing.T) {
	script, err := elementScript(browser.Locate("button:has-text('Save')").Last(), countBody, map[string]any{"by": 0})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "(function(q, index, arg) {"))
	assert.Contains(t, script, "const __find")
	assert.Contains(t, script, `{"clauses":[{"css":"button","text":"Save"}]}, -1, {"by":0}`)

	t.Run("comma separated has-text clauses", func(t *testing.T) {
		sel := ".popover-content:has-text('Mandatory'), .help-block:has-text('Mandatory'), .text-danger:has-text('Mandatory')"
		script, err := elementScript(browser.Locate(sel), textsBody, nil)
		require.NoError(t, err)

		assert.NotContains(t, script, ":has-text(")
		assert.Contains(t, script, `{"css":".popover-content","text":"Mandatory"}`)
		assert.Contains(t, script, `{"css":".help-block","text":"Mandatory"}`)
		assert.Contains(t, script, `{"css":".text-danger","text":"Mandatory"}`)
		assert.Contains(t, script, "compareDocumentPosition")
	})
}

func TestFunctionScript(t *testing.T) {
	script, err := functionScript("(rows) => rows.length", []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "(async () => { const __r = await ((rows) => rows.length)([1,2]); return __r === undefined ? null : __r; })()", script)

	_, err = functionScript("() => 1", func() {})
	assert.Error(t, err)
}

func TestPoll(t *testing.T) {
	t.Run("Succeeds", func(t *testing.T) {
		calls := 0
		err := poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("TimesOut", func(t *testing.T) {
		err := poll(context.Background(), 150*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("StopsOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("HonorsCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := poll(ctx, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRecorder(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("DisabledTracingRecordsNothing", func(t *testing.T) {
		r := NewRecorder(context.Background(), logger, false)
		r.Record("action", map[string]any{"name": "click"})
		assert.Empty(t, r.Events())
	})

	t.Run("TracksInflightRequests", func(t *testing.T) {
		r := NewRecorder(context.Background(), logger, true)
		r.handle(&network.EventRequestWillBeSent{RequestID: "1", Request: &network.Request{Method: "GET", URL: "https://app.example/"}})

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, r.WaitNetworkIdle(ctx, 50*time.Millisecond), context.DeadlineExceeded)

		r.handle(&network.EventLoadingFinished{RequestID: "1"})
		require.NoError(t, r.WaitNetworkIdle(context.Background(), 50*time.Millisecond))

		events := r.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "request", events[0].Kind)
		assert.Equal(t, "https://app.example/", events[0].Detail["url"])
	})

	t.Run("WritesArchive", func(t *testing.T) {
		r := NewRecorder(context.Background(), logger, true)
		r.Record("action", map[string]any{"name": "goto", "url": "https://app.example/login"})

		path := filepath.Join(t.TempDir(), "run", "trace.zip")
		require.NoError(t, r.WriteArchive(path, traceAttachment{Name: "snapshot.html", Data: []byte("<html></html>")}))

		zr, err := zip.OpenReader(path)
		require.NoError(t, err)
		defer zr.Close()

		names := map[string]*zip.File{}
		for _, f := range zr.File {
			names[f.Name] = f
		}
		require.Contains(t, names, "trace.json")
		require.Contains(t, names, "snapshot.html")

		rc, err := names["trace.json"].Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)

		var timeline struct {
			Events []TraceEvent `json:"events"`
		}
		require.NoError(t, json.Unmarshal(data, &timeline))
		require.Len(t, timeline.Events, 1)
		assert.Equal(t, "goto", timeline.Events[0].Detail["name"])
	})
}

func TestScreencastFinalizeWithoutFrames(t *testing.T) {
	dir := t.TempDir()
	sc := NewScreencast(context.Background(), zaptest.NewLogger(t), dir, "")
	require.NoError(t, os.MkdirAll(sc.frameDir, 0o755))

	ok, err := sc.Finalize(context.Background(), filepath.Join(dir, "video.webm"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoDirExists(t, sc.frameDir)

	// A second finalize is a no-op.
	ok, err = sc.Finalize(context.Background(), filepath.Join(dir, "video.webm"))
	require.NoError(t, err)
	assert.False(t, ok)
}
