package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/skillrunner/internal/config"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNew(t *testing.T) {
	md := map[string]any{"step": 2}
	ev := New(TypeAgentAction, "clicking '#save'", "run-1", md)

	assert.Equal(t, TypeAgentAction, ev.Type)
	assert.Equal(t, "run-1", ev.Metadata["run_id"])
	assert.Equal(t, 2, ev.Metadata["step"])
	assert.NotContains(t, md, "run_id", "caller metadata is not mutated")
	assert.False(t, ev.Time.IsZero())

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"agent_action","details":"clicking '#save'","metadata":{"run_id":"run-1","step":2}}`, string(data))
}

func TestHTTPSink(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("PostsEvent", func(t *testing.T) {
		var got map[string]any
		var headers http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/rest/v1/events", r.URL.Path)
			headers = r.Header.Clone()
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		sink := NewHTTPSink(config.EventsConfig{Endpoint: srv.URL + "/", APIKey: "key-1", RateLimit: 10}, logger)
		defer sink.Close()

		res := sink.Emit(context.Background(), New(TypeRunInitialized, "run started", "run-1", nil))
		require.NoError(t, res.Err)
		assert.True(t, res.Delivered)
		assert.Equal(t, "run_initialized", got["event_type"])
		assert.Equal(t, "key-1", headers.Get("apikey"))
		assert.Equal(t, "Bearer key-1", headers.Get("Authorization"))
	})

	t.Run("ReportsServerErrors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		sink := NewHTTPSink(config.EventsConfig{Endpoint: srv.URL, RateLimit: 10}, logger)
		res := sink.Emit(context.Background(), New(TypeAgentAction, "x", "", nil))
		assert.False(t, res.OK())
		assert.ErrorContains(t, res.Err, "status 404")
	})

	t.Run("RateLimited", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		// One event per ten seconds with a short send timeout: the second emit cannot get a slot.
		sink := NewHTTPSink(config.EventsConfig{Endpoint: srv.URL, RateLimit: 0.1, Timeout: 100 * time.Millisecond}, logger)
		require.True(t, sink.Emit(context.Background(), New(TypeAgentAction, "a", "", nil)).Delivered)

		res := sink.Emit(context.Background(), New(TypeAgentAction, "b", "", nil))
		assert.ErrorIs(t, res.Err, ErrRateLimited)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewFileSink(path)

	res := sink.Emit(context.Background(), New(TypeAgentAction, "filling '#qty'", "run-9", nil))
	require.NoError(t, res.Err)
	assert.True(t, res.FellBack)
	require.NoError(t, sink.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "agent_action", lines[0]["event_type"])
	assert.Equal(t, "filling '#qty'", lines[0]["details"])
	assert.NotEmpty(t, lines[0]["time"])
}

func TestFallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewFallback(NewHTTPSink(config.EventsConfig{Endpoint: srv.URL, RateLimit: 10}, logger), NewFileSink(path), logger)

	res := sink.Emit(context.Background(), New(TypeRunFailed, "boom", "run-2", nil))
	assert.False(t, res.Delivered)
	assert.True(t, res.FellBack)
	assert.ErrorContains(t, res.Err, "status 500")
	require.NoError(t, sink.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "run_failed", lines[0]["event_type"])
}

func TestNewSink(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	assert.IsType(t, Nop{}, NewSink(config.EventsConfig{}, logger))
	assert.IsType(t, Nop{}, NewSink(config.EventsConfig{Enabled: true}, logger))
	assert.IsType(t, &FileSink{}, NewSink(config.EventsConfig{Enabled: true, FallbackFile: filepath.Join(dir, "e.jsonl")}, logger))

	remote := NewSink(config.EventsConfig{Enabled: true, Endpoint: "http://localhost", RateLimit: 1}, logger)
	require.IsType(t, &Async{}, remote)
	assert.IsType(t, &HTTPSink{}, remote.(*Async).next)
	require.NoError(t, remote.Close())

	withFallback := NewSink(config.EventsConfig{Enabled: true, Endpoint: "http://localhost", RateLimit: 1, FallbackFile: filepath.Join(dir, "e.jsonl")}, logger)
	require.IsType(t, &Async{}, withFallback)
	assert.IsType(t, &Fallback{}, withFallback.(*Async).next)
	require.NoError(t, withFallback.Close())
}

// gatedSink blocks every Emit until release is closed.
type gatedSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
	closed  bool
}

func (s *gatedSink) Emit(ctx context.Context, ev Event) Result {
	select {
	case <-s.release:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev.Details)
	return Result{Delivered: true}
}

func (s *gatedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestAsync(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("EmitDoesNotWaitForDelivery", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		next := &gatedSink{release: make(chan struct{})}
		sink := NewAsync(next, 8, logger)

		start := time.Now()
		for _, d := range []string{"a", "b", "c"} {
			res := sink.Emit(context.Background(), New(TypeAgentAction, d, "", nil))
			assert.True(t, res.Queued)
			assert.True(t, res.OK())
		}
		assert.Less(t, time.Since(start), time.Second)

		close(next.release)
		require.NoError(t, sink.Close())
		assert.Equal(t, []string{"a", "b", "c"}, next.got, "close drains in order")
		assert.True(t, next.closed)

		res := sink.Emit(context.Background(), New(TypeAgentAction, "late", "", nil))
		assert.ErrorIs(t, res.Err, ErrSinkClosed)
		assert.NoError(t, sink.Close(), "close is idempotent")
	})

	t.Run("FullQueueDrops", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		next := &gatedSink{release: make(chan struct{})}
		sink := NewAsync(next, 1, logger)

		// The sender holds at most one event while the queue holds another.
		var full int
		for i := 0; i < 5; i++ {
			if res := sink.Emit(context.Background(), New(TypeAgentAction, "x", "", nil)); errors.Is(res.Err, ErrQueueFull) {
				full++
			}
		}
		assert.GreaterOrEqual(t, full, 3)

		close(next.release)
		require.NoError(t, sink.Close())
	})

	t.Run("CloseAbandonsStuckDelivery", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		next := &gatedSink{release: make(chan struct{})}
		sink := NewAsync(next, 8, logger)
		sink.drainTimeout = 50 * time.Millisecond

		sink.Emit(context.Background(), New(TypeAgentAction, "stuck", "", nil))
		sink.Emit(context.Background(), New(TypeAgentAction, "never", "", nil))

		start := time.Now()
		require.NoError(t, sink.Close())
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Empty(t, next.got)
		assert.True(t, next.closed)
	})
}
