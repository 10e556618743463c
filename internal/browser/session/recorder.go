// internal/browser/session/recorder.go
package session

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// TraceEvent is one entry of a session trace.
type TraceEvent struct {
	Time   time.Time      `json:"time"`
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
}

// maxTraceEvents bounds memory for very chatty pages.
const maxTraceEvents = 20000

// Recorder listens to CDP events for one tab. It tracks in-flight requests so
// navigation can wait for network idle, and, when tracing is enabled, keeps a
// timeline of requests, console output, exceptions, navigations and page actions.
type Recorder struct {
	logger  *zap.Logger
	tracing bool

	tabCtx         context.Context
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
	events   []TraceEvent
	dropped  int
	started  bool
}

// NewRecorder creates a recorder bound to a tab context.
func NewRecorder(tabCtx context.Context, logger *zap.Logger, tracing bool) *Recorder {
	return &Recorder{
		logger:   logger.Named("recorder"),
		tracing:  tracing,
		tabCtx:   tabCtx,
		inflight: make(map[network.RequestID]struct{}),
	}
}

// Start enables the CDP domains and begins listening.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	r.listenerCtx, r.cancelListener = context.WithCancel(r.tabCtx)
	chromedp.ListenTarget(r.listenerCtx, r.handle)

	runCtx, cancel := CombineContext(r.tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, network.Enable(), runtime.Enable(), log.Enable(), page.Enable()); err != nil {
		r.cancelListener()
		return fmt.Errorf("failed to enable CDP domains: %w", err)
	}
	r.started = true
	return nil
}

func (r *Recorder) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.mu.Lock()
		r.inflight[e.RequestID] = struct{}{}
		r.mu.Unlock()
		if e.Request != nil {
			r.Record("request", map[string]any{"id": string(e.RequestID), "method": e.Request.Method, "url": e.Request.URL, "type": string(e.Type)})
		}
	case *network.EventResponseReceived:
		if e.Response != nil {
			r.Record("response", map[string]any{"id": string(e.RequestID), "status": e.Response.Status, "url": e.Response.URL, "mime": e.Response.MimeType})
		}
	case *network.EventLoadingFinished:
		r.settle(e.RequestID)
	case *network.EventLoadingFailed:
		r.settle(e.RequestID)
		r.Record("request_failed", map[string]any{"id": string(e.RequestID), "error": e.ErrorText, "canceled": e.Canceled})
	case *runtime.EventConsoleAPICalled:
		args := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if arg == nil {
				continue
			}
			if len(arg.Value) > 0 {
				args = append(args, string(arg.Value))
			} else if arg.Description != "" {
				args = append(args, arg.Description)
			}
		}
		r.Record("console", map[string]any{"level": string(e.Type), "args": args})
	case *log.EventEntryAdded:
		if e.Entry != nil {
			r.Record("log", map[string]any{"level": string(e.Entry.Level), "source": string(e.Entry.Source), "text": e.Entry.Text, "url": e.Entry.URL})
		}
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			detail := map[string]any{"text": e.ExceptionDetails.Text, "url": e.ExceptionDetails.URL, "line": e.ExceptionDetails.LineNumber}
			if e.ExceptionDetails.Exception != nil {
				detail["description"] = e.ExceptionDetails.Exception.Description
			}
			r.Record("exception", detail)
		}
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			r.Record("navigated", map[string]any{"url": e.Frame.URL})
		}
	}
}

func (r *Recorder) settle(id network.RequestID) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// Record appends an event to the trace. It is a no-op when tracing is disabled.
func (r *Recorder) Record(kind string, detail map[string]any) {
	if !r.tracing {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= maxTraceEvents {
		r.dropped++
		return
	}
	r.events = append(r.events, TraceEvent{Time: time.Now().UTC(), Kind: kind, Detail: detail})
}

// WaitNetworkIdle polls until no request has been in flight for quietPeriod.
func (r *Recorder) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	interval := quietPeriod / 2
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.mu.RLock()
			inflight := len(r.inflight)
			r.mu.RUnlock()

			if inflight > 0 {
				lastActivity = time.Now()
				continue
			}
			if time.Since(lastActivity) >= quietPeriod {
				return nil
			}
		}
	}
}

// Events returns a copy of the recorded timeline.
func (r *Recorder) Events() []TraceEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Stop detaches the event listener.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelListener != nil {
		r.cancelListener()
		r.cancelListener = nil
	}
	r.started = false
}

// traceAttachment is an extra file stored next to the timeline in trace.zip.
type traceAttachment struct {
	Name string
	Data []byte
}

// WriteArchive writes trace.json plus attachments into a zip archive at path.
func (r *Recorder) WriteArchive(path string, attachments ...traceAttachment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create trace directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	r.mu.RLock()
	timeline := struct {
		Events  []TraceEvent `json:"events"`
		Dropped int          `json:"dropped,omitempty"`
	}{Events: r.events, Dropped: r.dropped}
	data, err := json.MarshalIndent(timeline, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode trace timeline: %w", err)
	}

	files := append([]traceAttachment{{Name: "trace.json", Data: data}}, attachments...)
	for _, file := range files {
		w, err := zw.Create(file.Name)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to add %s to trace archive: %w", file.Name, err)
		}
		if _, err := w.Write(file.Data); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write %s to trace archive: %w", file.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize trace archive: %w", err)
	}
	return f.Close()
}
