// Package events records an audit trail of run activity. Delivery is
// advisory: a sink reports what happened through Result and callers only log it.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/internal/config"
)

// Event types emitted by the executor.
const (
	TypeAgentAction    = "agent_action"
	TypeRunInitialized = "run_initialized"
	TypeRunSuccess     = "run_success"
	TypeRunFailed      = "run_failed"
)

// ErrRateLimited is reported when the remote sink refuses to wait for a send slot.
var ErrRateLimited = errors.New("event rate limit exceeded")

// Event is one audit record.
type Event struct {
	Type     string         `json:"event_type"`
	Details  string         `json:"details"`
	Metadata map[string]any `json:"metadata"`
	Time     time.Time      `json:"-"`
}

// New builds an event stamped with the current time. runID, when set, is
// added to the metadata.
func New(eventType, details, runID string, metadata map[string]any) Event {
	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	if runID != "" {
		md["run_id"] = runID
	}
	return Event{Type: eventType, Details: details, Metadata: md, Time: time.Now().UTC()}
}

// Result describes the outcome of one delivery attempt.
type Result struct {
	// Delivered is true when the primary destination accepted the event.
	Delivered bool
	// FellBack is true when the event was written to the local fallback instead.
	FellBack bool
	// Queued is true when the event was handed to a background sender.
	Queued bool
	// Err is the delivery error, if any. It never aborts the caller.
	Err error
}

// OK reports whether the event ended up somewhere, or is on its way.
func (r Result) OK() bool { return r.Delivered || r.FellBack || r.Queued }

// Sink accepts events.
type Sink interface {
	Emit(ctx context.Context, ev Event) Result
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) Result { return Result{Delivered: true} }
func (Nop) Close() error                        { return nil }

// NewSink builds the sink described by cfg: remote delivery with a local
// fallback file, local file only, or Nop when events are disabled. Remote
// delivery runs in the background.
func NewSink(cfg config.EventsConfig, logger *zap.Logger) Sink {
	if !cfg.Enabled {
		return Nop{}
	}
	var local Sink
	if cfg.FallbackFile != "" {
		local = NewFileSink(cfg.FallbackFile)
	}
	if cfg.Endpoint == "" {
		if local == nil {
			return Nop{}
		}
		return local
	}
	var remote Sink = NewHTTPSink(cfg, logger)
	if local != nil {
		remote = NewFallback(remote, local, logger)
	}
	return NewAsync(remote, cfg.QueueSize, logger)
}
