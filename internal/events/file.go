package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileRecord is one JSON line of the local event log.
type fileRecord struct {
	Time     time.Time      `json:"time"`
	Type     string         `json:"event_type"`
	Details  string         `json:"details"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileSink appends events as JSON lines to a size-rotated local file.
type FileSink struct {
	mu sync.Mutex
	w  *lumberjack.Logger
}

// NewFileSink creates a sink writing to path. The file is opened lazily.
func NewFileSink(path string) *FileSink {
	return &FileSink{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     30,
	}}
}

func (s *FileSink) Emit(_ context.Context, ev Event) Result {
	line, err := json.Marshal(fileRecord{Time: ev.Time, Type: ev.Type, Details: ev.Details, Metadata: ev.Metadata})
	if err != nil {
		return Result{Err: fmt.Errorf("failed to encode event: %w", err)}
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return Result{Err: fmt.Errorf("failed to write event log: %w", err)}
	}
	return Result{FellBack: true}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// Fallback tries the primary sink and writes to the secondary when it fails.
type Fallback struct {
	logger    *zap.Logger
	primary   Sink
	secondary Sink
}

// NewFallback combines two sinks.
func NewFallback(primary, secondary Sink, logger *zap.Logger) *Fallback {
	return &Fallback{logger: logger.Named("events"), primary: primary, secondary: secondary}
}

func (f *Fallback) Emit(ctx context.Context, ev Event) Result {
	res := f.primary.Emit(ctx, ev)
	if res.Delivered {
		return res
	}
	f.logger.Debug("Primary event sink failed, writing locally.", zap.String("event_type", ev.Type), zap.Error(res.Err))
	local := f.secondary.Emit(ctx, ev)
	local.FellBack = local.OK()
	local.Delivered = false
	if local.Err == nil {
		local.Err = res.Err
	}
	return local
}

func (f *Fallback) Close() error {
	perr := f.primary.Close()
	serr := f.secondary.Close()
	if perr != nil {
		return perr
	}
	return serr
}
