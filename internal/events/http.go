package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/skillrunner/internal/config"
)

const defaultSendTimeout = 5 * time.Second

// HTTPSink posts events to a PostgREST-style endpoint (<endpoint>/rest/v1/events).
type HTTPSink struct {
	logger  *zap.Logger
	client  *http.Client
	url     string
	apiKey  string
	limiter *rate.Limiter
	timeout time.Duration
}

// NewHTTPSink creates a remote sink limited to cfg.RateLimit events per second.
func NewHTTPSink(cfg config.EventsConfig, logger *zap.Logger) *HTTPSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return &HTTPSink{
		logger:  logger.Named("events_http"),
		client:  &http.Client{Timeout: timeout},
		url:     strings.TrimRight(cfg.Endpoint, "/") + "/rest/v1/events",
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// Emit sends one event. It waits for a rate limiter slot no longer than the
// send timeout.
func (s *HTTPSink) Emit(ctx context.Context, ev Event) Result {
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(sendCtx); err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrRateLimited, err)}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to encode event: %w", err)}
	}
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("failed to build event request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("event delivery failed: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Err: fmt.Errorf("event endpoint returned status %d", resp.StatusCode)}
	}
	return Result{Delivered: true}
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
