// internal/browser/session/manager.go
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
)

const (
	defaultViewportWidth  = 1440
	defaultViewportHeight = 900
)

// Manager launches Chrome processes through chromedp. It implements
// browser.Launcher and is safe for concurrent use.
type Manager struct {
	logger *zap.Logger
	cfg    config.Interface
}

// NewManager creates a launcher configured from cfg.
func NewManager(logger *zap.Logger, cfg config.Interface) *Manager {
	return &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
}

var _ browser.Launcher = (*Manager)(nil)

// viewport returns the configured window size, falling back to the defaults
// for missing or non-positive entries.
func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = defaultViewportWidth
	}
	if h <= 0 {
		h = defaultViewportHeight
	}
	return w, h
}

// execOptions builds the allocator options for a browser process.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	w, h := viewport(cfg)
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(w, h),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// Extra flags come as "name" or "name=value", with or without leading dashes.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		key, value, found := strings.Cut(arg, "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// Launch starts a new browser process. The process is bound to a detached
// context so that a run deadline does not kill it before artifacts are saved;
// callers must Close the returned browser.
func (m *Manager) Launch(ctx context.Context) (browser.Browser, error) {
	bcfg := m.cfg.Browser()
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(Detach(ctx), execOptions(bcfg)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	// The first Run starts the process.
	startCtx, cancelStart := CombineContext(browserCtx, ctx)
	defer cancelStart()
	if err := chromedp.Run(startCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	m.logger.Debug("Browser started.", zap.Bool("headless", bcfg.Headless))
	return &chromeBrowser{
		logger:        m.logger,
		cfg:           m.cfg,
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		sessions:      make(map[*Session]struct{}),
	}, nil
}

// chromeBrowser is one running Chrome process.
type chromeBrowser struct {
	logger        *zap.Logger
	cfg           config.Interface
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewSession opens an isolated browser context with a single tab.
func (b *chromeBrowser) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser is closed")
	}
	b.mu.Unlock()

	s, err := newSession(ctx, b.ctx, b.logger, b.cfg, opts, b.forget)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *chromeBrowser) forget(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

// Close closes any open sessions and shuts the process down.
func (b *chromeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	open := make([]*Session, 0, len(b.sessions))
	for s := range b.sessions {
		open = append(open, s)
	}
	b.mu.Unlock()

	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			b.logger.Debug("Error closing session during browser shutdown.", zap.Error(err))
		}
	}

	// chromedp.Cancel closes the browser gracefully; the allocator cancel then
	// reaps the process.
	err := chromedp.Cancel(b.ctx)
	b.cancelBrowser()
	b.cancelAlloc()
	if err != nil && ctx.Err() == nil {
		b.logger.Debug("Browser did not close cleanly.", zap.Error(err))
	}
	return nil
}
