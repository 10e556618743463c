// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
)

// artifactTimeout bounds each cleanup step (trace, video, storage state).
const artifactTimeout = 30 * time.Second

// Session is one isolated browser context (its own cookies and storage) with
// a single tab. It implements browser.Session.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.Interface
	opts   browser.SessionOptions

	ctx    context.Context
	cancel context.CancelFunc

	recorder   *Recorder
	screencast *Screencast
	page       *Page

	closeOnce sync.Once
	onClose   func(*Session)

	mu           sync.Mutex
	traceStopped bool
}

var _ browser.Session = (*Session)(nil)

// newSession creates the tab, restores storage state when present, and starts
// the recorder and (optionally) the screencast.
func newSession(ctx, browserCtx context.Context, logger *zap.Logger, cfg config.Interface, opts browser.SessionOptions, onClose func(*Session)) (*Session, error) {
	id := uuid.NewString()
	log := logger.With(zap.String("session_id", id))

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())

	s := &Session{
		id:      id,
		logger:  log,
		cfg:     cfg,
		opts:    opts,
		ctx:     tabCtx,
		cancel:  cancelTab,
		onClose: onClose,
	}

	// The first Run creates the target.
	if err := s.runActions(ctx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	s.recorder = NewRecorder(tabCtx, log, opts.Trace)
	if err := s.recorder.Start(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}

	if opts.StorageStatePath != "" {
		state, err := browser.LoadStorageState(opts.StorageStatePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug("No stored auth state to restore.", zap.String("path", opts.StorageStatePath))
		case err != nil:
			log.Warn("Ignoring unreadable auth state.", zap.String("path", opts.StorageStatePath), zap.Error(err))
		default:
			if err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
				return restoreStorageState(c, state)
			})); err != nil {
				log.Warn("Failed to restore auth state.", zap.Error(err))
			} else {
				log.Debug("Restored auth state.", zap.Int("cookies", len(state.Cookies)), zap.Int("origins", len(state.Origins)))
			}
		}
	}

	if opts.RecordVideo && opts.ArtifactDir != "" {
		sc := NewScreencast(tabCtx, log, opts.ArtifactDir, cfg.Browser().FFmpegPath)
		if err := sc.Start(ctx); err != nil {
			log.Warn("Video recording unavailable.", zap.Error(err))
		} else {
			s.screencast = sc
		}
	}

	net := cfg.Network()
	s.page = &Page{
		logger:            log.Named("page"),
		ctx:               tabCtx,
		recorder:          s.recorder,
		navigationTimeout: net.NavigationTimeout,
	}
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Page returns the session's tab.
func (s *Session) Page() browser.Page { return s.page }

// runActions executes CDP actions against the tab, bounded by ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// cleanupContext is used for artifact work that must still run after the
// caller's context expired.
func (s *Session) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(Detach(ctx), artifactTimeout)
}

// SaveStorageState captures cookies and the current origin's localStorage.
func (s *Session) SaveStorageState(ctx context.Context, path string) error {
	cctx, cancel := s.cleanupContext(ctx)
	defer cancel()

	var state *browser.StorageState
	err := s.runActions(cctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		state, err = captureStorageState(c)
		return err
	}))
	if err != nil {
		return err
	}
	if err := state.Save(path); err != nil {
		return err
	}
	s.logger.Debug("Saved auth state.", zap.String("path", path), zap.Int("cookies", len(state.Cookies)))
	return nil
}

// StopTrace writes the recorded timeline together with the final DOM and a
// final screenshot into a zip archive at path.
func (s *Session) StopTrace(ctx context.Context, path string) (bool, error) {
	if !s.opts.Trace {
		return false, nil
	}
	s.mu.Lock()
	if s.traceStopped {
		s.mu.Unlock()
		return false, nil
	}
	s.traceStopped = true
	s.mu.Unlock()

	cctx, cancel := s.cleanupContext(ctx)
	defer cancel()

	var attachments []traceAttachment
	var html string
	if err := s.runActions(cctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ''`, &html)); err != nil {
		s.logger.Debug("Could not snapshot DOM for trace.", zap.Error(err))
	} else {
		attachments = append(attachments, traceAttachment{Name: "snapshot.html", Data: []byte(html)})
	}
	var png []byte
	if err := s.runActions(cctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		png, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	})); err != nil {
		s.logger.Debug("Could not capture final screenshot for trace.", zap.Error(err))
	} else {
		attachments = append(attachments, traceAttachment{Name: "final.png", Data: png})
	}

	if err := s.recorder.WriteArchive(path, attachments...); err != nil {
		return false, err
	}
	return true, nil
}

// FinalizeVideo stops the screencast and encodes it to path.
func (s *Session) FinalizeVideo(ctx context.Context, path string) (bool, error) {
	if s.screencast == nil {
		return false, nil
	}
	cctx, cancel := context.WithTimeout(Detach(ctx), 2*artifactTimeout)
	defer cancel()
	return s.screencast.Finalize(cctx, path)
}

// Close discards any unfinished recording and closes the tab and its browser context.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		cctx, cancel := s.cleanupContext(ctx)
		defer cancel()

		if s.screencast != nil {
			s.screencast.Discard(cctx)
		}
		if s.recorder != nil {
			s.recorder.Stop()
		}
		if err := chromedp.Cancel(s.ctx); err != nil {
			s.logger.Debug("Tab did not close cleanly.", zap.Error(err))
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.logger.Debug("Session closed.")
	})
	return nil
}
