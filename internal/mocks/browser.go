// File: internal/mocks/browser.go
package mocks

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/xkilldash9x/skillrunner/internal/browser"
)

// FakeLauncher hands out FakeBrowsers whose sessions all share Page, unless
// NewPage is set, in which case every session gets a fresh page from it.
type FakeLauncher struct {
	Page      *FakePage
	NewPage   func() *FakePage
	LaunchErr error
	// SessionErr makes NewSession fail.
	SessionErr error
	// NoVideo makes FinalizeVideo report that nothing was recorded.
	NoVideo bool

	mu       sync.Mutex
	browsers []*FakeBrowser
}

var _ browser.Launcher = (*FakeLauncher)(nil)

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Browser, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := &FakeBrowser{launcher: l}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Browsers returns every browser launched so far.
func (l *FakeLauncher) Browsers() []*FakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeBrowser(nil), l.browsers...)
}

// Sessions returns every session opened on any launched browser.
func (l *FakeLauncher) Sessions() []*FakeSession {
	var out []*FakeSession
	for _, b := range l.Browsers() {
		out = append(out, b.Sessions()...)
	}
	return out
}

// FakeBrowser records sessions and whether it was closed.
type FakeBrowser struct {
	launcher *FakeLauncher

	mu       sync.Mutex
	sessions []*FakeSession
	Closed   bool
}

func (b *FakeBrowser) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if b.launcher.SessionErr != nil {
		return nil, b.launcher.SessionErr
	}
	page := b.launcher.Page
	if b.launcher.NewPage != nil {
		page = b.launcher.NewPage()
	}
	if page == nil {
		page = NewFakePage("about:blank")
	}
	s := &FakeSession{Opts: opts, page: page, noVideo: b.launcher.NoVideo}
	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()
	return s, nil
}

func (b *FakeBrowser) Sessions() []*FakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakeSession(nil), b.sessions...)
}

func (b *FakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// FakeSession writes placeholder artifacts where the real session would.
type FakeSession struct {
	Opts    browser.SessionOptions
	page    *FakePage
	noVideo bool

	mu          sync.Mutex
	SavedStates []string
	TracePath   string
	VideoPath   string
	Closed      bool
}

func (s *FakeSession) Page() browser.Page { return s.page }

// FakePage returns the concrete page for assertions.
func (s *FakeSession) FakePage() *FakePage { return s.page }

func (s *FakeSession) SaveStorageState(ctx context.Context, path string) error {
	state := &browser.StorageState{Cookies: []browser.Cookie{{Name: "session", Value: "fresh", Domain: "app.example", Path: "/"}}}
	if err := state.Save(path); err != nil {
		return err
	}
	s.mu.Lock()
	s.SavedStates = append(s.SavedStates, path)
	s.mu.Unlock()
	return nil
}

func (s *FakeSession) StopTrace(ctx context.Context, path string) (bool, error) {
	if !s.Opts.Trace {
		return false, nil
	}
	if err := writePlaceholder(path); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.TracePath = path
	s.mu.Unlock()
	return true, nil
}

func (s *FakeSession) FinalizeVideo(ctx context.Context, path string) (bool, error) {
	if !s.Opts.RecordVideo || s.noVideo {
		return false, nil
	}
	if err := writePlaceholder(path); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.VideoPath = path
	s.mu.Unlock()
	return true, nil
}

func (s *FakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

func writePlaceholder(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("placeholder"), 0o644)
}
