// Package browser defines what the skill executor needs from a live browser tab.
// The chromedp implementation lives in internal/browser/session; tests use
// scripted fakes of the same interfaces.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no element matches a locator.
var ErrNotFound = errors.New("no element matches selector")

// ErrNotVisible is returned when a matching element does not become visible in time.
var ErrNotVisible = errors.New("element not visible")

// SelectBy picks how SelectOption matches an <option>.
type SelectBy int

const (
	SelectByLabel SelectBy = iota
	SelectByValue
)

// Page is a single browser tab. Every method is bounded by the timeout it is
// given (where it takes one) and by ctx.
type Page interface {
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Goto navigates and waits for the network to go idle.
	Goto(ctx context.Context, url string, timeout time.Duration) error
	// WaitForURL waits until match accepts the current URL.
	WaitForURL(ctx context.Context, match func(string) bool, timeout time.Duration) error

	// Click scrolls the element into view, waits for it to be visible and clicks it.
	Click(ctx context.Context, loc Locator, timeout time.Duration) error
	// DOMClick invokes element.click() on the match without any actionability checks.
	// It returns ErrNotFound when nothing matches.
	DOMClick(ctx context.Context, loc Locator) error
	// Fill replaces the element's value with text.
	Fill(ctx context.Context, loc Locator, text string, timeout time.Duration) error
	// Clear empties the element's value.
	Clear(ctx context.Context, loc Locator, timeout time.Duration) error
	// Type sends text as key presses into the element without clearing it first.
	Type(ctx context.Context, loc Locator, text string, timeout time.Duration) error
	// Press focuses the element and presses a named key such as "Enter" or "Tab".
	Press(ctx context.Context, loc Locator, key string, timeout time.Duration) error
	// SelectOption picks an option of a <select> by label or by value.
	SelectOption(ctx context.Context, loc Locator, by SelectBy, value string, timeout time.Duration) error
	// SetValue writes the element's value directly and dispatches input and change events.
	SetValue(ctx context.Context, loc Locator, value string) error

	// WaitVisible waits until the element is visible.
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	// IsVisible reports whether the element becomes visible within timeout. It never fails.
	IsVisible(ctx context.Context, loc Locator, timeout time.Duration) bool
	// Count returns the number of elements matching the selector.
	Count(ctx context.Context, selector string) (int, error)
	// TextContents returns the text of every element matching the selector, in document order.
	TextContents(ctx context.Context, selector string) ([]string, error)

	// Evaluate runs a JavaScript function expression with arg and decodes its result into out.
	Evaluate(ctx context.Context, function string, arg any, out any) error
	// Screenshot writes a PNG of the viewport to path.
	Screenshot(ctx context.Context, path string) error
	// Pause lets the page settle for d.
	Pause(ctx context.Context, d time.Duration) error
}

// SessionOptions configure one browser session.
type SessionOptions struct {
	// StorageStatePath is restored into the session when the file exists.
	StorageStatePath string
	// ArtifactDir receives trace and video scratch files.
	ArtifactDir string
	Trace       bool
	RecordVideo bool
}

// Session is an isolated browsing context with one page.
type Session interface {
	Page() Page
	// SaveStorageState writes cookies and per-origin localStorage to path.
	SaveStorageState(ctx context.Context, path string) error
	// StopTrace ends trace capture and writes the archive to path. It reports
	// false when tracing was not enabled.
	StopTrace(ctx context.Context, path string) (bool, error)
	// FinalizeVideo ends recording and writes the video to path. It reports
	// false when no video was produced.
	FinalizeVideo(ctx context.Context, path string) (bool, error)
	Close(ctx context.Context) error
}

// Browser is a running browser process.
type Browser interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Close(ctx context.Context) error
}

// Launcher starts browsers. One launcher may be shared by concurrent executions.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}
