// internal/browser/session/page.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/internal/browser"
)

const (
	pollInterval     = 100 * time.Millisecond
	networkIdleQuiet = 500 * time.Millisecond
	maxNetworkIdle   = 10 * time.Second
)

// namedKeys maps key names accepted by Press to chromedp key sequences.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowDown":  kb.ArrowDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
}

// Page drives one Chrome tab. It implements browser.Page.
type Page struct {
	logger            *zap.Logger
	ctx               context.Context
	recorder          *Recorder
	navigationTimeout time.Duration
}

var _ browser.Page = (*Page)(nil)

// bounded derives a context carrying the tab and canceled by ctx or after timeout.
func (p *Page) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := CombineContext(p.ctx, ctx)
	if timeout <= 0 {
		return combined, cancelCombined
	}
	timed, cancelTimed := context.WithTimeout(combined, timeout)
	return timed, func() {
		cancelTimed()
		cancelCombined()
	}
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.bounded(ctx, 0)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// eval runs a self-contained script and decodes its value into out.
func (p *Page) eval(ctx context.Context, script string, out any) error {
	return p.run(ctx, chromedp.Evaluate(script, out, withAwait))
}

func withAwait(params *runtime.EvaluateParams) *runtime.EvaluateParams {
	return params.WithAwaitPromise(true).WithReturnByValue(true).WithSilent(true)
}

func (p *Page) evalOn(ctx context.Context, loc browser.Locator, body string, arg any, out any) error {
	script, err := elementScript(loc, body, arg)
	if err != nil {
		return err
	}
	return p.eval(ctx, script, out)
}

// poll calls check until it reports done, returns an error, or the timeout expires.
func poll(ctx context.Context, timeout time.Duration, check func(context.Context) (bool, error)) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return context.DeadlineExceeded
		case <-ticker.C:
		}
	}
}

// URL returns the current document URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read page URL: %w", err)
	}
	return u, nil
}

// Goto navigates and then waits, best-effort, for the network to go quiet.
func (p *Page) Goto(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.navigationTimeout
	}
	p.recorder.Record("action", map[string]any{"name": "goto", "url": url})

	navCtx, cancel := p.bounded(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if timedOut(navCtx) {
			return fmt.Errorf("timeout %s exceeded navigating to %s: %w", timeout, url, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	idleCtx, cancelIdle := context.WithTimeout(navCtx, maxNetworkIdle)
	defer cancelIdle()
	if err := p.recorder.WaitNetworkIdle(idleCtx, networkIdleQuiet); err != nil {
		p.logger.Debug("Network did not go idle after navigation.", zap.String("url", url), zap.Error(err))
	}
	return nil
}

// WaitForURL polls the document URL until match accepts it.
func (p *Page) WaitForURL(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	last := ""
	err := poll(ctx, timeout, func(c context.Context) (bool, error) {
		u, err := p.URL(c)
		if err != nil {
			// The document may be mid-navigation.
			return false, nil
		}
		last = u
		return match(u), nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout %s exceeded waiting for URL (last: %s): %w", timeout, last, err)
	}
	return err
}

// probe scrolls the element into view and reports where it is.
func (p *Page) probe(ctx context.Context, loc browser.Locator) (probeResult, error) {
	var res probeResult
	err := p.evalOn(ctx, loc, probeBody, nil, &res)
	return res, err
}

// waitVisible polls until the element exists and is visible.
func (p *Page) waitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) (probeResult, error) {
	var last probeResult
	err := poll(ctx, timeout, func(c context.Context) (bool, error) {
		res, err := p.probe(c, loc)
		if err != nil {
			p.logger.Debug("Element probe failed.", zap.Stringer("locator", loc), zap.Error(err))
			return false, nil
		}
		last = res
		return res.Found && res.Visible, nil
	})
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, context.DeadlineExceeded) && !last.Found:
		return last, fmt.Errorf("timeout %s exceeded waiting for %s: %w", timeout, loc, browser.ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return last, fmt.Errorf("timeout %s exceeded waiting for %s: %w", timeout, loc, browser.ErrNotVisible)
	default:
		return last, err
	}
}

// WaitVisible waits until the element is visible.
func (p *Page) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	_, err := p.waitVisible(ctx, loc, timeout)
	return err
}

// IsVisible reports whether the element becomes visible within timeout.
func (p *Page) IsVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) bool {
	_, err := p.waitVisible(ctx, loc, timeout)
	return err == nil
}

// Click clicks the center of the element with a real mouse event.
func (p *Page) Click(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	p.recorder.Record("action", map[string]any{"name": "click", "selector": loc.String()})
	res, err := p.waitVisible(ctx, loc, timeout)
	if err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.MouseClickXY(res.X, res.Y)); err != nil {
		return fmt.Errorf("failed to click %s: %w", loc, err)
	}
	return nil
}

// DOMClick calls element.click() on the match.
func (p *Page) DOMClick(ctx context.Context, loc browser.Locator) error {
	p.recorder.Record("action", map[string]any{"name": "dom_click", "selector": loc.String()})
	var ok bool
	if err := p.evalOn(ctx, loc, domClickBody, nil, &ok); err != nil {
		return fmt.Errorf("failed to click %s: %w", loc, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return nil
}

// focus waits for the element and focuses it, optionally clearing its value.
func (p *Page) focus(ctx context.Context, loc browser.Locator, clear bool, timeout time.Duration) error {
	if _, err := p.waitVisible(ctx, loc, timeout); err != nil {
		return err
	}
	body := focusBody
	if clear {
		body = focusClearBody
	}
	var ok bool
	if err := p.evalOn(ctx, loc, body, nil, &ok); err != nil {
		return fmt.Errorf("failed to focus %s: %w", loc, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return nil
}

func (p *Page) fireChange(ctx context.Context, loc browser.Locator) {
	var ok bool
	if err := p.evalOn(ctx, loc, changeBody, nil, &ok); err != nil {
		p.logger.Debug("Failed to dispatch change event.", zap.Stringer("locator", loc), zap.Error(err))
	}
}

// Fill replaces the element's value with text.
func (p *Page) Fill(ctx context.Context, loc browser.Locator, text string, timeout time.Duration) error {
	p.recorder.Record("action", map[string]any{"name": "fill", "selector": loc.String()})
	if err := p.focus(ctx, loc, true, timeout); err != nil {
		return err
	}
	if text != "" {
		if err := p.run(ctx, input.InsertText(text)); err != nil {
			return fmt.Errorf("failed to fill %s: %w", loc, err)
		}
	}
	p.fireChange(ctx, loc)
	return nil
}

// Clear empties the element's value.
func (p *Page) Clear(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	if err := p.focus(ctx, loc, true, timeout); err != nil {
		return err
	}
	p.fireChange(ctx, loc)
	return nil
}

// Type sends key events for text into the element.
func (p *Page) Type(ctx context.Context, loc browser.Locator, text string, timeout time.Duration) error {
	p.recorder.Record("action", map[string]any{"name": "type", "selector": loc.String()})
	if err := p.focus(ctx, loc, false, timeout); err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.KeyEvent(text)); err != nil {
		return fmt.Errorf("failed to type into %s: %w", loc, err)
	}
	return nil
}

// Press focuses the element and presses a named key.
func (p *Page) Press(ctx context.Context, loc browser.Locator, key string, timeout time.Duration) error {
	p.recorder.Record("action", map[string]any{"name": "press", "selector": loc.String(), "key": key})
	if err := p.focus(ctx, loc, false, timeout); err != nil {
		return err
	}
	seq, ok := namedKeys[key]
	if !ok {
		seq = key
	}
	if err := p.run(ctx, chromedp.KeyEvent(seq)); err != nil {
		return fmt.Errorf("failed to press %s on %s: %w", key, loc, err)
	}
	return nil
}

// SelectOption picks an option of a native <select>. The select itself may be
// hidden (enhanced widgets hide it), so only its presence is awaited.
func (p *Page) SelectOption(ctx context.Context, loc browser.Locator, by browser.SelectBy, value string, timeout time.Duration) error {
	p.recorder.Record("action", map[string]any{"name": "select_option", "selector": loc.String(), "value": value})
	arg := map[string]any{"by": int(by), "value": value}
	last := ""
	err := poll(ctx, timeout, func(c context.Context) (bool, error) {
		if err := p.evalOn(c, loc, selectBody, arg, &last); err != nil {
			return false, nil
		}
		switch last {
		case "ok":
			return true, nil
		case "not-select":
			return false, fmt.Errorf("%s is not a <select> element", loc)
		default:
			return false, nil
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && (last == "missing" || last == ""):
		return fmt.Errorf("timeout %s exceeded waiting for %s: %w", timeout, loc, browser.ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timeout %s exceeded: no option %q in %s", timeout, value, loc)
	default:
		return err
	}
}

// SetValue writes the value property directly.
func (p *Page) SetValue(ctx context.Context, loc browser.Locator, value string) error {
	var ok bool
	if err := p.evalOn(ctx, loc, setValueBody, value, &ok); err != nil {
		return fmt.Errorf("failed to set value of %s: %w", loc, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return nil
}

// Count returns the number of matches for selector.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := p.evalOn(ctx, browser.Locate(selector), countBody, nil, &n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", selector, err)
	}
	return n, nil
}

// TextContents returns the trimmed text of every match for selector.
func (p *Page) TextContents(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	if err := p.evalOn(ctx, browser.Locate(selector), textsBody, nil, &texts); err != nil {
		return nil, fmt.Errorf("failed to read text of %s: %w", selector, err)
	}
	return texts, nil
}

// Evaluate applies a function expression to arg in the page and decodes the result.
func (p *Page) Evaluate(ctx context.Context, function string, arg any, out any) error {
	p.recorder.Record("action", map[string]any{"name": "evaluate"})
	script, err := functionScript(function, arg)
	if err != nil {
		return err
	}
	if err := p.eval(ctx, script, out); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	return nil
}

// Screenshot writes a PNG of the viewport to path.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	p.recorder.Record("screenshot", map[string]any{"path": path})
	return nil
}

// Pause waits for d or until ctx is done.
func (p *Page) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
