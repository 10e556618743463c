// File: internal/mocks/page.go
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/skillrunner/internal/browser"
)

// Option is one <option> of a fake select element.
type Option struct {
	Label string
	Value string
}

// Element is a fake DOM node. Zero values describe an invisible, empty node.
type Element struct {
	Visible bool
	Text    string
	Value   string
	Options []Option

	// ClickErr makes real (mouse) clicks fail while DOM clicks still work.
	ClickErr error
	// FillErr makes Fill, Clear and Type fail.
	FillErr error
	// PanicOnClick makes any click panic with this value.
	PanicOnClick any
	// OnClick runs after a successful click of either kind.
	OnClick func(p *FakePage)
}

// Call is one recorded page interaction.
type Call struct {
	Method   string
	Selector string
	Index    int
	Value    string
}

// FakePage is a scripted, in-memory browser.Page. Elements are keyed by the
// exact selector string the code under test uses. Nothing ever waits: an
// element that is absent or hidden fails immediately.
type FakePage struct {
	mu sync.Mutex

	CurrentURL string
	Elements   map[string][]*Element

	// GotoErr fails navigation to the given URLs.
	GotoErr map[string]error
	// OnGoto runs after CurrentURL has been updated by Goto.
	OnGoto func(p *FakePage, url string)
	// EvaluateFunc answers Evaluate calls. Its result is JSON round-tripped into out.
	EvaluateFunc func(function string, arg any) (any, error)
	// ScreenshotErr makes Screenshot fail.
	ScreenshotErr error
	// OnPress runs after a key press on any element.
	OnPress func(p *FakePage, key string)

	calls  []Call
	paused time.Duration
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage creates an empty page at url.
func NewFakePage(url string) *FakePage {
	return &FakePage{CurrentURL: url, Elements: make(map[string][]*Element)}
}

// Add registers elements for a selector, replacing earlier ones.
func (p *FakePage) Add(selector string, els ...*Element) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[selector] = els
	return p
}

// Remove drops all elements for a selector.
func (p *FakePage) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Elements, selector)
}

// SetURL changes the current URL, as a redirect would.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
}

// Calls returns a copy of the recorded interactions.
func (p *FakePage) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsTo returns the recorded interactions of one method.
func (p *FakePage) CallsTo(method string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Paused returns the total time the code under test asked the page to settle.
func (p *FakePage) Paused() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *FakePage) record(method string, loc browser.Locator, value string) {
	p.calls = append(p.calls, Call{Method: method, Selector: loc.Selector, Index: loc.Index, Value: value})
}

// lookup resolves a locator. Callers hold p.mu.
func (p *FakePage) lookup(loc browser.Locator) *Element {
	els := p.Elements[loc.Selector]
	if len(els) == 0 {
		return nil
	}
	i := loc.Index
	if i < 0 {
		i = len(els) + i
	}
	if i < 0 || i >= len(els) {
		return nil
	}
	return els[i]
}

func (p *FakePage) visible(loc browser.Locator) (*Element, error) {
	el := p.lookup(loc)
	if el == nil {
		return nil, fmt.Errorf("waiting for %s: %w", loc, browser.ErrNotFound)
	}
	if !el.Visible {
		return nil, fmt.Errorf("waiting for %s: %w", loc, browser.ErrNotVisible)
	}
	return el, nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *FakePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	p.record("Goto", browser.Locator{}, url)
	if err := p.GotoErr[url]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.CurrentURL = url
	hook := p.OnGoto
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *FakePage) WaitForURL(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("WaitForURL", browser.Locator{}, p.CurrentURL)
	if match(p.CurrentURL) {
		return nil
	}
	return fmt.Errorf("timeout %s exceeded waiting for URL (last: %s): %w", timeout, p.CurrentURL, context.DeadlineExceeded)
}

func (p *FakePage) click(method string, loc browser.Locator, requireVisible bool) error {
	p.mu.Lock()
	p.record(method, loc, "")
	var el *Element
	var err error
	if requireVisible {
		el, err = p.visible(loc)
	} else if el = p.lookup(loc); el == nil {
		err = fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	if err == nil && requireVisible && el.ClickErr != nil {
		err = el.ClickErr
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if el.PanicOnClick != nil {
		panic(el.PanicOnClick)
	}
	if el.OnClick != nil {
		el.OnClick(p)
	}
	return nil
}

func (p *FakePage) Click(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	return p.click("Click", loc, true)
}

func (p *FakePage) DOMClick(ctx context.Context, loc browser.Locator) error {
	return p.click("DOMClick", loc, false)
}

func (p *FakePage) edit(method string, loc browser.Locator, value string, apply func(el *Element)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(method, loc, value)
	el, err := p.visible(loc)
	if err != nil {
		return err
	}
	if el.FillErr != nil {
		return el.FillErr
	}
	apply(el)
	return nil
}

func (p *FakePage) Fill(ctx context.Context, loc browser.Locator, text string, timeout time.Duration) error {
	return p.edit("Fill", loc, text, func(el *Element) { el.Value = text })
}

func (p *FakePage) Clear(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	return p.edit("Clear", loc, "", func(el *Element) { el.Value = "" })
}

func (p *FakePage) Type(ctx context.Context, loc browser.Locator, text string, timeout time.Duration) error {
	return p.edit("Type", loc, text, func(el *Element) { el.Value += text })
}

func (p *FakePage) Press(ctx context.Context, loc browser.Locator, key string, timeout time.Duration) error {
	p.mu.Lock()
	p.record("Press", loc, key)
	_, err := p.visible(loc)
	hook := p.OnPress
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(p, key)
	}
	return nil
}

func (p *FakePage) SelectOption(ctx context.Context, loc browser.Locator, by browser.SelectBy, value string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	method := "SelectOptionByLabel"
	if by == browser.SelectByValue {
		method = "SelectOptionByValue"
	}
	p.record(method, loc, value)
	el := p.lookup(loc)
	if el == nil {
		return fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	for _, opt := range el.Options {
		candidate := opt.Value
		if by == browser.SelectByLabel {
			candidate = strings.TrimSpace(opt.Label)
		}
		if candidate == value {
			el.Value = opt.Value
			return nil
		}
	}
	return fmt.Errorf("no option %q in %s", value, loc)
}

func (p *FakePage) SetValue(ctx context.Context, loc browser.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("SetValue", loc, value)
	el := p.lookup(loc)
	if el == nil {
		return fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	el.Value = value
	return nil
}

func (p *FakePage) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("WaitVisible", loc, "")
	_, err := p.visible(loc)
	return err
}

func (p *FakePage) IsVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.visible(loc)
	return err == nil
}

func (p *FakePage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Elements[selector]), nil
}

func (p *FakePage) TextContents(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, 0, len(p.Elements[selector]))
	for _, el := range p.Elements[selector] {
		texts = append(texts, el.Text)
	}
	return texts, nil
}

func (p *FakePage) Evaluate(ctx context.Context, function string, arg any, out any) error {
	p.mu.Lock()
	p.record("Evaluate", browser.Locator{}, function)
	fn := p.EvaluateFunc
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	res, err := fn(function, arg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *FakePage) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	p.record("Screenshot", browser.Locator{}, path)
	err := p.ScreenshotErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
		return mkErr
	}
	return os.WriteFile(path, []byte("\x89PNG"), 0o644)
}

func (p *FakePage) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.paused += d
	p.mu.Unlock()
	return ctx.Err()
}

// ErrScripted is a generic failure for scripting fakes.
var ErrScripted = errors.New("scripted failure")
