// Package widgets holds the interaction strategies for the composite and
// fragile form controls of the target application: select2 dropdowns, date
// pickers, native selects, cookie banners and blocking modals.
//
// Every strategy degrades gracefully. A failed stage is logged and the next
// fallback is tried; none of them return an error to the dispatcher.
package widgets

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/internal/browser"
)

const (
	DefaultSelect2Search = "input.select2-search__field"
	DefaultSelect2Result = ".select2-results__option"

	select2Highlighted = ".select2-results__option--highlighted"
	taxContainerXPath  = "xpath=//select[contains(@name, 'vat_rate_chart_of_accounts_id')]/following-sibling::span[contains(@class, 'select2-container')]"
	blockingModal      = "#companyAddModal.modal.in, #companyAddModal.modal.show"
)

// Timeouts and settle pauses used by the strategies.
const (
	clickTimeout        = 8 * time.Second
	searchFieldTimeout  = 5 * time.Second
	highlightedTimeout  = 2 * time.Second
	dateClickTimeout    = 5 * time.Second
	selectLabelTimeout  = 5 * time.Second
	selectValueTimeout  = 3 * time.Second
	cookieProbeTimeout  = 2 * time.Second
	modalProbeTimeout   = 500 * time.Millisecond
	openSettle          = 500 * time.Millisecond
	searchSettle        = 2 * time.Second
	taxSearchSettle     = 1500 * time.Millisecond
	cookieSettle        = 1500 * time.Millisecond
	modalCloseSettle    = time.Second
	modalFallbackSettle = 500 * time.Millisecond
)

// CookieSelectors are tried in order; the first visible one is clicked.
var CookieSelectors = []string{
	"button:has-text('Accept All')",
	"button:has-text('Accept all')",
	"button:has-text('Accept')",
	"button.cky-btn-accept",
	"button[id='cky-btn-accept']",
	"button:has-text('OK')",
	"button:has-text('Agree')",
}

var modalCloseSelectors = []string{
	"#companyAddModal .close",
	"#companyAddModal button:has-text('Close')",
	"#companyAddModal button:has-text('Cancel')",
	"#companyAddModal [data-dismiss='modal']",
}

const hideModalScript = `() => {
	const modal = document.querySelector('#companyAddModal');
	if (modal) {
		modal.classList.remove('in', 'show');
		modal.style.setProperty('display', 'none');
	}
	document.querySelector('.modal-backdrop')?.remove();
	document.body.classList.remove('modal-open');
	document.body.style.removeProperty('padding-right');
}`

const removeCookieOverlayScript = `() => { document.querySelector('.cky-overlay')?.remove(); }`

// NoteFunc receives a short action name and a human-readable detail for
// every decision a strategy takes.
type NoteFunc func(action, detail string)

// Strategies implements the widget interactions against a browser.Page.
type Strategies struct {
	logger *zap.Logger
	note   NoteFunc
}

// New creates the strategies. note may be nil.
func New(logger *zap.Logger, note NoteFunc) *Strategies {
	if note == nil {
		note = func(string, string) {}
	}
	return &Strategies{logger: logger.Named("widgets"), note: note}
}

// DismissModals closes the blocking company modal when it is open.
func (s *Strategies) DismissModals(ctx context.Context, p browser.Page) {
	if !p.IsVisible(ctx, browser.Locate(blockingModal), modalProbeTimeout) {
		return
	}
	for _, sel := range modalCloseSelectors {
		loc := browser.Locate(sel)
		if !p.IsVisible(ctx, loc, modalProbeTimeout) {
			continue
		}
		if err := p.DOMClick(ctx, loc); err != nil {
			s.logger.Debug("Modal close button click failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		_ = p.Pause(ctx, modalCloseSettle)
		s.note("dismissed", "blocking modal via close button")
		return
	}

	if err := p.Evaluate(ctx, hideModalScript, nil, nil); err != nil {
		s.logger.Debug("Modal fallback failed.", zap.Error(err))
		return
	}
	_ = p.Pause(ctx, modalFallbackSettle)
	s.note("dismissed", "blocking modal via DOM fallback")
}

// HandleCookies accepts a cookie banner when one shows up.
func (s *Strategies) HandleCookies(ctx context.Context, p browser.Page) {
	s.note("handling", "cookie consent banner")
	for _, sel := range CookieSelectors {
		loc := browser.Locate(sel)
		if !p.IsVisible(ctx, loc, cookieProbeTimeout) {
			continue
		}
		if err := p.Click(ctx, loc, clickTimeout); err != nil {
			s.logger.Debug("Cookie button click failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		_ = p.Pause(ctx, cookieSettle)
		s.note("dismissed", "cookie banner")
		return
	}

	if err := p.Evaluate(ctx, removeCookieOverlayScript, nil, nil); err != nil {
		s.logger.Debug("Cookie overlay removal failed.", zap.Error(err))
	}
	s.note("skipped", "no cookie banner found")
}

// Select2 opens a select2 container, searches for value and picks a result.
// search and result override the default search field and result selectors.
func (s *Strategies) Select2(ctx context.Context, p browser.Page, selector, value, search, result string) {
	if value == "" {
		s.note("skip", "select2 with empty value")
		return
	}
	s.DismissModals(ctx, p)
	if search == "" {
		search = DefaultSelect2Search
	}
	if result == "" {
		result = DefaultSelect2Result
	}
	s.note("select2", "searching '"+value+"' in '"+selector+"'")

	container := browser.Locate(selector)
	if err := p.Click(ctx, container, clickTimeout); err != nil {
		if derr := p.DOMClick(ctx, container); derr != nil {
			s.note("warning", "select2 container click failed: "+firstLine(derr))
			return
		}
	}
	_ = p.Pause(ctx, openSettle)

	field := browser.Locate(search).Last()
	if err := p.WaitVisible(ctx, field, searchFieldTimeout); err != nil {
		s.note("warning", "select2 search field not found: "+firstLine(err))
		return
	}
	if err := p.Fill(ctx, field, value, searchFieldTimeout); err != nil {
		s.note("warning", "select2 search field not found: "+firstLine(err))
		return
	}
	_ = p.Pause(ctx, searchSettle)

	highlighted := browser.Locate(select2Highlighted)
	if p.IsVisible(ctx, highlighted, highlightedTimeout) {
		if err := p.Click(ctx, highlighted, clickTimeout); err == nil {
			s.note("selected", "highlighted option for '"+value+"'")
			return
		}
	}

	if text, ok := s.pickMatching(ctx, p, result, value); ok {
		s.note("selected", "option '"+text+"'")
		return
	}

	if err := p.Press(ctx, field, "Enter", clickTimeout); err != nil {
		s.note("fallback", "Enter key after select2 error: "+firstLine(err))
		return
	}
	s.note("selected", "via Enter key for '"+value+"'")
}

// pickMatching clicks the first result whose text contains value, ignoring case.
func (s *Strategies) pickMatching(ctx context.Context, p browser.Page, selector, value string) (string, bool) {
	texts, err := p.TextContents(ctx, selector)
	if err != nil {
		s.logger.Debug("Could not read select2 results.", zap.Error(err))
		return "", false
	}
	i, ok := indexContaining(texts, value)
	if !ok {
		return "", false
	}
	if err := p.Click(ctx, browser.Locate(selector).Nth(i), clickTimeout); err != nil {
		s.logger.Debug("Could not click select2 result.", zap.Int("index", i), zap.Error(err))
		return "", false
	}
	return strings.TrimSpace(texts[i]), true
}

// Select2Tax sets the tax rule select2, which sits next to a native select
// named after vat_rate_chart_of_accounts_id. When the widget route fails the
// native select's options (selector) are scanned instead.
func (s *Strategies) Select2Tax(ctx context.Context, p browser.Page, selector, value string) {
	if value == "" {
		s.note("skip", "select2_tax with empty value")
		return
	}
	s.DismissModals(ctx, p)
	s.note("select2_tax", "setting tax rule to '"+value+"'")

	if s.taxViaWidget(ctx, p, value) {
		s.note("selected", "tax rule '"+value+"' via Select2")
		return
	}

	options, err := p.TextContents(ctx, selector+" option")
	if err != nil {
		s.note("error", "tax rule selection failed: "+firstLine(err))
		return
	}
	i, ok := indexContaining(options, value)
	if !ok {
		s.note("warning", "no tax option matching '"+value+"'")
		return
	}
	label := strings.TrimSpace(options[i])
	if err := p.SelectOption(ctx, browser.Locate(selector), browser.SelectByLabel, label, selectLabelTimeout); err != nil {
		s.note("error", "tax rule selection failed: "+firstLine(err))
		return
	}
	s.note("selected", "tax rule '"+label+"' via native select")
}

func (s *Strategies) taxViaWidget(ctx context.Context, p browser.Page, value string) bool {
	container := browser.Locate(taxContainerXPath)
	if !p.IsVisible(ctx, container, searchFieldTimeout) {
		return false
	}
	if err := p.Click(ctx, container, clickTimeout); err != nil {
		s.logger.Debug("Tax select2 container click failed.", zap.Error(err))
		return false
	}
	_ = p.Pause(ctx, openSettle)
	if err := p.Fill(ctx, browser.Locate(DefaultSelect2Search).Last(), value, clickTimeout); err != nil {
		s.logger.Debug("Tax select2 search failed.", zap.Error(err))
		return false
	}
	_ = p.Pause(ctx, taxSearchSettle)
	if err := p.Click(ctx, browser.Locate(select2Highlighted), clickTimeout); err != nil {
		s.logger.Debug("Tax select2 highlighted option click failed.", zap.Error(err))
		return false
	}
	return true
}

// FillDate types a date into a picker-backed input and also writes the value
// directly, since pickers often reformat or swallow typed input.
func (s *Strategies) FillDate(ctx context.Context, p browser.Page, selector, value string) {
	if value == "" {
		s.note("skip", "date fill with empty value")
		return
	}
	s.DismissModals(ctx, p)
	s.note("filling date", "'"+selector+"' with '"+value+"'")

	loc := browser.Locate(selector)
	err := p.Click(ctx, loc, dateClickTimeout)
	if err == nil {
		err = p.Clear(ctx, loc, dateClickTimeout)
	}
	if err == nil {
		err = p.Type(ctx, loc, value, dateClickTimeout)
	}
	if err == nil {
		err = p.Press(ctx, loc, "Tab", dateClickTimeout)
	}
	if err == nil {
		err = p.SetValue(ctx, loc, value)
	}
	if err == nil {
		return
	}

	s.note("warning", "date fill fallback: "+firstLine(err))
	if ferr := p.Fill(ctx, loc, value, clickTimeout); ferr != nil {
		s.logger.Debug("Plain date fill failed.", zap.String("selector", selector), zap.Error(ferr))
	}
}

// SelectOption picks a native option by label, then by value.
func (s *Strategies) SelectOption(ctx context.Context, p browser.Page, selector, value string) {
	if value == "" {
		s.note("skip", "select_option '"+selector+"' with empty value")
		return
	}
	s.DismissModals(ctx, p)
	s.note("selecting", "option '"+value+"' in '"+selector+"'")

	loc := browser.Locate(selector)
	if err := p.SelectOption(ctx, loc, browser.SelectByLabel, value, selectLabelTimeout); err == nil {
		return
	}
	if err := p.SelectOption(ctx, loc, browser.SelectByValue, value, selectValueTimeout); err != nil {
		s.note("warning", "select_option fallback: "+firstLine(err))
	}
}

// indexContaining returns the first entry containing needle, ignoring case.
func indexContaining(haystack []string, needle string) (int, bool) {
	n := strings.ToLower(needle)
	for i, h := range haystack {
		if strings.Contains(strings.ToLower(h), n) {
			return i, true
		}
	}
	return 0, false
}

func firstLine(err error) string {
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
