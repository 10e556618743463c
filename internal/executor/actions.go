package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/browser"
)

// -- Action Handlers --

func (e *Executor) handleGoto(ctx context.Context, r *run, step schemas.Step, value string) error {
	if value == "" {
		r.note("skip", "goto with empty url")
		return nil
	}
	target := resolveURL(r.spec.BaseURL, value)
	r.note("navigating", "to "+target)
	if err := r.page.Goto(ctx, target, e.navigationTimeout()); err != nil {
		return err
	}
	r.recoverSession(ctx, target)
	return nil
}

// resolveURL joins a root-relative path onto the skill's base URL.
func resolveURL(base, target string) string {
	if base == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return target
	}
	b, err := url.Parse(base)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return b.ResolveReference(ref).String()
}

func (e *Executor) handleClick(ctx context.Context, r *run, step schemas.Step, _ string) error {
	r.widgets.DismissModals(ctx, r.page)
	r.note("clicking", "'"+step.Selector+"'")

	loc := browser.Locate(step.Selector)
	err := r.page.Click(ctx, loc, e.actionTimeout())
	if err == nil {
		return nil
	}
	// element.click() ignores overlays and zero-size boxes.
	derr := r.page.DOMClick(ctx, loc)
	if derr == nil {
		r.logger.Debug("Click succeeded via DOM fallback.", zap.String("selector", step.Selector), zap.NamedError("click_error", err))
		return nil
	}
	if errors.Is(derr, browser.ErrNotFound) {
		return err
	}
	return fmt.Errorf("DOM click fallback failed after %v: %w", err, derr)
}

func (e *Executor) handleFill(ctx context.Context, r *run, step schemas.Step, value string) error {
	if value == "" {
		r.note("skip", fmt.Sprintf("fill '%s', empty value", step.Selector))
		return nil
	}
	r.widgets.DismissModals(ctx, r.page)
	r.note("filling", fmt.Sprintf("'%s' → '%s'", step.Selector, value))
	return r.page.Fill(ctx, browser.Locate(step.Selector), value, e.actionTimeout())
}

func (e *Executor) handleFillIfVisible(ctx context.Context, r *run, step schemas.Step, value string) error {
	if value == "" {
		return nil
	}
	loc := browser.Locate(step.Selector)
	if !r.page.IsVisible(ctx, loc, fillIfVisibleTimeout) {
		return nil
	}
	if err := r.page.Fill(ctx, loc, value, fillIfVisibleTimeout); err != nil {
		r.logger.Debug("Optional fill failed.", zap.String("selector", step.Selector), zap.Error(err))
		return nil
	}
	r.note("filled", fmt.Sprintf("'%s' → '%s'", step.Selector, value))
	return nil
}

func (e *Executor) handleFillDate(ctx context.Context, r *run, step schemas.Step, value string) error {
	r.widgets.FillDate(ctx, r.page, step.Selector, value)
	return nil
}

func (e *Executor) handleSelectOption(ctx context.Context, r *run, step schemas.Step, value string) error {
	r.widgets.SelectOption(ctx, r.page, step.Selector, value)
	return nil
}

func (e *Executor) handleSelect2(ctx context.Context, r *run, step schemas.Step, value string) error {
	r.widgets.Select2(ctx, r.page, step.Selector, value, step.Search, step.Result)
	return nil
}

func (e *Executor) handleSelect2Tax(ctx context.Context, r *run, step schemas.Step, value string) error {
	r.widgets.Select2Tax(ctx, r.page, step.Selector, value)
	return nil
}

func (e *Executor) handleCookies(ctx context.Context, r *run, _ schemas.Step, _ string) error {
	r.widgets.HandleCookies(ctx, r.page)
	return nil
}

// handleWait waits for a selector, or sleeps for value milliseconds when there is none.
func (e *Executor) handleWait(ctx context.Context, r *run, step schemas.Step, value string) error {
	if step.Selector != "" {
		timeout := ms(step.TimeoutOr(defaultWaitTimeoutMs))
		r.note("waiting", "for '"+step.Selector+"'")
		return r.page.WaitVisible(ctx, browser.Locate(step.Selector), timeout)
	}

	sleep := defaultSleepMs
	switch {
	case strings.TrimSpace(value) != "":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			r.note("warning", fmt.Sprintf("wait value '%s' is not a number of milliseconds, using %dms", value, defaultSleepMs))
		} else {
			sleep = n
		}
	case step.Timeout != nil:
		sleep = *step.Timeout
	}
	r.note("waiting", fmt.Sprintf("%dms", sleep))
	return r.page.Pause(ctx, ms(sleep))
}

func (e *Executor) handleWaitForURL(ctx context.Context, r *run, step schemas.Step, value string) error {
	patterns, err := CompileURLPatterns(value)
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		r.note("skip", "wait_for_url without a pattern")
		return nil
	}
	r.note("waiting", fmt.Sprintf("for URL matching %v", patterns))
	timeout := ms(step.TimeoutOr(defaultURLWaitTimeoutMs))
	return r.page.WaitForURL(ctx, func(u string) bool { return MatchAny(patterns, u) }, timeout)
}

func (e *Executor) handleEvaluate(ctx context.Context, r *run, step schemas.Step, value string) error {
	if strings.TrimSpace(value) == "" {
		r.note("skip", "evaluate without a function")
		return nil
	}
	storeAs := step.StoreAs
	if storeAs == "" {
		storeAs = value
	}
	fn, named := scriptFor(value)
	if named {
		r.note("evaluating", fmt.Sprintf("JS function '%s'", value))
	} else {
		r.note("evaluating", "inline script")
	}

	var out any
	if err := r.page.Evaluate(ctx, fn, nil, &out); err != nil {
		return err
	}
	r.report.ExtractedData[storeAs] = out
	return nil
}

// handleCheckValidation records the application's mandatory-field errors, if any.
func (e *Executor) handleCheckValidation(ctx context.Context, r *run, _ schemas.Step, _ string) error {
	texts, err := r.page.TextContents(ctx, ValidationSelector)
	if err != nil {
		r.logger.Debug("Validation check failed.", zap.Error(err))
		return nil
	}
	if len(texts) == 0 {
		r.note("validation", "no errors detected")
		return nil
	}

	count := len(texts)
	kept := make([]string, 0, MaxValidationErrors)
	for _, t := range texts[:min(count, MaxValidationErrors)] {
		kept = append(kept, strings.TrimSpace(t))
	}
	r.note("validation_error", fmt.Sprintf("%d errors: %q", count, kept))
	r.report.ValidationErrors = kept
	return nil
}

func (e *Executor) handleScreenshot(ctx context.Context, r *run, _ schemas.Step, _ string) error {
	r.screenshots++
	name := fmt.Sprintf("step_%d.png", r.screenshots)
	path := filepath.Join(r.dir, name)
	if err := r.page.Screenshot(ctx, path); err != nil {
		return err
	}
	r.report.AddArtifact(fmt.Sprintf("step_%d_png", r.screenshots), path)
	r.note("screenshot", "saved "+name)
	return nil
}

// handleForeach is a placeholder: iteration is reserved and never executed.
func (e *Executor) handleForeach(_ context.Context, r *run, step schemas.Step, _ string) error {
	r.note("info", fmt.Sprintf("foreach over '%s' is reserved, skipping", step.Items))
	return nil
}
