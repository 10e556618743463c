package widgets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/skillrunner/internal/mocks"
)

type noteLog struct {
	actions []string
	details []string
}

func (n *noteLog) note(action, detail string) {
	n.actions = append(n.actions, action)
	n.details = append(n.details, detail)
}

func (n *noteLog) last() string {
	if len(n.actions) == 0 {
		return ""
	}
	return n.actions[len(n.actions)-1]
}

func setup(t *testing.T) (*Strategies, *noteLog, *mocks.FakePage) {
	t.Helper()
	notes := &noteLog{}
	return New(zaptest.NewLogger(t), notes.note), notes, mocks.NewFakePage("https://app.example/desktop/sale/add")
}

func visible(text string) *mocks.Element {
	return &mocks.Element{Visible: true, Text: text}
}

func TestSelect2(t *testing.T) {
	ctx := context.Background()
	const container = "#select2-buyer-container"

	t.Run("PicksHighlightedOption", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(container, visible(""))
		page.Add(DefaultSelect2Search, visible(""), visible(""))
		page.Add(select2Highlighted, visible("Acme Corp"))

		s.Select2(ctx, page, container, "Acme", "", "")

		fills := page.CallsTo("Fill")
		require.Len(t, fills, 1)
		assert.Equal(t, DefaultSelect2Search, fills[0].Selector)
		assert.Equal(t, -1, fills[0].Index, "the last search field is used")
		assert.Equal(t, "Acme", fills[0].Value)

		clicks := page.CallsTo("Click")
		require.Len(t, clicks, 2)
		assert.Equal(t, select2Highlighted, clicks[1].Selector)
		assert.Equal(t, "selected", notes.last())
		assert.Contains(t, notes.details[len(notes.details)-1], "highlighted")
	})

	t.Run("ScansResultsCaseInsensitively", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(container, visible(""))
		page.Add(".custom-search", visible(""))
		page.Add(".custom-result", visible("Beta Ltd"), visible("  ACME Corp  "))

		s.Select2(ctx, page, container, "acme", ".custom-search", ".custom-result")

		clicks := page.CallsTo("Click")
		last := clicks[len(clicks)-1]
		assert.Equal(t, ".custom-result", last.Selector)
		assert.Equal(t, 1, last.Index)
		assert.Equal(t, "selected", notes.last())
		assert.Contains(t, notes.details[len(notes.details)-1], "ACME Corp")
	})

	t.Run("FallsBackToEnter", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(container, visible(""))
		page.Add(DefaultSelect2Search, visible(""))
		page.Add(DefaultSelect2Result, visible("No results found"))

		s.Select2(ctx, page, container, "Acme", "", "")

		presses := page.CallsTo("Press")
		require.Len(t, presses, 1)
		assert.Equal(t, "Enter", presses[0].Value)
		assert.Equal(t, DefaultSelect2Search, presses[0].Selector)
		assert.Equal(t, "selected", notes.last())
	})

	t.Run("UsesDOMClickWhenContainerClickFails", func(t *testing.T) {
		s, _, page := setup(t)
		page.Add(container, &mocks.Element{Visible: true, ClickErr: mocks.ErrScripted})
		page.Add(DefaultSelect2Search, visible(""))
		page.Add(select2Highlighted, visible("Acme"))

		s.Select2(ctx, page, container, "Acme", "", "")

		require.Len(t, page.CallsTo("DOMClick"), 1)
		assert.Len(t, page.CallsTo("Fill"), 1)
	})

	t.Run("AbortsWhenContainerMissing", func(t *testing.T) {
		s, notes, page := setup(t)

		s.Select2(ctx, page, container, "Acme", "", "")

		assert.Empty(t, page.CallsTo("Fill"))
		assert.Equal(t, "warning", notes.last())
		assert.Contains(t, notes.details[len(notes.details)-1], "container click failed")
	})

	t.Run("AbortsWhenSearchFieldMissing", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(container, visible(""))

		s.Select2(ctx, page, container, "Acme", "", "")

		assert.Empty(t, page.CallsTo("Fill"))
		assert.Empty(t, page.CallsTo("Press"))
		assert.Contains(t, notes.details[len(notes.details)-1], "search field not found")
	})

	t.Run("SkipsEmptyValue", func(t *testing.T) {
		s, notes, page := setup(t)
		s.Select2(ctx, page, container, "", "", "")
		assert.Empty(t, page.Calls())
		assert.Equal(t, "skip", notes.last())
	})
}

func TestSelect2Tax(t *testing.T) {
	ctx := context.Background()
	const native = "select[name='rows[0][vat_rate_chart_of_accounts_id]']"

	t.Run("UsesSiblingContainer", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(taxContainerXPath, visible(""))
		page.Add(DefaultSelect2Search, visible(""))
		page.Add(select2Highlighted, visible("Service export"))

		s.Select2Tax(ctx, page, native, "Service export")

		assert.Empty(t, page.CallsTo("SelectOptionByLabel"))
		assert.Equal(t, "selected", notes.last())
		assert.Contains(t, notes.details[len(notes.details)-1], "via Select2")
	})

	t.Run("FallsBackToNativeOptions", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(native, &mocks.Element{Options: []mocks.Option{
			{Label: "Standard 22%", Value: "1"},
			{Label: "Service export (0%)", Value: "7"},
		}})
		page.Add(native+" option", visible("Standard 22%"), visible("Service export (0%)"))

		s.Select2Tax(ctx, page, native, "service EXPORT")

		selects := page.CallsTo("SelectOptionByLabel")
		require.Len(t, selects, 1)
		assert.Equal(t, "Service export (0%)", selects[0].Value)
		assert.Equal(t, "7", page.Elements[native][0].Value)
		assert.Contains(t, notes.details[len(notes.details)-1], "via native select")
	})

	t.Run("LogsWhenNothingMatches", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(native+" option", visible("Standard 22%"))

		s.Select2Tax(ctx, page, native, "Reverse charge")

		assert.Empty(t, page.CallsTo("SelectOptionByLabel"))
		assert.Equal(t, "warning", notes.last())
	})
}

func TestFillDate(t *testing.T) {
	ctx := context.Background()
	const field = "#invoice_date"

	t.Run("TypesTabsAndWritesValue", func(t *testing.T) {
		s, _, page := setup(t)
		page.Add(field, visible(""))

		s.FillDate(ctx, page, field, "25.03.2026")

		var methods []string
		for _, c := range page.Calls() {
			if c.Selector == field {
				methods = append(methods, c.Method)
			}
		}
		assert.Equal(t, []string{"Click", "Clear", "Type", "Press", "SetValue"}, methods)
		assert.Equal(t, "25.03.2026", page.Elements[field][0].Value)
	})

	t.Run("FallsBackToPlainFill", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(field, &mocks.Element{Visible: true, ClickErr: mocks.ErrScripted})

		s.FillDate(ctx, page, field, "25.03.2026")

		require.Len(t, page.CallsTo("Fill"), 1)
		assert.Equal(t, "25.03.2026", page.Elements[field][0].Value)
		assert.Equal(t, "warning", notes.last())
	})

	t.Run("SkipsEmptyValue", func(t *testing.T) {
		s, _, page := setup(t)
		s.FillDate(ctx, page, field, "")
		assert.Empty(t, page.Calls())
	})
}

func TestSelectOption(t *testing.T) {
	ctx := context.Background()
	const sel = "select[name='currency']"
	options := []mocks.Option{{Label: "Euro", Value: "EUR"}, {Label: "US Dollar", Value: "USD"}}

	t.Run("ByLabel", func(t *testing.T) {
		s, _, page := setup(t)
		page.Add(sel, &mocks.Element{Options: options})
		s.SelectOption(ctx, page, sel, "Euro")
		assert.Equal(t, "EUR", page.Elements[sel][0].Value)
		assert.Empty(t, page.CallsTo("SelectOptionByValue"))
	})

	t.Run("ByValueFallback", func(t *testing.T) {
		s, _, page := setup(t)
		page.Add(sel, &mocks.Element{Options: options})
		s.SelectOption(ctx, page, sel, "USD")
		assert.Equal(t, "USD", page.Elements[sel][0].Value)
		assert.Len(t, page.CallsTo("SelectOptionByValue"), 1)
	})

	t.Run("WarnsOnTotalFailure", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(sel, &mocks.Element{Options: options})
		s.SelectOption(ctx, page, sel, "GBP")
		assert.Equal(t, "warning", notes.last())
	})
}

func TestHandleCookies(t *testing.T) {
	ctx := context.Background()

	t.Run("ClicksFirstVisibleConsentButton", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add("button:has-text('Accept')", visible("Accept"))
		page.Add("button:has-text('OK')", visible("OK"))

		s.HandleCookies(ctx, page)

		clicks := page.CallsTo("Click")
		require.Len(t, clicks, 1)
		assert.Equal(t, "button:has-text('Accept')", clicks[0].Selector)
		assert.Equal(t, cookieSettle, page.Paused())
		assert.Equal(t, "dismissed", notes.last())
	})

	t.Run("RemovesOverlayWhenNoBanner", func(t *testing.T) {
		s, notes, page := setup(t)

		s.HandleCookies(ctx, page)

		evals := page.CallsTo("Evaluate")
		require.Len(t, evals, 1)
		assert.Contains(t, evals[0].Value, ".cky-overlay")
		assert.Equal(t, "skipped", notes.last())
	})
}

func TestDismissModals(t *testing.T) {
	ctx := context.Background()

	t.Run("NoModal", func(t *testing.T) {
		s, notes, page := setup(t)
		s.DismissModals(ctx, page)
		assert.Empty(t, page.Calls())
		assert.Empty(t, notes.actions)
	})

	t.Run("ClosesViaButton", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(blockingModal, visible(""))
		page.Add("#companyAddModal button:has-text('Cancel')", &mocks.Element{
			Visible: true,
			OnClick: func(p *mocks.FakePage) { p.Remove(blockingModal) },
		})

		s.DismissModals(ctx, page)

		clicks := page.CallsTo("DOMClick")
		require.Len(t, clicks, 1)
		assert.Equal(t, "#companyAddModal button:has-text('Cancel')", clicks[0].Selector)
		assert.Empty(t, page.CallsTo("Evaluate"))
		assert.Equal(t, "dismissed", notes.last())
	})

	t.Run("FallsBackToDOM", func(t *testing.T) {
		s, notes, page := setup(t)
		page.Add(blockingModal, visible(""))

		s.DismissModals(ctx, page)

		evals := page.CallsTo("Evaluate")
		require.Len(t, evals, 1)
		assert.Contains(t, evals[0].Value, "modal-backdrop")
		assert.Contains(t, notes.details[len(notes.details)-1], "DOM fallback")
	})
}

func TestIndexContaining(t *testing.T) {
	i, ok := indexContaining([]string{"one", "Two Three"}, "two")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = indexContaining(nil, "x")
	assert.False(t, ok)
}
