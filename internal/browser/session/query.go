// internal/browser/session/query.go
package session

import (
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/skillrunner/internal/browser"
)

// queryPrelude is prepended to every element script. It resolves a parsed
// selector (browser.Query) to DOM nodes, one clause at a time:
//   - xpath clauses use document.evaluate
//   - css clauses use querySelectorAll
//   - a text filter keeps nodes whose rendered text contains it (case-insensitive),
//     dropping ancestors of other matches so the innermost element wins
//
// Matches of several clauses are merged without duplicates in document order.
const queryPrelude = `
const __findClause = (c) => {
	let nodes = [];
	if (c.xpath) {
		const snap = document.evaluate(c.xpath, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			if (n && n.nodeType === Node.ELEMENT_NODE) nodes.push(n);
		}
	} else {
		nodes = Array.from(document.querySelectorAll(c.css || '*'));
	}
	if (c.text) {
		const needle = c.text.toLowerCase();
		nodes = nodes.filter((n) => ((n.innerText || n.textContent || '') + ' ' + (n.value || '')).toLowerCase().includes(needle));
		nodes = nodes.filter((n) => !nodes.some((o) => o !== n && n.contains(o)));
	}
	return nodes;
};
const __find = (q) => {
	const clauses = q.clauses || [];
	if (clauses.length === 1) return __findClause(clauses[0]);
	const seen = new Set();
	for (const c of clauses) {
		for (const n of __findClause(c)) seen.add(n);
	}
	return Array.from(seen).sort((a, b) => {
		if (a === b) return 0;
		return a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING ? -1 : 1;
	});
};
const __pick = (q, index) => {
	const nodes = __find(q);
	if (nodes.length === 0) return null;
	const i = index < 0 ? nodes.length + index : index;
	return nodes[i] || null;
};
const __visible = (el) => {
	if (!el || !el.isConnected) return false;
	const style = window.getComputedStyle(el);
	if (style.visibility === 'hidden' || style.display === 'none') return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
};
const __fire = (el, ...types) => {
	for (const t of types) el.dispatchEvent(new Event(t, { bubbles: true }));
};
`

// probeBody scrolls the match into view and reports its visibility and center.
const probeBody = `
const el = __pick(q, index);
if (!el) return { found: false, visible: false, x: 0, y: 0 };
try { el.scrollIntoView({ block: 'center', inline: 'center' }); } catch (e) {}
const r = el.getBoundingClientRect();
return { found: true, visible: __visible(el), x: r.left + r.width / 2, y: r.top + r.height / 2 };
`

// focusClearBody focuses the match and empties its value.
const focusClearBody = `
const el = __pick(q, index);
if (!el) return false;
el.focus();
if ('value' in el) {
	el.value = '';
	__fire(el, 'input');
} else if (el.isContentEditable) {
	el.textContent = '';
}
return true;
`

const focusBody = `
const el = __pick(q, index);
if (!el) return false;
el.focus();
return true;
`

const domClickBody = `
const el = __pick(q, index);
if (!el) return false;
el.click();
return true;
`

// setValueBody writes arg directly into the element's value.
const setValueBody = `
const el = __pick(q, index);
if (!el) return false;
el.value = arg;
__fire(el, 'input', 'change');
return true;
`

const changeBody = `
const el = __pick(q, index);
if (!el) return false;
__fire(el, 'change');
return true;
`

// selectBody picks an option by label (arg.by == 0) or by value (arg.by == 1).
const selectBody = `
const el = __pick(q, index);
if (!el) return 'missing';
if (!el.options) return 'not-select';
const wanted = String(arg.value).trim();
for (const opt of Array.from(el.options)) {
	const candidate = arg.by === 0 ? (opt.label || opt.text || '').trim() : opt.value;
	if (candidate === wanted) {
		el.value = opt.value;
		opt.selected = true;
		__fire(el, 'input', 'change');
		return 'ok';
	}
}
return 'no-option';
`

const countBody = `return __find(q).length;`

const textsBody = `return __find(q).map((n) => (n.innerText || n.textContent || '').trim());`

// probeResult is the value returned by probeBody.
type probeResult struct {
	Found   bool    `json:"found"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// elementScript wraps body in a function that receives the parsed selector, the
// match index and an optional argument.
func elementScript(loc browser.Locator, body string, arg any) (string, error) {
	q, err := jsonEncode(browser.ParseSelector(loc.Selector))
	if err != nil {
		return "", err
	}
	a, err := jsonEncode(arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(function(q, index, arg) {%s\n%s\n})(%s, %d, %s)", queryPrelude, body, q, loc.Index, a), nil
}

// functionScript applies a user-supplied function expression to arg and awaits its result.
func functionScript(function string, arg any) (string, error) {
	a, err := jsonEncode(arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(async () => { const __r = await (%s)(%s); return __r === undefined ? null : __r; })()", function, a), nil
}

func jsonEncode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode script argument: %w", err)
	}
	return string(b), nil
}
