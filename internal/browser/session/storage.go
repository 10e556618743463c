// internal/browser/session/storage.go
package session

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/skillrunner/internal/browser"
)

// restoreLocalStorageScript seeds localStorage for one origin on every new
// document, without overwriting keys the page has already set.
const restoreLocalStorageScript = `(function(origin, items) {
	if (window.location.origin !== origin) return;
	try {
		for (const item of items) {
			if (window.localStorage.getItem(item.name) === null) {
				window.localStorage.setItem(item.name, item.value);
			}
		}
	} catch (e) {}
})(%s, %s);`

const captureLocalStorageScript = `(function() {
	const items = [];
	try {
		for (let i = 0; i < window.localStorage.length; i++) {
			const k = window.localStorage.key(i);
			if (k !== null) items.push({ name: k, value: window.localStorage.getItem(k) });
		}
	} catch (e) {}
	return { origin: window.location.origin, localStorage: items };
})()`

// restoreStorageState installs cookies and localStorage from state into the tab.
func restoreStorageState(ctx context.Context, state *browser.StorageState) error {
	params := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}

	actions := []chromedp.Action{}
	if len(params) > 0 {
		actions = append(actions, network.SetCookies(params))
	}
	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		o, err := jsonEncode(origin.Origin)
		if err != nil {
			return err
		}
		items, err := jsonEncode(origin.LocalStorage)
		if err != nil {
			return err
		}
		script := fmt.Sprintf(restoreLocalStorageScript, o, items)
		actions = append(actions, chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c)
			return err
		}))
	}
	if len(actions) == 0 {
		return nil
	}
	return chromedp.Run(ctx, actions...)
}

// captureStorageState reads the tab's cookies and the current origin's localStorage.
func captureStorageState(ctx context.Context) (*browser.StorageState, error) {
	var cookies []*network.Cookie
	var origin browser.OriginState

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(c context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(c)
			return err
		}),
		chromedp.Evaluate(captureLocalStorageScript, &origin),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture storage state: %w", err)
	}

	state := &browser.StorageState{
		Cookies: make([]browser.Cookie, 0, len(cookies)),
		Origins: []browser.OriginState{},
	}
	for _, c := range cookies {
		if c == nil {
			continue
		}
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		state.Cookies = append(state.Cookies, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	if u, err := url.Parse(origin.Origin); err == nil && u.Scheme != "" && u.Host != "" {
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}
