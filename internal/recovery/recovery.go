// Package recovery re-establishes an expired application session by logging
// in again with configured credentials.
package recovery

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/config"
)

// DefaultMaxAttempts caps automatic re-logins per execution.
const DefaultMaxAttempts = 1

const (
	probeTimeout       = 500 * time.Millisecond
	submitClickTimeout = 8 * time.Second
	postSubmitSettle   = 2 * time.Second
	leaveLoginTimeout  = 30 * time.Second
	resumeTimeout      = 30 * time.Second
)

// AuthURLTokens mark a URL as belonging to the login flow.
var AuthURLTokens = []string{"/login", "/signin", "/sign-in", "/auth"}

const (
	passwordProbe = "input[type='password']"
	identityProbe = "input[type='email'], input[name*='email'], input[id*='email'], input[name*='user'], input[id*='user']"
)

var identitySelectors = []string{
	"input[type='email']",
	"input[name='email']",
	"input[id='email']",
	"input[name*='user']",
	"input[id*='user']",
}

var passwordSelectors = []string{
	"input[type='password']",
	"input[name='password']",
	"input[id='password']",
}

var submitSelectors = []string{
	"button[type='submit']",
	"input[type='submit']",
	"button:has-text('Sign in')",
	"button:has-text('Log in')",
	"button:has-text('Login')",
}

// StateSaver persists the authenticated browser state. browser.Session implements it.
type StateSaver interface {
	SaveStorageState(ctx context.Context, path string) error
}

// Recoverer performs at most MaxAttempts automatic logins for one execution.
// It is not safe for concurrent use; each execution owns its own.
type Recoverer struct {
	logger      *zap.Logger
	auth        config.AuthConfig
	authPath    string
	note        func(action, detail string)
	MaxAttempts int

	attempts int
}

// New creates a recoverer that saves refreshed auth state to authPath.
func New(logger *zap.Logger, auth config.AuthConfig, authPath string, note func(action, detail string)) *Recoverer {
	if note == nil {
		note = func(string, string) {}
	}
	return &Recoverer{
		logger:      logger.Named("recovery"),
		auth:        auth,
		authPath:    authPath,
		note:        note,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Attempts returns how many logins have been tried.
func (r *Recoverer) Attempts() int { return r.attempts }

// IsAuthURL reports whether url contains one of the login-flow tokens.
func IsAuthURL(url string) bool {
	u := strings.ToLower(url)
	for _, token := range AuthURLTokens {
		if strings.Contains(u, token) {
			return true
		}
	}
	return false
}

// IsLoginPage reports whether the page looks like a login form.
func (r *Recoverer) IsLoginPage(ctx context.Context, p browser.Page) bool {
	u, err := p.URL(ctx)
	if err == nil && IsAuthURL(u) {
		return true
	}
	return p.IsVisible(ctx, browser.Locate(passwordProbe), probeTimeout) &&
		p.IsVisible(ctx, browser.Locate(identityProbe), probeTimeout)
}

// RecoverIfNeeded logs in again when the page shows a login form. It reports
// whether a login succeeded. Failures are logged, never returned.
func (r *Recoverer) RecoverIfNeeded(ctx context.Context, p browser.Page, saver StateSaver, resumeURL string) bool {
	if !r.IsLoginPage(ctx, p) {
		return false
	}
	if r.attempts >= r.MaxAttempts {
		r.note("auth", "session expired and max relogin attempts reached")
		return false
	}
	if !r.auth.HasCredentials() {
		r.note("auth", "session expired but no login credentials are configured")
		return false
	}

	r.attempts++
	r.note("auth", "session expired, attempting automatic login")

	_, identityOK := r.fillFirstVisible(ctx, p, identitySelectors, r.auth.Username)
	passwordLoc, passwordOK := r.fillFirstVisible(ctx, p, passwordSelectors, r.auth.Password)
	if !identityOK || !passwordOK {
		r.note("auth", "auto-login fields not found")
		return false
	}

	if !r.submit(ctx, p, passwordLoc) {
		r.note("auth", "auto-login submit action failed")
		return false
	}

	_ = p.Pause(ctx, postSubmitSettle)
	err := p.WaitForURL(ctx, func(u string) bool { return !IsAuthURL(u) }, leaveLoginTimeout)
	if err != nil && r.IsLoginPage(ctx, p) {
		r.note("auth", "auto-login did not leave login page")
		return false
	}

	if resumeURL != "" {
		if err := p.Goto(ctx, resumeURL, resumeTimeout); err != nil {
			r.logger.Debug("Failed to resume after login.", zap.String("url", resumeURL), zap.Error(err))
		}
	}

	if err := saver.SaveStorageState(ctx, r.authPath); err != nil {
		r.note("warning", "failed to refresh auth state: "+err.Error())
	} else {
		r.note("auth", "auth state refreshed at "+r.authPath)
	}
	return true
}

func (r *Recoverer) fillFirstVisible(ctx context.Context, p browser.Page, selectors []string, value string) (browser.Locator, bool) {
	for _, sel := range selectors {
		loc := browser.Locate(sel)
		if !p.IsVisible(ctx, loc, probeTimeout) {
			continue
		}
		if err := p.Fill(ctx, loc, value, probeTimeout); err != nil {
			r.logger.Debug("Login field fill failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		return loc, true
	}
	return browser.Locator{}, false
}

// submit clicks the first visible submit control, or presses Enter in the
// password field when there is none.
func (r *Recoverer) submit(ctx context.Context, p browser.Page, passwordLoc browser.Locator) bool {
	for _, sel := range submitSelectors {
		loc := browser.Locate(sel)
		if !p.IsVisible(ctx, loc, probeTimeout) {
			continue
		}
		if err := p.Click(ctx, loc, submitClickTimeout); err != nil {
			r.logger.Debug("Login submit click failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		return true
	}
	if err := p.Press(ctx, passwordLoc, "Enter", probeTimeout); err != nil {
		r.logger.Debug("Login submit via Enter failed.", zap.Error(err))
		return false
	}
	return true
}
