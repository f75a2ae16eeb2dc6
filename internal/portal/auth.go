package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/exam-opener/internal/browser"
	"github.com/polzovatel/exam-opener/internal/snapshot"
	"github.com/polzovatel/exam-opener/internal/wait"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNoCredentials  = errors.New("no credentials configured")
)

// Screenshotter captures diagnostic artifacts.
type Screenshotter interface {
	Capture(ctx context.Context, page browser.Page, name string) (snapshot.Summary, error)
}

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Email) == "" || c.Password == ""
}

type LoginConfig struct {
	URL         string
	Credentials Credentials
	// PostLoginPaths lists the locations that only an authenticated
	// session reaches, e.g. "#/home". Empty falls back to "anywhere but
	// the login route".
	PostLoginPaths []string
	PollInterval   time.Duration
	// SlowAfter is the number of polls after which the operator is asked
	// to look at the browser. Waiting continues regardless.
	SlowAfter   int
	LoadDelay   time.Duration
	TabDelay    time.Duration
	SettleDelay time.Duration
}

func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		PostLoginPaths: []string{"#/home", "#/index", "#/dashboard", "#/workbench"},
		PollInterval:   5 * time.Second,
		SlowAfter:      30,
		LoadDelay:      3 * time.Second,
		TabDelay:       time.Second,
		SettleDelay:    3 * time.Second,
	}
}

// Progress is reported once per poll while waiting for the login to land.
type Progress struct {
	Poll     int
	Elapsed  time.Duration
	Summary  snapshot.Summary
	LoggedIn bool
	// Slow is set on the poll where the wait crosses SlowAfter.
	Slow bool
}

type ProgressFunc func(Progress)

// Authenticator establishes a logged-in session on a page.
type Authenticator struct {
	cfg      LoginConfig
	shots    Screenshotter
	logger   zerolog.Logger
	progress ProgressFunc
}

func NewAuthenticator(cfg LoginConfig, shots Screenshotter, logger zerolog.Logger) *Authenticator {
	return &Authenticator{cfg: cfg, shots: shots, logger: logger}
}

// OnProgress registers fn to be called on every login poll.
func (a *Authenticator) OnProgress(fn ProgressFunc) {
	a.progress = fn
}

// Login opens the portal and signs in. It waits for as long as it takes a
// human to clear any challenge; only ctx ends the wait early. A session
// restored from storage that is already past the login page is accepted
// without touching the form.
func (a *Authenticator) Login(ctx context.Context, page browser.Page) error {
	if err := page.Goto(a.cfg.URL); err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrAuthentication, a.cfg.URL, err)
	}
	if err := wait.Sleep(ctx, a.cfg.LoadDelay); err != nil {
		return err
	}
	if a.LoggedIn(page.URL()) {
		a.logger.Info().Str("url", page.URL()).Msg("session already authenticated")
		return nil
	}
	if a.cfg.Credentials.Empty() {
		return fmt.Errorf("%w: %w", ErrAuthentication, ErrNoCredentials)
	}
	if err := a.submit(ctx, page); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if err := a.await(ctx, page); err != nil {
		return err
	}
	return wait.Sleep(ctx, a.cfg.SettleDelay)
}

func (a *Authenticator) submit(ctx context.Context, page browser.Page) error {
	tab := page.GetByText(TextEmailLoginTab)
	n, err := tab.Count()
	if err != nil {
		return err
	}
	if n > 0 {
		if err := tab.First().Click(); err != nil {
			return fmt.Errorf("email login tab: %w", err)
		}
		if err := wait.Sleep(ctx, a.cfg.TabDelay); err != nil {
			return err
		}
	}
	if err := page.Locator(SelectorUserInput).First().Fill(a.cfg.Credentials.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := page.Locator(SelectorPasswordInput).First().Fill(a.cfg.Credentials.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Locator(SelectorLoginButton).First().Click(); err != nil {
		return fmt.Errorf("click login: %w", err)
	}
	a.logger.Debug().Msg("credentials submitted")
	return nil
}

// await polls the page location with no upper bound, capturing a status
// screenshot on every poll so a remote operator can see progress.
func (a *Authenticator) await(ctx context.Context, page browser.Page) error {
	start := time.Now()
	_, err := wait.Until(ctx, 0, a.cfg.PollInterval, func(poll int) (bool, error) {
		sum, err := a.shots.Capture(ctx, page, snapshot.LoginStatus)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			a.logger.Debug().Err(err).Msg("login status screenshot")
		}
		loggedIn := a.LoggedIn(sum.URL)
		slow := !loggedIn && poll == a.cfg.SlowAfter
		a.logger.Debug().Int("poll", poll).Str("url", sum.URL).Bool("logged_in", loggedIn).Msg("login poll")
		if slow {
			a.logger.Warn().Dur("elapsed", time.Since(start)).Msg("login is taking long, waiting for manual challenge")
		}
		if a.progress != nil {
			a.progress(Progress{Poll: poll, Elapsed: time.Since(start), Summary: sum, LoggedIn: loggedIn, Slow: slow})
		}
		return loggedIn, nil
	})
	return err
}

// LoggedIn reports whether rawURL is a post-login location.
func (a *Authenticator) LoggedIn(rawURL string) bool {
	if len(a.cfg.PostLoginPaths) == 0 {
		return rawURL != "" && rawURL != "about:blank" && !strings.Contains(rawURL, loginFragment)
	}
	fragment := ""
	if i := strings.Index(rawURL, "#"); i >= 0 {
		fragment = rawURL[i:]
	}
	path := ""
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	for _, allowed := range a.cfg.PostLoginPaths {
		target := path
		if strings.HasPrefix(allowed, "#") {
			target = fragment
		}
		if matchesPath(target, allowed) {
			return true
		}
	}
	return false
}

func matchesPath(got, allowed string) bool {
	if allowed == "" || !strings.HasPrefix(got, allowed) {
		return false
	}
	rest := got[len(allowed):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
