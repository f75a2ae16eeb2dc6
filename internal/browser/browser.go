package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout = 30 * time.Second
	defaultActionTime = 10 * time.Second
)

// Locator is a lazy reference to zero or more elements on a page.
// Nothing is resolved until one of the action methods runs.
type Locator interface {
	Count() (int, error)
	First() Locator
	Nth(index int) Locator
	Clear() error
	Fill(value string) error
	Click() error
	Dblclick() error
	IsVisible() (bool, error)
}

// Page is one browser tab.
type Page interface {
	Goto(url string) error
	URL() string
	Title() (string, error)
	Locator(selector string) Locator
	GetByText(text string) Locator
	Screenshot(path string) error
	WaitForLoad() error
	// OpenInNewTab runs action and returns the tab it caused to open.
	OpenInNewTab(action func() error) (Page, error)
	Close() error
}

// Options control how Chromium is launched.
type Options struct {
	Headless bool
}

// Launcher owns playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context, opts Options) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: opts.Headless}, nil
}

// NewSession opens a fresh browser context, optionally seeded from a saved
// storage state file. A missing file is not an error.
func (l *Launcher) NewSession(ctx context.Context, storagePath string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	restored := false
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
			restored = true
		}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(defaultActionTime.Milliseconds()))
	bctx.SetDefaultNavigationTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &Session{context: bctx, restored: restored}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// Session is one browser context. Pages opened from it share cookies.
type Session struct {
	context  playwright.BrowserContext
	restored bool
}

// Restored reports whether the session started from a saved storage state.
func (s *Session) Restored() bool {
	return s.restored
}

func (s *Session) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &tab{page: page}, nil
}

func (s *Session) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := s.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (s *Session) Close() error {
	if s.context != nil {
		return wrap(s.context.Close())
	}
	return nil
}

var (
	_ Page    = (*tab)(nil)
	_ Locator = (*locator)(nil)
)

type tab struct {
	page playwright.Page
}

func (t *tab) Goto(url string) error {
	_, err := t.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (t *tab) URL() string {
	return t.page.URL()
}

func (t *tab) Title() (string, error) {
	title, err := t.page.Title()
	return title, wrap(err)
}

func (t *tab) Locator(selector string) Locator {
	return &locator{loc: t.page.Locator(selector)}
}

func (t *tab) GetByText(text string) Locator {
	return &locator{loc: t.page.GetByText(text)}
}

func (t *tab) Screenshot(path string) error {
	_, err := t.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	return wrap(err)
}

func (t *tab) WaitForLoad() error {
	return wrap(t.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	}))
}

func (t *tab) OpenInNewTab(action func() error) (Page, error) {
	page, err := t.page.Context().ExpectPage(action, playwright.BrowserContextExpectPageOptions{
		Timeout: playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &tab{page: page}, nil
}

func (t *tab) Close() error {
	return wrap(t.page.Close())
}

type locator struct {
	loc playwright.Locator
}

func (l *locator) Count() (int, error) {
	n, err := l.loc.Count()
	return n, wrap(err)
}

func (l *locator) First() Locator {
	return &locator{loc: l.loc.First()}
}

func (l *locator) Nth(index int) Locator {
	return &locator{loc: l.loc.Nth(index)}
}

func (l *locator) Clear() error {
	return wrap(l.loc.Clear())
}

func (l *locator) Fill(value string) error {
	return wrap(l.loc.Fill(value))
}

// Click scrolls the element into view first; a failed scroll is ignored
// and the click is attempted anyway.
func (l *locator) Click() error {
	_ = l.loc.ScrollIntoViewIfNeeded()
	return wrap(l.loc.Click())
}

func (l *locator) Dblclick() error {
	_ = l.loc.ScrollIntoViewIfNeeded()
	return wrap(l.loc.Dblclick())
}

func (l *locator) IsVisible() (bool, error) {
	ok, err := l.loc.IsVisible()
	return ok, wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
