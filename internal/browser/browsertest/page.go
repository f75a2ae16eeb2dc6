// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"errors"
	"fmt"
	"os"

	"github.com/polzovatel/exam-opener/internal/browser"
)

// ErrNoElement is returned by actions on a locator that matches nothing.
var ErrNoElement = errors.New("browsertest: no element matches")

// Element is the scripted state behind one selector.
type Element struct {
	Count     int
	CountFunc func() int
	Visible   bool
	// VisibleFunc overrides Visible when set.
	VisibleFunc func() bool
	// Err is returned from every action on the element.
	Err     error
	OnClick func()
	OnFill  func(value string)
	// Panic makes Click and Dblclick panic with this value.
	Panic any
}

func (e *Element) count() int {
	if e.CountFunc != nil {
		return e.CountFunc()
	}
	return e.Count
}

func (e *Element) visible() bool {
	if e.VisibleFunc != nil {
		return e.VisibleFunc()
	}
	return e.Visible
}

// Page records every call made against it. Selectors missing from
// Elements match nothing.
type Page struct {
	CurrentURL string
	// URLFunc overrides CurrentURL when set.
	URLFunc   func() string
	PageTitle string
	Elements  map[string]*Element
	Texts     map[string]*Element

	GotoErr       error
	ScreenshotErr error
	// WriteScreenshots makes Screenshot create an empty file at path.
	WriteScreenshots bool

	NewTab    *Page
	NewTabErr error

	Calls       []string
	Screenshots []string
	Visited     []string
	Closed      bool
}

var _ browser.Page = (*Page)(nil)

// New returns an empty page at url.
func New(url string) *Page {
	return &Page{
		CurrentURL: url,
		Elements:   map[string]*Element{},
		Texts:      map[string]*Element{},
	}
}

// Set registers el under selector and returns it.
func (p *Page) Set(selector string, el *Element) *Element {
	if p.Elements == nil {
		p.Elements = map[string]*Element{}
	}
	p.Elements[selector] = el
	return el
}

// SetText registers el for GetByText(text) and returns it.
func (p *Page) SetText(text string, el *Element) *Element {
	if p.Texts == nil {
		p.Texts = map[string]*Element{}
	}
	p.Texts[text] = el
	return el
}

// Count returns how many recorded calls equal call.
func (p *Page) Count(call string) int {
	n := 0
	for _, c := range p.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *Page) record(format string, args ...any) {
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

func (p *Page) Goto(url string) error {
	p.record("goto %s", url)
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.Visited = append(p.Visited, url)
	p.CurrentURL = url
	return nil
}

func (p *Page) URL() string {
	if p.URLFunc != nil {
		return p.URLFunc()
	}
	return p.CurrentURL
}

func (p *Page) Title() (string, error) {
	return p.PageTitle, nil
}

func (p *Page) Locator(selector string) browser.Locator {
	return &Locator{page: p, key: selector, el: p.Elements[selector], nth: -1}
}

func (p *Page) GetByText(text string) browser.Locator {
	return &Locator{page: p, key: "text=" + text, el: p.Texts[text], nth: -1}
}

func (p *Page) Screenshot(path string) error {
	p.record("screenshot %s", path)
	if p.ScreenshotErr != nil {
		return p.ScreenshotErr
	}
	p.Screenshots = append(p.Screenshots, path)
	if p.WriteScreenshots {
		return os.WriteFile(path, nil, 0o644)
	}
	return nil
}

func (p *Page) WaitForLoad() error {
	p.record("wait-load")
	return nil
}

func (p *Page) OpenInNewTab(action func() error) (browser.Page, error) {
	p.record("expect-tab")
	if err := action(); err != nil {
		return nil, err
	}
	if p.NewTabErr != nil {
		return nil, p.NewTabErr
	}
	if p.NewTab == nil {
		return nil, errors.New("browsertest: no tab opened")
	}
	return p.NewTab, nil
}

func (p *Page) Close() error {
	p.record("close")
	p.Closed = true
	return nil
}

// Locator resolves against its page on every call.
type Locator struct {
	page *Page
	key  string
	el   *Element
	// nth is -1 for the whole match set.
	nth int
}

var _ browser.Locator = (*Locator)(nil)

func (l *Locator) name() string {
	if l.nth >= 0 {
		return fmt.Sprintf("%s>>nth=%d", l.key, l.nth)
	}
	return l.key
}

func (l *Locator) Count() (int, error) {
	l.page.record("count %s", l.name())
	if l.el == nil {
		return 0, nil
	}
	if l.el.Err != nil {
		return 0, l.el.Err
	}
	n := l.el.count()
	if l.nth >= 0 {
		if n > l.nth {
			return 1, nil
		}
		return 0, nil
	}
	return n, nil
}

func (l *Locator) First() browser.Locator {
	return l.Nth(0)
}

// Nth on a locator already narrowed to one element only accepts index 0.
func (l *Locator) Nth(index int) browser.Locator {
	if l.nth >= 0 {
		if index == 0 {
			return l
		}
		return &Locator{page: l.page, key: l.key, nth: index}
	}
	return &Locator{page: l.page, key: l.key, el: l.el, nth: index}
}

func (l *Locator) resolve() error {
	if l.el == nil {
		return ErrNoElement
	}
	if l.el.Err != nil {
		return l.el.Err
	}
	idx := l.nth
	if idx < 0 {
		idx = 0
	}
	if l.el.count() <= idx {
		return ErrNoElement
	}
	return nil
}

func (l *Locator) Clear() error {
	l.page.record("clear %s", l.name())
	return l.resolve()
}

func (l *Locator) Fill(value string) error {
	l.page.record("fill %s=%s", l.name(), value)
	if err := l.resolve(); err != nil {
		return err
	}
	if l.el.OnFill != nil {
		l.el.OnFill(value)
	}
	return nil
}

func (l *Locator) Click() error {
	l.page.record("click %s", l.name())
	if err := l.resolve(); err != nil {
		return err
	}
	if l.el.Panic != nil {
		panic(l.el.Panic)
	}
	if l.el.OnClick != nil {
		l.el.OnClick()
	}
	return nil
}

func (l *Locator) Dblclick() error {
	l.page.record("dblclick %s", l.name())
	if err := l.resolve(); err != nil {
		return err
	}
	if l.el.Panic != nil {
		panic(l.el.Panic)
	}
	if l.el.OnClick != nil {
		l.el.OnClick()
	}
	return nil
}

func (l *Locator) IsVisible() (bool, error) {
	l.page.record("visible %s", l.name())
	if l.el == nil {
		return false, nil
	}
	if l.el.Err != nil {
		return false, l.el.Err
	}
	return l.el.count() > 0 && l.el.visible(), nil
}
