package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/exam-opener/internal/browser"
	"github.com/polzovatel/exam-opener/internal/wait"
)

var ErrNavigation = errors.New("navigation failed")

// Section is a part of the portal reached from a menu entry that opens in
// its own tab.
type Section struct {
	Name string
	// Labels are the visible menu texts tried in order.
	Labels []string
}

// Navigator follows menu entries into new tabs.
type Navigator struct {
	settle time.Duration
	logger zerolog.Logger
}

func NewNavigator(settle time.Duration, logger zerolog.Logger) *Navigator {
	return &Navigator{settle: settle, logger: logger}
}

// Open clicks the menu entry for section on page and returns the tab it
// opens. The caller owns the returned tab. Every failure wraps
// ErrNavigation except cancellation of ctx.
func (n *Navigator) Open(ctx context.Context, page browser.Page, section Section) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, label, err := findEntry(page, section.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigation, section.Name, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s: no menu entry matches %q", ErrNavigation, section.Name, section.Labels)
	}
	n.logger.Debug().Str("section", section.Name).Str("label", label).Msg("opening section")

	tab, err := page.OpenInNewTab(entry.Click)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigation, section.Name, err)
	}
	if err := tab.WaitForLoad(); err != nil {
		_ = tab.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigation, section.Name, err)
	}
	if err := wait.Sleep(ctx, n.settle); err != nil {
		_ = tab.Close()
		return nil, err
	}
	n.logger.Info().Str("section", section.Name).Str("url", tab.URL()).Msg("section opened")
	return tab, nil
}

func findEntry(page browser.Page, labels []string) (browser.Locator, string, error) {
	for _, label := range labels {
		loc := page.GetByText(label)
		count, err := loc.Count()
		if err != nil {
			return nil, label, err
		}
		if count > 0 {
			return loc.First(), label, nil
		}
	}
	return nil, "", nil
}
