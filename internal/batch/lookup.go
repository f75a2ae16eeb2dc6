package batch

import (
	"fmt"

	"github.com/polzovatel/exam-opener/internal/browser"
)

// Lookup narrows a page down to candidate elements. A lookup whose locator
// counts zero matches is skipped in favour of the next one.
type Lookup func(page browser.Page) browser.Locator

// BySelector matches every element for selector.
func BySelector(selector string) Lookup {
	return func(page browser.Page) browser.Locator {
		return page.Locator(selector)
	}
}

// NthOf matches only the index-th element for selector.
func NthOf(selector string, index int) Lookup {
	return func(page browser.Page) browser.Locator {
		return page.Locator(selector).Nth(index)
	}
}

// firstMatch tries lookups in order and returns the first element of the
// first non-empty match set, or nil when every lookup came up empty.
func firstMatch(page browser.Page, lookups []Lookup) (browser.Locator, int, error) {
	for i, lookup := range lookups {
		loc := lookup(page)
		n, err := loc.Count()
		if err != nil {
			return nil, i, err
		}
		if n > 0 {
			return loc.First(), i, nil
		}
	}
	return nil, -1, nil
}

// Selectors describe the exam list markup.
type Selectors struct {
	SearchInputs     []Lookup
	SearchButton     string
	LoadingIndicator string
	// Row returns the selector for the table row showing key.
	Row func(key string) string
}

const (
	examIDInput      = `input[placeholder*="检查ID"]`
	searchButton     = `button:has-text("搜索")`
	loadingIndicator = `.el-loading-mask`
)

func DefaultSelectors() Selectors {
	return Selectors{
		SearchInputs: []Lookup{
			BySelector(examIDInput),
			// exam ID is the second filter on the list page
			NthOf("input", 1),
		},
		SearchButton:     searchButton,
		LoadingIndicator: loadingIndicator,
		Row:              RowWithText,
	}
}

// RowWithText selects table rows whose text contains key.
func RowWithText(key string) string {
	return fmt.Sprintf(`tr:has-text("%s")`, key)
}
