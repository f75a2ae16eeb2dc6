package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/exam-opener/internal/browser"
	"github.com/polzovatel/exam-opener/internal/snapshot"
	"github.com/polzovatel/exam-opener/internal/wait"
)

// Timing holds the fixed pauses and polling bounds of one search.
type Timing struct {
	InputSettle     time.Duration
	LoadingPolls    int
	LoadingInterval time.Duration
	LoadingBuffer   time.Duration
	RowAttempts     int
	RowInterval     time.Duration
	OpenSettle      time.Duration
}

// DefaultTiming is tuned for the portal's list page over a normal connection.
func DefaultTiming() Timing {
	return Timing{
		InputSettle:     300 * time.Millisecond,
		LoadingPolls:    15,
		LoadingInterval: time.Second,
		LoadingBuffer:   time.Second,
		RowAttempts:     5,
		RowInterval:     time.Second,
		OpenSettle:      1500 * time.Millisecond,
	}
}

// Screenshotter captures diagnostic artifacts.
type Screenshotter interface {
	Capture(ctx context.Context, page browser.Page, name string) (snapshot.Summary, error)
}

// Config is what a Processor needs besides its collaborators.
type Config struct {
	Selectors Selectors
	Timing    Timing
	// Out receives one progress line per exam. Nil discards them.
	Out io.Writer
}

// Processor searches for exams on the list page and opens their detail view.
type Processor struct {
	sel    Selectors
	timing Timing
	out    io.Writer
	shots  Screenshotter
	logger zerolog.Logger
}

// NewProcessor fills missing search inputs and row selector with
// DefaultSelectors. Screenshots for failed searches go through shots.
func NewProcessor(cfg Config, shots Screenshotter, logger zerolog.Logger) *Processor {
	if len(cfg.Selectors.SearchInputs) == 0 || cfg.Selectors.Row == nil {
		def := DefaultSelectors()
		if len(cfg.Selectors.SearchInputs) == 0 {
			cfg.Selectors.SearchInputs = def.SearchInputs
		}
		if cfg.Selectors.Row == nil {
			cfg.Selectors.Row = def.Row
		}
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	return &Processor{
		sel:    cfg.Selectors,
		timing: cfg.Timing,
		out:    out,
		shots:  shots,
		logger: logger,
	}
}

// Run processes ids in order against page. A failed exam never stops the
// batch; only cancellation of ctx does, in which case the returned result
// is partial and the error wraps ErrInterrupted.
func (p *Processor) Run(ctx context.Context, page browser.Page, ids []ExamID) (Result, error) {
	var res Result
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if i == 0 {
			if _, err := p.shots.Capture(ctx, page, snapshot.ExamPageDebug); err != nil {
				p.logger.Debug().Err(err).Msg("debug screenshot")
			}
		}
		fmt.Fprintf(p.out, "  [%d/%d] Exam %d... ", i+1, len(ids), int(id))
		out, err := p.Process(ctx, page, id)
		if err != nil {
			fmt.Fprintln(p.out, "interrupted")
			return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		res.Record(id, out)
		if out.OK() {
			fmt.Fprintln(p.out, "✓ Opened")
		} else {
			fmt.Fprintf(p.out, "✗ %s\n", out)
		}
		p.logger.Info().
			Int("exam", int(id)).
			Int("index", i+1).
			Str("status", out.Status.String()).
			Str("message", out.Message).
			Msg("exam processed")
	}
	return res, nil
}

// Process runs the search-and-open sequence for one exam. The error is
// non-nil only when ctx was cancelled; every other failure is reported
// through the outcome, including panics from the driver.
func (p *Processor) Process(ctx context.Context, page browser.Page, id ExamID) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("exam", int(id)).Interface("panic", r).Msg("recovered driver panic")
			out, err = Outcome{Status: StatusTransientError, Message: fmt.Sprintf("panic: %v", r)}, nil
		}
	}()
	return p.process(ctx, page, id)
}

func (p *Processor) process(ctx context.Context, page browser.Page, id ExamID) (Outcome, error) {
	key := strconv.Itoa(int(id))

	input, strategy, err := firstMatch(page, p.sel.SearchInputs)
	if err != nil {
		return p.fail(ctx, err)
	}
	if input == nil {
		return Outcome{Status: StatusSearchInputNotFound}, nil
	}
	p.logger.Debug().Int("exam", int(id)).Int("strategy", strategy).Msg("search input found")

	if err := input.Clear(); err != nil {
		return p.fail(ctx, err)
	}
	if err := input.Fill(key); err != nil {
		return p.fail(ctx, err)
	}
	if err := wait.Sleep(ctx, p.timing.InputSettle); err != nil {
		return Outcome{}, err
	}

	if err := p.clickSearch(page); err != nil {
		return p.fail(ctx, err)
	}
	if err := p.waitForResults(ctx, page); err != nil {
		return p.fail(ctx, err)
	}

	row, err := p.findRow(ctx, page, key)
	if err != nil {
		return p.fail(ctx, err)
	}
	if row == nil {
		if _, err := p.shots.Capture(ctx, page, snapshot.SearchFailure(int(id))); err != nil {
			p.logger.Warn().Err(err).Int("exam", int(id)).Msg("search failure screenshot")
		}
		return Outcome{Status: StatusRowNotFound}, nil
	}

	if err := row.Dblclick(); err != nil {
		return p.fail(ctx, err)
	}
	if err := wait.Sleep(ctx, p.timing.OpenSettle); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusSuccess}, nil
}

// fail turns err into a transient outcome unless ctx is already done.
func (p *Processor) fail(ctx context.Context, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Outcome{}, err
	}
	return transient(err), nil
}

// clickSearch presses the search button when the page has one. Some list
// views search as soon as the input changes, so a missing button is fine.
func (p *Processor) clickSearch(page browser.Page) error {
	if p.sel.SearchButton == "" {
		return nil
	}
	btn := page.Locator(p.sel.SearchButton)
	n, err := btn.Count()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return btn.First().Click()
}

// waitForResults polls the loading indicator a bounded number of times and
// then always waits the buffer. A spinner that never goes away is logged
// and otherwise ignored.
func (p *Processor) waitForResults(ctx context.Context, page browser.Page) error {
	if p.sel.LoadingIndicator != "" && p.timing.LoadingPolls > 0 {
		spinner := page.Locator(p.sel.LoadingIndicator).First()
		gone, err := wait.Until(ctx, p.timing.LoadingPolls, p.timing.LoadingInterval, func(int) (bool, error) {
			visible, err := spinner.IsVisible()
			return !visible, err
		})
		if err != nil {
			return err
		}
		if !gone {
			p.logger.Warn().Int("polls", p.timing.LoadingPolls).Msg("loading indicator still visible, continuing")
		}
	}
	return wait.Sleep(ctx, p.timing.LoadingBuffer)
}

// findRow retries the row lookup while results render. It returns nil
// when the row never showed up.
func (p *Processor) findRow(ctx context.Context, page browser.Page, key string) (browser.Locator, error) {
	rows := page.Locator(p.sel.Row(key))
	attempts := p.timing.RowAttempts
	if attempts <= 0 {
		attempts = 1
	}
	found, err := wait.Until(ctx, attempts, p.timing.RowInterval, func(attempt int) (bool, error) {
		n, err := rows.Count()
		if err != nil {
			return false, err
		}
		if n == 0 {
			p.logger.Debug().Str("exam", key).Int("attempt", attempt).Msg("row not rendered yet")
		}
		return n > 0, nil
	})
	if err != nil || !found {
		return nil, err
	}
	return rows.First(), nil
}
