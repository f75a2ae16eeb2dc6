// Package orchestrator drives one run: login, the two menu hops to the
// exam list, the batch, the report and the hold period.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/exam-opener/internal/batch"
	"github.com/polzovatel/exam-opener/internal/browser"
	"github.com/polzovatel/exam-opener/internal/portal"
	"github.com/polzovatel/exam-opener/internal/wait"
)

type State int

const (
	Idle State = iota
	Authenticating
	NavigatingSectionA
	NavigatingSectionB
	ProcessingBatch
	Reporting
	HoldOpen
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authenticating:
		return "authenticating"
	case NavigatingSectionA:
		return "navigating section A"
	case NavigatingSectionB:
		return "navigating section B"
	case ProcessingBatch:
		return "processing batch"
	case Reporting:
		return "reporting"
	case HoldOpen:
		return "hold open"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Authenticator interface {
	Login(ctx context.Context, page browser.Page) error
}

type Navigator interface {
	Open(ctx context.Context, page browser.Page, section portal.Section) (browser.Page, error)
}

type Processor interface {
	Run(ctx context.Context, page browser.Page, ids []batch.ExamID) (batch.Result, error)
}

type Config struct {
	ImageManagement portal.Section
	AllExams        portal.Section
	// Hold is how long the browser stays open after the report.
	Hold time.Duration
	// ReportPath, when set, receives the result as JSON.
	ReportPath string
	// Out receives the user-facing progress lines. Nil means stdout.
	Out io.Writer
	// AfterLogin runs once the session is authenticated. Its error is
	// logged and does not stop the run.
	AfterLogin func(ctx context.Context) error
	// OnState observes every transition.
	OnState func(State)
}

type Orchestrator struct {
	cfg    Config
	auth   Authenticator
	nav    Navigator
	proc   Processor
	logger zerolog.Logger
	state  State
}

func New(cfg Config, auth Authenticator, nav Navigator, proc Processor, logger zerolog.Logger) *Orchestrator {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Orchestrator{
		cfg:    cfg,
		auth:   auth,
		nav:    nav,
		proc:   proc,
		logger: logger,
	}
}

// State returns the phase the run is in, or the last one it reached.
func (o *Orchestrator) State() State {
	return o.state
}

// Run executes the whole workflow on page. Login and navigation failures
// end the run with an empty result. An interrupted batch returns the
// partial result together with an error wrapping batch.ErrInterrupted and
// is not reported. An interrupt during the hold returns the full, already
// reported result with the same error. Tabs opened here are closed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, page browser.Page, ids []batch.ExamID) (batch.Result, error) {
	defer o.enter(Terminated)

	o.enter(Authenticating)
	fmt.Fprintln(o.cfg.Out, "[1/4] Logging in...")
	if err := o.auth.Login(ctx, page); err != nil {
		return batch.Result{}, interrupted(ctx, fmt.Errorf("login: %w", err))
	}
	fmt.Fprintln(o.cfg.Out, "  ✓ Logged in!")
	if o.cfg.AfterLogin != nil {
		if err := o.cfg.AfterLogin(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("after login hook")
		}
	}

	o.enter(NavigatingSectionA)
	fmt.Fprintf(o.cfg.Out, "\n[2/4] Opening %s...\n", o.cfg.ImageManagement.Name)
	sectionTab, err := o.nav.Open(ctx, page, o.cfg.ImageManagement)
	if err != nil {
		fmt.Fprintf(o.cfg.Out, "  ✗ Failed to open %s\n", o.cfg.ImageManagement.Name)
		return batch.Result{}, interrupted(ctx, err)
	}
	defer o.closeTab(sectionTab, o.cfg.ImageManagement.Name)
	fmt.Fprintf(o.cfg.Out, "  ✓ URL: %s\n", sectionTab.URL())

	o.enter(NavigatingSectionB)
	fmt.Fprintf(o.cfg.Out, "\n[3/4] Opening %s...\n", o.cfg.AllExams.Name)
	listTab, err := o.nav.Open(ctx, sectionTab, o.cfg.AllExams)
	if err != nil {
		fmt.Fprintf(o.cfg.Out, "  ✗ Failed to open %s\n", o.cfg.AllExams.Name)
		return batch.Result{}, interrupted(ctx, err)
	}
	defer o.closeTab(listTab, o.cfg.AllExams.Name)
	fmt.Fprintf(o.cfg.Out, "  ✓ URL: %s\n", listTab.URL())

	o.enter(ProcessingBatch)
	fmt.Fprintf(o.cfg.Out, "\n[4/4] Opening %d exams...\n", len(ids))
	res, err := o.proc.Run(ctx, listTab, ids)
	if err != nil {
		o.logger.Warn().Err(err).Int("processed", res.Processed()).Int("total", len(ids)).Msg("batch stopped")
		return res, interrupted(ctx, err)
	}

	o.enter(Reporting)
	o.report(res, len(ids))

	o.enter(HoldOpen)
	if err := o.hold(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// LoginProgress prints operator-facing lines for a login poll. Pass it to
// portal.Authenticator.OnProgress.
func (o *Orchestrator) LoginProgress(p portal.Progress) {
	switch {
	case p.LoggedIn:
	case p.Poll == 1:
		fmt.Fprintln(o.cfg.Out, "  Waiting for login...")
	case p.Slow:
		fmt.Fprintln(o.cfg.Out, "  ⚠ Login taking long - complete CAPTCHA if shown")
	}
}

func (o *Orchestrator) enter(s State) {
	o.state = s
	o.logger.Debug().Str("state", s.String()).Msg("state")
	if o.cfg.OnState != nil {
		o.cfg.OnState(s)
	}
}

func (o *Orchestrator) report(res batch.Result, total int) {
	fmt.Fprint(o.cfg.Out, res.Summary(total))
	o.logger.Info().
		Int("succeeded", len(res.Succeeded)).
		Int("failed", len(res.Failed)).
		Int("total", total).
		Msg("batch finished")
	if o.cfg.ReportPath == "" {
		return
	}
	if err := WriteReport(o.cfg.ReportPath, res); err != nil {
		o.logger.Error().Err(err).Str("path", o.cfg.ReportPath).Msg("write report")
		return
	}
	o.logger.Info().Str("path", o.cfg.ReportPath).Msg("report saved")
}

// hold keeps the tabs open for review. The report is already out, so an
// interrupt here only ends the hold, but it is still returned wrapped in
// batch.ErrInterrupted.
func (o *Orchestrator) hold(ctx context.Context) error {
	if o.cfg.Hold <= 0 {
		return nil
	}
	fmt.Fprintf(o.cfg.Out, "\n>>> Browser stays open for %s <<<\n", o.cfg.Hold)
	fmt.Fprintln(o.cfg.Out, ">>> Review your images, then press Ctrl+C or wait <<<")
	if err := wait.Sleep(ctx, o.cfg.Hold); err != nil {
		fmt.Fprintln(o.cfg.Out, "Closing browser...")
		o.logger.Info().Msg("hold ended early")
		return fmt.Errorf("%w: %w", batch.ErrInterrupted, err)
	}
	return nil
}

func (o *Orchestrator) closeTab(tab browser.Page, name string) {
	if err := tab.Close(); err != nil {
		o.logger.Debug().Err(err).Str("section", name).Msg("close tab")
	}
}

// WriteReport stores res as indented JSON at path.
func WriteReport(path string, res batch.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// interrupted tags err with batch.ErrInterrupted when ctx is done, so the
// caller can tell a signal from a genuine failure.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, batch.ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", batch.ErrInterrupted, err)
}
