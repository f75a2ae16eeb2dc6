package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/exam-opener/internal/batch"
	"github.com/polzovatel/exam-opener/internal/browser"
	"github.com/polzovatel/exam-opener/internal/browser/browsertest"
	"github.com/polzovatel/exam-opener/internal/portal"
)

type fakeAuth struct {
	err   error
	calls int
}

func (f *fakeAuth) Login(ctx context.Context, page browser.Page) error {
	f.calls++
	return f.err
}

type fakeNav struct {
	tabs   map[string]*browsertest.Page
	errs   map[string]error
	opened []string
}

func (f *fakeNav) Open(ctx context.Context, page browser.Page, section portal.Section) (browser.Page, error) {
	f.opened = append(f.opened, section.Name)
	if err := f.errs[section.Name]; err != nil {
		return nil, err
	}
	return f.tabs[section.Name], nil
}

type fakeProc struct {
	page browser.Page
	res  batch.Result
	err  error
	run  func(ctx context.Context)
}

func (f *fakeProc) Run(ctx context.Context, page browser.Page, ids []batch.ExamID) (batch.Result, error) {
	f.page = page
	if f.run != nil {
		f.run(ctx)
	}
	return f.res, f.err
}

type fixture struct {
	auth    *fakeAuth
	nav     *fakeNav
	proc    *fakeProc
	root    *browsertest.Page
	section *browsertest.Page
	list    *browsertest.Page
	out     strings.Builder
	states  []State
}

func newFixture() *fixture {
	f := &fixture{
		auth:    &fakeAuth{},
		root:    browsertest.New("https://portal.example.test/#/home"),
		section: browsertest.New("https://portal.example.test/image/#/index"),
		list:    browsertest.New("https://portal.example.test/image/#/exams"),
	}
	f.nav = &fakeNav{
		tabs: map[string]*browsertest.Page{
			portal.ImageManagement.Name: f.section,
			portal.AllExams.Name:        f.list,
		},
		errs: map[string]error{},
	}
	var res batch.Result
	res.Record(27473, batch.Outcome{Status: batch.StatusSuccess})
	res.Record(27472, batch.Outcome{Status: batch.StatusSuccess})
	res.Record(27471, batch.Outcome{Status: batch.StatusRowNotFound})
	f.proc = &fakeProc{res: res}
	return f
}

func (f *fixture) orchestrator(cfg Config) *Orchestrator {
	cfg.ImageManagement = portal.ImageManagement
	cfg.AllExams = portal.AllExams
	cfg.Out = &f.out
	cfg.OnState = func(s State) { f.states = append(f.states, s) }
	return New(cfg, f.auth, f.nav, f.proc, zerolog.Nop())
}

var ids = []batch.ExamID{27473, 27472, 27471}

func TestRunHappyPath(t *testing.T) {
	f := newFixture()
	report := filepath.Join(t.TempDir(), "out", "report.json")
	o := f.orchestrator(Config{ReportPath: report})

	res, err := o.Run(context.Background(), f.root, ids)
	require.NoError(t, err)

	assert.Equal(t, []batch.ExamID{27473, 27472}, res.Succeeded)
	assert.Equal(t, []batch.ExamID{27471}, res.Failed)
	assert.Equal(t, []State{
		Authenticating, NavigatingSectionA, NavigatingSectionB,
		ProcessingBatch, Reporting, HoldOpen, Terminated,
	}, f.states)
	assert.Equal(t, Terminated, o.State())

	assert.Same(t, f.list, f.proc.page)
	assert.True(t, f.section.Closed)
	assert.True(t, f.list.Closed)
	assert.False(t, f.root.Closed)

	out := f.out.String()
	assert.Contains(t, out, "[1/4] Logging in...")
	assert.Contains(t, out, "[4/4] Opening 3 exams...")
	assert.Contains(t, out, "Done! Opened 2/3 exams")
	assert.Contains(t, out, "27471: row not found")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var saved batch.Result
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, res, saved)
}

func TestRunNavigationFailure(t *testing.T) {
	f := newFixture()
	f.nav.errs[portal.AllExams.Name] = portal.ErrNavigation
	o := f.orchestrator(Config{})

	res, err := o.Run(context.Background(), f.root, ids)
	assert.ErrorIs(t, err, portal.ErrNavigation)
	assert.NotErrorIs(t, err, batch.ErrInterrupted)
	assert.Zero(t, res.Processed())
	assert.Nil(t, f.proc.page)
	assert.True(t, f.section.Closed)
	assert.Equal(t, NavigatingSectionB, f.states[len(f.states)-2])
	assert.NotContains(t, f.out.String(), "Done!")
}

func TestRunLoginFailure(t *testing.T) {
	f := newFixture()
	f.auth.err = portal.ErrAuthentication
	o := f.orchestrator(Config{})

	_, err := o.Run(context.Background(), f.root, ids)
	assert.ErrorIs(t, err, portal.ErrAuthentication)
	assert.Empty(t, f.nav.opened)
	assert.Equal(t, []State{Authenticating, Terminated}, f.states)
}

func TestRunInterruptedDuringLogin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture()
	f.auth.err = context.Canceled
	o := f.orchestrator(Config{})

	_, err := o.Run(ctx, f.root, ids)
	assert.ErrorIs(t, err, batch.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunInterruptedBatchSkipsReport(t *testing.T) {
	f := newFixture()
	f.proc.err = batch.ErrInterrupted
	report := filepath.Join(t.TempDir(), "report.json")
	o := f.orchestrator(Config{ReportPath: report, Hold: time.Hour})

	_, err := o.Run(context.Background(), f.root, ids)
	assert.ErrorIs(t, err, batch.ErrInterrupted)
	assert.NotContains(t, f.out.String(), "Done!")
	assert.NoFileExists(t, report)
	assert.True(t, f.section.Closed)
	assert.True(t, f.list.Closed)
	assert.NotContains(t, f.states, Reporting)
}

func TestInterruptDuringHold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture()
	report := filepath.Join(t.TempDir(), "report.json")
	o := f.orchestrator(Config{Hold: time.Hour, ReportPath: report})
	f.cfgHoldCancel(o, cancel)

	done := make(chan struct{})
	var (
		res batch.Result
		err error
	)
	go func() {
		defer close(done)
		res, err = o.Run(ctx, f.root, ids)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hold did not end on cancel")
	}
	assert.ErrorIs(t, err, batch.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []batch.ExamID{27473, 27472}, res.Succeeded)
	assert.Contains(t, f.out.String(), "Done! Opened 2/3 exams")
	assert.Contains(t, f.out.String(), "Closing browser...")
	assert.FileExists(t, report)
	assert.True(t, f.list.Closed)
	assert.Equal(t, Terminated, f.states[len(f.states)-1])
}

// cfgHoldCancel cancels the run as soon as it enters HoldOpen.
func (f *fixture) cfgHoldCancel(o *Orchestrator, cancel context.CancelFunc) {
	o.cfg.OnState = func(s State) {
		f.states = append(f.states, s)
		if s == HoldOpen {
			cancel()
		}
	}
}

func TestAfterLoginHook(t *testing.T) {
	f := newFixture()
	calls := 0
	o := f.orchestrator(Config{AfterLogin: func(context.Context) error {
		calls++
		return errors.New("disk full")
	}})

	_, err := o.Run(context.Background(), f.root, ids)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHoldRunsFullDuration(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Config{Hold: time.Millisecond})

	_, err := o.Run(context.Background(), f.root, ids)
	require.NoError(t, err)
	assert.NotContains(t, f.out.String(), "Closing browser...")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "processing batch", ProcessingBatch.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestLoginProgress(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Config{})

	o.LoginProgress(portal.Progress{Poll: 1})
	o.LoginProgress(portal.Progress{Poll: 2})
	o.LoginProgress(portal.Progress{Poll: 30, Slow: true})
	o.LoginProgress(portal.Progress{Poll: 31, LoggedIn: true})

	assert.Equal(t, "  Waiting for login...\n  ⚠ Login taking long - complete CAPTCHA if shown\n", f.out.String())
}
