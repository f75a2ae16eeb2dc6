package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polzovatel/exam-opener/internal/batch"
	"github.com/polzovatel/exam-opener/internal/browser"
	"github.com/polzovatel/exam-opener/internal/config"
	"github.com/polzovatel/exam-opener/internal/orchestrator"
	"github.com/polzovatel/exam-opener/internal/portal"
	"github.com/polzovatel/exam-opener/internal/snapshot"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

type cliOptions struct {
	count      int
	ids        string
	holdMins   int
	configPath string
	storage    string
	saveState  string
	report     string
	verbose    bool
}

func main() {
	os.Exit(run())
}

func run() (code int) {
	_ = godotenv.Load()
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logger := log.With().Str("run", uuid.NewString()).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("unhandled panic")
			fmt.Printf("\n\n❌ Error: %v\n", r)
			code = exitFailure
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	stopOnDone(ctx, stop)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error().Err(err).Msg("load config")
		return exitFailure
	}
	if err := cfg.Validate(opts.storage != ""); err != nil {
		logger.Error().Err(err).Msg("config")
		return exitFailure
	}

	ids, err := resolveIDs(cfg, opts)
	if err != nil {
		logger.Error().Err(err).Msg("resolve exam IDs")
	}
	if len(ids) == 0 {
		fmt.Println("✗ No exam IDs found!")
		return exitFailure
	}
	printBanner(os.Stdout, ids)

	launcher, err := browser.NewLauncher(ctx, browser.Options{Headless: cfg.Headless})
	if err != nil {
		logger.Error().Err(err).Msg("browser init")
		return exitCode(ctx, batch.Result{}, err)
	}
	defer launcher.Close()

	session, err := launcher.NewSession(ctx, opts.storage)
	if err != nil {
		logger.Error().Err(err).Msg("browser session")
		return exitCode(ctx, batch.Result{}, err)
	}
	defer session.Close()
	if session.Restored() {
		logger.Info().Str("path", opts.storage).Msg("storage state loaded")
	}

	page, err := session.NewPage(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("open page")
		return exitCode(ctx, batch.Result{}, err)
	}
	defer page.Close()

	shots := snapshot.NewRecorder(cfg.ScreenshotDir, logger.With().Str("comp", "snapshot").Logger())
	auth := portal.NewAuthenticator(cfg.Login(), shots, logger.With().Str("comp", "auth").Logger())
	nav := portal.NewNavigator(cfg.Timing.NavigateSettle, logger.With().Str("comp", "nav").Logger())

	batchCfg := cfg.Batch()
	batchCfg.Out = os.Stdout
	proc := batch.NewProcessor(batchCfg, shots, logger.With().Str("comp", "batch").Logger())

	imageManagement, allExams := cfg.Sections()
	orchCfg := orchestrator.Config{
		ImageManagement: imageManagement,
		AllExams:        allExams,
		Hold:            time.Duration(opts.holdMins) * time.Minute,
		ReportPath:      opts.report,
		Out:             os.Stdout,
	}
	if opts.saveState != "" {
		orchCfg.AfterLogin = func(ctx context.Context) error {
			if err := session.SaveState(ctx, opts.saveState); err != nil {
				return err
			}
			logger.Info().Str("path", opts.saveState).Msg("storage saved")
			return nil
		}
	}
	orch := orchestrator.New(orchCfg, auth, nav, proc, logger.With().Str("comp", "orch").Logger())
	auth.OnProgress(orch.LoginProgress)

	res, err := orch.Run(ctx, page, ids)
	code = exitCode(ctx, res, err)
	switch code {
	case exitInterrupted:
		fmt.Println("\n\n⚠ Interrupted by user")
	case exitOK:
		if len(res.Failed) == 0 {
			fmt.Println("\n✅ All exams opened successfully!")
		} else {
			fmt.Println("\n⚠ Some exams opened")
		}
	default:
		if err != nil {
			logger.Error().Err(err).Msg("run finished with error")
			fmt.Printf("\n\n❌ Error: %v\n", err)
		} else {
			fmt.Println("\n❌ Failed to open exams")
		}
	}
	return code
}

// stopOnDone calls stop once ctx is done. Passed the stop of
// signal.NotifyContext, it restores default signal handling after the
// first signal, so a second Ctrl+C kills a teardown that hangs.
func stopOnDone(ctx context.Context, stop func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
	}()
	return done
}

// exitCode maps the outcome of a run onto the process status. A signal
// received at any point before the run returned counts as an interrupt.
func exitCode(ctx context.Context, res batch.Result, err error) int {
	switch {
	case errors.Is(err, batch.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	case ctx.Err() != nil:
		return exitInterrupted
	case err != nil:
		return exitFailure
	case len(res.Succeeded) > 0:
		return exitOK
	default:
		return exitFailure
	}
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("examopener", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.count, "count", 10, "Number of exam IDs to take from the Excel work list")
	fs.IntVar(&opts.count, "n", 10, "Shorthand for --count")
	fs.StringVar(&opts.ids, "ids", "", "Comma-separated exam IDs, overrides --count")
	fs.IntVar(&opts.holdMins, "time", 30, "Minutes to keep the browser open after the batch")
	fs.IntVar(&opts.holdMins, "t", 30, "Shorthand for --time")
	fs.StringVar(&opts.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.storage, "storage", "", "Path to Playwright storage state")
	fs.StringVar(&opts.saveState, "save-state", "", "Path to save storage state after login")
	fs.StringVar(&opts.report, "report", "", "Path to write the batch result as JSON")
	fs.BoolVar(&opts.verbose, "verbose", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
		fmt.Fprintln(stderr, err)
		return cliOptions{}, err
	}
	opts.ids = strings.TrimSpace(opts.ids)
	opts.configPath = strings.TrimSpace(opts.configPath)
	opts.storage = strings.TrimSpace(opts.storage)
	opts.saveState = strings.TrimSpace(opts.saveState)
	opts.report = strings.TrimSpace(opts.report)
	if opts.count < 1 {
		err := fmt.Errorf("--count must be at least 1")
		fmt.Fprintln(stderr, err)
		return cliOptions{}, err
	}
	if opts.holdMins < 0 {
		err := fmt.Errorf("--time must not be negative")
		fmt.Fprintln(stderr, err)
		return cliOptions{}, err
	}
	return opts, nil
}

func resolveIDs(cfg config.Config, opts cliOptions) ([]batch.ExamID, error) {
	if opts.ids != "" {
		fmt.Printf("Using specified exam IDs: %s\n", opts.ids)
		return config.ParseIDs(opts.ids)
	}
	fmt.Printf("Loading first %d exam IDs from %s\n", opts.count, cfg.ExamsFile)
	return cfg.SampleExamIDs(opts.count)
}

func printBanner(w io.Writer, ids []batch.ExamID) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "  ConovaMed Batch Exam Opener")
	fmt.Fprintf(w, "  Opening %d exams\n", len(ids))
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Exam IDs: %v\n\n", ids)
}
