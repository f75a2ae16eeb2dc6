package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polzovatel/exam-opener/internal/batch"
	"github.com/polzovatel/exam-opener/internal/portal"
)

const (
	envURL           = "CONOVAMED_URL"
	envEmail         = "CONOVAMED_EMAIL"
	envPassword      = "CONOVAMED_PASSWORD"
	envExamsFile     = "CONOVAMED_EXAMS_FILE"
	envScreenshotDir = "CONOVAMED_SCREENSHOT_DIR"
	envHeadless      = "CONOVAMED_HEADLESS"

	DefaultURL = "https://www.conovamed.cn/"
)

var ErrInvalid = errors.New("invalid config")

// Config is everything a run needs. It is built once in main and passed
// down; nothing reads the environment after Load.
type Config struct {
	URL            string    `yaml:"url"`
	Email          string    `yaml:"email"`
	Password       string    `yaml:"password"`
	Headless       bool      `yaml:"headless"`
	ScreenshotDir  string    `yaml:"screenshot_dir"`
	ExamsFile      string    `yaml:"exams_file"`
	ExamsSheet     string    `yaml:"exams_sheet"`
	PostLoginPaths []string  `yaml:"post_login_paths"`
	Selectors      Selectors `yaml:"selectors"`
	Timing         Timing    `yaml:"timing"`
}

// Selectors override the markup the run depends on. Empty fields keep
// the built-in defaults.
type Selectors struct {
	SearchInputs     []string `yaml:"search_inputs"`
	SearchButton     string   `yaml:"search_button"`
	LoadingIndicator string   `yaml:"loading_indicator"`
	ImageManagement  []string `yaml:"image_management"`
	AllExams         []string `yaml:"all_exams"`
}

type Timing struct {
	LoginPoll       time.Duration `yaml:"login_poll"`
	LoginSlowAfter  int           `yaml:"login_slow_after"`
	PageLoad        time.Duration `yaml:"page_load"`
	NavigateSettle  time.Duration `yaml:"navigate_settle"`
	InputSettle     time.Duration `yaml:"input_settle"`
	LoadingPolls    int           `yaml:"loading_polls"`
	LoadingInterval time.Duration `yaml:"loading_interval"`
	LoadingBuffer   time.Duration `yaml:"loading_buffer"`
	RowAttempts     int           `yaml:"row_attempts"`
	RowInterval     time.Duration `yaml:"row_interval"`
	OpenSettle      time.Duration `yaml:"open_settle"`
}

func Default() Config {
	login := portal.DefaultLoginConfig()
	bt := batch.DefaultTiming()
	return Config{
		URL:            DefaultURL,
		ScreenshotDir:  "screenshots",
		ExamsFile:      "exams.xlsx",
		PostLoginPaths: login.PostLoginPaths,
		Timing: Timing{
			LoginPoll:       login.PollInterval,
			LoginSlowAfter:  login.SlowAfter,
			PageLoad:        login.LoadDelay,
			NavigateSettle:  3 * time.Second,
			InputSettle:     bt.InputSettle,
			LoadingPolls:    bt.LoadingPolls,
			LoadingInterval: bt.LoadingInterval,
			LoadingBuffer:   bt.LoadingBuffer,
			RowAttempts:     bt.RowAttempts,
			RowInterval:     bt.RowInterval,
			OpenSettle:      bt.OpenSettle,
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is
// not empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.URL, envURL)
	setString(&c.Email, envEmail)
	if v, ok := os.LookupEnv(envPassword); ok && v != "" {
		c.Password = v
	}
	setString(&c.ExamsFile, envExamsFile)
	setString(&c.ScreenshotDir, envScreenshotDir)
	c.Headless = parseBoolEnv(envHeadless, c.Headless)
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// Validate checks the config for a run. Credentials are optional when the
// session is restored from saved storage state.
func (c Config) Validate(haveStorage bool) error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if strings.TrimSpace(c.ScreenshotDir) == "" {
		return fmt.Errorf("%w: screenshot_dir is required", ErrInvalid)
	}
	if !haveStorage && c.Credentials().Empty() {
		return fmt.Errorf("%w: set %s and %s (or pass a storage state)", ErrInvalid, envEmail, envPassword)
	}
	if c.Timing.LoginPoll <= 0 {
		return fmt.Errorf("%w: timing.login_poll must be positive", ErrInvalid)
	}
	if c.Timing.RowAttempts < 1 {
		return fmt.Errorf("%w: timing.row_attempts must be at least 1", ErrInvalid)
	}
	if c.Timing.LoadingPolls < 0 {
		return fmt.Errorf("%w: timing.loading_polls must not be negative", ErrInvalid)
	}
	return nil
}

func (c Config) Credentials() portal.Credentials {
	return portal.Credentials{Email: strings.TrimSpace(c.Email), Password: c.Password}
}

func (c Config) Login() portal.LoginConfig {
	login := portal.DefaultLoginConfig()
	login.URL = c.URL
	login.Credentials = c.Credentials()
	login.PostLoginPaths = c.PostLoginPaths
	login.PollInterval = c.Timing.LoginPoll
	login.SlowAfter = c.Timing.LoginSlowAfter
	login.LoadDelay = c.Timing.PageLoad
	login.SettleDelay = c.Timing.PageLoad
	return login
}

func (c Config) Batch() batch.Config {
	sel := batch.DefaultSelectors()
	if len(c.Selectors.SearchInputs) > 0 {
		sel.SearchInputs = make([]batch.Lookup, 0, len(c.Selectors.SearchInputs))
		for _, s := range c.Selectors.SearchInputs {
			sel.SearchInputs = append(sel.SearchInputs, batch.BySelector(s))
		}
	}
	if c.Selectors.SearchButton != "" {
		sel.SearchButton = c.Selectors.SearchButton
	}
	if c.Selectors.LoadingIndicator != "" {
		sel.LoadingIndicator = c.Selectors.LoadingIndicator
	}
	return batch.Config{
		Selectors: sel,
		Timing: batch.Timing{
			InputSettle:     c.Timing.InputSettle,
			LoadingPolls:    c.Timing.LoadingPolls,
			LoadingInterval: c.Timing.LoadingInterval,
			LoadingBuffer:   c.Timing.LoadingBuffer,
			RowAttempts:     c.Timing.RowAttempts,
			RowInterval:     c.Timing.RowInterval,
			OpenSettle:      c.Timing.OpenSettle,
		},
	}
}

// Sections returns the two menu hops from the home page to the exam list.
func (c Config) Sections() (imageManagement, allExams portal.Section) {
	imageManagement, allExams = portal.ImageManagement, portal.AllExams
	if len(c.Selectors.ImageManagement) > 0 {
		imageManagement.Labels = c.Selectors.ImageManagement
	}
	if len(c.Selectors.AllExams) > 0 {
		allExams.Labels = c.Selectors.AllExams
	}
	return imageManagement, allExams
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
