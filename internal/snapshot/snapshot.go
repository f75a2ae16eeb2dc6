package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/exam-opener/internal/browser"
)

// Artifact names. The first two are overwritten on every run; search
// failures get one file per exam.
const (
	LoginStatus   = "login_status"
	ExamPageDebug = "exam_page_debug"

	searchFailPrefix = "search_fail_"
	extension        = ".png"
)

// SearchFailure names the screenshot taken when no row matched an exam.
func SearchFailure(examID int) string {
	return fmt.Sprintf("%s%d", searchFailPrefix, examID)
}

// Summary is a compact view of current page.
type Summary struct {
	URL   string
	Title string
	// Path is empty when no screenshot was written.
	Path string
	At   time.Time
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\n", s.URL, s.Title)
	if s.Path != "" {
		fmt.Fprintf(&b, "SCREENSHOT: %s\n", s.Path)
	}
	return b.String()
}

// Collect samples the location and title of page without writing anything.
func Collect(ctx context.Context, page browser.Page) Summary {
	title, _ := page.Title()
	return Summary{
		URL:   page.URL(),
		Title: strings.TrimSpace(title),
		At:    time.Now(),
	}
}

// Recorder writes screenshots into a single directory.
type Recorder struct {
	dir    string
	logger zerolog.Logger
}

func NewRecorder(dir string, logger zerolog.Logger) *Recorder {
	return &Recorder{dir: dir, logger: logger}
}

// Dir is where artifacts are written.
func (r *Recorder) Dir() string {
	return r.dir
}

// PathFor returns the file an artifact called name is written to.
func (r *Recorder) PathFor(name string) string {
	return filepath.Join(r.dir, filepath.Base(name)+extension)
}

// Capture samples page and writes a screenshot called name. The summary is
// filled in even when the screenshot fails.
func (r *Recorder) Capture(ctx context.Context, page browser.Page, name string) (Summary, error) {
	sum := Collect(ctx, page)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return sum, fmt.Errorf("create artifact dir: %w", err)
	}
	path := r.PathFor(name)
	if err := page.Screenshot(path); err != nil {
		r.logger.Warn().Err(err).Str("name", name).Msg("screenshot failed")
		return sum, fmt.Errorf("screenshot %s: %w", name, err)
	}
	sum.Path = path
	r.logger.Debug().Str("path", path).Str("url", sum.URL).Msg("screenshot saved")
	return sum, nil
}
