package claim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
)

const (
	DEFAULT_DIAGNOSTICS_DIR = "debug"
	DEFAULT_SHOT_TIMEOUT    = 10 * time.Second
)

// Diagnostics receives capture requests from the engine. Implementations are best effort:
// nothing they do may fail the run.
type Diagnostics interface {
	// Capture evidence of a failure: screenshot and page markup
	Capture(ctx context.Context, page browser.Page, cycle int, stage Stage)

	// Checkpoint is an informational screenshot, sinks may ignore it
	Checkpoint(ctx context.Context, page browser.Page, cycle int, stage Stage)
}

// NopDiagnostics drops every request.
type NopDiagnostics struct{}

func (NopDiagnostics) Capture(context.Context, browser.Page, int, Stage) {
}

func (NopDiagnostics) Checkpoint(context.Context, browser.Page, int, Stage) {
}

// FileSink writes captures into Dir/<run id>/cycle-NN-<stage>.{png,html}.
type FileSink struct {
	Dir         string
	RunID       string
	FullPage    bool
	ShotTimeout time.Duration

	// Also store checkpoint screenshots
	Progress bool

	logger *zap.Logger
}

func NewFileSink(dir string, fullPage bool, shotTimeout time.Duration, progress bool, logger *zap.Logger) *FileSink {
	if dir == "" {
		dir = DEFAULT_DIAGNOSTICS_DIR
	}
	if shotTimeout <= 0 {
		shotTimeout = DEFAULT_SHOT_TIMEOUT
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{
		Dir:         dir,
		RunID:       uuid.NewString(),
		FullPage:    fullPage,
		ShotTimeout: shotTimeout,
		Progress:    progress,
		logger:      logger,
	}
}

// RunDir is where this run's artifacts go.
func (s *FileSink) RunDir() string {
	return filepath.Join(s.Dir, s.RunID)
}

func (s *FileSink) Capture(ctx context.Context, page browser.Page, cycle int, stage Stage) {
	s.screenshot(ctx, page, cycle, stage)
	s.markup(ctx, page, cycle, stage)
}

func (s *FileSink) Checkpoint(ctx context.Context, page browser.Page, cycle int, stage Stage) {
	if s.Progress {
		s.screenshot(ctx, page, cycle, stage)
	}
}

func (s *FileSink) screenshot(ctx context.Context, page browser.Page, cycle int, stage Stage) {
	ctx, cancel := context.WithTimeout(ctx, s.ShotTimeout)
	defer cancel()

	shot, err := page.Screenshot(ctx, s.FullPage)
	if err != nil {
		s.logger.Warn("Screenshot skipped", zap.Int("cycle", cycle), zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	s.write(s.name(cycle, stage, "png"), shot)
}

func (s *FileSink) markup(ctx context.Context, page browser.Page, cycle int, stage Stage) {
	ctx, cancel := context.WithTimeout(ctx, s.ShotTimeout)
	defer cancel()

	html, err := page.HTML(ctx)
	if err != nil {
		s.logger.Warn("Markup dump skipped", zap.Int("cycle", cycle), zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	s.write(s.name(cycle, stage, "html"), []byte(html))
}

func (s *FileSink) name(cycle int, stage Stage, ext string) string {
	return filepath.Join(s.RunDir(), fmt.Sprintf("cycle-%02d-%s.%s", cycle, stage, ext))
}

func (s *FileSink) write(path string, data []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("Cannot create diagnostics dir", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("Cannot write diagnostic", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("Diagnostic saved", zap.String("path", path))
}
