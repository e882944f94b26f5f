package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dockerexec "github.com/noah-isme/gema-grading-api/pkg/docker"
)

// TesseractConfig configures the container-backed recogniser.
type TesseractConfig struct {
	Image         string
	Languages     string
	Timeout       time.Duration
	WorkingDir    string
	WorkspaceRoot string
}

// Tesseract recognises essays by running tesseract inside the docker sandbox.
type Tesseract struct {
	executor dockerexec.Executor
	cfg      TesseractConfig
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewTesseract builds a recogniser on top of executor.
func NewTesseract(executor dockerexec.Executor, cfg TesseractConfig, logger zerolog.Logger) *Tesseract {
	if cfg.Image == "" {
		cfg.Image = "jitesoft/tesseract-ocr:latest"
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng"
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}

	return &Tesseract{
		executor: executor,
		cfg:      cfg,
		logger:   logger.With().Str("component", "ocr_tesseract").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ocr"),
	}
}

// Recognize writes the image into a throwaway workspace and reads tesseract's TSV output.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, filename string) (Result, error) {
	ctx, span := t.tracer.Start(ctx, "ocr.tesseract.recognize", trace.WithAttributes(
		attribute.Int("ocr.image_bytes", len(image)),
		attribute.String("ocr.languages", t.cfg.Languages),
	))
	defer span.End()

	if t.executor == nil {
		err := errors.New("ocr executor not configured")
		span.RecordError(err)
		return Result{}, err
	}

	workspace, err := os.MkdirTemp(t.cfg.WorkspaceRoot, "essay-scan-*")
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			t.logger.Warn().Err(err).Str("workspace", workspace).Msg("failed to remove ocr workspace")
		}
	}()

	name := workspaceFileName(filename)
	if err := os.WriteFile(filepath.Join(workspace, name), image, 0o644); err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("write scan: %w", err)
	}

	output, err := t.executor.Run(ctx, dockerexec.Job{
		Image:     t.cfg.Image,
		Cmd:       t.command(name),
		Workspace: workspace,
		Timeout:   t.cfg.Timeout,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tesseract run failed")
		return Result{}, fmt.Errorf("run tesseract: %w", err)
	}
	if output.ExitCode != 0 {
		err := fmt.Errorf("tesseract exited with code %d: %s", output.ExitCode, strings.TrimSpace(output.Stderr))
		span.RecordError(err)
		span.SetStatus(codes.Error, "tesseract failed")
		return Result{}, err
	}

	result, err := ParseTSV(output.Stdout)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	span.SetAttributes(attribute.Float64("ocr.confidence", result.Confidence))
	t.logger.Debug().
		Int("chars", len([]rune(result.Text))).
		Float64("confidence", result.Confidence).
		Dur("duration", output.Duration).
		Msg("scan recognised")

	return result, nil
}

func (t *Tesseract) command(name string) []string {
	return []string{"tesseract", path.Join(t.cfg.WorkingDir, name), "stdout", "-l", t.cfg.Languages, "tsv"}
}

func workspaceFileName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return "scan" + ext
	default:
		return "scan.img"
	}
}
