package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ocr"
)

var (
	// ErrEssayNotFound indicates the essay cannot be located.
	ErrEssayNotFound = errors.New("essay not found")
	// ErrOCRUnavailable indicates no recogniser is configured for scans.
	ErrOCRUnavailable = errors.New("ocr unavailable")
	// ErrScanTooLarge indicates the scan exceeded the configured limit.
	ErrScanTooLarge = errors.New("scan exceeds maximum allowed size")
	// ErrScanTypeNotAllowed indicates the scan is not a supported image.
	ErrScanTypeNotAllowed = errors.New("scan must be a png, jpeg, tiff, bmp, gif or webp image")
	// ErrEmptyRecognition indicates OCR found no text in the scan.
	ErrEmptyRecognition = errors.New("no text recognised in scan")
)

var allowedScanTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/tiff": {},
	"image/bmp":  {},
	"image/gif":  {},
	"image/webp": {},
}

// ScanArchive keeps a copy of uploaded essay scans.
type ScanArchive interface {
	Store(ctx context.Context, name string, image []byte) (string, error)
}

// EssayService scores essays typed in or recognised from scans.
type EssayService interface {
	Score(ctx context.Context, payload dto.EssayScoreRequest) (dto.EssayResponse, error)
	Scan(ctx context.Context, payload dto.EssayScanRequest, scan dto.EssayScan) (dto.EssayResponse, error)
	Get(ctx context.Context, id uint) (dto.EssayResponse, error)
	List(ctx context.Context, limit int) ([]dto.EssayResponse, error)
}

// EssayServiceConfig holds the scan limits.
type EssayServiceConfig struct {
	MaxScanMB int
}

type essayScoredEvent struct {
	ID     uint    `json:"id"`
	Source string  `json:"source"`
	Total  float64 `json:"total"`
	Grade  string  `json:"grade"`
}

type essayService struct {
	repo       repository.EssayRepository
	scorer     *essay.Scorer
	recognizer ocr.Recognizer
	archive    ScanArchive
	events     EventPublisher
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	maxScan    int64
}

// NewEssayService constructs an essay service. recognizer and archive may be nil.
func NewEssayService(repo repository.EssayRepository, scorer *essay.Scorer, recognizer ocr.Recognizer, archive ScanArchive, events EventPublisher, validate *validator.Validate, logger zerolog.Logger, cfg EssayServiceConfig) EssayService {
	if cfg.MaxScanMB <= 0 {
		cfg.MaxScanMB = 8
	}
	return &essayService{
		repo:       repo,
		scorer:     scorer,
		recognizer: recognizer,
		archive:    archive,
		events:     events,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "essay_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/essay"),
		maxScan:    int64(cfg.MaxScanMB) * 1024 * 1024,
	}
}

func (s *essayService) Score(ctx context.Context, payload dto.EssayScoreRequest) (dto.EssayResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.EssayResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "essays.score")
	defer span.End()

	submission := models.EssaySubmission{
		Title:       s.clean(payload.Title),
		StudentName: s.clean(payload.StudentName),
		Source:      models.EssaySourceText,
		Text:        payload.Text,
	}
	return s.scoreAndStore(ctx, span, submission)
}

func (s *essayService) Scan(ctx context.Context, payload dto.EssayScanRequest, scan dto.EssayScan) (dto.EssayResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.EssayResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "essays.scan", trace.WithAttributes(
		attribute.Int("scan.bytes", len(scan.Data)),
		attribute.Int64("scan.max_bytes", s.maxScan),
	))
	defer span.End()

	if int64(len(scan.Data)) > s.maxScan {
		return dto.EssayResponse{}, s.reject(span, "size", ErrScanTooLarge)
	}

	detected := mimetype.Detect(scan.Data)
	mime := strings.ToLower(strings.TrimSpace(strings.Split(detected.String(), ";")[0]))
	span.SetAttributes(attribute.String("scan.detected_mime", mime))
	if _, ok := allowedScanTypes[mime]; !ok {
		return dto.EssayResponse{}, s.reject(span, "type", ErrScanTypeNotAllowed)
	}

	if s.recognizer == nil {
		return dto.EssayResponse{}, s.reject(span, "ocr_unavailable", ErrOCRUnavailable)
	}

	submission := models.EssaySubmission{
		Title:       s.clean(payload.Title),
		StudentName: s.clean(payload.StudentName),
		Source:      models.EssaySourceScan,
	}

	start := time.Now()
	result, err := s.recognizer.Recognize(ctx, scan.Data, scan.Filename)
	observability.OCRLatency().Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ocr.ErrNoText) {
			return dto.EssayResponse{}, s.reject(span, "empty", ErrEmptyRecognition)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognition failed")
		return dto.EssayResponse{}, fmt.Errorf("recognise scan: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return dto.EssayResponse{}, s.reject(span, "empty", ErrEmptyRecognition)
	}

	confidence := result.Confidence
	submission.Text = text
	submission.OCRConfidence = &confidence
	span.SetAttributes(attribute.Float64("scan.ocr_confidence", confidence))

	// Only scans that produced text are archived.
	if s.archive != nil {
		url, err := s.archive.Store(ctx, scan.Filename, scan.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("filename", scan.Filename).Msg("failed to archive essay scan")
		} else {
			submission.ScanURL = url
		}
	}

	return s.scoreAndStore(ctx, span, submission)
}

func (s *essayService) scoreAndStore(ctx context.Context, span trace.Span, submission models.EssaySubmission) (dto.EssayResponse, error) {
	features, breakdown := s.scorer.Evaluate(submission.Text)
	submission.SetResult(features, breakdown)

	span.SetAttributes(
		attribute.String("essay.source", submission.Source),
		attribute.Float64("essay.total", breakdown.Total),
		attribute.String("essay.grade", breakdown.Grade),
	)

	if err := s.repo.Create(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return dto.EssayResponse{}, fmt.Errorf("store essay: %w", err)
	}

	observability.EssaysScored().WithLabelValues(submission.Source, breakdown.Grade).Inc()

	event := essayScoredEvent{ID: submission.ID, Source: submission.Source, Total: breakdown.Total, Grade: breakdown.Grade}
	if err := s.events.Publish(ctx, EventEssayScored, event); err != nil {
		s.logger.Warn().Err(err).Uint("essay_id", submission.ID).Msg("failed to publish essay scored event")
	}

	s.logger.Info().
		Uint("essay_id", submission.ID).
		Str("source", submission.Source).
		Float64("total", breakdown.Total).
		Str("grade", breakdown.Grade).
		Msg("essay scored")

	return dto.NewEssayResponse(submission, true), nil
}

func (s *essayService) Get(ctx context.Context, id uint) (dto.EssayResponse, error) {
	submission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.EssayResponse{}, ErrEssayNotFound
		}
		return dto.EssayResponse{}, err
	}
	return dto.NewEssayResponse(submission, true), nil
}

func (s *essayService) List(ctx context.Context, limit int) ([]dto.EssayResponse, error) {
	submissions, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.EssayResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, dto.NewEssayResponse(submission, false))
	}
	return responses, nil
}

func (s *essayService) reject(span trace.Span, reason string, err error) error {
	observability.ScanRejected().WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

func (s *essayService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}
