package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/exam"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

var (
	// ErrExamKeyNotFound indicates the answer key cannot be located.
	ErrExamKeyNotFound = errors.New("exam key not found")
	// ErrExamGradingNotFound indicates the graded submission cannot be located.
	ErrExamGradingNotFound = errors.New("exam grading not found")
	// ErrInvalidItemName indicates a blank item name, or two names that collide once trimmed.
	ErrInvalidItemName = errors.New("invalid item name")
)

// ExamService manages answer keys and grades numeric exam submissions.
type ExamService interface {
	CreateKey(ctx context.Context, creatorID uint, payload dto.ExamKeyRequest) (dto.ExamKeyResponse, error)
	GetKey(ctx context.Context, id uint) (dto.ExamKeyResponse, error)
	Grade(ctx context.Context, keyID uint, payload dto.ExamGradeRequest) (dto.ExamGradingResponse, error)
	GetGrading(ctx context.Context, id uint) (dto.ExamGradingResponse, error)
	ListGradings(ctx context.Context, keyID uint, limit int) ([]dto.ExamGradingResponse, error)
	Report(ctx context.Context, id uint) (exam.Report, error)
}

type examGradedEvent struct {
	ID          uint    `json:"id"`
	ExamKeyID   uint    `json:"exam_key_id"`
	StudentID   string  `json:"student_id"`
	Total       float64 `json:"total"`
	MaxPossible float64 `json:"max_possible"`
}

type examService struct {
	repo      repository.ExamRepository
	policy    exam.Policy
	events    EventPublisher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewExamService constructs an exam service grading with policy.
func NewExamService(repo repository.ExamRepository, policy exam.Policy, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) ExamService {
	return &examService{
		repo:      repo,
		policy:    policy,
		events:    events,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "exam_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/exam"),
	}
}

func (s *examService) CreateKey(ctx context.Context, creatorID uint, payload dto.ExamKeyRequest) (dto.ExamKeyResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ExamKeyResponse{}, err
	}

	standard, err := normalizeItems(payload.StandardAnswer)
	if err != nil {
		return dto.ExamKeyResponse{}, err
	}

	grader := exam.NewGrader(s.policy)
	grader.SetStandardAnswer(standard)
	for _, criterion := range payload.Criteria {
		err := grader.AddCriterion(exam.Criterion{
			Item:      strings.TrimSpace(criterion.Item),
			MaxScore:  criterion.MaxScore,
			Tolerance: criterion.Tolerance,
		})
		if err != nil {
			return dto.ExamKeyResponse{}, err
		}
	}
	criteria := grader.Criteria()

	standardJSON, err := json.Marshal(standard)
	if err != nil {
		return dto.ExamKeyResponse{}, fmt.Errorf("encode standard answer: %w", err)
	}
	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return dto.ExamKeyResponse{}, fmt.Errorf("encode criteria: %w", err)
	}

	key := models.ExamKey{
		Title:          strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
		StandardAnswer: datatypes.JSON(standardJSON),
		Criteria:       datatypes.JSON(criteriaJSON),
		CreatedBy:      creatorID,
	}
	if err := s.repo.CreateKey(ctx, &key); err != nil {
		return dto.ExamKeyResponse{}, fmt.Errorf("store exam key: %w", err)
	}

	s.logger.Info().Uint("exam_key_id", key.ID).Int("criteria", len(criteria)).Msg("exam key created")

	return dto.ExamKeyResponse{
		ID:             key.ID,
		Title:          key.Title,
		StandardAnswer: exam.StandardAnswer(standard),
		Criteria:       criteria,
		CreatedBy:      key.CreatedBy,
		CreatedAt:      key.CreatedAt,
	}, nil
}

// normalizeItems trims item names so standard answers, criteria and submissions agree.
func normalizeItems(values map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(values))
	for name, value := range values {
		item := strings.TrimSpace(name)
		if item == "" {
			return nil, fmt.Errorf("%w: blank item", ErrInvalidItemName)
		}
		if _, dup := out[item]; dup {
			return nil, fmt.Errorf("%w: %q appears twice", ErrInvalidItemName, item)
		}
		out[item] = value
	}
	return out, nil
}

func (s *examService) GetKey(ctx context.Context, id uint) (dto.ExamKeyResponse, error) {
	key, standard, criteria, err := s.loadKey(ctx, id)
	if err != nil {
		return dto.ExamKeyResponse{}, err
	}
	return dto.ExamKeyResponse{
		ID:             key.ID,
		Title:          key.Title,
		StandardAnswer: standard,
		Criteria:       criteria,
		CreatedBy:      key.CreatedBy,
		CreatedAt:      key.CreatedAt,
	}, nil
}

func (s *examService) Grade(ctx context.Context, keyID uint, payload dto.ExamGradeRequest) (dto.ExamGradingResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ExamGradingResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "exams.grade", trace.WithAttributes(
		attribute.Int64("exam.key_id", int64(keyID)),
		attribute.Int("exam.answers", len(payload.Answers)),
	))
	defer span.End()

	_, standard, criteria, err := s.loadKey(ctx, keyID)
	if err != nil {
		span.RecordError(err)
		return dto.ExamGradingResponse{}, err
	}

	answers, err := normalizeItems(payload.Answers)
	if err != nil {
		span.RecordError(err)
		return dto.ExamGradingResponse{}, err
	}

	report := exam.Grade(standard, criteria, exam.Submission{
		Values:     answers,
		HasDiagram: payload.HasDiagram,
	}, s.policy)

	items := lineItemsFromReport(report)
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		span.RecordError(err)
		return dto.ExamGradingResponse{}, fmt.Errorf("encode line items: %w", err)
	}

	grading := models.ExamGrading{
		ExamKeyID:   keyID,
		StudentID:   strings.TrimSpace(s.sanitizer.Sanitize(payload.StudentID)),
		HasDiagram:  payload.HasDiagram,
		Total:       report.Total,
		MaxPossible: report.MaxPossible,
		Percentage:  report.Percentage(),
		LineItems:   datatypes.JSON(itemsJSON),
	}
	if err := s.repo.CreateGrading(ctx, &grading); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return dto.ExamGradingResponse{}, fmt.Errorf("store exam grading: %w", err)
	}

	span.SetAttributes(attribute.Float64("exam.percentage", grading.Percentage))
	observability.ExamGradings().Inc()
	observability.ExamPercentage().Observe(grading.Percentage)

	event := examGradedEvent{
		ID:          grading.ID,
		ExamKeyID:   keyID,
		StudentID:   grading.StudentID,
		Total:       grading.Total,
		MaxPossible: grading.MaxPossible,
	}
	if err := s.events.Publish(ctx, EventExamGraded, event); err != nil {
		s.logger.Warn().Err(err).Uint("grading_id", grading.ID).Msg("failed to publish exam graded event")
	}

	return newExamGradingResponse(grading, items), nil
}

func (s *examService) GetGrading(ctx context.Context, id uint) (dto.ExamGradingResponse, error) {
	grading, items, err := s.loadGrading(ctx, id)
	if err != nil {
		return dto.ExamGradingResponse{}, err
	}
	return newExamGradingResponse(grading, items), nil
}

func (s *examService) ListGradings(ctx context.Context, keyID uint, limit int) ([]dto.ExamGradingResponse, error) {
	if _, err := s.repo.GetKey(ctx, keyID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExamKeyNotFound
		}
		return nil, err
	}

	gradings, err := s.repo.ListGradings(ctx, keyID, limit)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ExamGradingResponse, 0, len(gradings))
	for _, grading := range gradings {
		var items []models.ExamLineItem
		if err := json.Unmarshal(grading.LineItems, &items); err != nil {
			return nil, fmt.Errorf("decode line items of grading %d: %w", grading.ID, err)
		}
		responses = append(responses, newExamGradingResponse(grading, items))
	}
	return responses, nil
}

func (s *examService) Report(ctx context.Context, id uint) (exam.Report, error) {
	grading, items, err := s.loadGrading(ctx, id)
	if err != nil {
		return exam.Report{}, err
	}
	return reportFromLineItems(grading, items), nil
}

func (s *examService) loadKey(ctx context.Context, id uint) (models.ExamKey, exam.StandardAnswer, []exam.Criterion, error) {
	key, err := s.repo.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamKey{}, nil, nil, ErrExamKeyNotFound
		}
		return models.ExamKey{}, nil, nil, err
	}

	standard := exam.StandardAnswer{}
	if err := json.Unmarshal(key.StandardAnswer, &standard); err != nil {
		return models.ExamKey{}, nil, nil, fmt.Errorf("decode standard answer of key %d: %w", id, err)
	}
	var criteria []exam.Criterion
	if err := json.Unmarshal(key.Criteria, &criteria); err != nil {
		return models.ExamKey{}, nil, nil, fmt.Errorf("decode criteria of key %d: %w", id, err)
	}
	return key, standard, criteria, nil
}

func (s *examService) loadGrading(ctx context.Context, id uint) (models.ExamGrading, []models.ExamLineItem, error) {
	grading, err := s.repo.GetGrading(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamGrading{}, nil, ErrExamGradingNotFound
		}
		return models.ExamGrading{}, nil, err
	}

	var items []models.ExamLineItem
	if err := json.Unmarshal(grading.LineItems, &items); err != nil {
		return models.ExamGrading{}, nil, fmt.Errorf("decode line items of grading %d: %w", id, err)
	}
	return grading, items, nil
}

func newExamGradingResponse(grading models.ExamGrading, items []models.ExamLineItem) dto.ExamGradingResponse {
	if items == nil {
		items = []models.ExamLineItem{}
	}
	return dto.ExamGradingResponse{
		ID:          grading.ID,
		ExamKeyID:   grading.ExamKeyID,
		StudentID:   grading.StudentID,
		HasDiagram:  grading.HasDiagram,
		Items:       items,
		Total:       grading.Total,
		MaxPossible: grading.MaxPossible,
		Percentage:  grading.Percentage,
		CreatedAt:   grading.CreatedAt,
	}
}

// lineItemsFromReport converts graded lines into their JSON-safe form. Infinite error rates
// become nil with a flag set.
func lineItemsFromReport(report exam.Report) []models.ExamLineItem {
	items := make([]models.ExamLineItem, 0, len(report.Items))
	for _, line := range report.Items {
		item := models.ExamLineItem{
			Item:          line.Item,
			MaxScore:      line.MaxScore,
			EarnedScore:   line.EarnedScore,
			StandardValue: line.StandardValue,
			StudentValue:  line.StudentValue,
			Unanswered:    line.Verdict == exam.VerdictUnanswered,
			Verdict:       string(line.Verdict),
			Feedback:      line.Feedback,
		}
		if line.StudentValue != nil {
			if line.ErrorRateInfinite() {
				item.ErrorRateInfinite = true
			} else {
				rate := line.ErrorRate
				item.ErrorRate = &rate
			}
		}
		items = append(items, item)
	}
	return items
}

func reportFromLineItems(grading models.ExamGrading, items []models.ExamLineItem) exam.Report {
	report := exam.Report{
		Items:       make([]exam.LineItem, 0, len(items)),
		Total:       grading.Total,
		MaxPossible: grading.MaxPossible,
	}
	for _, item := range items {
		line := exam.LineItem{
			Item:          item.Item,
			MaxScore:      item.MaxScore,
			EarnedScore:   item.EarnedScore,
			StandardValue: item.StandardValue,
			StudentValue:  item.StudentValue,
			Verdict:       exam.Verdict(item.Verdict),
			Feedback:      item.Feedback,
		}
		switch {
		case item.ErrorRate != nil:
			line.ErrorRate = *item.ErrorRate
		case item.Unanswered || item.ErrorRateInfinite:
			line.ErrorRate = math.Inf(1)
		}
		report.Items = append(report.Items, line)
	}
	return report
}
