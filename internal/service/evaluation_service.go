package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/evaluation"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

const evaluationStreamBuffer = 8

var (
	// ErrEvaluationNotFound indicates the evaluation session cannot be located.
	ErrEvaluationNotFound = errors.New("evaluation session not found")
	// ErrInvalidLabelSet indicates a session label set with blank or repeated labels.
	ErrInvalidLabelSet = errors.New("invalid label set")
	// ErrLabelNotInSet indicates a predicted or actual label is outside the session label set.
	ErrLabelNotInSet = errors.New("label not in session label set")
	// ErrLabelerUnavailable indicates the external labeler is not configured.
	ErrLabelerUnavailable = errors.New("external labeler unavailable")
	// ErrLabelerFailed indicates the external labeler could not produce a usable grade.
	ErrLabelerFailed = errors.New("external labeler failed")
)

// EvaluationService accumulates predicted/actual grade pairs per session and reports
// classification metrics over them.
type EvaluationService interface {
	Create(ctx context.Context, creatorID uint, payload dto.EvaluationSessionRequest) (dto.EvaluationSessionResponse, error)
	Get(ctx context.Context, id string) (dto.EvaluationSessionResponse, error)
	AddResult(ctx context.Context, id string, payload dto.EvaluationResultRequest) (dto.EvaluationPairResponse, error)
	Label(ctx context.Context, id string, payload dto.EvaluationLabelRequest) (dto.EvaluationPairResponse, error)
	Metrics(ctx context.Context, id string) (dto.EvaluationMetricsResponse, error)
	Subscribe(id string) (<-chan dto.EvaluationMetricsResponse, func())
	Start(ctx context.Context) error
}

// EvaluationServiceConfig tunes the metrics cache.
type EvaluationServiceConfig struct {
	MetricsCacheTTL time.Duration
}

type evaluationResultEvent struct {
	SessionID string `json:"session_id"`
	PairID    uint   `json:"pair_id"`
	Sequence  int    `json:"sequence"`
	Predicted string `json:"predicted"`
	Actual    string `json:"actual"`
	Source    string `json:"source"`
}

type evaluationSession struct {
	mu       sync.Mutex
	model    models.EvaluationSession
	labels   []string
	labelSet map[string]struct{}
	acc      *evaluation.Accumulator
	seen     map[uint]struct{}
}

type evaluationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.EvaluationMetricsResponse]struct{}
}

type evaluationService struct {
	repo       repository.EvaluationRepository
	scorer     *essay.Scorer
	labeler    ai.Labeler
	redis      *redis.Client
	events     EventPublisher
	subscriber EventSubscriber
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	cacheTTL   time.Duration
	broker     *evaluationBroker

	mu       sync.Mutex
	sessions map[string]*evaluationSession
}

// NewEvaluationService constructs an evaluation service. labeler, redisClient and
// subscriber may be nil.
func NewEvaluationService(repo repository.EvaluationRepository, scorer *essay.Scorer, labeler ai.Labeler, redisClient *redis.Client, events EventPublisher, subscriber EventSubscriber, validate *validator.Validate, logger zerolog.Logger, cfg EvaluationServiceConfig) EvaluationService {
	if cfg.MetricsCacheTTL <= 0 {
		cfg.MetricsCacheTTL = 2 * time.Minute
	}
	return &evaluationService{
		repo:       repo,
		scorer:     scorer,
		labeler:    labeler,
		redis:      redisClient,
		events:     events,
		subscriber: subscriber,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "evaluation_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/evaluation"),
		cacheTTL:   cfg.MetricsCacheTTL,
		broker: &evaluationBroker{
			subscribers: make(map[string]map[chan dto.EvaluationMetricsResponse]struct{}),
		},
		sessions: make(map[string]*evaluationSession),
	}
}

// Start consumes result events from other nodes until ctx is cancelled.
func (s *evaluationService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		return nil
	}
	return s.subscriber.Subscribe(ctx, EventEvaluationResultAdded, s.handleEvent)
}

func (s *evaluationService) Create(ctx context.Context, creatorID uint, payload dto.EvaluationSessionRequest) (dto.EvaluationSessionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.EvaluationSessionResponse{}, err
	}

	labels, err := normalizeLabels(payload.Labels)
	if err != nil {
		return dto.EvaluationSessionResponse{}, err
	}

	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return dto.EvaluationSessionResponse{}, fmt.Errorf("encode labels: %w", err)
	}

	model := models.EvaluationSession{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(s.sanitizer.Sanitize(payload.Name)),
		Labels:    datatypes.JSON(labelsJSON),
		CreatedBy: creatorID,
	}
	if err := s.repo.CreateSession(ctx, &model); err != nil {
		return dto.EvaluationSessionResponse{}, fmt.Errorf("store evaluation session: %w", err)
	}

	session := newEvaluationSession(model, labels, nil)
	s.mu.Lock()
	s.sessions[model.ID] = session
	s.mu.Unlock()

	s.logger.Info().Str("session_id", model.ID).Strs("labels", labels).Msg("evaluation session created")

	return session.response(), nil
}

// normalizeLabels trims every label and keeps the caller's order. Blank or repeated labels
// after trimming are rejected; an empty set falls back to the default grades.
func normalizeLabels(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return append([]string(nil), evaluation.DefaultLabels...), nil
	}

	labels := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, label := range raw {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("%w: blank label", ErrInvalidLabelSet)
		}
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidLabelSet, label)
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels, nil
}

func (s *evaluationService) Get(ctx context.Context, id string) (dto.EvaluationSessionResponse, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return dto.EvaluationSessionResponse{}, err
	}
	return session.response(), nil
}

func (s *evaluationService) AddResult(ctx context.Context, id string, payload dto.EvaluationResultRequest) (dto.EvaluationPairResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.EvaluationPairResponse{}, err
	}
	return s.record(ctx, id, strings.TrimSpace(payload.Predicted), strings.TrimSpace(payload.Actual), models.PairSourceManual)
}

func (s *evaluationService) Label(ctx context.Context, id string, payload dto.EvaluationLabelRequest) (dto.EvaluationPairResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.EvaluationPairResponse{}, err
	}

	session, err := s.session(ctx, id)
	if err != nil {
		return dto.EvaluationPairResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "evaluations.label", trace.WithAttributes(
		attribute.String("evaluation.session_id", id),
		attribute.String("evaluation.labeler", payload.Labeler),
	))
	defer span.End()

	var predicted, source string
	switch payload.Labeler {
	case dto.LabelerAI:
		if s.labeler == nil {
			span.RecordError(ErrLabelerUnavailable)
			return dto.EvaluationPairResponse{}, ErrLabelerUnavailable
		}
		result, err := s.labeler.Label(ctx, payload.Text, session.labels)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "labeler failed")
			return dto.EvaluationPairResponse{}, fmt.Errorf("%w: %v", ErrLabelerFailed, err)
		}
		predicted, source = result.Grade, models.PairSourceAI
	default:
		_, breakdown := s.scorer.Evaluate(payload.Text)
		predicted, source = breakdown.Grade, models.PairSourceRubric
	}
	span.SetAttributes(attribute.String("evaluation.predicted", predicted))

	return s.record(ctx, id, predicted, strings.TrimSpace(payload.Actual), source)
}

func (s *evaluationService) record(ctx context.Context, id, predicted, actual, source string) (dto.EvaluationPairResponse, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return dto.EvaluationPairResponse{}, err
	}
	for _, label := range []string{predicted, actual} {
		if !session.has(label) {
			return dto.EvaluationPairResponse{}, fmt.Errorf("%w: %q", ErrLabelNotInSet, label)
		}
	}

	session.mu.Lock()
	pair := models.EvaluationPair{
		SessionID: id,
		Sequence:  session.acc.Len() + 1,
		Predicted: predicted,
		Actual:    actual,
		Source:    source,
	}
	if err := s.repo.AppendPair(ctx, &pair); err != nil {
		session.mu.Unlock()
		return dto.EvaluationPairResponse{}, fmt.Errorf("store evaluation pair: %w", err)
	}
	session.acc.Add(predicted, actual)
	session.seen[pair.ID] = struct{}{}
	session.mu.Unlock()

	outcome := "mismatch"
	if predicted == actual {
		outcome = "match"
	}
	observability.EvaluationPairs().WithLabelValues(source, outcome).Inc()

	event := evaluationResultEvent{
		SessionID: id,
		PairID:    pair.ID,
		Sequence:  pair.Sequence,
		Predicted: predicted,
		Actual:    actual,
		Source:    source,
	}
	if err := s.events.Publish(ctx, EventEvaluationResultAdded, event); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("failed to publish evaluation result event")
	}

	s.broadcast(id, session)

	return dto.EvaluationPairResponse{
		ID:        pair.ID,
		SessionID: id,
		Sequence:  pair.Sequence,
		Predicted: predicted,
		Actual:    actual,
		Source:    source,
	}, nil
}

func (s *evaluationService) Metrics(ctx context.Context, id string) (dto.EvaluationMetricsResponse, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return dto.EvaluationMetricsResponse{}, err
	}

	pairs := session.acc.Pairs()
	cacheKey := fmt.Sprintf("evaluation:%s:metrics:%d", id, len(pairs))

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var report evaluation.Report
			if err := json.Unmarshal([]byte(cached), &report); err == nil {
				observability.MetricsCache().WithLabelValues("hit").Inc()
				return dto.EvaluationMetricsResponse{SessionID: id, Report: report, CacheHit: true}, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to read evaluation metrics cache")
		}
		observability.MetricsCache().WithLabelValues("miss").Inc()
	}

	report := evaluation.Calculate(pairs, session.labels)

	if s.redis != nil {
		if payload, err := json.Marshal(report); err == nil {
			if err := s.redis.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache evaluation metrics")
			}
		}
	}

	return dto.EvaluationMetricsResponse{SessionID: id, Report: report}, nil
}

func (s *evaluationService) Subscribe(id string) (<-chan dto.EvaluationMetricsResponse, func()) {
	channel := make(chan dto.EvaluationMetricsResponse, evaluationStreamBuffer)

	s.broker.subscribe(id, channel)
	observability.MetricsStreamsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(id, channel)
			observability.MetricsStreamsActive().Dec()
		})
	}
	return channel, cleanup
}

func (s *evaluationService) handleEvent(event Event) {
	if event.Source == s.events.NodeID() {
		return
	}

	var payload evaluationResultEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("invalid evaluation result event payload")
		return
	}
	observability.GradingEventsReceived().WithLabelValues(event.Type).Inc()

	s.mu.Lock()
	session, ok := s.sessions[payload.SessionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	session.mu.Lock()
	if _, dup := session.seen[payload.PairID]; dup {
		session.mu.Unlock()
		return
	}
	session.seen[payload.PairID] = struct{}{}
	session.acc.Add(payload.Predicted, payload.Actual)
	session.mu.Unlock()

	s.broadcast(payload.SessionID, session)
}

// session returns the in-memory state for id, hydrating it from the repository on first use.
func (s *evaluationService) session(ctx context.Context, id string) (*evaluationSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return session, nil
	}

	model, err := s.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}

	var labels []string
	if err := json.Unmarshal(model.Labels, &labels); err != nil {
		return nil, fmt.Errorf("decode labels of session %s: %w", id, err)
	}

	stored, err := s.repo.ListPairs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load pairs of session %s: %w", id, err)
	}

	hydrated := newEvaluationSession(model, labels, stored)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing, nil
	}
	s.sessions[id] = hydrated
	return hydrated, nil
}

func (s *evaluationService) broadcast(id string, session *evaluationSession) {
	report := session.acc.Calculate(session.labels)
	s.broker.broadcast(id, dto.EvaluationMetricsResponse{SessionID: id, Report: report})
}

func newEvaluationSession(model models.EvaluationSession, labels []string, stored []models.EvaluationPair) *evaluationSession {
	labelSet := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		labelSet[label] = struct{}{}
	}

	pairs := make([]evaluation.Pair, 0, len(stored))
	seen := make(map[uint]struct{}, len(stored))
	for _, pair := range stored {
		pairs = append(pairs, evaluation.Pair{Predicted: pair.Predicted, Actual: pair.Actual})
		seen[pair.ID] = struct{}{}
	}

	return &evaluationSession{
		model:    model,
		labels:   labels,
		labelSet: labelSet,
		acc:      evaluation.NewAccumulator(pairs...),
		seen:     seen,
	}
}

func (e *evaluationSession) has(label string) bool {
	_, ok := e.labelSet[label]
	return ok
}

func (e *evaluationSession) response() dto.EvaluationSessionResponse {
	return dto.EvaluationSessionResponse{
		ID:        e.model.ID,
		Name:      e.model.Name,
		Labels:    append([]string(nil), e.labels...),
		Results:   e.acc.Len(),
		CreatedAt: e.model.CreatedAt,
	}
}

func (b *evaluationBroker) subscribe(id string, ch chan dto.EvaluationMetricsResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		b.subscribers[id] = make(map[chan dto.EvaluationMetricsResponse]struct{})
	}
	b.subscribers[id][ch] = struct{}{}
}

func (b *evaluationBroker) unsubscribe(id string, ch chan dto.EvaluationMetricsResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[id]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, id)
		}
	}
}

func (b *evaluationBroker) broadcast(id string, snapshot dto.EvaluationMetricsResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[id] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
