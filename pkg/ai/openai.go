package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	labelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grader",
		Subsystem: "ai",
		Name:      "label_duration_seconds",
		Help:      "Duration of external labeling requests",
	}, []string{"model"})

	labelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "ai",
		Name:      "label_failures_total",
		Help:      "Number of external labeling failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI labeler.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAILabeler implements Labeler against the OpenAI chat completion API.
type OpenAILabeler struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAILabeler builds a labeler using the provided configuration.
func NewOpenAILabeler(cfg OpenAIConfig) (*OpenAILabeler, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 256
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAILabeler{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_labeler").Logger(),
	}, nil
}

// Label asks the model for a letter grade and checks it against labels.
func (l *OpenAILabeler) Label(parent context.Context, text string, labels []string) (LabelResult, error) {
	ctx, span := l.tracer.Start(parent, "openai.label", trace.WithAttributes(
		attribute.String("model", l.cfg.Model),
		attribute.Int("essay.chars", len([]rune(text))),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       l.cfg.Model,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: labelerSystemPrompt(labels)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := l.client.CreateChatCompletion(ctx, request)
	labelDuration.WithLabelValues(l.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return LabelResult{}, l.fail(span, fmt.Errorf("openai label: %w", err))
	}
	if len(resp.Choices) == 0 {
		return LabelResult{}, l.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	result, err := parseLabelResponse(resp.Choices[0].Message.Content, labels)
	if err != nil {
		return LabelResult{}, l.fail(span, err)
	}

	span.SetAttributes(attribute.String("essay.grade", result.Grade))
	l.logger.Debug().Str("grade", result.Grade).Int("tokens", resp.Usage.TotalTokens).Msg("essay labeled")

	return result, nil
}

func (l *OpenAILabeler) fail(span trace.Span, err error) error {
	labelFailures.WithLabelValues(l.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func labelerSystemPrompt(labels []string) string {
	return "You grade student essays. Judge content, structure, grammar and vocabulary, then pick exactly one grade from: " +
		strings.Join(labels, ", ") +
		`. Respond with a JSON object {"grade": "<grade>", "rationale": "<one sentence>"}.`
}

func parseLabelResponse(content string, labels []string) (LabelResult, error) {
	var data LabelResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &data); err != nil {
		return LabelResult{}, fmt.Errorf("parse label json: %w", err)
	}

	grade := strings.TrimSpace(data.Grade)
	for _, label := range labels {
		if strings.EqualFold(grade, label) {
			data.Grade = label
			return data, nil
		}
	}
	return LabelResult{}, fmt.Errorf("%w: %q", ErrGradeNotInSet, data.Grade)
}
