package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/evaluation"
)

// Labelers accepted by the label endpoint.
const (
	LabelerRubric = "rubric"
	LabelerAI     = "ai"
)

// EvaluationSessionRequest opens an evaluation session. Labels default to A+ through F.
type EvaluationSessionRequest struct {
	Name   string   `json:"name" validate:"required,max=255"`
	Labels []string `json:"labels" validate:"omitempty,unique,dive,required,max=16"`
}

// EvaluationResultRequest records one predicted/actual pair.
type EvaluationResultRequest struct {
	Predicted string `json:"predicted" validate:"required,max=16"`
	Actual    string `json:"actual" validate:"required,max=16"`
}

// EvaluationLabelRequest asks a labeler to grade a text and records the outcome.
type EvaluationLabelRequest struct {
	Text    string `json:"text" validate:"required"`
	Actual  string `json:"actual" validate:"required,max=16"`
	Labeler string `json:"labeler" validate:"required,oneof=rubric ai"`
}

// EvaluationSessionResponse describes an evaluation session.
type EvaluationSessionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Labels    []string  `json:"labels"`
	Results   int       `json:"results"`
	CreatedAt time.Time `json:"created_at"`
}

// EvaluationPairResponse describes a recorded pair.
type EvaluationPairResponse struct {
	ID        uint   `json:"id"`
	SessionID string `json:"session_id"`
	Sequence  int    `json:"sequence"`
	Predicted string `json:"predicted"`
	Actual    string `json:"actual"`
	Source    string `json:"source"`
}

// EvaluationMetricsResponse wraps a metrics report for a session.
type EvaluationMetricsResponse struct {
	SessionID string            `json:"session_id"`
	Report    evaluation.Report `json:"report"`
	CacheHit  bool              `json:"cache_hit"`
}
