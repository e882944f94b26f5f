package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/exam"
	"github.com/noah-isme/gema-grading-api/internal/models"
)

// ExamCriterionRequest describes one scorable item of an answer key.
type ExamCriterionRequest struct {
	Item      string  `json:"item" validate:"required,max=128"`
	MaxScore  float64 `json:"max_score" validate:"gte=0"`
	Tolerance float64 `json:"tolerance" validate:"gte=0,lte=1"`
}

// ExamKeyRequest creates an answer key: the standard answer and ordered criteria.
type ExamKeyRequest struct {
	Title          string                 `json:"title" validate:"required,max=255"`
	StandardAnswer map[string]float64     `json:"standard_answer" validate:"required,min=1"`
	Criteria       []ExamCriterionRequest `json:"criteria" validate:"required,min=1,unique=Item,dive"`
}

// ExamGradeRequest is a student's numeric answers for an answer key.
type ExamGradeRequest struct {
	StudentID  string             `json:"student_id" validate:"required,max=64"`
	Answers    map[string]float64 `json:"answers"`
	HasDiagram bool               `json:"has_diagram"`
}

// ExamKeyResponse describes a stored answer key.
type ExamKeyResponse struct {
	ID             uint                `json:"id"`
	Title          string              `json:"title"`
	StandardAnswer exam.StandardAnswer `json:"standard_answer"`
	Criteria       []exam.Criterion    `json:"criteria"`
	CreatedBy      uint                `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ExamGradingResponse describes a graded submission.
type ExamGradingResponse struct {
	ID          uint                  `json:"id"`
	ExamKeyID   uint                  `json:"exam_key_id"`
	StudentID   string                `json:"student_id"`
	HasDiagram  bool                  `json:"has_diagram"`
	Items       []models.ExamLineItem `json:"items"`
	Total       float64               `json:"total"`
	MaxPossible float64               `json:"max_possible"`
	Percentage  float64               `json:"percentage"`
	CreatedAt   time.Time             `json:"created_at"`
}
