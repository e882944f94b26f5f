package models

import (
	"time"

	"gorm.io/datatypes"
)

// ExamKey is a grading session definition: the standard answer and ordered criteria.
type ExamKey struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Title          string         `gorm:"size:255;not null" json:"title"`
	StandardAnswer datatypes.JSON `json:"standard_answer"`
	Criteria       datatypes.JSON `json:"criteria"`
	CreatedBy      uint           `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ExamLineItem is the persisted form of one graded line. ErrorRate is nil when the rate
// has no finite value.
type ExamLineItem struct {
	Item              string   `json:"item"`
	MaxScore          float64  `json:"max_score"`
	EarnedScore       float64  `json:"earned_score"`
	StandardValue     *float64 `json:"standard_value"`
	StudentValue      *float64 `json:"student_value"`
	ErrorRate         *float64 `json:"error_rate"`
	ErrorRateInfinite bool     `json:"error_rate_infinite"`
	Unanswered        bool     `json:"unanswered"`
	Verdict           string   `json:"verdict"`
	Feedback          string   `json:"feedback"`
}

// ExamGrading stores the graded report for one student submission.
type ExamGrading struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ExamKeyID   uint           `gorm:"not null;index" json:"exam_key_id"`
	StudentID   string         `gorm:"size:64;index" json:"student_id"`
	HasDiagram  bool           `json:"has_diagram"`
	Total       float64        `json:"total"`
	MaxPossible float64        `json:"max_possible"`
	Percentage  float64        `json:"percentage"`
	LineItems   datatypes.JSON `json:"line_items"`
	CreatedAt   time.Time      `json:"created_at"`
}
