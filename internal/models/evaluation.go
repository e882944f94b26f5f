package models

import (
	"time"

	"gorm.io/datatypes"
)

// Evaluation pair sources.
const (
	PairSourceManual = "manual"
	PairSourceRubric = "rubric"
	PairSourceAI     = "ai"
)

// EvaluationSession groups predicted/actual grade pairs over a fixed label set.
type EvaluationSession struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	Labels    datatypes.JSON `json:"labels"`
	CreatedBy uint           `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// EvaluationPair is one recorded observation. Sequence follows submission order.
type EvaluationPair struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;not null;index" json:"session_id"`
	Sequence  int       `gorm:"not null" json:"sequence"`
	Predicted string    `gorm:"size:16;not null" json:"predicted"`
	Actual    string    `gorm:"size:16;not null" json:"actual"`
	Source    string    `gorm:"size:16;not null" json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
