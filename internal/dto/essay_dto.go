package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/models"
)

// EssayScoreRequest is the JSON payload for scoring a typed essay.
type EssayScoreRequest struct {
	Title       string `json:"title" validate:"omitempty,max=255"`
	StudentName string `json:"student_name" validate:"omitempty,max=255"`
	Text        string `json:"text" validate:"required"`
}

// EssayScanRequest carries the form fields sent alongside a scanned essay.
type EssayScanRequest struct {
	Title       string `form:"title" validate:"omitempty,max=255"`
	StudentName string `form:"student_name" validate:"omitempty,max=255"`
}

// EssayScan is the uploaded image handed to the essay service.
type EssayScan struct {
	Filename string
	Data     []byte
}

// EssayResponse describes a scored essay.
type EssayResponse struct {
	ID            uint            `json:"id"`
	Title         string          `json:"title"`
	StudentName   string          `json:"student_name"`
	Source        string          `json:"source"`
	Text          string          `json:"text,omitempty"`
	ScanURL       string          `json:"scan_url,omitempty"`
	OCRConfidence *float64        `json:"ocr_confidence,omitempty"`
	Features      essay.Features  `json:"features"`
	Scores        essay.Breakdown `json:"scores"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEssayResponse converts a stored submission into a DTO.
func NewEssayResponse(model models.EssaySubmission, includeText bool) EssayResponse {
	response := EssayResponse{
		ID:            model.ID,
		Title:         model.Title,
		StudentName:   model.StudentName,
		Source:        model.Source,
		ScanURL:       model.ScanURL,
		OCRConfidence: model.OCRConfidence,
		Features:      model.Features(),
		Scores:        model.Breakdown(),
		CreatedAt:     model.CreatedAt,
	}
	if includeText {
		response.Text = model.Text
	}
	return response
}
