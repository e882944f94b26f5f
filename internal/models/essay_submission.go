package models

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/essay"
)

// Essay submission sources.
const (
	EssaySourceText = "text"
	EssaySourceScan = "scan"
)

// EssaySubmission stores a scored essay with its features and rubric breakdown.
type EssaySubmission struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Title              string    `gorm:"size:255" json:"title"`
	StudentName        string    `gorm:"size:255;index" json:"student_name"`
	Source             string    `gorm:"size:16;not null" json:"source"`
	Text               string    `gorm:"type:text" json:"text"`
	ScanURL            string    `gorm:"size:512" json:"scan_url"`
	OCRConfidence      *float64  `json:"ocr_confidence"`
	CharCount          int       `json:"char_count"`
	WordCount          int       `json:"word_count"`
	SentenceCount      int       `json:"sentence_count"`
	ParagraphCount     int       `json:"paragraph_count"`
	VocabularyRichness float64   `json:"vocabulary_richness"`
	AvgSentenceLength  float64   `json:"avg_sentence_length"`
	ContentScore       float64   `json:"content_score"`
	StructureScore     float64   `json:"structure_score"`
	GrammarScore       float64   `json:"grammar_score"`
	VocabularyScore    float64   `json:"vocabulary_score"`
	TotalScore         float64   `json:"total_score"`
	Grade              string    `gorm:"size:8;index" json:"grade"`
	CreatedAt          time.Time `json:"created_at"`
}

// SetResult copies the feature set and breakdown onto the record.
func (e *EssaySubmission) SetResult(features essay.Features, breakdown essay.Breakdown) {
	e.CharCount = features.CharCount
	e.WordCount = features.WordCount
	e.SentenceCount = features.SentenceCount
	e.ParagraphCount = features.ParagraphCount
	e.VocabularyRichness = features.VocabularyRichness
	e.AvgSentenceLength = features.AvgSentenceLength
	e.ContentScore = breakdown.Content
	e.StructureScore = breakdown.Structure
	e.GrammarScore = breakdown.Grammar
	e.VocabularyScore = breakdown.Vocabulary
	e.TotalScore = breakdown.Total
	e.Grade = breakdown.Grade
}

// Features rebuilds the stored feature set.
func (e EssaySubmission) Features() essay.Features {
	return essay.Features{
		CharCount:          e.CharCount,
		WordCount:          e.WordCount,
		SentenceCount:      e.SentenceCount,
		ParagraphCount:     e.ParagraphCount,
		VocabularyRichness: e.VocabularyRichness,
		AvgSentenceLength:  e.AvgSentenceLength,
	}
}

// Breakdown rebuilds the stored rubric breakdown.
func (e EssaySubmission) Breakdown() essay.Breakdown {
	return essay.Breakdown{
		Content:    e.ContentScore,
		Structure:  e.StructureScore,
		Grammar:    e.GrammarScore,
		Vocabulary: e.VocabularyScore,
		Total:      e.TotalScore,
		Grade:      e.Grade,
	}
}
