package essay

import "strings"

// Breakdown is the rubric result for one essay.
type Breakdown struct {
	Content    float64 `json:"content"`
	Structure  float64 `json:"structure"`
	Grammar    float64 `json:"grammar"`
	Vocabulary float64 `json:"vocabulary"`
	Total      float64 `json:"total"`
	Grade      string  `json:"grade"`
}

// Scorer turns essay features into a rubric breakdown.
type Scorer struct {
	rubric Rubric
}

// NewScorer builds a scorer for rubric.
func NewScorer(rubric Rubric) *Scorer {
	return &Scorer{rubric: rubric}
}

// Rubric returns the tables the scorer was built with.
func (s *Scorer) Rubric() Rubric {
	return s.rubric
}

// Score computes the four sub-scores, their total and the letter grade.
func (s *Scorer) Score(text string, features Features) Breakdown {
	breakdown := Breakdown{
		Content:    s.content(features),
		Structure:  s.structure(features),
		Grammar:    s.grammar(text, features),
		Vocabulary: s.vocabulary(features),
	}
	breakdown.Total = breakdown.Content + breakdown.Structure + breakdown.Grammar + breakdown.Vocabulary
	breakdown.Grade = s.rubric.Grades.Assign(breakdown.Total)
	return breakdown
}

func (s *Scorer) content(f Features) float64 {
	rubric := s.rubric.Content
	score := rubric.Length.Lookup(float64(f.CharCount)) +
		rubric.Paragraphs.Lookup(float64(f.ParagraphCount)) +
		rubric.Richness.Lookup(f.VocabularyRichness)
	return clamp(score, rubric.Max)
}

func (s *Scorer) structure(f Features) float64 {
	rubric := s.rubric.Structure
	score := rubric.Paragraphs.Lookup(float64(f.ParagraphCount)) +
		rubric.Sentences.Lookup(float64(f.SentenceCount)) +
		rubric.AvgSentenceLength.Lookup(f.AvgSentenceLength)
	return clamp(score, rubric.Max)
}

func (s *Scorer) grammar(text string, f Features) float64 {
	rubric := s.rubric.Grammar
	score := rubric.Max
	if f.SentenceCount > 0 && rubric.PunctuationMarks != "" {
		marks := 0
		for _, r := range text {
			if strings.ContainsRune(rubric.PunctuationMarks, r) {
				marks++
			}
		}
		if float64(marks)/float64(f.SentenceCount) < rubric.MinPunctPerSent {
			score -= rubric.SparsePunctuation
		}
	}
	return clamp(score, rubric.Max)
}

func (s *Scorer) vocabulary(f Features) float64 {
	rubric := s.rubric.Vocabulary
	score := rubric.Richness.Lookup(f.VocabularyRichness) +
		rubric.Words.Lookup(float64(f.WordCount))
	return clamp(score, rubric.Max)
}

func clamp(score, limit float64) float64 {
	if score < 0 {
		return 0
	}
	if score > limit {
		return limit
	}
	return score
}

// Evaluate extracts features from text and scores them.
func (s *Scorer) Evaluate(text string) (Features, Breakdown) {
	features := Extract(text)
	return features, s.Score(text, features)
}
