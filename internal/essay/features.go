package essay

import (
	"strings"
	"unicode/utf8"
)

// sentenceTerminators lists the marks that end a sentence in mixed Chinese/English text.
const sentenceTerminators = "。！？.!?"

// Features holds the count-based statistics derived from an essay text.
type Features struct {
	CharCount          int     `json:"char_count"`
	WordCount          int     `json:"word_count"`
	SentenceCount      int     `json:"sentence_count"`
	ParagraphCount     int     `json:"paragraph_count"`
	VocabularyRichness float64 `json:"vocabulary_richness"`
	AvgSentenceLength  float64 `json:"avg_sentence_length"`
}

// Extract derives the feature set for text. Empty or whitespace-only input yields zero features.
func Extract(text string) Features {
	if strings.TrimSpace(text) == "" {
		return Features{}
	}

	charCount := utf8.RuneCountInString(text)
	tokens := strings.Fields(text)

	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(sentenceTerminators, r)
	})
	sentenceCount := countNonBlank(sentences)
	paragraphCount := countNonBlank(strings.Split(text, "\n"))

	features := Features{
		CharCount:      charCount,
		WordCount:      len(tokens),
		SentenceCount:  sentenceCount,
		ParagraphCount: paragraphCount,
	}

	if len(tokens) > 0 {
		distinct := make(map[string]struct{}, len(tokens))
		for _, token := range tokens {
			distinct[token] = struct{}{}
		}
		features.VocabularyRichness = float64(len(distinct)) / float64(len(tokens))
	}

	if sentenceCount > 0 {
		features.AvgSentenceLength = float64(charCount) / float64(sentenceCount)
	}

	return features
}

func countNonBlank(parts []string) int {
	count := 0
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}
