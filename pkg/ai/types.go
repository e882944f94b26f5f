package ai

import (
	"context"
	"errors"
)

// ErrGradeNotInSet is returned when the model answers with a grade outside the label set.
var ErrGradeNotInSet = errors.New("model returned a grade outside the label set")

// LabelResult is the external labeler's verdict for one essay.
type LabelResult struct {
	Grade     string `json:"grade"`
	Rationale string `json:"rationale"`
}

// Labeler assigns one of labels to an essay text.
type Labeler interface {
	Label(ctx context.Context, text string, labels []string) (LabelResult, error)
}
