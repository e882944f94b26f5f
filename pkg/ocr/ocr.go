package ocr

import (
	"context"
	"errors"
)

// ErrNoText is returned when recognition produced no usable words.
var ErrNoText = errors.New("no text recognised")

// Result is the recognised text and the recogniser's mean confidence in [0, 1].
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer turns an essay image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, filename string) (Result, error)
}
