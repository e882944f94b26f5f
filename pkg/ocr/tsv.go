package ocr

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// tesseract TSV columns.
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	tsvColumns
)

const wordLevel = "5"

type paragraphKey struct {
	page, block, par string
}

// ParseTSV rebuilds text from tesseract's TSV output. Words with a negative confidence are
// dropped. Words of a line and lines of a paragraph are joined with single spaces and
// paragraphs are separated by newlines, so paragraph structure survives recognition.
func ParseTSV(raw string) (Result, error) {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		paragraphs [][]string
		current    paragraphKey
		started    bool
		confSum    float64
		words      int
	)

	header := true
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			header = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}

		fields := strings.Split(line, "\t")
		if len(fields) < tsvColumns || fields[colLevel] != wordLevel {
			continue
		}

		conf, err := strconv.ParseFloat(strings.TrimSpace(fields[colConf]), 64)
		if err != nil {
			return Result{}, fmt.Errorf("parse confidence %q: %w", fields[colConf], err)
		}
		word := strings.Join(strings.Fields(fields[colText]), " ")
		if conf < 0 || word == "" {
			continue
		}

		key := paragraphKey{page: fields[colPage], block: fields[colBlock], par: fields[colPar]}
		if !started || key != current {
			paragraphs = append(paragraphs, nil)
			current = key
			started = true
		}
		last := len(paragraphs) - 1
		paragraphs[last] = append(paragraphs[last], word)

		confSum += conf
		words++
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("read tsv: %w", err)
	}

	if words == 0 {
		return Result{}, ErrNoText
	}

	lines := make([]string, 0, len(paragraphs))
	for _, paragraph := range paragraphs {
		lines = append(lines, strings.Join(paragraph, " "))
	}

	return Result{
		Text:       strings.TrimSpace(strings.Join(lines, "\n")),
		Confidence: confSum / float64(words) / 100,
	}, nil
}
