package essay

import (
	"errors"
	"fmt"
)

// ErrInvalidRubric is returned when a rubric table is malformed.
var ErrInvalidRubric = errors.New("invalid rubric")

// Step awards Points when a value reaches Min.
type Step struct {
	Min    float64 `json:"min" mapstructure:"min"`
	Points float64 `json:"points" mapstructure:"points"`
}

// StepTable is scanned in order and the first step whose Min the value meets wins.
// Steps must be sorted by descending Min. Default applies when no step matches.
type StepTable struct {
	Steps   []Step  `json:"steps" mapstructure:"steps"`
	Default float64 `json:"default" mapstructure:"default"`
}

// Lookup returns the points awarded for value.
func (t StepTable) Lookup(value float64) float64 {
	for _, step := range t.Steps {
		if value >= step.Min {
			return step.Points
		}
	}
	return t.Default
}

func (t StepTable) validate(name string) error {
	for i := 1; i < len(t.Steps); i++ {
		if t.Steps[i].Min > t.Steps[i-1].Min {
			return fmt.Errorf("%w: %s steps must be in descending order", ErrInvalidRubric, name)
		}
	}
	return nil
}

// Window awards Points when Min <= value <= Max.
type Window struct {
	Min    float64 `json:"min" mapstructure:"min"`
	Max    float64 `json:"max" mapstructure:"max"`
	Points float64 `json:"points" mapstructure:"points"`
}

// WindowTable is scanned in order; the first window containing the value wins.
type WindowTable struct {
	Windows []Window `json:"windows" mapstructure:"windows"`
	Default float64  `json:"default" mapstructure:"default"`
}

// Lookup returns the points awarded for value.
func (t WindowTable) Lookup(value float64) float64 {
	for _, window := range t.Windows {
		if value >= window.Min && value <= window.Max {
			return window.Points
		}
	}
	return t.Default
}

func (t WindowTable) validate(name string) error {
	for _, window := range t.Windows {
		if window.Min > window.Max {
			return fmt.Errorf("%w: %s window [%v, %v] is empty", ErrInvalidRubric, name, window.Min, window.Max)
		}
	}
	return nil
}

// GradeThreshold maps the lowest total that earns Grade.
type GradeThreshold struct {
	Grade string  `json:"grade" mapstructure:"grade"`
	Min   float64 `json:"min" mapstructure:"min"`
}

// GradeScale is ordered by descending Min. The first threshold met wins; the last entry is
// the floor and is returned for any total below every threshold.
type GradeScale []GradeThreshold

// Assign returns the letter grade for total.
func (s GradeScale) Assign(total float64) string {
	for _, threshold := range s {
		if total >= threshold.Min {
			return threshold.Grade
		}
	}
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].Grade
}

// Labels lists the grades in scale order.
func (s GradeScale) Labels() []string {
	labels := make([]string, 0, len(s))
	for _, threshold := range s {
		labels = append(labels, threshold.Grade)
	}
	return labels
}

func (s GradeScale) validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: grade scale is empty", ErrInvalidRubric)
	}
	seen := make(map[string]struct{}, len(s))
	for i, threshold := range s {
		if threshold.Grade == "" {
			return fmt.Errorf("%w: grade scale entry %d has no grade", ErrInvalidRubric, i)
		}
		if _, dup := seen[threshold.Grade]; dup {
			return fmt.Errorf("%w: grade %q listed twice", ErrInvalidRubric, threshold.Grade)
		}
		seen[threshold.Grade] = struct{}{}
		if i > 0 && threshold.Min > s[i-1].Min {
			return fmt.Errorf("%w: grade scale must be in descending order", ErrInvalidRubric)
		}
	}
	return nil
}

// ContentRubric scores length, argument completeness and richness.
type ContentRubric struct {
	Max        float64   `json:"max" mapstructure:"max"`
	Length     StepTable `json:"length" mapstructure:"length"`
	Paragraphs StepTable `json:"paragraphs" mapstructure:"paragraphs"`
	Richness   StepTable `json:"richness" mapstructure:"richness"`
}

// StructureRubric scores paragraph layout and sentence rhythm.
type StructureRubric struct {
	Max               float64     `json:"max" mapstructure:"max"`
	Paragraphs        WindowTable `json:"paragraphs" mapstructure:"paragraphs"`
	Sentences         StepTable   `json:"sentences" mapstructure:"sentences"`
	AvgSentenceLength WindowTable `json:"avg_sentence_length" mapstructure:"avg_sentence_length"`
}

// GrammarRubric deducts from Max when punctuation is sparse.
type GrammarRubric struct {
	Max               float64 `json:"max" mapstructure:"max"`
	PunctuationMarks  string  `json:"punctuation_marks" mapstructure:"punctuation_marks"`
	MinPunctPerSent   float64 `json:"min_punctuation_per_sentence" mapstructure:"min_punctuation_per_sentence"`
	SparsePunctuation float64 `json:"sparse_punctuation_penalty" mapstructure:"sparse_punctuation_penalty"`
}

// VocabularyRubric scores lexical diversity and volume.
type VocabularyRubric struct {
	Max      float64   `json:"max" mapstructure:"max"`
	Richness StepTable `json:"richness" mapstructure:"richness"`
	Words    StepTable `json:"words" mapstructure:"words"`
}

// Rubric bundles every threshold the scorer consults.
type Rubric struct {
	Content    ContentRubric    `json:"content" mapstructure:"content"`
	Structure  StructureRubric  `json:"structure" mapstructure:"structure"`
	Grammar    GrammarRubric    `json:"grammar" mapstructure:"grammar"`
	Vocabulary VocabularyRubric `json:"vocabulary" mapstructure:"vocabulary"`
	Grades     GradeScale       `json:"grades" mapstructure:"grades"`
}

// DefaultGradeScale is the A+ to F letter scale on a 100 point total.
func DefaultGradeScale() GradeScale {
	return GradeScale{
		{Grade: "A+", Min: 90},
		{Grade: "A", Min: 80},
		{Grade: "B", Min: 70},
		{Grade: "C", Min: 60},
		{Grade: "D", Min: 50},
		{Grade: "F", Min: 0},
	}
}

// DefaultRubric returns the standard 35/25/25/15 essay rubric.
func DefaultRubric() Rubric {
	return Rubric{
		Content: ContentRubric{
			Max: 35,
			Length: StepTable{
				Steps:   []Step{{Min: 800, Points: 15}, {Min: 600, Points: 12}, {Min: 400, Points: 9}, {Min: 200, Points: 6}},
				Default: 3,
			},
			Paragraphs: StepTable{
				Steps:   []Step{{Min: 5, Points: 10}, {Min: 4, Points: 8}, {Min: 3, Points: 6}},
				Default: 4,
			},
			Richness: StepTable{
				Steps:   []Step{{Min: 0.6, Points: 10}, {Min: 0.5, Points: 8}, {Min: 0.4, Points: 6}},
				Default: 4,
			},
		},
		Structure: StructureRubric{
			Max: 25,
			Paragraphs: WindowTable{
				Windows: []Window{{Min: 4, Max: 6, Points: 10}, {Min: 3, Max: 7, Points: 8}},
				Default: 5,
			},
			Sentences: StepTable{
				Steps:   []Step{{Min: 15, Points: 10}, {Min: 10, Points: 8}, {Min: 5, Points: 6}},
				Default: 4,
			},
			AvgSentenceLength: WindowTable{
				Windows: []Window{{Min: 15, Max: 30, Points: 5}, {Min: 10, Max: 40, Points: 4}},
				Default: 3,
			},
		},
		Grammar: GrammarRubric{
			Max:               25,
			PunctuationMarks:  "，。！？、；：",
			MinPunctPerSent:   0.5,
			SparsePunctuation: 5,
		},
		Vocabulary: VocabularyRubric{
			Max: 15,
			Richness: StepTable{
				Steps:   []Step{{Min: 0.6, Points: 10}, {Min: 0.5, Points: 8}, {Min: 0.4, Points: 6}, {Min: 0.3, Points: 4}},
				Default: 2,
			},
			Words: StepTable{
				Steps:   []Step{{Min: 500, Points: 5}, {Min: 300, Points: 4}, {Min: 200, Points: 3}},
				Default: 2,
			},
		},
		Grades: DefaultGradeScale(),
	}
}

// Validate reports the first malformed table in the rubric.
func (r Rubric) Validate() error {
	checks := []error{
		r.Content.Length.validate("content.length"),
		r.Content.Paragraphs.validate("content.paragraphs"),
		r.Content.Richness.validate("content.richness"),
		r.Structure.Paragraphs.validate("structure.paragraphs"),
		r.Structure.Sentences.validate("structure.sentences"),
		r.Structure.AvgSentenceLength.validate("structure.avg_sentence_length"),
		r.Vocabulary.Richness.validate("vocabulary.richness"),
		r.Vocabulary.Words.validate("vocabulary.words"),
		r.Grades.validate(),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	maxima := map[string]float64{
		"content":    r.Content.Max,
		"structure":  r.Structure.Max,
		"grammar":    r.Grammar.Max,
		"vocabulary": r.Vocabulary.Max,
	}
	for name, ceiling := range maxima {
		if ceiling < 0 {
			return fmt.Errorf("%w: %s max must not be negative", ErrInvalidRubric, name)
		}
	}
	return nil
}

// MaxTotal is the highest total the rubric can award.
func (r Rubric) MaxTotal() float64 {
	return r.Content.Max + r.Structure.Max + r.Grammar.Max + r.Vocabulary.Max
}
