package exam

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// DefaultTolerance is the relative tolerance applied when a criterion does not set one.
const DefaultTolerance = 0.05

var (
	// ErrDuplicateCriterion is returned when an item name is already graded in the session.
	ErrDuplicateCriterion = errors.New("criterion already defined")
	// ErrInvalidTolerance is returned when a tolerance falls outside (0, 1].
	ErrInvalidTolerance = errors.New("tolerance must be in (0, 1]")
	// ErrNegativeMaxScore is returned when a criterion awards negative points.
	ErrNegativeMaxScore = errors.New("max score must not be negative")
	// ErrInvalidPolicy is returned when a banding policy is malformed.
	ErrInvalidPolicy = errors.New("invalid grading policy")
)

// Verdict classifies a graded line item.
type Verdict string

const (
	VerdictCorrect          Verdict = "correct"
	VerdictMinorError       Verdict = "minor_error"
	VerdictComputationError Verdict = "computation_error"
	VerdictIncorrect        Verdict = "incorrect"
	VerdictUnanswered       Verdict = "unanswered"
	VerdictBonus            Verdict = "bonus"
)

// Criterion is one scorable quantity of an exam.
type Criterion struct {
	Item      string  `json:"item" mapstructure:"item"`
	MaxScore  float64 `json:"max_score" mapstructure:"max_score"`
	Tolerance float64 `json:"tolerance" mapstructure:"tolerance"`
}

// Validate checks the score and tolerance ranges.
func (c Criterion) Validate() error {
	if c.MaxScore < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeMaxScore, c.Item)
	}
	if !(c.Tolerance > 0 && c.Tolerance <= 1) {
		return fmt.Errorf("%w: %s has %v", ErrInvalidTolerance, c.Item, c.Tolerance)
	}
	return nil
}

// StandardAnswer maps an item name to its reference value.
type StandardAnswer map[string]float64

// Submission is a student's numeric answers. A missing item is unanswered.
type Submission struct {
	Values     map[string]float64 `json:"values"`
	HasDiagram bool               `json:"has_diagram"`
}

// LineItem is one entry of a grading report.
type LineItem struct {
	Item          string   `json:"item"`
	MaxScore      float64  `json:"max_score"`
	EarnedScore   float64  `json:"earned_score"`
	StandardValue *float64 `json:"standard_value,omitempty"`
	StudentValue  *float64 `json:"student_value,omitempty"`
	ErrorRate     float64  `json:"-"`
	Verdict       Verdict  `json:"verdict"`
	Feedback      string   `json:"feedback"`
}

// ErrorRateInfinite reports whether the error rate has no finite value.
func (l LineItem) ErrorRateInfinite() bool {
	return math.IsInf(l.ErrorRate, 1)
}

// Band awards Fraction of the max score when the error rate is at most Multiplier x tolerance.
type Band struct {
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
	Fraction   float64 `json:"fraction" mapstructure:"fraction"`
	Verdict    Verdict `json:"verdict" mapstructure:"verdict"`
	Feedback   string  `json:"feedback" mapstructure:"feedback"`
}

// Policy holds the banding table and the diagram bonus.
type Policy struct {
	Bands             []Band  `json:"bands" mapstructure:"bands"`
	IncorrectFeedback string  `json:"incorrect_feedback" mapstructure:"incorrect_feedback"`
	UnansweredNote    string  `json:"unanswered_feedback" mapstructure:"unanswered_feedback"`
	DiagramItem       string  `json:"diagram_item" mapstructure:"diagram_item"`
	DiagramBonus      float64 `json:"diagram_bonus" mapstructure:"diagram_bonus"`
	DiagramFeedback   string  `json:"diagram_feedback" mapstructure:"diagram_feedback"`
}

// DefaultPolicy grants full credit within tolerance, 70% within 3x and 30% within 10x.
func DefaultPolicy() Policy {
	return Policy{
		Bands: []Band{
			{Multiplier: 1, Fraction: 1, Verdict: VerdictCorrect, Feedback: "correct (error rate %.2f%%)"},
			{Multiplier: 3, Fraction: 0.7, Verdict: VerdictMinorError, Feedback: "minor error (error rate %.2f%%), partial credit"},
			{Multiplier: 10, Fraction: 0.3, Verdict: VerdictComputationError, Feedback: "large computation error (error rate %.2f%%), method credit only"},
		},
		IncorrectFeedback: "incorrect answer (error rate %.2f%%)",
		UnansweredNote:    "unanswered or unreadable",
		DiagramItem:       "phasor diagram",
		DiagramBonus:      2.0,
		DiagramFeedback:   "diagram drawn, bonus awarded",
	}
}

// Validate checks that bands are ordered by ascending multiplier.
func (p Policy) Validate() error {
	for i, band := range p.Bands {
		if band.Multiplier <= 0 || band.Fraction < 0 || band.Fraction > 1 {
			return fmt.Errorf("%w: band %d has multiplier %v fraction %v", ErrInvalidPolicy, i, band.Multiplier, band.Fraction)
		}
		if i > 0 && band.Multiplier < p.Bands[i-1].Multiplier {
			return fmt.Errorf("%w: band %d multiplier must ascend", ErrInvalidPolicy, i)
		}
	}
	if p.DiagramBonus < 0 {
		return fmt.Errorf("%w: diagram bonus must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Report is the itemized result of grading one submission.
type Report struct {
	Items       []LineItem `json:"items"`
	Total       float64    `json:"total"`
	MaxPossible float64    `json:"max_possible"`
}

// Percentage is Total over MaxPossible, scaled to 100. It is 0 when nothing is scorable.
func (r Report) Percentage() float64 {
	if r.MaxPossible == 0 {
		return 0
	}
	return r.Total / r.MaxPossible * 100
}

// ErrorRate is |standard - student| / |standard|. A zero standard yields 0 for a zero
// answer and +Inf otherwise.
func ErrorRate(standard, student float64) float64 {
	if standard == 0 {
		if student == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(standard-student) / math.Abs(standard)
}

// Grade scores sub against standard for every criterion in order. Criteria missing from
// the standard answer produce no line item.
func Grade(standard StandardAnswer, criteria []Criterion, sub Submission, policy Policy) Report {
	report := Report{Items: make([]LineItem, 0, len(criteria)+1)}

	for _, criterion := range criteria {
		reference, ok := standard[criterion.Item]
		if !ok {
			continue
		}
		stdValue := reference

		var item LineItem
		if value, answered := sub.Values[criterion.Item]; answered {
			studentValue := value
			item = gradeItem(criterion, reference, value, policy)
			item.StudentValue = &studentValue
		} else {
			item = LineItem{
				Item:      criterion.Item,
				MaxScore:  criterion.MaxScore,
				ErrorRate: math.Inf(1),
				Verdict:   VerdictUnanswered,
				Feedback:  policy.UnansweredNote,
			}
		}
		item.StandardValue = &stdValue
		report.append(item)
	}

	if sub.HasDiagram {
		report.append(LineItem{
			Item:        policy.DiagramItem,
			MaxScore:    policy.DiagramBonus,
			EarnedScore: policy.DiagramBonus,
			Verdict:     VerdictBonus,
			Feedback:    policy.DiagramFeedback,
		})
	}

	return report
}

func gradeItem(criterion Criterion, standard, student float64, policy Policy) LineItem {
	rate := ErrorRate(standard, student)
	item := LineItem{
		Item:      criterion.Item,
		MaxScore:  criterion.MaxScore,
		ErrorRate: rate,
		Verdict:   VerdictIncorrect,
		Feedback:  formatFeedback(policy.IncorrectFeedback, rate),
	}
	for _, band := range policy.Bands {
		if rate <= band.Multiplier*criterion.Tolerance {
			item.EarnedScore = criterion.MaxScore * band.Fraction
			item.Verdict = band.Verdict
			item.Feedback = formatFeedback(band.Feedback, rate)
			break
		}
	}
	return item
}

// rateVerb is the verb feedback templates use for the error rate percentage.
const rateVerb = "%.2f%%"

func formatFeedback(template string, rate float64) string {
	if !strings.Contains(template, "%") {
		return template
	}
	if math.IsInf(rate, 1) {
		if strings.Contains(template, rateVerb) {
			return fmt.Sprintf(strings.Replace(template, rateVerb, "%s", 1), "unbounded")
		}
		return fmt.Sprintf(template, rate)
	}
	return fmt.Sprintf(template, rate*100)
}

func (r *Report) append(item LineItem) {
	r.Items = append(r.Items, item)
	r.Total += item.EarnedScore
	r.MaxPossible += item.MaxScore
}

// Grader is a grading session: one standard answer plus an ordered criteria list.
type Grader struct {
	mu       sync.RWMutex
	policy   Policy
	standard StandardAnswer
	criteria []Criterion
	names    map[string]struct{}
}

// NewGrader returns an empty session using policy.
func NewGrader(policy Policy) *Grader {
	return &Grader{
		policy:   policy,
		standard: StandardAnswer{},
		names:    make(map[string]struct{}),
	}
}

// SetStandardAnswer replaces the reference values of the session.
func (g *Grader) SetStandardAnswer(answer StandardAnswer) {
	copied := make(StandardAnswer, len(answer))
	for item, value := range answer {
		copied[item] = value
	}

	g.mu.Lock()
	g.standard = copied
	g.mu.Unlock()
}

// AddCriterion appends a criterion. A zero tolerance takes DefaultTolerance.
func (g *Grader) AddCriterion(criterion Criterion) error {
	if criterion.Tolerance == 0 {
		criterion.Tolerance = DefaultTolerance
	}
	if err := criterion.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.names[criterion.Item]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCriterion, criterion.Item)
	}
	g.names[criterion.Item] = struct{}{}
	g.criteria = append(g.criteria, criterion)
	return nil
}

// Criteria returns the criteria in insertion order.
func (g *Grader) Criteria() []Criterion {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Criterion(nil), g.criteria...)
}

// Grade scores a submission against the session.
func (g *Grader) Grade(sub Submission) Report {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Grade(g.standard, g.criteria, sub, g.policy)
}
