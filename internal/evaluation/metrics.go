package evaluation

import "sync"

// DefaultLabels is the letter-grade label set in display order.
var DefaultLabels = []string{"A+", "A", "B", "C", "D", "F"}

// Pair is one predicted/actual grade observation.
type Pair struct {
	Predicted string `json:"predicted"`
	Actual    string `json:"actual"`
}

// LabelMetrics holds the per-class scores for one label.
type LabelMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is the classification-quality summary over a label set.
type Report struct {
	Labels            []string       `json:"labels"`
	ConfusionMatrix   [][]int        `json:"confusion_matrix"`
	PerLabel          []LabelMetrics `json:"per_label"`
	MacroPrecision    float64        `json:"macro_precision"`
	MacroRecall       float64        `json:"macro_recall"`
	MacroF1           float64        `json:"macro_f1"`
	WeightedPrecision float64        `json:"weighted_precision"`
	WeightedRecall    float64        `json:"weighted_recall"`
	WeightedF1        float64        `json:"weighted_f1"`
	Accuracy          float64        `json:"accuracy"`
	Total             int            `json:"total"`
	NoData            bool           `json:"no_data"`
}

// Calculate builds the report for pairs over labels. Rows of the confusion matrix are
// actual labels, columns predicted labels, both in labels order. Pairs whose labels fall
// outside the set still count toward Total and Accuracy.
func Calculate(pairs []Pair, labels []string) Report {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	labels = append([]string(nil), labels...)

	index := make(map[string]int, len(labels))
	for i, label := range labels {
		if _, seen := index[label]; !seen {
			index[label] = i
		}
	}

	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}

	matches := 0
	for _, pair := range pairs {
		if pair.Predicted == pair.Actual {
			matches++
		}
		row, rowOK := index[pair.Actual]
		col, colOK := index[pair.Predicted]
		if rowOK && colOK {
			matrix[row][col]++
		}
	}

	report := Report{
		Labels:          labels,
		ConfusionMatrix: matrix,
		PerLabel:        make([]LabelMetrics, len(labels)),
		Total:           len(pairs),
		NoData:          len(pairs) == 0,
	}

	totalSupport := 0
	for i, label := range labels {
		rowSum, colSum := 0, 0
		for j := range labels {
			rowSum += matrix[i][j]
			colSum += matrix[j][i]
		}
		hit := matrix[i][i]

		metrics := LabelMetrics{
			Label:     label,
			Precision: ratio(hit, colSum),
			Recall:    ratio(hit, rowSum),
			Support:   rowSum,
		}
		metrics.F1 = f1(metrics.Precision, metrics.Recall)
		report.PerLabel[i] = metrics

		report.MacroPrecision += metrics.Precision
		report.MacroRecall += metrics.Recall
		report.MacroF1 += metrics.F1

		weight := float64(rowSum)
		report.WeightedPrecision += metrics.Precision * weight
		report.WeightedRecall += metrics.Recall * weight
		report.WeightedF1 += metrics.F1 * weight
		totalSupport += rowSum
	}

	count := float64(len(labels))
	report.MacroPrecision /= count
	report.MacroRecall /= count
	report.MacroF1 /= count

	if totalSupport > 0 {
		report.WeightedPrecision /= float64(totalSupport)
		report.WeightedRecall /= float64(totalSupport)
		report.WeightedF1 /= float64(totalSupport)
	}

	report.Accuracy = ratio(matches, len(pairs))
	return report
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// Accumulator collects pairs in submission order. It is safe for concurrent use.
type Accumulator struct {
	mu    sync.RWMutex
	pairs []Pair
}

// NewAccumulator returns an accumulator seeded with pairs.
func NewAccumulator(pairs ...Pair) *Accumulator {
	return &Accumulator{pairs: append([]Pair(nil), pairs...)}
}

// Add appends one observation.
func (a *Accumulator) Add(predicted, actual string) {
	a.mu.Lock()
	a.pairs = append(a.pairs, Pair{Predicted: predicted, Actual: actual})
	a.mu.Unlock()
}

// Len returns the number of accumulated pairs.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.pairs)
}

// Pairs returns a copy of the accumulated pairs.
func (a *Accumulator) Pairs() []Pair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Pair(nil), a.pairs...)
}

// Calculate reports on the pairs accumulated so far.
func (a *Accumulator) Calculate(labels []string) Report {
	return Calculate(a.Pairs(), labels)
}
