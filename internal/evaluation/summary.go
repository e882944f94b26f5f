package evaluation

import (
	"fmt"
	"io"
	"strings"
)

// WriteSummary renders the overall metrics, the per-label table and the confusion matrix.
func WriteSummary(w io.Writer, report Report) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintf(&b, "%s\nEvaluation summary\n%s\n\n", rule, rule)
	if report.NoData {
		b.WriteString("No results recorded yet.\n\n")
	}
	fmt.Fprintf(&b, "Pairs:     %d\n", report.Total)
	fmt.Fprintf(&b, "Accuracy:  %.4f (%.2f%%)\n", report.Accuracy, report.Accuracy*100)
	fmt.Fprintf(&b, "Precision: %.4f macro, %.4f weighted\n", report.MacroPrecision, report.WeightedPrecision)
	fmt.Fprintf(&b, "Recall:    %.4f macro, %.4f weighted\n", report.MacroRecall, report.WeightedRecall)
	fmt.Fprintf(&b, "F1:        %.4f macro, %.4f weighted\n\n", report.MacroF1, report.WeightedF1)

	fmt.Fprintf(&b, "%-8s %-12s %-12s %-12s %-8s\n", "Label", "Precision", "Recall", "F1", "Support")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, m := range report.PerLabel {
		fmt.Fprintf(&b, "%-8s %-12.4f %-12.4f %-12.4f %-8d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}

	b.WriteString("\nConfusion matrix (rows actual, columns predicted)\n")
	fmt.Fprintf(&b, "%-8s", "")
	for _, label := range report.Labels {
		fmt.Fprintf(&b, " %6s", label)
	}
	b.WriteString("\n")
	for i, row := range report.ConfusionMatrix {
		fmt.Fprintf(&b, "%-8s", report.Labels[i])
		for _, count := range row {
			fmt.Fprintf(&b, " %6d", count)
		}
		b.WriteString("\n")
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}
