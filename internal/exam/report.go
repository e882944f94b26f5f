package exam

import (
	"fmt"
	"io"
	"strings"
)

const reportRule = 60

// WriteReport renders report as the itemized plain-text grading sheet.
func WriteReport(w io.Writer, report Report) error {
	var b strings.Builder
	heavy := strings.Repeat("=", reportRule)
	light := strings.Repeat("-", reportRule)

	fmt.Fprintf(&b, "%s\nGrading report\n%s\n\n", heavy, heavy)
	for _, item := range report.Items {
		fmt.Fprintf(&b, "Item: %s\n", item.Item)
		fmt.Fprintf(&b, "Max score: %g\n", item.MaxScore)
		fmt.Fprintf(&b, "Earned: %g\n", item.EarnedScore)
		if item.StandardValue != nil {
			fmt.Fprintf(&b, "Standard answer: %g\n", *item.StandardValue)
		}
		if item.StudentValue != nil {
			fmt.Fprintf(&b, "Student answer: %g\n", *item.StudentValue)
			if !item.ErrorRateInfinite() {
				fmt.Fprintf(&b, "Error rate: %.2f%%\n", item.ErrorRate*100)
			}
		}
		fmt.Fprintf(&b, "Feedback: %s\n%s\n", item.Feedback, light)
	}
	fmt.Fprintf(&b, "\nTotal: %.1f / %.1f\n", report.Total, report.MaxPossible)
	fmt.Fprintf(&b, "Percentage: %.1f%%\n%s\n", report.Percentage(), heavy)

	_, err := io.WriteString(w, b.String())
	return err
}
