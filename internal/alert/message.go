package alert

import (
	"fmt"
	"strconv"
)

const Subject = "Bandwidth below expectation"

// Body renders the alert text for a breached window of count samples.
func Body(agg Aggregate, exp Expectation, count int) string {
	return fmt.Sprintf(
		"Latest bandwidth measurements found a discrepancy.\n"+
			"Expected bandwidth was %s mbps for download and %s mbps for upload.\n"+
			"Found %.2f mbps for download and %.2f mbps for upload, for the last ~%d hours (%d samples).",
		formatExpected(exp.Download),
		formatExpected(exp.Upload),
		agg.Download,
		agg.Upload,
		agg.SpanHours,
		count,
	)
}

// formatExpected prints operator input the way it was typed: 100, 123.45.
func formatExpected(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
