package procurement

import "math"

// Quantity arithmetic for the fulfillment pipeline. Everything here is pure
// so the reconciliation rules can be tested without transport or storage.

// Remaining returns the quantity still open on a line. Clamped to zero when
// the cumulative received quantity exceeds the ordered quantity; bad history
// from imported data must not produce negative demand.
func Remaining(ordered, previouslyReceived int64) int64 {
	if previouslyReceived >= ordered {
		return 0
	}
	return ordered - previouslyReceived
}

// Rejected returns the inspection-rejected split of a received quantity.
// Clamped to zero when accepted exceeds received.
func Rejected(received, accepted int64) int64 {
	if accepted >= received {
		return 0
	}
	return received - accepted
}

// LineSubtotal returns qty times price without rounding. Rounding happens
// only at persistence and display boundaries via RoundMinor.
func LineSubtotal(qty int64, price float64) float64 {
	return float64(qty) * price
}

// RoundMinor rounds to the currency minor unit (2 decimal places).
func RoundMinor(v float64) float64 {
	return math.Round(v*100) / 100
}

// Totals holds the derived money amounts of a document.
type Totals struct {
	Subtotal   float64 `json:"subtotal"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grand_total"`
}

// DocumentTotals sums line subtotals and applies the document tax rate.
func DocumentTotals(lineSubtotals []float64, taxRatePercent float64) Totals {
	var subtotal float64
	for _, s := range lineSubtotals {
		subtotal += s
	}
	tax := subtotal * taxRatePercent / 100
	return Totals{
		Subtotal:   RoundMinor(subtotal),
		Tax:        RoundMinor(tax),
		GrandTotal: RoundMinor(subtotal + tax),
	}
}
