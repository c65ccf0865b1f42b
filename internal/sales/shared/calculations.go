package shared

import "math"

// CalculateLineTotals derives the money amounts of a document line.
// Quantities are whole units; discount and tax are percentages.
func CalculateLineTotals(quantity int64, unitPrice, discountPercent, taxPercent float64) (discountAmount, taxAmount, lineTotal float64) {
	grossAmount := float64(quantity) * unitPrice
	discountAmount = grossAmount * (discountPercent / 100)
	netAmount := grossAmount - discountAmount
	taxAmount = netAmount * (taxPercent / 100)
	lineTotal = netAmount + taxAmount
	return
}

// RoundMoney rounds to the currency minor unit.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
