package procurement

import "fmt"

// LineField names an editable receipt draft field.
type LineField string

const (
	FieldReceivedQty LineField = "received_qty"
	FieldAcceptedQty LineField = "accepted_qty"
	FieldUnitPrice   LineField = "unit_price"
)

// StartReceiptDraft prefills receipt lines for every PO line with outstanding
// quantity. Defaults assume the full remaining quantity arrives and passes
// inspection; the caller may edit downward. Fully received lines are skipped.
func StartReceiptDraft(po PurchaseOrder) []ReceiptLine {
	var lines []ReceiptLine
	for _, pl := range po.Lines {
		remaining := Remaining(pl.Qty, pl.ReceivedQty)
		if remaining == 0 {
			continue
		}
		lines = append(lines, ReceiptLine{
			POLineID:           pl.ID,
			ItemID:             pl.ItemID,
			ItemName:           pl.ItemName,
			Unit:               pl.Unit,
			OrderedQty:         pl.Qty,
			PreviouslyReceived: pl.ReceivedQty,
			RemainingQty:       remaining,
			ReceivedQty:        remaining,
			AcceptedQty:        remaining,
			RejectedQty:        0,
			UnitPrice:          pl.UnitPrice,
			Subtotal:           RoundMinor(LineSubtotal(remaining, pl.UnitPrice)),
		})
	}
	return lines
}

// EditReceivedQty sets the received quantity on a draft line, clamped to
// [0, remaining]. The accepted quantity resets to the new received quantity;
// rejected and subtotal are re-derived.
func EditReceivedQty(lines []ReceiptLine, index int, qty int64) ([]ReceiptLine, error) {
	out, err := cloneLines(lines, index)
	if err != nil {
		return nil, err
	}
	line := &out[index]
	line.ReceivedQty = clamp(qty, 0, line.RemainingQty)
	line.AcceptedQty = line.ReceivedQty
	recompute(line)
	return out, nil
}

// EditAcceptedQty sets the accepted quantity on a draft line, clamped to
// [0, received]. Rejected and subtotal are re-derived.
func EditAcceptedQty(lines []ReceiptLine, index int, qty int64) ([]ReceiptLine, error) {
	out, err := cloneLines(lines, index)
	if err != nil {
		return nil, err
	}
	line := &out[index]
	line.AcceptedQty = clamp(qty, 0, line.ReceivedQty)
	recompute(line)
	return out, nil
}

// EditUnitPrice sets the unit price on a draft line. Quantities are untouched;
// only the subtotal is re-derived.
func EditUnitPrice(lines []ReceiptLine, index int, price float64) ([]ReceiptLine, error) {
	out, err := cloneLines(lines, index)
	if err != nil {
		return nil, err
	}
	if price < 0 {
		price = 0
	}
	line := &out[index]
	line.UnitPrice = price
	line.Subtotal = RoundMinor(LineSubtotal(line.AcceptedQty, line.UnitPrice))
	return out, nil
}

// EditLine dispatches a field edit by name. Quantity fields truncate the
// value to a whole number before clamping.
func EditLine(lines []ReceiptLine, index int, field LineField, value float64) ([]ReceiptLine, error) {
	switch field {
	case FieldReceivedQty:
		return EditReceivedQty(lines, index, int64(value))
	case FieldAcceptedQty:
		return EditAcceptedQty(lines, index, int64(value))
	case FieldUnitPrice:
		return EditUnitPrice(lines, index, value)
	default:
		return nil, fmt.Errorf("%w: unknown line field %q", ErrValidation, field)
	}
}

func recompute(line *ReceiptLine) {
	line.RejectedQty = Rejected(line.ReceivedQty, line.AcceptedQty)
	line.Subtotal = RoundMinor(LineSubtotal(line.AcceptedQty, line.UnitPrice))
}

func cloneLines(lines []ReceiptLine, index int) ([]ReceiptLine, error) {
	if index < 0 || index >= len(lines) {
		return nil, fmt.Errorf("%w: line index %d out of range", ErrValidation, index)
	}
	return append([]ReceiptLine(nil), lines...), nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
