package procurement

// ResolveStatus derives the fulfillment status of a purchase order from its
// per-line counters. Draft and Cancelled are explicit transitions and pass
// through untouched; a Completed order never demotes, receipts are immutable
// once posted so no correction path can reduce received quantities.
func ResolveStatus(current POStatus, lines []POLine) POStatus {
	switch current {
	case POStatusDraft, POStatusCancelled, POStatusCompleted:
		return current
	}

	if len(lines) == 0 {
		return current
	}

	complete := true
	anyReceived := false
	for _, line := range lines {
		if line.ReceivedQty < line.Qty {
			complete = false
		}
		if line.ReceivedQty > 0 {
			anyReceived = true
		}
	}

	switch {
	case complete:
		return POStatusCompleted
	case anyReceived:
		return POStatusPartial
	default:
		return POStatusSent
	}
}
