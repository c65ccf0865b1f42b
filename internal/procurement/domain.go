package procurement

import (
	"errors"
	"time"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusSent      POStatus = "SENT"
	POStatusPartial   POStatus = "PARTIAL"
	POStatusCompleted POStatus = "COMPLETED"
	POStatusCancelled POStatus = "CANCELLED"
)

// IsValid checks if the status is valid.
func (s POStatus) IsValid() bool {
	switch s {
	case POStatusDraft, POStatusSent, POStatusPartial, POStatusCompleted, POStatusCancelled:
		return true
	default:
		return false
	}
}

// CanEdit reports whether PO lines may still be edited directly.
func (s POStatus) CanEdit() bool {
	return s == POStatusDraft
}

// CanSend reports whether the PO may transition to SENT.
func (s POStatus) CanSend() bool {
	return s == POStatusDraft
}

// CanReceive reports whether goods receipts may be created against the PO.
func (s POStatus) CanReceive() bool {
	return s == POStatusSent || s == POStatusPartial
}

// CanCancel reports whether the PO may be cancelled. Once any receipt has been
// recorded the PO is a permanent record.
func (s POStatus) CanCancel() bool {
	return s == POStatusDraft || s == POStatusSent
}

// CanDelete reports whether the PO may be deleted.
func (s POStatus) CanDelete() bool {
	return s == POStatusDraft
}

// Goods receipt lifecycle statuses.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "DRAFT"
	GRNStatusInspected GRNStatus = "INSPECTED"
	GRNStatusCompleted GRNStatus = "COMPLETED"
)

// Next returns the promotion target for the status. Promotion is the only
// mutation a posted GRN supports.
func (s GRNStatus) Next() (GRNStatus, bool) {
	switch s {
	case GRNStatusDraft:
		return GRNStatusInspected, true
	case GRNStatusInspected:
		return GRNStatusCompleted, true
	default:
		return s, false
	}
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID               int64
	Number           string
	SupplierID       int64
	Status           POStatus
	TaxRate          float64
	ExpectedDelivery time.Time
	Notes            string
	CreatedAt        time.Time
	Lines            []POLine
}

// Totals derives subtotal, tax and grand total from the current lines.
func (po PurchaseOrder) Totals() Totals {
	subtotals := make([]float64, len(po.Lines))
	for i, line := range po.Lines {
		subtotals[i] = line.Subtotal()
	}
	return DocumentTotals(subtotals, po.TaxRate)
}

// POLine represents an ordered item with its cumulative fulfillment counter.
type POLine struct {
	ID          int64
	POID        int64
	ItemID      int64
	ItemName    string
	Qty         int64
	UnitPrice   float64
	Unit        string
	ReceivedQty int64
}

// Subtotal returns qty times unit price, unrounded.
func (l POLine) Subtotal() float64 {
	return LineSubtotal(l.Qty, l.UnitPrice)
}

// RemainingQty returns the quantity still open against this line.
func (l POLine) RemainingQty() int64 {
	return Remaining(l.Qty, l.ReceivedQty)
}

// GoodsReceipt domain model. A GRN exists against exactly one PO and is
// immutable after submission except for status promotion.
type GoodsReceipt struct {
	ID            int64
	Number        string
	POID          int64
	SupplierID    int64
	Status        GRNStatus
	InvoiceNumber string
	InvoiceDate   time.Time
	ReceivedDate  time.Time
	Notes         string
	TotalAmount   float64
	CreatedAt     time.Time
	Lines         []ReceiptLine
}

// ReceiptLine records the inspection outcome of a received PO line.
type ReceiptLine struct {
	ID                 int64
	GRNID              int64
	POLineID           int64
	ItemID             int64
	ItemName           string
	Unit               string
	OrderedQty         int64
	PreviouslyReceived int64
	RemainingQty       int64
	ReceivedQty        int64
	AcceptedQty        int64
	RejectedQty        int64
	UnitPrice          float64
	Subtotal           float64
}

// POListItem is a listing row with joined supplier data.
type POListItem struct {
	ID               int64     `json:"id"`
	Number           string    `json:"number"`
	SupplierID       int64     `json:"supplier_id"`
	SupplierName     string    `json:"supplier_name"`
	Status           POStatus  `json:"status"`
	ExpectedDelivery time.Time `json:"expected_delivery"`
	CreatedAt        time.Time `json:"created_at"`
	Total            float64   `json:"total"`
}

// GRNListItem is a listing row with joined PO and supplier data.
type GRNListItem struct {
	ID           int64     `json:"id"`
	Number       string    `json:"number"`
	POID         int64     `json:"po_id"`
	PONumber     string    `json:"po_number"`
	SupplierID   int64     `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	Status       GRNStatus `json:"status"`
	ReceivedDate time.Time `json:"received_date"`
	CreatedAt    time.Time `json:"created_at"`
	Total        float64   `json:"total"`
}

// ListFilters narrows PO/GRN listings.
type ListFilters struct {
	Status     string
	SupplierID int64
	Search     string
	SortBy     string
	SortDir    string
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrConsistency indicates the receipt and the order counter diverged.
	// The condition is fatal and must be reconciled manually, never retried.
	ErrConsistency = errors.New("procurement: receipt/order consistency violation")
)
