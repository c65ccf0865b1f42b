package delivery

import (
	"errors"
	"time"
)

// ChallanStatus tracks the lifecycle of a delivery challan.
type ChallanStatus string

const (
	ChallanStatusDraft      ChallanStatus = "DRAFT"
	ChallanStatusDispatched ChallanStatus = "DISPATCHED"
	ChallanStatusDelivered  ChallanStatus = "DELIVERED"
	ChallanStatusCancelled  ChallanStatus = "CANCELLED"
)

// CanDispatch reports whether goods may leave the warehouse.
func (s ChallanStatus) CanDispatch() bool { return s == ChallanStatusDraft }

// CanDeliver reports whether the delivery may be confirmed.
func (s ChallanStatus) CanDeliver() bool { return s == ChallanStatusDispatched }

// CanCancel reports whether the challan may be cancelled. A delivered challan
// is a permanent record.
func (s ChallanStatus) CanCancel() bool {
	return s == ChallanStatusDraft || s == ChallanStatusDispatched
}

// SOLine is a sales order line as seen by the delivery module: the ordered
// quantity plus the cumulative delivered counter maintained here.
type SOLine struct {
	ID           int64  `json:"id"`
	OrderID      int64  `json:"order_id"`
	ItemID       int64  `json:"item_id"`
	ItemName     string `json:"item_name"`
	Unit         string `json:"unit"`
	Qty          int64  `json:"qty"`
	DeliveredQty int64  `json:"delivered_qty"`
}

// RemainingQty returns the undelivered quantity, clamped at zero.
func (l SOLine) RemainingQty() int64 {
	if l.DeliveredQty >= l.Qty {
		return 0
	}
	return l.Qty - l.DeliveredQty
}

// Challan is a delivery document issued against a sales order.
type Challan struct {
	ID           int64         `json:"id"`
	Number       string        `json:"number"`
	SalesOrderID int64         `json:"sales_order_id"`
	Status       ChallanStatus `json:"status"`
	Notes        string        `json:"notes"`
	CreatedAt    time.Time     `json:"created_at"`
	DispatchedAt time.Time     `json:"dispatched_at,omitempty"`
	DeliveredAt  time.Time     `json:"delivered_at,omitempty"`
	Lines        []ChallanLine `json:"lines,omitempty"`
}

// ChallanLine snapshots the sales order line state at creation time next to
// the quantity this challan carries.
type ChallanLine struct {
	ID                  int64  `json:"id"`
	ChallanID           int64  `json:"challan_id"`
	SOLineID            int64  `json:"so_line_id"`
	ItemID              int64  `json:"item_id"`
	ItemName            string `json:"item_name"`
	Unit                string `json:"unit"`
	OrderedQty          int64  `json:"ordered_qty"`
	PreviouslyDelivered int64  `json:"previously_delivered"`
	RemainingQty        int64  `json:"remaining_qty"`
	Qty                 int64  `json:"qty"`
}

var (
	ErrNotFound     = errors.New("delivery: not found")
	ErrValidation   = errors.New("delivery: validation failed")
	ErrInvalidState = errors.New("delivery: invalid state transition")
	ErrConsistency  = errors.New("delivery: counters out of sync")
)
