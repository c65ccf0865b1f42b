package inventory

import (
	"errors"
	"time"
)

// Direction enumerates stock movement directions.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// TransferStatus tracks the lifecycle of an inter-warehouse transfer.
type TransferStatus string

const (
	TransferStatusDraft      TransferStatus = "DRAFT"
	TransferStatusDispatched TransferStatus = "DISPATCHED"
	TransferStatusPartial    TransferStatus = "PARTIAL"
	TransferStatusReceived   TransferStatus = "RECEIVED"
	TransferStatusCancelled  TransferStatus = "CANCELLED"
)

// CanEdit reports whether transfer lines may still change.
func (s TransferStatus) CanEdit() bool { return s == TransferStatusDraft }

// CanDispatch reports whether the transfer may leave the source warehouse.
func (s TransferStatus) CanDispatch() bool { return s == TransferStatusDraft }

// CanReceive reports whether arrivals may be recorded.
func (s TransferStatus) CanReceive() bool {
	return s == TransferStatusDispatched || s == TransferStatusPartial
}

// CanCancel reports whether the transfer may be cancelled. Once any quantity
// arrived the transfer is a permanent record.
func (s TransferStatus) CanCancel() bool {
	return s == TransferStatusDraft || s == TransferStatusDispatched
}

// StockEntry is one row of the stock ledger.
type StockEntry struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Direction   Direction `json:"direction"`
	WarehouseID int64     `json:"warehouse_id"`
	ItemID      int64     `json:"item_id"`
	Qty         int64     `json:"qty"`
	UnitCost    float64   `json:"unit_cost"`
	BalanceQty  int64     `json:"balance_qty"`
	Note        string    `json:"note"`
	RefModule   string    `json:"ref_module"`
	RefID       string    `json:"ref_id"`
	PostedAt    time.Time `json:"posted_at"`
}

// Balance summarises on-hand stock per warehouse and item. AvgCost is a
// moving average updated on every inbound posting.
type Balance struct {
	WarehouseID int64     `json:"warehouse_id"`
	ItemID      int64     `json:"item_id"`
	Qty         int64     `json:"qty"`
	AvgCost     float64   `json:"avg_cost"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InboundInput describes an inbound posting, typically from a goods receipt.
// WarehouseID zero routes to the main warehouse.
type InboundInput struct {
	Code        string
	WarehouseID int64
	ItemID      int64
	Qty         int64
	UnitCost    float64
	Note        string
	RefModule   string
	RefID       string
}

// OutboundInput describes an outbound posting, typically from a dispatch.
type OutboundInput struct {
	Code        string
	WarehouseID int64
	ItemID      int64
	Qty         int64
	Note        string
	RefModule   string
	RefID       string
}

// Transfer models an inter-warehouse stock transfer with per-line arrival
// counters.
type Transfer struct {
	ID             int64          `json:"id"`
	Number         string         `json:"number"`
	SrcWarehouseID int64          `json:"src_warehouse_id"`
	DstWarehouseID int64          `json:"dst_warehouse_id"`
	Status         TransferStatus `json:"status"`
	Notes          string         `json:"notes"`
	CreatedAt      time.Time      `json:"created_at"`
	Lines          []TransferLine `json:"lines,omitempty"`
}

// TransferLine carries one item with its cumulative arrival counter.
type TransferLine struct {
	ID          int64   `json:"id"`
	TransferID  int64   `json:"transfer_id"`
	ItemID      int64   `json:"item_id"`
	ItemName    string  `json:"item_name"`
	Unit        string  `json:"unit"`
	Qty         int64   `json:"qty"`
	ReceivedQty int64   `json:"received_qty"`
	UnitCost    float64 `json:"unit_cost"`
}

// RemainingQty returns the quantity still in transit.
func (l TransferLine) RemainingQty() int64 {
	if l.ReceivedQty >= l.Qty {
		return 0
	}
	return l.Qty - l.ReceivedQty
}

// LedgerFilter narrows stock ledger queries.
type LedgerFilter struct {
	WarehouseID int64
	ItemID      int64
	From        time.Time
	To          time.Time
	Limit       int
}

var (
	ErrNotFound      = errors.New("inventory: not found")
	ErrValidation    = errors.New("inventory: validation failed")
	ErrInvalidState  = errors.New("inventory: invalid state transition")
	ErrConsistency   = errors.New("inventory: counters out of sync")
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
)
