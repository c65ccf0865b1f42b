package proforma

import (
	"errors"
	"time"
)

// Status tracks the lifecycle of a proforma invoice.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusIssued    Status = "ISSUED"
	StatusConverted Status = "CONVERTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// CanEdit reports whether the document may still change.
func (s Status) CanEdit() bool { return s == StatusDraft }

// CanIssue reports whether the document may be issued to the customer.
func (s Status) CanIssue() bool { return s == StatusDraft }

// CanConvert reports whether the document may become a sales order.
// Conversion is one-way; a converted proforma is locked forever.
func (s Status) CanConvert() bool { return s == StatusIssued }

// CanExpire reports whether the document may lapse.
func (s Status) CanExpire() bool { return s == StatusIssued }

// CanCancel reports whether the document may be cancelled.
func (s Status) CanCancel() bool { return s == StatusDraft || s == StatusIssued }

// Proforma is a pre-sale invoice offered to a customer.
type Proforma struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	CustomerID   int64          `json:"customer_id"`
	Status       Status         `json:"status"`
	Notes        string         `json:"notes"`
	Subtotal     float64        `json:"subtotal"`
	Discount     float64        `json:"discount"`
	Tax          float64        `json:"tax"`
	GrandTotal   float64        `json:"grand_total"`
	ValidUntil   time.Time      `json:"valid_until,omitempty"`
	IssuedAt     time.Time      `json:"issued_at,omitempty"`
	ConvertedAt  time.Time      `json:"converted_at,omitempty"`
	SalesOrderID int64          `json:"sales_order_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Lines        []ProformaLine `json:"lines,omitempty"`
}

// ProformaLine carries one offered item with derived money amounts.
type ProformaLine struct {
	ID              int64   `json:"id"`
	ProformaID      int64   `json:"proforma_id"`
	ItemID          int64   `json:"item_id"`
	ItemName        string  `json:"item_name"`
	Unit            string  `json:"unit"`
	Qty             int64   `json:"qty"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxPercent      float64 `json:"tax_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
	TaxAmount       float64 `json:"tax_amount"`
	LineTotal       float64 `json:"line_total"`
}

// SalesOrder is the document a converted proforma produces. Its lines feed
// the delivery module's fulfillment counters.
type SalesOrder struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	CustomerID int64     `json:"customer_id"`
	ProformaID int64     `json:"proforma_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrNotFound     = errors.New("proforma: not found")
	ErrValidation   = errors.New("proforma: validation failed")
	ErrInvalidState = errors.New("proforma: invalid state transition")
)
