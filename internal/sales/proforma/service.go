package proforma

import (
	"context"
	"fmt"
	"time"

	"github.com/arkline-erp/arkline/internal/sales/shared"
	sharedaudit "github.com/arkline-erp/arkline/internal/shared"
)

// DefaultValidity is applied when an issue request carries no expiry date.
const DefaultValidity = 30 * 24 * time.Hour

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Proforma, error)
	List(ctx context.Context, limit, offset int, status Status, customerID int64) ([]Proforma, int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, p Proforma) (int64, error)
	InsertLine(ctx context.Context, line ProformaLine) (int64, error)
	UpdateHeader(ctx context.Context, p Proforma) error
	DeleteLines(ctx context.Context, proformaID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
	SetConversion(ctx context.Context, id, salesOrderID int64, at time.Time) error
	CreateSalesOrder(ctx context.Context, order SalesOrder) (int64, error)
	InsertSalesOrderLine(ctx context.Context, orderID int64, line ProformaLine) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log sharedaudit.AuditLog) error
}

// Service coordinates proforma invoices.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs proforma service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// LineInput describes one offered item.
type LineInput struct {
	ItemID          int64
	ItemName        string
	Qty             int64
	UnitPrice       float64
	DiscountPercent float64
	TaxPercent      float64
	Unit            string
}

// CreateInput describes a proforma creation request.
type CreateInput struct {
	Number     string
	CustomerID int64
	Notes      string
	Lines      []LineInput
}

// UpdateInput replaces the editable parts of a draft.
type UpdateInput struct {
	Notes string
	Lines []LineInput
}

// Create persists a DRAFT proforma with derived totals.
func (s *Service) Create(ctx context.Context, input CreateInput) (Proforma, error) {
	if input.CustomerID == 0 {
		return Proforma{}, fmt.Errorf("%w: customer is required", ErrValidation)
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return Proforma{}, err
	}
	p := Proforma{
		Number:     input.Number,
		CustomerID: input.CustomerID,
		Status:     StatusDraft,
		Notes:      input.Notes,
	}
	if p.Number == "" {
		p.Number = fmt.Sprintf("PI-%d", time.Now().UnixNano())
	}
	applyTotals(&p, lines)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		for _, line := range lines {
			line.ProformaID = id
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			p.Lines = append(p.Lines, line)
		}
		return nil
	})
	if err != nil {
		return Proforma{}, err
	}
	s.recordAudit(ctx, "PI_CREATE", p.ID, map[string]any{"number": p.Number})
	return p, nil
}

// Update replaces lines and notes of a DRAFT proforma.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Proforma, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proforma{}, err
	}
	if !p.Status.CanEdit() {
		return Proforma{}, fmt.Errorf("%w: cannot edit proforma in status %s", ErrInvalidState, p.Status)
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return Proforma{}, err
	}
	p.Notes = input.Notes
	p.Lines = nil
	applyTotals(&p, lines)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateHeader(ctx, p); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		for _, line := range lines {
			line.ProformaID = id
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			p.Lines = append(p.Lines, line)
		}
		return nil
	})
	if err != nil {
		return Proforma{}, err
	}
	s.recordAudit(ctx, "PI_UPDATE", id, map[string]any{"number": p.Number})
	return p, nil
}

// Issue moves a DRAFT to ISSUED with an expiry date.
func (s *Service) Issue(ctx context.Context, id int64, validUntil time.Time) (Proforma, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proforma{}, err
	}
	if !p.Status.CanIssue() {
		return Proforma{}, fmt.Errorf("%w: cannot issue proforma in status %s", ErrInvalidState, p.Status)
	}
	now := time.Now().UTC()
	if validUntil.IsZero() {
		validUntil = now.Add(DefaultValidity)
	}
	if validUntil.Before(now) {
		return Proforma{}, fmt.Errorf("%w: expiry date is in the past", ErrValidation)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p.Status = StatusIssued
		p.IssuedAt = now
		p.ValidUntil = validUntil
		if err := tx.UpdateHeader(ctx, p); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, id, StatusIssued, now)
	})
	if err != nil {
		return Proforma{}, err
	}
	s.recordAudit(ctx, "PI_ISSUE", id, map[string]any{"number": p.Number})
	return p, nil
}

// Convert turns an ISSUED proforma into a sales order. The conversion is
// one-way; afterwards the proforma is locked and the sales order carries the
// quantities for fulfillment.
func (s *Service) Convert(ctx context.Context, id int64) (Proforma, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proforma{}, err
	}
	if !p.Status.CanConvert() {
		return Proforma{}, fmt.Errorf("%w: cannot convert proforma in status %s", ErrInvalidState, p.Status)
	}
	if !p.ValidUntil.IsZero() && time.Now().After(p.ValidUntil) {
		return Proforma{}, fmt.Errorf("%w: proforma %s expired on %s", ErrInvalidState, p.Number, p.ValidUntil.Format("2006-01-02"))
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateSalesOrder(ctx, SalesOrder{
			Number:     fmt.Sprintf("SO-%d", now.UnixNano()),
			CustomerID: p.CustomerID,
			ProformaID: p.ID,
			Status:     "OPEN",
		})
		if err != nil {
			return err
		}
		for _, line := range p.Lines {
			if err := tx.InsertSalesOrderLine(ctx, orderID, line); err != nil {
				return err
			}
		}
		p.SalesOrderID = orderID
		return tx.SetConversion(ctx, id, orderID, now)
	})
	if err != nil {
		return Proforma{}, err
	}
	p.Status = StatusConverted
	p.ConvertedAt = now
	s.recordAudit(ctx, "PI_CONVERT", id, map[string]any{"number": p.Number, "sales_order_id": p.SalesOrderID})
	return p, nil
}

// MarkExpired lapses an ISSUED proforma past its expiry date.
func (s *Service) MarkExpired(ctx context.Context, id int64) (Proforma, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proforma{}, err
	}
	if !p.Status.CanExpire() {
		return Proforma{}, fmt.Errorf("%w: cannot expire proforma in status %s", ErrInvalidState, p.Status)
	}
	if p.ValidUntil.IsZero() || time.Now().Before(p.ValidUntil) {
		return Proforma{}, fmt.Errorf("%w: proforma %s is still valid", ErrValidation, p.Number)
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusExpired, now)
	})
	if err != nil {
		return Proforma{}, err
	}
	p.Status = StatusExpired
	s.recordAudit(ctx, "PI_EXPIRE", id, map[string]any{"number": p.Number})
	return p, nil
}

// Cancel cancels a DRAFT or ISSUED proforma.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel proforma in status %s", ErrInvalidState, p.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PI_CANCEL", id, map[string]any{"number": p.Number})
	return nil
}

// Get returns a proforma with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Proforma, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered, paginated listing.
func (s *Service) List(ctx context.Context, limit, offset int, status Status, customerID int64) ([]Proforma, int, error) {
	return s.repo.List(ctx, limit, offset, status, customerID)
}

func buildLines(inputs []LineInput) ([]ProformaLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	var lines []ProformaLine
	for _, in := range inputs {
		if in.ItemID == 0 || in.Qty < 1 || in.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: line requires item, quantity >= 1 and non-negative price", ErrValidation)
		}
		if in.DiscountPercent < 0 || in.DiscountPercent > 100 || in.TaxPercent < 0 || in.TaxPercent > 100 {
			return nil, fmt.Errorf("%w: discount and tax must be between 0 and 100", ErrValidation)
		}
		unit := in.Unit
		if unit == "" {
			unit = "pcs"
		}
		discount, tax, total := shared.CalculateLineTotals(in.Qty, in.UnitPrice, in.DiscountPercent, in.TaxPercent)
		lines = append(lines, ProformaLine{
			ItemID:          in.ItemID,
			ItemName:        in.ItemName,
			Unit:            unit,
			Qty:             in.Qty,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			TaxPercent:      in.TaxPercent,
			DiscountAmount:  shared.RoundMoney(discount),
			TaxAmount:       shared.RoundMoney(tax),
			LineTotal:       shared.RoundMoney(total),
		})
	}
	return lines, nil
}

func applyTotals(p *Proforma, lines []ProformaLine) {
	var subtotal, discount, tax, grand float64
	for _, line := range lines {
		subtotal += float64(line.Qty) * line.UnitPrice
		discount += line.DiscountAmount
		tax += line.TaxAmount
		grand += line.LineTotal
	}
	p.Subtotal = shared.RoundMoney(subtotal)
	p.Discount = shared.RoundMoney(discount)
	p.Tax = shared.RoundMoney(tax)
	p.GrandTotal = shared.RoundMoney(grand)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, sharedaudit.AuditLog{Action: action, Entity: "proforma", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
