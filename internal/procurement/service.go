package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/arkline-erp/arkline/internal/inventory"
	"github.com/arkline-erp/arkline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error)
	ListPendingPOs(ctx context.Context) ([]PurchaseOrder, error)
	ListGRNs(ctx context.Context, limit, offset int, filters ListFilters) ([]GRNListItem, int, error)
}

// InventoryPort exposes required stock integration.
type InventoryPort interface {
	PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockEntry, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards create-only submissions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates the purchase-order fulfillment pipeline.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	pending     singleflight.Group
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inventory InventoryPort, audit AuditPort, idem IdempotencyPort) *Service {
	return &Service{repo: repo, inventory: inventory, audit: audit, idempotency: idem}
}

// POLineInput describes an ordered line.
type POLineInput struct {
	ItemID    int64
	ItemName  string
	Qty       int64
	UnitPrice float64
	Unit      string
}

// CreatePOInput describes creation payload.
type CreatePOInput struct {
	Number           string
	SupplierID       int64
	TaxRate          float64
	ExpectedDelivery time.Time
	Notes            string
	Lines            []POLineInput
}

// UpdatePOInput replaces the editable parts of a draft PO.
type UpdatePOInput struct {
	TaxRate          float64
	ExpectedDelivery time.Time
	Notes            string
	Lines            []POLineInput
}

// ReceiptLineInput carries the submitted inspection outcome for one PO line.
// A nil UnitPrice keeps the ordered price; an explicit zero records a free line.
type ReceiptLineInput struct {
	POLineID    int64
	ReceivedQty int64
	AcceptedQty int64
	UnitPrice   *float64
}

// SubmitGRNInput describes a goods receipt submission.
type SubmitGRNInput struct {
	POID          int64
	Number        string
	SubmissionKey string
	InvoiceNumber string
	InvoiceDate   time.Time
	ReceivedDate  time.Time
	Notes         string
	Lines         []ReceiptLineInput
}

// CreatePurchaseOrder persists a PO in DRAFT with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	lines, err := buildPOLines(input.SupplierID, input.TaxRate, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	po := PurchaseOrder{
		Number:           input.Number,
		SupplierID:       input.SupplierID,
		Status:           POStatusDraft,
		TaxRate:          input.TaxRate,
		ExpectedDelivery: input.ExpectedDelivery,
		Notes:            input.Notes,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for _, line := range lines {
			line.POID = poID
			id, err := tx.InsertPOLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = id
			po.Lines = append(po.Lines, line)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// UpdatePurchaseOrder replaces lines and header fields of a DRAFT PO.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, poID int64, input UpdatePOInput) (PurchaseOrder, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !po.Status.CanEdit() {
		return PurchaseOrder{}, fmt.Errorf("%w: cannot edit PO in status %s", ErrInvalidState, po.Status)
	}
	lines, err := buildPOLines(po.SupplierID, input.TaxRate, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.TaxRate = input.TaxRate
	po.ExpectedDelivery = input.ExpectedDelivery
	po.Notes = input.Notes
	po.Lines = nil
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePOHeader(ctx, po); err != nil {
			return err
		}
		if err := tx.DeletePOLines(ctx, poID); err != nil {
			return err
		}
		for _, line := range lines {
			line.POID = poID
			id, err := tx.InsertPOLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = id
			po.Lines = append(po.Lines, line)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_UPDATE", poID, map[string]any{"number": po.Number})
	return po, nil
}

// SendPurchaseOrder transitions DRAFT to SENT, locking line edits and
// permitting goods receipts.
func (s *Service) SendPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !po.Status.CanSend() {
		return PurchaseOrder{}, fmt.Errorf("%w: cannot send PO in status %s", ErrInvalidState, po.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePOStatus(ctx, poID, POStatusSent)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatusSent
	s.recordAudit(ctx, "PO_SEND", poID, map[string]any{"number": po.Number})
	return po, nil
}

// CancelPurchaseOrder cancels a DRAFT or SENT PO. Once any receipt has been
// recorded the order is a permanent record and cannot be cancelled.
func (s *Service) CancelPurchaseOrder(ctx context.Context, poID int64) error {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if !po.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel PO in status %s", ErrInvalidState, po.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePOStatus(ctx, poID, POStatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_CANCEL", poID, map[string]any{"number": po.Number})
	return nil
}

// DeletePurchaseOrder removes a DRAFT PO and its lines. Sent or received
// orders are permanent records.
func (s *Service) DeletePurchaseOrder(ctx context.Context, poID int64) error {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if !po.Status.CanDelete() {
		return fmt.Errorf("%w: cannot delete PO in status %s", ErrInvalidState, po.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeletePOLines(ctx, poID); err != nil {
			return err
		}
		return tx.DeletePO(ctx, poID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_DELETE", poID, map[string]any{"number": po.Number})
	return nil
}

// GetPurchaseOrder returns a PO with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, poID)
}

// ListPurchaseOrders returns a filtered, paginated listing.
func (s *Service) ListPurchaseOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	return s.repo.ListPOs(ctx, limit, offset, filters)
}

// ListPendingPurchaseOrders returns orders with outstanding quantity
// (SENT or PARTIAL). Concurrent identical loads are collapsed.
func (s *Service) ListPendingPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	v, err, _ := s.pending.Do("pending", func() (any, error) {
		return s.repo.ListPendingPOs(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]PurchaseOrder), nil
}

// StartReceiptDraft loads a PO and prefills receipt lines with
// remaining-quantity defaults.
func (s *Service) StartReceiptDraft(ctx context.Context, poID int64) ([]ReceiptLine, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	if !po.Status.CanReceive() {
		return nil, fmt.Errorf("%w: cannot receive against PO in status %s", ErrInvalidState, po.Status)
	}
	return StartReceiptDraft(po), nil
}

// SubmitGoodsReceipt atomically persists the GRN and applies accepted
// quantities to the PO's fulfillment counters, then re-derives the PO status.
// Either both documents change or neither does.
func (s *Service) SubmitGoodsReceipt(ctx context.Context, input SubmitGRNInput) (GoodsReceipt, error) {
	po, err := s.repo.GetPO(ctx, input.POID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if !po.Status.CanReceive() {
		return GoodsReceipt{}, fmt.Errorf("%w: cannot receive against PO in status %s", ErrInvalidState, po.Status)
	}

	lines, err := buildReceiptLines(po, input.Lines)
	if err != nil {
		return GoodsReceipt{}, err
	}

	if input.Number == "" {
		input.Number = generateNumber("GRN")
	}
	grn := GoodsReceipt{
		Number:        input.Number,
		POID:          po.ID,
		SupplierID:    po.SupplierID,
		Status:        GRNStatusDraft,
		InvoiceNumber: input.InvoiceNumber,
		InvoiceDate:   input.InvoiceDate,
		ReceivedDate:  defaultTime(input.ReceivedDate),
		Notes:         input.Notes,
	}
	for _, line := range lines {
		grn.TotalAmount += line.Subtotal
	}
	grn.TotalAmount = RoundMinor(grn.TotalAmount)

	// A GRN is create-only; replaying the same submission would double-count
	// the PO counters, so duplicates are refused before any write.
	key := submissionKey(po.ID, input.SubmissionKey, input.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.grn"); err != nil {
			return GoodsReceipt{}, err
		}
		inserted = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grnID, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = grnID
		for i := range lines {
			lines[i].GRNID = grnID
			id, err := tx.InsertReceiptLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = id
		}
		// Only accepted units advance the fulfillment counter; rejected units
		// stay open for a follow-up receipt.
		for _, line := range lines {
			if line.AcceptedQty == 0 {
				continue
			}
			ok, err := tx.AddReceivedQty(ctx, line.POLineID, line.AcceptedQty)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: counter update for PO line %d would exceed ordered quantity", ErrConsistency, line.POLineID)
			}
		}
		fresh, err := tx.GetPOLines(ctx, po.ID)
		if err != nil {
			return err
		}
		next := ResolveStatus(po.Status, fresh)
		if next != po.Status {
			if err := tx.UpdatePOStatus(ctx, po.ID, next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return GoodsReceipt{}, err
	}
	grn.Lines = lines
	s.recordAudit(ctx, "GRN_SUBMIT", grn.ID, map[string]any{"number": grn.Number, "po": po.Number, "total": grn.TotalAmount})
	return grn, nil
}

// PromoteGoodsReceipt advances a GRN one lifecycle step
// (DRAFT -> INSPECTED -> COMPLETED). On completion the accepted quantities
// post inbound stock.
func (s *Service) PromoteGoodsReceipt(ctx context.Context, grnID int64) (GoodsReceipt, error) {
	grn, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	next, ok := grn.Status.Next()
	if !ok {
		return GoodsReceipt{}, fmt.Errorf("%w: GRN %s is already %s", ErrInvalidState, grn.Number, grn.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateGRNStatus(ctx, grnID, next); err != nil {
			return err
		}
		if next != GRNStatusCompleted {
			return nil
		}
		for _, line := range grn.Lines {
			if line.AcceptedQty == 0 {
				continue
			}
			if s.inventory == nil {
				return errors.New("inventory integration not configured")
			}
			refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("GRN:%d:%d", grn.ID, line.ItemID)))
			_, err := s.inventory.PostInbound(ctx, inventory.InboundInput{
				Code:      fmt.Sprintf("GRN-%s-%d", grn.Number, line.ItemID),
				ItemID:    line.ItemID,
				Qty:       line.AcceptedQty,
				UnitCost:  line.UnitPrice,
				Note:      fmt.Sprintf("GRN %s", grn.Number),
				RefModule: "PROCUREMENT",
				RefID:     refID.String(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	grn.Status = next
	s.recordAudit(ctx, "GRN_PROMOTE", grnID, map[string]any{"number": grn.Number, "status": string(next)})
	return grn, nil
}

// GetGoodsReceipt returns a GRN with its lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, grnID int64) (GoodsReceipt, error) {
	return s.repo.GetGRN(ctx, grnID)
}

// ListGoodsReceipts returns a filtered, paginated listing.
func (s *Service) ListGoodsReceipts(ctx context.Context, limit, offset int, filters ListFilters) ([]GRNListItem, int, error) {
	return s.repo.ListGRNs(ctx, limit, offset, filters)
}

func buildPOLines(supplierID int64, taxRate float64, inputs []POLineInput) ([]POLine, error) {
	if supplierID == 0 {
		return nil, fmt.Errorf("%w: supplier is required", ErrValidation)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if taxRate < 0 || taxRate > 100 {
		return nil, fmt.Errorf("%w: tax rate must be between 0 and 100", ErrValidation)
	}
	lines := make([]POLine, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemID == 0 || in.Qty < 1 || in.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: line requires item, quantity >= 1 and non-negative price", ErrValidation)
		}
		lines = append(lines, POLine{
			ItemID:    in.ItemID,
			ItemName:  in.ItemName,
			Qty:       in.Qty,
			UnitPrice: in.UnitPrice,
			Unit:      defaultString(in.Unit, "pcs"),
		})
	}
	return lines, nil
}

func buildReceiptLines(po PurchaseOrder, inputs []ReceiptLineInput) ([]ReceiptLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	byID := make(map[int64]POLine, len(po.Lines))
	for _, pl := range po.Lines {
		byID[pl.ID] = pl
	}
	anyReceived := false
	lines := make([]ReceiptLine, 0, len(inputs))
	for _, in := range inputs {
		pl, ok := byID[in.POLineID]
		if !ok {
			return nil, fmt.Errorf("%w: PO line %d not found", ErrValidation, in.POLineID)
		}
		remaining := Remaining(pl.Qty, pl.ReceivedQty)
		if in.ReceivedQty < 0 || in.ReceivedQty > remaining {
			return nil, fmt.Errorf("%w: received %d exceeds remaining %d for PO line %d", ErrValidation, in.ReceivedQty, remaining, pl.ID)
		}
		if in.AcceptedQty < 0 || in.AcceptedQty > in.ReceivedQty {
			return nil, fmt.Errorf("%w: accepted %d exceeds received %d for PO line %d", ErrValidation, in.AcceptedQty, in.ReceivedQty, pl.ID)
		}
		price := pl.UnitPrice
		if in.UnitPrice != nil {
			if *in.UnitPrice < 0 {
				return nil, fmt.Errorf("%w: negative unit price for PO line %d", ErrValidation, pl.ID)
			}
			price = *in.UnitPrice
		}
		if in.ReceivedQty > 0 {
			anyReceived = true
		}
		lines = append(lines, ReceiptLine{
			POLineID:           pl.ID,
			ItemID:             pl.ItemID,
			ItemName:           pl.ItemName,
			Unit:               pl.Unit,
			OrderedQty:         pl.Qty,
			PreviouslyReceived: pl.ReceivedQty,
			RemainingQty:       remaining,
			ReceivedQty:        in.ReceivedQty,
			AcceptedQty:        in.AcceptedQty,
			RejectedQty:        Rejected(in.ReceivedQty, in.AcceptedQty),
			UnitPrice:          price,
			Subtotal:           RoundMinor(LineSubtotal(in.AcceptedQty, price)),
		})
	}
	if !anyReceived {
		return nil, fmt.Errorf("%w: receipt must record at least one received unit", ErrValidation)
	}
	return lines, nil
}

func submissionKey(poID int64, key, number string) string {
	if key == "" {
		key = number
	}
	return fmt.Sprintf("GRN:%d:%s", poID, key)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
