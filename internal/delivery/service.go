package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/arkline-erp/arkline/internal/inventory"
	"github.com/arkline-erp/arkline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetChallan(ctx context.Context, id int64) (Challan, error)
	ListChallans(ctx context.Context, limit, offset int, status ChallanStatus, salesOrderID int64) ([]Challan, int, error)
	GetSOLines(ctx context.Context, orderID int64) ([]SOLine, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateChallan(ctx context.Context, challan Challan) (int64, error)
	InsertChallanLine(ctx context.Context, line ChallanLine) (int64, error)
	UpdateChallanStatus(ctx context.Context, id int64, status ChallanStatus, at time.Time) error
	AddDeliveredQty(ctx context.Context, soLineID int64, qty int64) (bool, error)
}

// InventoryPort posts stock movements for dispatches.
type InventoryPort interface {
	PostOutbound(ctx context.Context, input inventory.OutboundInput) (inventory.StockEntry, error)
	PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockEntry, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates delivery challans against sales order lines.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
}

// NewService constructs delivery service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, inventory: inv, audit: audit}
}

// ChallanLineInput selects a sales order line and the quantity to carry.
type ChallanLineInput struct {
	SOLineID int64
	Qty      int64
}

// CreateChallanInput describes a challan creation request.
type CreateChallanInput struct {
	Number       string
	SalesOrderID int64
	Notes        string
	Lines        []ChallanLineInput
}

// CreateChallan snapshots the selected sales order lines into a DRAFT
// challan. Quantities are capped by the remaining undelivered quantity at
// creation time; the delivery confirmation re-checks the ceiling.
func (s *Service) CreateChallan(ctx context.Context, input CreateChallanInput) (Challan, error) {
	if input.SalesOrderID == 0 {
		return Challan{}, fmt.Errorf("%w: sales order is required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Challan{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	soLines, err := s.repo.GetSOLines(ctx, input.SalesOrderID)
	if err != nil {
		return Challan{}, err
	}
	if len(soLines) == 0 {
		return Challan{}, fmt.Errorf("%w: sales order %d has no lines", ErrNotFound, input.SalesOrderID)
	}
	byID := make(map[int64]SOLine, len(soLines))
	for _, l := range soLines {
		byID[l.ID] = l
	}

	var lines []ChallanLine
	for _, in := range input.Lines {
		sol, ok := byID[in.SOLineID]
		if !ok {
			return Challan{}, fmt.Errorf("%w: sales order line %d not found", ErrValidation, in.SOLineID)
		}
		remaining := sol.RemainingQty()
		if in.Qty < 1 || in.Qty > remaining {
			return Challan{}, fmt.Errorf("%w: quantity %d outside [1, %d] for line %d", ErrValidation, in.Qty, remaining, sol.ID)
		}
		lines = append(lines, ChallanLine{
			SOLineID:            sol.ID,
			ItemID:              sol.ItemID,
			ItemName:            sol.ItemName,
			Unit:                sol.Unit,
			OrderedQty:          sol.Qty,
			PreviouslyDelivered: sol.DeliveredQty,
			RemainingQty:        remaining,
			Qty:                 in.Qty,
		})
	}

	challan := Challan{
		Number:       input.Number,
		SalesOrderID: input.SalesOrderID,
		Status:       ChallanStatusDraft,
		Notes:        input.Notes,
	}
	if challan.Number == "" {
		challan.Number = fmt.Sprintf("DC-%d", time.Now().UnixNano())
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateChallan(ctx, challan)
		if err != nil {
			return err
		}
		challan.ID = id
		for _, line := range lines {
			line.ChallanID = id
			lineID, err := tx.InsertChallanLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			challan.Lines = append(challan.Lines, line)
		}
		return nil
	})
	if err != nil {
		return Challan{}, err
	}
	s.recordAudit(ctx, "DC_CREATE", challan.ID, map[string]any{"number": challan.Number})
	return challan, nil
}

// DispatchChallan moves the challan to DISPATCHED and posts outbound stock
// for every line. Insufficient stock fails the whole dispatch.
func (s *Service) DispatchChallan(ctx context.Context, id int64) (Challan, error) {
	challan, err := s.repo.GetChallan(ctx, id)
	if err != nil {
		return Challan{}, err
	}
	if !challan.Status.CanDispatch() {
		return Challan{}, fmt.Errorf("%w: cannot dispatch challan in status %s", ErrInvalidState, challan.Status)
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if s.inventory != nil {
			for _, line := range challan.Lines {
				if _, err := s.inventory.PostOutbound(ctx, inventory.OutboundInput{
					Code:      fmt.Sprintf("%s-OUT-%d", challan.Number, line.ItemID),
					ItemID:    line.ItemID,
					Qty:       line.Qty,
					Note:      fmt.Sprintf("challan %s dispatch", challan.Number),
					RefModule: "DELIVERY",
				}); err != nil {
					return err
				}
			}
		}
		return tx.UpdateChallanStatus(ctx, id, ChallanStatusDispatched, now)
	})
	if err != nil {
		return Challan{}, err
	}
	challan.Status = ChallanStatusDispatched
	challan.DispatchedAt = now
	s.recordAudit(ctx, "DC_DISPATCH", id, map[string]any{"number": challan.Number})
	return challan, nil
}

// ConfirmDelivery moves the challan to DELIVERED and advances the sales order
// line counters. The guarded update refuses when a racing challan already
// consumed the remaining quantity.
func (s *Service) ConfirmDelivery(ctx context.Context, id int64) (Challan, error) {
	challan, err := s.repo.GetChallan(ctx, id)
	if err != nil {
		return Challan{}, err
	}
	if !challan.Status.CanDeliver() {
		return Challan{}, fmt.Errorf("%w: cannot deliver challan in status %s", ErrInvalidState, challan.Status)
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range challan.Lines {
			ok, err := tx.AddDeliveredQty(ctx, line.SOLineID, line.Qty)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: counter update for sales order line %d would exceed ordered quantity", ErrConsistency, line.SOLineID)
			}
		}
		return tx.UpdateChallanStatus(ctx, id, ChallanStatusDelivered, now)
	})
	if err != nil {
		return Challan{}, err
	}
	challan.Status = ChallanStatusDelivered
	challan.DeliveredAt = now
	s.recordAudit(ctx, "DC_DELIVER", id, map[string]any{"number": challan.Number})
	return challan, nil
}

// CancelChallan cancels a DRAFT or DISPATCHED challan. Dispatched stock
// returns to the warehouse.
func (s *Service) CancelChallan(ctx context.Context, id int64) error {
	challan, err := s.repo.GetChallan(ctx, id)
	if err != nil {
		return err
	}
	if !challan.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel challan in status %s", ErrInvalidState, challan.Status)
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if challan.Status == ChallanStatusDispatched && s.inventory != nil {
			for _, line := range challan.Lines {
				if _, err := s.inventory.PostInbound(ctx, inventory.InboundInput{
					Code:      fmt.Sprintf("%s-RET-%d", challan.Number, line.ItemID),
					ItemID:    line.ItemID,
					Qty:       line.Qty,
					Note:      fmt.Sprintf("challan %s cancelled", challan.Number),
					RefModule: "DELIVERY",
				}); err != nil {
					return err
				}
			}
		}
		return tx.UpdateChallanStatus(ctx, id, ChallanStatusCancelled, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "DC_CANCEL", id, map[string]any{"number": challan.Number})
	return nil
}

// GetChallan returns a challan with its lines.
func (s *Service) GetChallan(ctx context.Context, id int64) (Challan, error) {
	return s.repo.GetChallan(ctx, id)
}

// ListChallans returns a filtered, paginated listing.
func (s *Service) ListChallans(ctx context.Context, limit, offset int, status ChallanStatus, salesOrderID int64) ([]Challan, int, error) {
	return s.repo.ListChallans(ctx, limit, offset, status, salesOrderID)
}

// GetDeliverableLines returns the sales order lines with their remaining
// quantities, the admission ceiling for a new challan.
func (s *Service) GetDeliverableLines(ctx context.Context, orderID int64) ([]SOLine, error) {
	if orderID == 0 {
		return nil, fmt.Errorf("%w: sales order is required", ErrValidation)
	}
	return s.repo.GetSOLines(ctx, orderID)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "delivery", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
