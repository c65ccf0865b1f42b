package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkline-erp/arkline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, limit, offset int, status TransferStatus) ([]Transfer, int, error)
	GetBalance(ctx context.Context, warehouseID, itemID int64) (Balance, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]StockEntry, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, warehouseID, itemID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertStockEntry(ctx context.Context, entry StockEntry) (int64, error)
	CreateTransfer(ctx context.Context, transfer Transfer) (int64, error)
	InsertTransferLine(ctx context.Context, line TransferLine) (int64, error)
	UpdateTransferLineCost(ctx context.Context, lineID int64, unitCost float64) error
	UpdateTransferStatus(ctx context.Context, id int64, status TransferStatus) error
	AddTransferReceivedQty(ctx context.Context, lineID int64, qty int64) (bool, error)
	GetTransferLines(ctx context.Context, transferID int64) ([]TransferLine, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards ledger postings against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	MainWarehouseID    int64
}

// Service coordinates stock postings and transfers.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	if cfg.MainWarehouseID == 0 {
		cfg.MainWarehouseID = 1
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, cfg: cfg}
}

// PostInbound posts an inbound ledger entry and raises the balance. The
// balance average cost moves with every inbound unit.
func (s *Service) PostInbound(ctx context.Context, input InboundInput) (StockEntry, error) {
	if input.ItemID == 0 {
		return StockEntry{}, fmt.Errorf("%w: item is required", ErrValidation)
	}
	if input.Qty < 1 {
		return StockEntry{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if input.UnitCost < 0 {
		return StockEntry{}, fmt.Errorf("%w: negative unit cost", ErrValidation)
	}
	if input.WarehouseID == 0 {
		input.WarehouseID = s.cfg.MainWarehouseID
	}
	return s.post(ctx, movement{
		Code:        input.Code,
		Direction:   DirectionIn,
		WarehouseID: input.WarehouseID,
		ItemID:      input.ItemID,
		Qty:         input.Qty,
		UnitCost:    input.UnitCost,
		Note:        input.Note,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

// PostOutbound posts an outbound ledger entry at the balance average cost.
func (s *Service) PostOutbound(ctx context.Context, input OutboundInput) (StockEntry, error) {
	if input.ItemID == 0 {
		return StockEntry{}, fmt.Errorf("%w: item is required", ErrValidation)
	}
	if input.Qty < 1 {
		return StockEntry{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if input.WarehouseID == 0 {
		input.WarehouseID = s.cfg.MainWarehouseID
	}
	return s.post(ctx, movement{
		Code:        input.Code,
		Direction:   DirectionOut,
		WarehouseID: input.WarehouseID,
		ItemID:      input.ItemID,
		Qty:         input.Qty,
		Note:        input.Note,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

type movement struct {
	Code        string
	Direction   Direction
	WarehouseID int64
	ItemID      int64
	Qty         int64
	UnitCost    float64
	Note        string
	RefModule   string
	RefID       string
}

func (s *Service) post(ctx context.Context, m movement) (StockEntry, error) {
	if m.Code == "" {
		m.Code = fmt.Sprintf("INV-%d", time.Now().UnixNano())
	}
	if m.RefID != "" {
		if _, err := uuid.Parse(m.RefID); err != nil {
			return StockEntry{}, fmt.Errorf("%w: invalid ref id", ErrValidation)
		}
	}

	key := fmt.Sprintf("%s:%s:%d:%d", m.Direction, m.Code, m.WarehouseID, m.ItemID)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return StockEntry{}, err
		}
		inserted = true
	}

	var entry StockEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.postTx(ctx, tx, m)
		return err
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockEntry{}, err
	}
	s.recordAudit(ctx, m)
	return entry, nil
}

// postTx applies one movement inside an existing transaction.
func (s *Service) postTx(ctx context.Context, tx TxRepository, m movement) (StockEntry, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, m.WarehouseID, m.ItemID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return StockEntry{}, err
		}
		balance = Balance{WarehouseID: m.WarehouseID, ItemID: m.ItemID}
	}

	change := m.Qty
	unitCost := m.UnitCost
	if m.Direction == DirectionOut {
		change = -m.Qty
		unitCost = balance.AvgCost
	}
	newQty := balance.Qty + change
	if newQty < 0 && !s.cfg.AllowNegativeStock {
		return StockEntry{}, fmt.Errorf("%w: item %d in warehouse %d has %d on hand", ErrNegativeStock, m.ItemID, m.WarehouseID, balance.Qty)
	}

	if change > 0 {
		totalCost := float64(balance.Qty)*balance.AvgCost + float64(change)*unitCost
		if newQty > 0 {
			balance.AvgCost = totalCost / float64(newQty)
		}
	} else if newQty == 0 {
		balance.AvgCost = 0
	}
	balance.Qty = newQty
	balance.UpdatedAt = time.Now().UTC()

	entry := StockEntry{
		Code:        m.Code,
		Direction:   m.Direction,
		WarehouseID: m.WarehouseID,
		ItemID:      m.ItemID,
		Qty:         m.Qty,
		UnitCost:    unitCost,
		BalanceQty:  newQty,
		Note:        m.Note,
		RefModule:   m.RefModule,
		RefID:       m.RefID,
		PostedAt:    time.Now().UTC(),
	}
	entry.ID, err = tx.InsertStockEntry(ctx, entry)
	if err != nil {
		return StockEntry{}, err
	}
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return StockEntry{}, err
	}
	return entry, nil
}

// TransferLineInput describes one item to move.
type TransferLineInput struct {
	ItemID   int64
	ItemName string
	Qty      int64
	Unit     string
}

// CreateTransferInput describes a transfer request.
type CreateTransferInput struct {
	Number         string
	SrcWarehouseID int64
	DstWarehouseID int64
	Notes          string
	Lines          []TransferLineInput
}

// TransferReceiptInput records arrived quantity for one transfer line.
type TransferReceiptInput struct {
	LineID int64
	Qty    int64
}

// CreateTransfer persists a DRAFT transfer.
func (s *Service) CreateTransfer(ctx context.Context, input CreateTransferInput) (Transfer, error) {
	if input.SrcWarehouseID == 0 || input.DstWarehouseID == 0 {
		return Transfer{}, fmt.Errorf("%w: source and destination warehouse required", ErrValidation)
	}
	if input.SrcWarehouseID == input.DstWarehouseID {
		return Transfer{}, fmt.Errorf("%w: source and destination warehouse must differ", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Transfer{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	transfer := Transfer{
		Number:         input.Number,
		SrcWarehouseID: input.SrcWarehouseID,
		DstWarehouseID: input.DstWarehouseID,
		Status:         TransferStatusDraft,
		Notes:          input.Notes,
	}
	if transfer.Number == "" {
		transfer.Number = fmt.Sprintf("TRF-%d", time.Now().UnixNano())
	}
	var lines []TransferLine
	for _, in := range input.Lines {
		if in.ItemID == 0 || in.Qty < 1 {
			return Transfer{}, fmt.Errorf("%w: line requires item and quantity >= 1", ErrValidation)
		}
		unit := in.Unit
		if unit == "" {
			unit = "pcs"
		}
		lines = append(lines, TransferLine{ItemID: in.ItemID, ItemName: in.ItemName, Unit: unit, Qty: in.Qty})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		for _, line := range lines {
			line.TransferID = id
			lineID, err := tx.InsertTransferLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			transfer.Lines = append(transfer.Lines, line)
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordTransferAudit(ctx, "TRF_CREATE", transfer)
	return transfer, nil
}

// DispatchTransfer posts outbound entries from the source warehouse and
// freezes each line's unit cost at the source average cost.
func (s *Service) DispatchTransfer(ctx context.Context, id int64) (Transfer, error) {
	transfer, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !transfer.Status.CanDispatch() {
		return Transfer{}, fmt.Errorf("%w: cannot dispatch transfer in status %s", ErrInvalidState, transfer.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, line := range transfer.Lines {
			entry, err := s.postTx(ctx, tx, movement{
				Code:        fmt.Sprintf("%s-OUT-%d", transfer.Number, line.ItemID),
				Direction:   DirectionOut,
				WarehouseID: transfer.SrcWarehouseID,
				ItemID:      line.ItemID,
				Qty:         line.Qty,
				Note:        fmt.Sprintf("transfer %s dispatch", transfer.Number),
				RefModule:   "INVENTORY",
			})
			if err != nil {
				return err
			}
			if err := tx.UpdateTransferLineCost(ctx, line.ID, entry.UnitCost); err != nil {
				return err
			}
			transfer.Lines[i].UnitCost = entry.UnitCost
		}
		return tx.UpdateTransferStatus(ctx, id, TransferStatusDispatched)
	})
	if err != nil {
		return Transfer{}, err
	}
	transfer.Status = TransferStatusDispatched
	s.recordTransferAudit(ctx, "TRF_DISPATCH", transfer)
	return transfer, nil
}

// RecordTransferReceipt books arrived quantities at the destination. Partial
// arrivals leave the transfer open; the guarded counter refuses arrivals
// beyond the dispatched quantity.
func (s *Service) RecordTransferReceipt(ctx context.Context, id int64, inputs []TransferReceiptInput) (Transfer, error) {
	transfer, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !transfer.Status.CanReceive() {
		return Transfer{}, fmt.Errorf("%w: cannot receive transfer in status %s", ErrInvalidState, transfer.Status)
	}
	byID := make(map[int64]TransferLine, len(transfer.Lines))
	for _, line := range transfer.Lines {
		byID[line.ID] = line
	}
	anyReceived := false
	for _, in := range inputs {
		line, ok := byID[in.LineID]
		if !ok {
			return Transfer{}, fmt.Errorf("%w: transfer line %d not found", ErrValidation, in.LineID)
		}
		if in.Qty < 0 || in.Qty > line.RemainingQty() {
			return Transfer{}, fmt.Errorf("%w: quantity %d exceeds remaining %d for line %d", ErrValidation, in.Qty, line.RemainingQty(), line.ID)
		}
		if in.Qty > 0 {
			anyReceived = true
		}
	}
	if !anyReceived {
		return Transfer{}, fmt.Errorf("%w: receipt must record at least one unit", ErrValidation)
	}

	var next TransferStatus
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range inputs {
			if in.Qty == 0 {
				continue
			}
			ok, err := tx.AddTransferReceivedQty(ctx, in.LineID, in.Qty)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: counter update for transfer line %d would exceed dispatched quantity", ErrConsistency, in.LineID)
			}
			line := byID[in.LineID]
			if _, err := s.postTx(ctx, tx, movement{
				Code:        fmt.Sprintf("%s-IN-%d-%d", transfer.Number, line.ItemID, line.ReceivedQty+in.Qty),
				Direction:   DirectionIn,
				WarehouseID: transfer.DstWarehouseID,
				ItemID:      line.ItemID,
				Qty:         in.Qty,
				UnitCost:    line.UnitCost,
				Note:        fmt.Sprintf("transfer %s arrival", transfer.Number),
				RefModule:   "INVENTORY",
			}); err != nil {
				return err
			}
		}
		fresh, err := tx.GetTransferLines(ctx, id)
		if err != nil {
			return err
		}
		next = resolveTransferStatus(transfer.Status, fresh)
		if next != transfer.Status {
			return tx.UpdateTransferStatus(ctx, id, next)
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordTransferAudit(ctx, "TRF_RECEIVE", transfer)
	return s.repo.GetTransfer(ctx, id)
}

// CancelTransfer cancels a transfer with no recorded arrivals. A dispatched
// transfer returns its in-transit stock to the source warehouse.
func (s *Service) CancelTransfer(ctx context.Context, id int64) error {
	transfer, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return err
	}
	if !transfer.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel transfer in status %s", ErrInvalidState, transfer.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if transfer.Status == TransferStatusDispatched {
			for _, line := range transfer.Lines {
				remaining := line.RemainingQty()
				if remaining == 0 {
					continue
				}
				if _, err := s.postTx(ctx, tx, movement{
					Code:        fmt.Sprintf("%s-RET-%d", transfer.Number, line.ItemID),
					Direction:   DirectionIn,
					WarehouseID: transfer.SrcWarehouseID,
					ItemID:      line.ItemID,
					Qty:         remaining,
					UnitCost:    line.UnitCost,
					Note:        fmt.Sprintf("transfer %s cancelled", transfer.Number),
					RefModule:   "INVENTORY",
				}); err != nil {
					return err
				}
			}
		}
		return tx.UpdateTransferStatus(ctx, id, TransferStatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordTransferAudit(ctx, "TRF_CANCEL", transfer)
	return nil
}

// GetTransfer returns a transfer with its lines.
func (s *Service) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// ListTransfers returns a paginated transfer listing.
func (s *Service) ListTransfers(ctx context.Context, limit, offset int, status TransferStatus) ([]Transfer, int, error) {
	return s.repo.ListTransfers(ctx, limit, offset, status)
}

// GetBalance returns the on-hand balance of an item in a warehouse.
func (s *Service) GetBalance(ctx context.Context, warehouseID, itemID int64) (Balance, error) {
	if warehouseID == 0 {
		warehouseID = s.cfg.MainWarehouseID
	}
	if itemID == 0 {
		return Balance{}, fmt.Errorf("%w: item is required", ErrValidation)
	}
	return s.repo.GetBalance(ctx, warehouseID, itemID)
}

// ListLedger returns stock ledger entries.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]StockEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListLedger(ctx, filter)
}

func resolveTransferStatus(current TransferStatus, lines []TransferLine) TransferStatus {
	if current != TransferStatusDispatched && current != TransferStatusPartial {
		return current
	}
	complete := len(lines) > 0
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
		return TransferStatusReceived
	case anyReceived:
		return TransferStatusPartial
	default:
		return current
	}
}

func (s *Service) recordAudit(ctx context.Context, m movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   fmt.Sprintf("inventory:%s", m.Direction),
		Entity:   "stock_entry",
		EntityID: m.Code,
		Meta: map[string]any{
			"warehouse_id": m.WarehouseID,
			"item_id":      m.ItemID,
			"qty":          m.Qty,
		},
	})
}

func (s *Service) recordTransferAudit(ctx context.Context, action string, transfer Transfer) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", transfer.ID),
		Meta:     map[string]any{"number": transfer.Number},
	})
}
