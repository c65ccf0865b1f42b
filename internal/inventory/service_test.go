package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkline-erp/arkline/internal/shared"
)

type balanceKey struct {
	warehouseID int64
	itemID      int64
}

// memoryRepo implements RepositoryPort and TxRepository with snapshot
// rollback.
type memoryRepo struct {
	nextID    int64
	balances  map[balanceKey]Balance
	entries   []StockEntry
	transfers map[int64]Transfer
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		balances:  make(map[balanceKey]Balance),
		transfers: make(map[int64]Transfer),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	balances := make(map[balanceKey]Balance, len(r.balances))
	for k, v := range r.balances {
		balances[k] = v
	}
	entries := append([]StockEntry(nil), r.entries...)
	transfers := make(map[int64]Transfer, len(r.transfers))
	for k, v := range r.transfers {
		v.Lines = append([]TransferLine(nil), v.Lines...)
		transfers[k] = v
	}
	if err := fn(ctx, r); err != nil {
		r.balances, r.entries, r.transfers = balances, entries, transfers
		return err
	}
	return nil
}

func (r *memoryRepo) GetTransfer(_ context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	t.Lines = append([]TransferLine(nil), t.Lines...)
	return t, nil
}

func (r *memoryRepo) ListTransfers(_ context.Context, limit, offset int, status TransferStatus) ([]Transfer, int, error) {
	var out []Transfer
	for _, t := range r.transfers {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) GetBalance(_ context.Context, warehouseID, itemID int64) (Balance, error) {
	b, ok := r.balances[balanceKey{warehouseID, itemID}]
	if !ok {
		return Balance{WarehouseID: warehouseID, ItemID: itemID}, nil
	}
	return b, nil
}

func (r *memoryRepo) ListLedger(_ context.Context, filter LedgerFilter) ([]StockEntry, error) {
	var out []StockEntry
	for _, e := range r.entries {
		if filter.WarehouseID > 0 && e.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.ItemID > 0 && e.ItemID != filter.ItemID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) GetBalanceForUpdate(_ context.Context, warehouseID, itemID int64) (Balance, error) {
	b, ok := r.balances[balanceKey{warehouseID, itemID}]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (r *memoryRepo) UpsertBalance(_ context.Context, balance Balance) error {
	r.balances[balanceKey{balance.WarehouseID, balance.ItemID}] = balance
	return nil
}

func (r *memoryRepo) InsertStockEntry(_ context.Context, entry StockEntry) (int64, error) {
	entry.ID = r.id()
	r.entries = append(r.entries, entry)
	return entry.ID, nil
}

func (r *memoryRepo) CreateTransfer(_ context.Context, transfer Transfer) (int64, error) {
	transfer.ID = r.id()
	r.transfers[transfer.ID] = transfer
	return transfer.ID, nil
}

func (r *memoryRepo) InsertTransferLine(_ context.Context, line TransferLine) (int64, error) {
	t := r.transfers[line.TransferID]
	line.ID = r.id()
	t.Lines = append(t.Lines, line)
	r.transfers[line.TransferID] = t
	return line.ID, nil
}

func (r *memoryRepo) UpdateTransferLineCost(_ context.Context, lineID int64, unitCost float64) error {
	for id, t := range r.transfers {
		for i := range t.Lines {
			if t.Lines[i].ID == lineID {
				t.Lines[i].UnitCost = unitCost
				r.transfers[id] = t
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) UpdateTransferStatus(_ context.Context, id int64, status TransferStatus) error {
	t := r.transfers[id]
	t.Status = status
	r.transfers[id] = t
	return nil
}

func (r *memoryRepo) AddTransferReceivedQty(_ context.Context, lineID int64, qty int64) (bool, error) {
	for id, t := range r.transfers {
		for i := range t.Lines {
			if t.Lines[i].ID != lineID {
				continue
			}
			if t.Lines[i].ReceivedQty+qty > t.Lines[i].Qty {
				return false, nil
			}
			t.Lines[i].ReceivedQty += qty
			r.transfers[id] = t
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) GetTransferLines(_ context.Context, transferID int64) ([]TransferLine, error) {
	t := r.transfers[transferID]
	return append([]TransferLine(nil), t.Lines...), nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, nil, &memoryIdempotency{}, ServiceConfig{MainWarehouseID: 1})
	return svc, repo
}

func TestPostInboundBuildsBalance(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	entry, err := svc.PostInbound(ctx, InboundInput{Code: "GRN-1", ItemID: 101, Qty: 10, UnitCost: 5})
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.WarehouseID, "defaults to main warehouse")
	require.Equal(t, int64(10), entry.BalanceQty)

	entry, err = svc.PostInbound(ctx, InboundInput{Code: "GRN-2", ItemID: 101, Qty: 10, UnitCost: 7})
	require.NoError(t, err)
	require.Equal(t, int64(20), entry.BalanceQty)

	balance, err := svc.GetBalance(ctx, 0, 101)
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Qty)
	require.Equal(t, 6.0, balance.AvgCost, "moving average over both receipts")

	require.Len(t, repo.entries, 2)
}

func TestPostInboundValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{ItemID: 0, Qty: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.PostInbound(ctx, InboundInput{ItemID: 1, Qty: 0})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.PostInbound(ctx, InboundInput{ItemID: 1, Qty: 1, UnitCost: -1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.PostInbound(ctx, InboundInput{ItemID: 1, Qty: 1, RefID: "not-a-uuid"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestPostInboundDuplicateCodeRefused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{Code: "GRN-1", ItemID: 101, Qty: 5, UnitCost: 2})
	require.NoError(t, err)

	_, err = svc.PostInbound(ctx, InboundInput{Code: "GRN-1", ItemID: 101, Qty: 5, UnitCost: 2})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestPostOutboundGuardsStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{Code: "in", ItemID: 101, Qty: 5, UnitCost: 4})
	require.NoError(t, err)

	_, err = svc.PostOutbound(ctx, OutboundInput{Code: "out-big", ItemID: 101, Qty: 6})
	require.ErrorIs(t, err, ErrNegativeStock)

	entry, err := svc.PostOutbound(ctx, OutboundInput{Code: "out", ItemID: 101, Qty: 5})
	require.NoError(t, err)
	require.Equal(t, 4.0, entry.UnitCost, "outbound books at balance average cost")
	require.Equal(t, int64(0), entry.BalanceQty)

	balance, err := svc.GetBalance(ctx, 1, 101)
	require.NoError(t, err)
	require.Equal(t, 0.0, balance.AvgCost, "average resets at zero balance")
}

func seedTransfer(t *testing.T, svc *Service) Transfer {
	t.Helper()
	ctx := context.Background()
	_, err := svc.PostInbound(ctx, InboundInput{Code: "seed-101", WarehouseID: 1, ItemID: 101, Qty: 20, UnitCost: 3})
	require.NoError(t, err)
	_, err = svc.PostInbound(ctx, InboundInput{Code: "seed-102", WarehouseID: 1, ItemID: 102, Qty: 5, UnitCost: 9})
	require.NoError(t, err)

	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		Number:         "TRF-1",
		SrcWarehouseID: 1,
		DstWarehouseID: 2,
		Lines: []TransferLineInput{
			{ItemID: 101, ItemName: "Widget", Qty: 10},
			{ItemID: 102, ItemName: "Gadget", Qty: 5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, TransferStatusDraft, transfer.Status)
	return transfer
}

func TestCreateTransferValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTransfer(ctx, CreateTransferInput{SrcWarehouseID: 1, DstWarehouseID: 1, Lines: []TransferLineInput{{ItemID: 1, Qty: 1}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateTransfer(ctx, CreateTransferInput{SrcWarehouseID: 1, DstWarehouseID: 2})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateTransfer(ctx, CreateTransferInput{SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []TransferLineInput{{ItemID: 1, Qty: 0}}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestDispatchMovesStockOut(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	transfer := seedTransfer(t, svc)

	transfer, err := svc.DispatchTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, TransferStatusDispatched, transfer.Status)
	require.Equal(t, 3.0, transfer.Lines[0].UnitCost, "cost frozen at source average")

	src, err := svc.GetBalance(ctx, 1, 101)
	require.NoError(t, err)
	require.Equal(t, int64(10), src.Qty)

	_, err = svc.DispatchTransfer(ctx, transfer.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDispatchWithoutStockRollsBack(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		SrcWarehouseID: 1,
		DstWarehouseID: 2,
		Lines:          []TransferLineInput{{ItemID: 999, ItemName: "Ghost", Qty: 1}},
	})
	require.NoError(t, err)

	_, err = svc.DispatchTransfer(ctx, transfer.ID)
	require.ErrorIs(t, err, ErrNegativeStock)

	stored, err := repo.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, TransferStatusDraft, stored.Status, "failed dispatch leaves the draft intact")
	require.Empty(t, repo.entries)
}

func TestTransferPartialThenReceived(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	transfer := seedTransfer(t, svc)

	transfer, err := svc.DispatchTransfer(ctx, transfer.ID)
	require.NoError(t, err)

	transfer, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{
		{LineID: transfer.Lines[0].ID, Qty: 4},
	})
	require.NoError(t, err)
	require.Equal(t, TransferStatusPartial, transfer.Status)
	require.Equal(t, int64(4), transfer.Lines[0].ReceivedQty)

	dst, err := svc.GetBalance(ctx, 2, 101)
	require.NoError(t, err)
	require.Equal(t, int64(4), dst.Qty)
	require.Equal(t, 3.0, dst.AvgCost, "arrives at the frozen dispatch cost")

	transfer, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{
		{LineID: transfer.Lines[0].ID, Qty: 6},
		{LineID: transfer.Lines[1].ID, Qty: 5},
	})
	require.NoError(t, err)
	require.Equal(t, TransferStatusReceived, transfer.Status)

	_, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{
		{LineID: transfer.Lines[0].ID, Qty: 1},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTransferReceiptValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	transfer := seedTransfer(t, svc)

	_, err := svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{{LineID: transfer.Lines[0].ID, Qty: 1}})
	require.ErrorIs(t, err, ErrInvalidState, "draft cannot receive")

	transfer, err = svc.DispatchTransfer(ctx, transfer.ID)
	require.NoError(t, err)

	_, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{{LineID: 9999, Qty: 1}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{{LineID: transfer.Lines[0].ID, Qty: 11}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{{LineID: transfer.Lines[0].ID, Qty: 0}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCancelDispatchedReturnsStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	transfer := seedTransfer(t, svc)

	transfer, err := svc.DispatchTransfer(ctx, transfer.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CancelTransfer(ctx, transfer.ID))

	src, err := svc.GetBalance(ctx, 1, 101)
	require.NoError(t, err)
	require.Equal(t, int64(20), src.Qty, "in-transit stock returns to source")

	stored, err := svc.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, TransferStatusCancelled, stored.Status)
}

func TestCancelAfterArrivalRefused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	transfer := seedTransfer(t, svc)

	transfer, err := svc.DispatchTransfer(ctx, transfer.ID)
	require.NoError(t, err)

	_, err = svc.RecordTransferReceipt(ctx, transfer.ID, []TransferReceiptInput{{LineID: transfer.Lines[0].ID, Qty: 1}})
	require.NoError(t, err)

	require.ErrorIs(t, svc.CancelTransfer(ctx, transfer.ID), ErrInvalidState)
}
