package procurement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkline-erp/arkline/internal/inventory"
	"github.com/arkline-erp/arkline/internal/shared"
)

// memoryRepo implements RepositoryPort and TxRepository against maps with
// snapshot rollback, so service flows run without a database.
type memoryRepo struct {
	nextID   int64
	pos      map[int64]PurchaseOrder
	grns     map[int64]GoodsReceipt
	beforeTx func(r *memoryRepo)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		pos:  make(map[int64]PurchaseOrder),
		grns: make(map[int64]GoodsReceipt),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) snapshot() (map[int64]PurchaseOrder, map[int64]GoodsReceipt) {
	pos := make(map[int64]PurchaseOrder, len(r.pos))
	for k, v := range r.pos {
		v.Lines = append([]POLine(nil), v.Lines...)
		pos[k] = v
	}
	grns := make(map[int64]GoodsReceipt, len(r.grns))
	for k, v := range r.grns {
		v.Lines = append([]ReceiptLine(nil), v.Lines...)
		grns[k] = v
	}
	return pos, grns
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.beforeTx != nil {
		hook := r.beforeTx
		r.beforeTx = nil
		hook(r)
	}
	pos, grns := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.pos, r.grns = pos, grns
		return err
	}
	return nil
}

func (r *memoryRepo) GetPO(_ context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	po.Lines = append([]POLine(nil), po.Lines...)
	return po, nil
}

func (r *memoryRepo) GetGRN(_ context.Context, id int64) (GoodsReceipt, error) {
	grn, ok := r.grns[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	grn.Lines = append([]ReceiptLine(nil), grn.Lines...)
	return grn, nil
}

func (r *memoryRepo) ListPOs(_ context.Context, limit, offset int, _ ListFilters) ([]POListItem, int, error) {
	var items []POListItem
	for _, po := range r.pos {
		items = append(items, POListItem{ID: po.ID, Number: po.Number, Status: po.Status})
	}
	return items, len(items), nil
}

func (r *memoryRepo) ListPendingPOs(_ context.Context) ([]PurchaseOrder, error) {
	var pos []PurchaseOrder
	for _, po := range r.pos {
		if po.Status == POStatusSent || po.Status == POStatusPartial {
			pos = append(pos, po)
		}
	}
	return pos, nil
}

func (r *memoryRepo) ListGRNs(_ context.Context, limit, offset int, _ ListFilters) ([]GRNListItem, int, error) {
	var items []GRNListItem
	for _, grn := range r.grns {
		items = append(items, GRNListItem{ID: grn.ID, Number: grn.Number, Status: grn.Status})
	}
	return items, len(items), nil
}

func (r *memoryRepo) CreatePO(_ context.Context, po PurchaseOrder) (int64, error) {
	po.ID = r.id()
	r.pos[po.ID] = po
	return po.ID, nil
}

func (r *memoryRepo) InsertPOLine(_ context.Context, line POLine) (int64, error) {
	po := r.pos[line.POID]
	line.ID = r.id()
	po.Lines = append(po.Lines, line)
	r.pos[line.POID] = po
	return line.ID, nil
}

func (r *memoryRepo) UpdatePOHeader(_ context.Context, in PurchaseOrder) error {
	po := r.pos[in.ID]
	po.TaxRate = in.TaxRate
	po.ExpectedDelivery = in.ExpectedDelivery
	po.Notes = in.Notes
	r.pos[in.ID] = po
	return nil
}

func (r *memoryRepo) UpdatePOStatus(_ context.Context, id int64, status POStatus) error {
	po := r.pos[id]
	po.Status = status
	r.pos[id] = po
	return nil
}

func (r *memoryRepo) DeletePOLines(_ context.Context, poID int64) error {
	po := r.pos[poID]
	po.Lines = nil
	r.pos[poID] = po
	return nil
}

func (r *memoryRepo) DeletePO(_ context.Context, id int64) error {
	delete(r.pos, id)
	return nil
}

func (r *memoryRepo) GetPOLines(_ context.Context, poID int64) ([]POLine, error) {
	po := r.pos[poID]
	return append([]POLine(nil), po.Lines...), nil
}

func (r *memoryRepo) AddReceivedQty(_ context.Context, poLineID int64, qty int64) (bool, error) {
	for id, po := range r.pos {
		for i := range po.Lines {
			if po.Lines[i].ID != poLineID {
				continue
			}
			if po.Lines[i].ReceivedQty+qty > po.Lines[i].Qty {
				return false, nil
			}
			po.Lines[i].ReceivedQty += qty
			r.pos[id] = po
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) CreateGRN(_ context.Context, grn GoodsReceipt) (int64, error) {
	grn.ID = r.id()
	r.grns[grn.ID] = grn
	return grn.ID, nil
}

func (r *memoryRepo) InsertReceiptLine(_ context.Context, line ReceiptLine) (int64, error) {
	grn := r.grns[line.GRNID]
	line.ID = r.id()
	grn.Lines = append(grn.Lines, line)
	r.grns[line.GRNID] = grn
	return line.ID, nil
}

func (r *memoryRepo) UpdateGRNStatus(_ context.Context, id int64, status GRNStatus) error {
	grn := r.grns[id]
	grn.Status = status
	r.grns[id] = grn
	return nil
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

type stubInventory struct {
	posted []inventory.InboundInput
	err    error
}

func (s *stubInventory) PostInbound(_ context.Context, input inventory.InboundInput) (inventory.StockEntry, error) {
	if s.err != nil {
		return inventory.StockEntry{}, s.err
	}
	s.posted = append(s.posted, input)
	return inventory.StockEntry{ID: int64(len(s.posted)), ItemID: input.ItemID, Qty: input.Qty}, nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *stubInventory) {
	t.Helper()
	repo := newMemoryRepo()
	inv := &stubInventory{}
	svc := NewService(repo, inv, nil, &memoryIdempotency{})
	return svc, repo, inv
}

func createSentPO(t *testing.T, svc *Service) PurchaseOrder {
	t.Helper()
	po, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		Number:     "PO-1001",
		SupplierID: 7,
		TaxRate:    10,
		Lines: []POLineInput{
			{ItemID: 101, ItemName: "Widget", Qty: 10, UnitPrice: 12.5},
			{ItemID: 102, ItemName: "Gadget", Qty: 4, UnitPrice: 99.99, Unit: "box"},
		},
	})
	require.NoError(t, err)
	po, err = svc.SendPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	return po
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 0, Lines: []POLineInput{{ItemID: 1, Qty: 1}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 7})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 7, TaxRate: 120, Lines: []POLineInput{{ItemID: 1, Qty: 1}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 7, Lines: []POLineInput{{ItemID: 1, Qty: 0}}})
	require.ErrorIs(t, err, ErrValidation)

	po, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 7, Lines: []POLineInput{{ItemID: 1, ItemName: "Widget", Qty: 2, UnitPrice: 5}}})
	require.NoError(t, err)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, "pcs", po.Lines[0].Unit)
	require.NotEmpty(t, po.Number)
}

func TestUpdateLockedAfterSend(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := createSentPO(t, svc)

	_, err := svc.UpdatePurchaseOrder(context.Background(), po.ID, UpdatePOInput{
		TaxRate: 5,
		Lines:   []POLineInput{{ItemID: 101, ItemName: "Widget", Qty: 1, UnitPrice: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.SendPurchaseOrder(context.Background(), po.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSubmitFullReceiptCompletesPO(t *testing.T) {
	svc, repo, _ := newTestService(t)
	po := createSentPO(t, svc)

	grn, err := svc.SubmitGoodsReceipt(context.Background(), SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines: []ReceiptLineInput{
			{POLineID: po.Lines[0].ID, ReceivedQty: 10, AcceptedQty: 10},
			{POLineID: po.Lines[1].ID, ReceivedQty: 4, AcceptedQty: 4},
		},
	})
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, grn.Status)
	require.Len(t, grn.Lines, 2)
	require.Equal(t, 12.5, grn.Lines[0].UnitPrice, "price defaults from PO line")
	require.Equal(t, 524.96, grn.TotalAmount)

	stored, err := repo.GetPO(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, stored.Status)
	require.Equal(t, int64(10), stored.Lines[0].ReceivedQty)
	require.Equal(t, int64(4), stored.Lines[1].ReceivedQty)
}

func TestSubmitZeroPriceLineRecordsFreeStock(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := createSentPO(t, svc)

	free := 0.0
	grn, err := svc.SubmitGoodsReceipt(context.Background(), SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines: []ReceiptLineInput{
			{POLineID: po.Lines[0].ID, ReceivedQty: 10, AcceptedQty: 10, UnitPrice: &free},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, grn.Lines[0].UnitPrice, "explicit zero price is kept, not defaulted")
	require.Equal(t, 0.0, grn.Lines[0].Subtotal)
	require.Equal(t, 0.0, grn.TotalAmount)

	negative := -1.0
	_, err = svc.SubmitGoodsReceipt(context.Background(), SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-2",
		Lines: []ReceiptLineInput{
			{POLineID: po.Lines[1].ID, ReceivedQty: 1, AcceptedQty: 1, UnitPrice: &negative},
		},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSubmitPartialThenComplete(t *testing.T) {
	svc, repo, _ := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	_, err := svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines:         []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 6, AcceptedQty: 6}},
	})
	require.NoError(t, err)

	stored, err := repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartial, stored.Status)

	_, err = svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-2",
		Lines: []ReceiptLineInput{
			{POLineID: po.Lines[0].ID, ReceivedQty: 4, AcceptedQty: 4},
			{POLineID: po.Lines[1].ID, ReceivedQty: 4, AcceptedQty: 4},
		},
	})
	require.NoError(t, err)

	stored, err = repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, stored.Status)
}

func TestRejectedUnitsStayOpen(t *testing.T) {
	svc, repo, _ := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	grn, err := svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines:         []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 10, AcceptedQty: 7}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), grn.Lines[0].RejectedQty)
	require.Equal(t, 87.5, grn.Lines[0].Subtotal, "only accepted units are billed")

	stored, err := repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartial, stored.Status)
	require.Equal(t, int64(7), stored.Lines[0].ReceivedQty, "rejected units do not advance the counter")

	draft, err := svc.StartReceiptDraft(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), draft[0].RemainingQty, "rejected units remain receivable")
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	_, err := svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{POID: po.ID, SubmissionKey: "k"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{{POLineID: 9999, ReceivedQty: 1, AcceptedQty: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 11, AcceptedQty: 11}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 5, AcceptedQty: 6}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 0, AcceptedQty: 0}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSubmitRequiresReceivableStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	po, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID: 7,
		Lines:      []POLineInput{{ItemID: 101, ItemName: "Widget", Qty: 10, UnitPrice: 1}},
	})
	require.NoError(t, err)

	_, err = svc.SubmitGoodsReceipt(context.Background(), SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 1, AcceptedQty: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.StartReceiptDraft(context.Background(), po.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDuplicateSubmissionRefused(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	input := SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines:         []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 2, AcceptedQty: 2}},
	}
	_, err := svc.SubmitGoodsReceipt(ctx, input)
	require.NoError(t, err)

	_, err = svc.SubmitGoodsReceipt(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestConcurrentOverReceiptRollsBack(t *testing.T) {
	svc, repo, _ := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	// A racing receipt lands between the validation read and the counter
	// update; the guarded update must refuse and the whole GRN roll back.
	repo.beforeTx = func(r *memoryRepo) {
		_, err := r.AddReceivedQty(ctx, po.Lines[0].ID, 8)
		require.NoError(t, err)
	}

	_, err := svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines:         []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 10, AcceptedQty: 10}},
	})
	require.ErrorIs(t, err, ErrConsistency)

	grns, _, err := repo.ListGRNs(ctx, 10, 0, ListFilters{})
	require.NoError(t, err)
	require.Empty(t, grns, "failed submission leaves no receipt behind")

	stored, err := repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), stored.Lines[0].ReceivedQty, "racing receipt survives the rollback")

	// The submission key is released, so a corrected retry goes through.
	_, err = svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID:          po.ID,
		SubmissionKey: "sub-1",
		Lines:         []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 2, AcceptedQty: 2}},
	})
	require.NoError(t, err)
}

func TestCancelAfterReceiptRefused(t *testing.T) {
	svc, repo, _ := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	_, err := svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{{POLineID: po.Lines[0].ID, ReceivedQty: 1, AcceptedQty: 1}},
	})
	require.NoError(t, err)

	err = svc.CancelPurchaseOrder(ctx, po.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	other := createSentPOWithNumber(t, svc, "PO-1002")
	require.NoError(t, svc.CancelPurchaseOrder(ctx, other.ID))
	stored, err := repo.GetPO(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusCancelled, stored.Status)
}

func createSentPOWithNumber(t *testing.T, svc *Service, number string) PurchaseOrder {
	t.Helper()
	po, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		Number:     number,
		SupplierID: 7,
		Lines:      []POLineInput{{ItemID: 101, ItemName: "Widget", Qty: 10, UnitPrice: 1}},
	})
	require.NoError(t, err)
	po, err = svc.SendPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	return po
}

func TestDeleteOnlyDrafts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	sent := createSentPO(t, svc)
	require.ErrorIs(t, svc.DeletePurchaseOrder(ctx, sent.ID), ErrInvalidState)

	draft, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{
		SupplierID: 7,
		Lines:      []POLineInput{{ItemID: 101, ItemName: "Widget", Qty: 1, UnitPrice: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeletePurchaseOrder(ctx, draft.ID))

	_, err = repo.GetPO(ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPromotePostsInventoryOnCompletion(t *testing.T) {
	svc, _, inv := newTestService(t)
	po := createSentPO(t, svc)
	ctx := context.Background()

	grn, err := svc.SubmitGoodsReceipt(ctx, SubmitGRNInput{
		POID: po.ID, SubmissionKey: "k",
		Lines: []ReceiptLineInput{
			{POLineID: po.Lines[0].ID, ReceivedQty: 10, AcceptedQty: 8},
			{POLineID: po.Lines[1].ID, ReceivedQty: 2, AcceptedQty: 0},
		},
	})
	require.NoError(t, err)

	grn, err = svc.PromoteGoodsReceipt(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusInspected, grn.Status)
	require.Empty(t, inv.posted, "nothing posts before completion")

	grn, err = svc.PromoteGoodsReceipt(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusCompleted, grn.Status)
	require.Len(t, inv.posted, 1, "zero-accepted lines are skipped")
	require.Equal(t, int64(101), inv.posted[0].ItemID)
	require.Equal(t, int64(8), inv.posted[0].Qty)
	require.Equal(t, 12.5, inv.posted[0].UnitCost)
	require.Equal(t, "PROCUREMENT", inv.posted[0].RefModule)

	_, err = svc.PromoteGoodsReceipt(ctx, grn.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestListPendingPurchaseOrders(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	createSentPO(t, svc)
	draft, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{
		SupplierID: 7,
		Lines:      []POLineInput{{ItemID: 1, ItemName: "Widget", Qty: 1, UnitPrice: 1}},
	})
	require.NoError(t, err)

	pending, err := svc.ListPendingPurchaseOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotEqual(t, draft.ID, pending[0].ID)
}
