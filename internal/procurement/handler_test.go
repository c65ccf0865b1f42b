package procurement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, _, _ := newTestService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, svc).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, raw
}

func createPOViaAPI(t *testing.T, srv *httptest.Server) PurchaseOrder {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/purchase-orders", map[string]any{
		"supplier_id": 7,
		"tax_rate":    10,
		"lines": []map[string]any{
			{"item_id": 101, "item_name": "Widget", "qty": 10, "unit_price": 12.5},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var po PurchaseOrder
	require.NoError(t, json.Unmarshal(raw, &po))
	return po
}

func TestCreatePurchaseOrderEndpoint(t *testing.T) {
	srv := newTestServer(t)

	po := createPOViaAPI(t, srv)
	require.NotZero(t, po.ID)
	require.Equal(t, POStatusDraft, po.Status)
	require.Len(t, po.Lines, 1)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/purchase-orders", map[string]any{
		"tax_rate": 10,
		"lines":    []map[string]any{{"item_id": 101, "item_name": "Widget", "qty": 10}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
	var problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(raw, &problem))
	require.Equal(t, "Validation Failed", problem.Title)
	require.Equal(t, http.StatusBadRequest, problem.Status)
}

func TestGetPurchaseOrderNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/purchase-orders/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/purchase-orders/abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitGoodsReceiptEndpoint(t *testing.T) {
	srv := newTestServer(t)
	po := createPOViaAPI(t, srv)

	resp, raw := doJSON(t, http.MethodPost, fmt.Sprintf("%s/purchase-orders/%d/send", srv.URL, po.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	submit := map[string]any{
		"po_id":          po.ID,
		"submission_key": "sub-1",
		"lines": []map[string]any{
			{"po_line_id": po.Lines[0].ID, "received_qty": 10, "accepted_qty": 10},
		},
	}
	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/goods-receipts", submit)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var grn GoodsReceipt
	require.NoError(t, json.Unmarshal(raw, &grn))
	require.Equal(t, GRNStatusDraft, grn.Status)
	require.Equal(t, 125.0, grn.TotalAmount)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/goods-receipts", submit)
	require.Equal(t, http.StatusConflict, resp.StatusCode, "replayed submission key must be refused")

	resp, raw = doJSON(t, http.MethodGet, fmt.Sprintf("%s/purchase-orders/%d", srv.URL, po.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched PurchaseOrder
	require.NoError(t, json.Unmarshal(raw, &fetched))
	require.Equal(t, POStatusCompleted, fetched.Status)
}

func TestEditReceiptDraftEndpoint(t *testing.T) {
	srv := newTestServer(t)
	po := createPOViaAPI(t, srv)

	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/purchase-orders/%d/send", srv.URL, po.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodPost, fmt.Sprintf("%s/purchase-orders/%d/receipt-draft/edit", srv.URL, po.ID), map[string]any{
		"lines":      []map[string]any{{"po_line_id": po.Lines[0].ID, "received_qty": 6, "accepted_qty": 6}},
		"line_index": 0,
		"field":      "received_qty",
		"value":      4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var body struct {
		Lines []ReceiptLine `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body.Lines, 1)
	require.Equal(t, int64(4), body.Lines[0].ReceivedQty)
	require.Equal(t, int64(4), body.Lines[0].AcceptedQty, "accepted follows a received edit")
	require.Equal(t, 50.0, body.Lines[0].Subtotal)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/purchase-orders/%d/receipt-draft/edit", srv.URL, po.ID), map[string]any{
		"lines":      []map[string]any{{"po_line_id": po.Lines[0].ID, "received_qty": 6, "accepted_qty": 6}},
		"line_index": 5,
		"field":      "received_qty",
		"value":      4,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "out of range line index is a validation error")
}

func TestCancelReceivedPurchaseOrderEndpoint(t *testing.T) {
	srv := newTestServer(t)
	po := createPOViaAPI(t, srv)

	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/purchase-orders/%d/send", srv.URL, po.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/goods-receipts", map[string]any{
		"po_id":          po.ID,
		"submission_key": "sub-2",
		"lines": []map[string]any{
			{"po_line_id": po.Lines[0].ID, "received_qty": 4, "accepted_qty": 4},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/purchase-orders/%d/cancel", srv.URL, po.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode, "partially received orders cannot be cancelled")
}
