package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arkline-erp/arkline/internal/platform/httpx"
	"github.com/arkline-erp/arkline/internal/shared"
)

// Handler exposes the procurement HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders", h.listPurchaseOrders)
	r.Post("/purchase-orders", h.createPurchaseOrder)
	r.Get("/purchase-orders/pending", h.listPendingPurchaseOrders)
	r.Get("/purchase-orders/{id}", h.getPurchaseOrder)
	r.Put("/purchase-orders/{id}", h.updatePurchaseOrder)
	r.Delete("/purchase-orders/{id}", h.deletePurchaseOrder)
	r.Post("/purchase-orders/{id}/send", h.sendPurchaseOrder)
	r.Post("/purchase-orders/{id}/cancel", h.cancelPurchaseOrder)
	r.Get("/purchase-orders/{id}/receipt-draft", h.startReceiptDraft)
	r.Post("/purchase-orders/{id}/receipt-draft/edit", h.editReceiptDraft)

	r.Get("/goods-receipts", h.listGoodsReceipts)
	r.Post("/goods-receipts", h.submitGoodsReceipt)
	r.Get("/goods-receipts/{id}", h.getGoodsReceipt)
	r.Post("/goods-receipts/{id}/promote", h.promoteGoodsReceipt)
}

type poLineRequest struct {
	ItemID    int64   `json:"item_id" validate:"required,gt=0"`
	ItemName  string  `json:"item_name" validate:"required"`
	Qty       int64   `json:"qty" validate:"required,gte=1"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Unit      string  `json:"unit"`
}

type createPORequest struct {
	Number           string          `json:"number"`
	SupplierID       int64           `json:"supplier_id" validate:"required,gt=0"`
	TaxRate          float64         `json:"tax_rate" validate:"gte=0,lte=100"`
	ExpectedDelivery string          `json:"expected_delivery"`
	Notes            string          `json:"notes"`
	Lines            []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updatePORequest struct {
	TaxRate          float64         `json:"tax_rate" validate:"gte=0,lte=100"`
	ExpectedDelivery string          `json:"expected_delivery"`
	Notes            string          `json:"notes"`
	Lines            []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiptLineRequest struct {
	POLineID    int64    `json:"po_line_id" validate:"required,gt=0"`
	ReceivedQty int64    `json:"received_qty" validate:"gte=0"`
	AcceptedQty int64    `json:"accepted_qty" validate:"gte=0"`
	UnitPrice   *float64 `json:"unit_price" validate:"omitempty,gte=0"`
}

type submitGRNRequest struct {
	POID          int64                `json:"po_id" validate:"required,gt=0"`
	Number        string               `json:"number"`
	SubmissionKey string               `json:"submission_key" validate:"required"`
	InvoiceNumber string               `json:"invoice_number"`
	InvoiceDate   string               `json:"invoice_date"`
	ReceivedDate  string               `json:"received_date"`
	Notes         string               `json:"notes"`
	Lines         []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type editDraftRequest struct {
	Lines     []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
	LineIndex int                  `json:"line_index" validate:"gte=0"`
	Field     string               `json:"field" validate:"required,oneof=received_qty accepted_qty unit_price"`
	Value     float64              `json:"value"`
}

type listResponse struct {
	Data       any               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r)
	filters := parseFilters(r)

	items, total, err := h.service.ListPurchaseOrders(r.Context(), limit, (page-1)*limit, filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []POListItem{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: shared.NewPagination(page, limit, total)})
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if !h.decode(w, r, &req) {
		return
	}
	expected, ok := h.parseDate(w, req.ExpectedDelivery, "expected_delivery")
	if !ok {
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), CreatePOInput{
		Number:           req.Number,
		SupplierID:       req.SupplierID,
		TaxRate:          req.TaxRate,
		ExpectedDelivery: expected,
		Notes:            req.Notes,
		Lines:            toPOLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listPendingPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	pos, err := h.service.ListPendingPurchaseOrders(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if pos == nil {
		pos = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": pos})
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) updatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req updatePORequest
	if !h.decode(w, r, &req) {
		return
	}
	expected, ok := h.parseDate(w, req.ExpectedDelivery, "expected_delivery")
	if !ok {
		return
	}
	po, err := h.service.UpdatePurchaseOrder(r.Context(), id, UpdatePOInput{
		TaxRate:          req.TaxRate,
		ExpectedDelivery: expected,
		Notes:            req.Notes,
		Lines:            toPOLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) deletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePurchaseOrder(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	po, err := h.service.SendPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelPurchaseOrder(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(POStatusCancelled)})
}

func (h *Handler) startReceiptDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	lines, err := h.service.StartReceiptDraft(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// editReceiptDraft recomputes one draft line after a field edit. The draft is
// client-held state, so the full line set travels with the request.
func (h *Handler) editReceiptDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req editDraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	draft := StartReceiptDraft(po)
	draft, err = applyDraftEdits(draft, req.Lines)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	edited, err := EditLine(draft, req.LineIndex, LineField(req.Field), req.Value)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": edited})
}

func (h *Handler) listGoodsReceipts(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r)
	filters := parseFilters(r)

	items, total, err := h.service.ListGoodsReceipts(r.Context(), limit, (page-1)*limit, filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []GRNListItem{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: shared.NewPagination(page, limit, total)})
}

func (h *Handler) submitGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	var req submitGRNRequest
	if !h.decode(w, r, &req) {
		return
	}
	invoiceDate, ok := h.parseDate(w, req.InvoiceDate, "invoice_date")
	if !ok {
		return
	}
	receivedDate, ok := h.parseDate(w, req.ReceivedDate, "received_date")
	if !ok {
		return
	}

	input := SubmitGRNInput{
		POID:          req.POID,
		Number:        req.Number,
		SubmissionKey: req.SubmissionKey,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   invoiceDate,
		ReceivedDate:  receivedDate,
		Notes:         req.Notes,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiptLineInput(line))
	}

	grn, err := h.service.SubmitGoodsReceipt(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) getGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	grn, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) promoteGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	grn, err := h.service.PromoteGoodsReceipt(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) parseDate(w http.ResponseWriter, value, field string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", field+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Submission", "this receipt was already submitted")
	case errors.Is(err, ErrConsistency):
		httpx.Problem(w, http.StatusInternalServerError, "Reconcile Manually", err.Error())
	default:
		h.logger.Error("procurement request failed", "path", r.URL.Path, "error", err)
		httpx.RespondError(w, err)
	}
}

func parsePage(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func parseFilters(r *http.Request) ListFilters {
	q := r.URL.Query()
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	return ListFilters{
		Status:     q.Get("status"),
		SupplierID: supplierID,
		Search:     q.Get("q"),
		SortBy:     q.Get("sort_by"),
		SortDir:    q.Get("sort_dir"),
	}
}

func toPOLineInputs(lines []poLineRequest) []POLineInput {
	out := make([]POLineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, POLineInput(l))
	}
	return out
}

// applyDraftEdits overlays client-held quantities onto a freshly built draft.
func applyDraftEdits(draft []ReceiptLine, lines []receiptLineRequest) ([]ReceiptLine, error) {
	byPOLine := make(map[int64]receiptLineRequest, len(lines))
	for _, l := range lines {
		byPOLine[l.POLineID] = l
	}
	for i := range draft {
		l, ok := byPOLine[draft[i].POLineID]
		if !ok {
			continue
		}
		var err error
		if draft, err = EditReceivedQty(draft, i, l.ReceivedQty); err != nil {
			return nil, err
		}
		if draft, err = EditAcceptedQty(draft, i, l.AcceptedQty); err != nil {
			return nil, err
		}
		if l.UnitPrice != nil {
			if draft, err = EditUnitPrice(draft, i, *l.UnitPrice); err != nil {
				return nil, err
			}
		}
	}
	return draft, nil
}
