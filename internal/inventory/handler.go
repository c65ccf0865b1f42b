package inventory

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

// Handler exposes the inventory HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledger", h.listLedger)
	r.Get("/balances", h.getBalance)
	r.Post("/entries/inbound", h.postInbound)
	r.Post("/entries/outbound", h.postOutbound)

	r.Get("/transfers", h.listTransfers)
	r.Post("/transfers", h.createTransfer)
	r.Get("/transfers/{id}", h.getTransfer)
	r.Post("/transfers/{id}/dispatch", h.dispatchTransfer)
	r.Post("/transfers/{id}/receipts", h.recordTransferReceipt)
	r.Post("/transfers/{id}/cancel", h.cancelTransfer)
}

type inboundRequest struct {
	Code        string  `json:"code"`
	WarehouseID int64   `json:"warehouse_id"`
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	Qty         int64   `json:"qty" validate:"required,gte=1"`
	UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
	Note        string  `json:"note"`
	RefModule   string  `json:"ref_module"`
	RefID       string  `json:"ref_id"`
}

type outboundRequest struct {
	Code        string `json:"code"`
	WarehouseID int64  `json:"warehouse_id"`
	ItemID      int64  `json:"item_id" validate:"required,gt=0"`
	Qty         int64  `json:"qty" validate:"required,gte=1"`
	Note        string `json:"note"`
	RefModule   string `json:"ref_module"`
	RefID       string `json:"ref_id"`
}

type transferLineRequest struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	ItemName string `json:"item_name" validate:"required"`
	Qty      int64  `json:"qty" validate:"required,gte=1"`
	Unit     string `json:"unit"`
}

type createTransferRequest struct {
	Number         string                `json:"number"`
	SrcWarehouseID int64                 `json:"src_warehouse_id" validate:"required,gt=0"`
	DstWarehouseID int64                 `json:"dst_warehouse_id" validate:"required,gt=0"`
	Notes          string                `json:"notes"`
	Lines          []transferLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type transferReceiptRequest struct {
	Lines []struct {
		LineID int64 `json:"line_id" validate:"required,gt=0"`
		Qty    int64 `json:"qty" validate:"gte=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	itemID, _ := strconv.ParseInt(q.Get("item_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	from, _ := time.Parse("2006-01-02", q.Get("from"))
	to, _ := time.Parse("2006-01-02", q.Get("to"))

	entries, err := h.service.ListLedger(r.Context(), LedgerFilter{
		WarehouseID: warehouseID,
		ItemID:      itemID,
		From:        from,
		To:          to,
		Limit:       limit,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []StockEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	itemID, _ := strconv.ParseInt(q.Get("item_id"), 10, 64)

	balance, err := h.service.GetBalance(r.Context(), warehouseID, itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) postInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.PostInbound(r.Context(), InboundInput(req))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) postOutbound(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.PostOutbound(r.Context(), OutboundInput(req))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	transfers, total, err := h.service.ListTransfers(r.Context(), limit, (page-1)*limit, TransferStatus(q.Get("status")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if transfers == nil {
		transfers = []Transfer{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       transfers,
		"pagination": shared.NewPagination(page, limit, total),
	})
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreateTransferInput{
		Number:         req.Number,
		SrcWarehouseID: req.SrcWarehouseID,
		DstWarehouseID: req.DstWarehouseID,
		Notes:          req.Notes,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, TransferLineInput(l))
	}
	transfer, err := h.service.CreateTransfer(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) dispatchTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	transfer, err := h.service.DispatchTransfer(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) recordTransferReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req transferReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	var inputs []TransferReceiptInput
	for _, l := range req.Lines {
		inputs = append(inputs, TransferReceiptInput{LineID: l.LineID, Qty: l.Qty})
	}
	transfer, err := h.service.RecordTransferReceipt(r.Context(), id, inputs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelTransfer(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(TransferStatusCancelled)})
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

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Submission", "this posting was already processed")
	case errors.Is(err, ErrConsistency):
		httpx.Problem(w, http.StatusInternalServerError, "Reconcile Manually", err.Error())
	default:
		h.logger.Error("inventory request failed", "path", r.URL.Path, "error", err)
		httpx.RespondError(w, err)
	}
}
