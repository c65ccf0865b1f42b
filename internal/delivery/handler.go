package delivery

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arkline-erp/arkline/internal/inventory"
	"github.com/arkline-erp/arkline/internal/platform/httpx"
	"github.com/arkline-erp/arkline/internal/shared"
)

// Handler exposes the delivery HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/challans", h.listChallans)
	r.Post("/challans", h.createChallan)
	r.Get("/challans/{id}", h.getChallan)
	r.Post("/challans/{id}/dispatch", h.dispatchChallan)
	r.Post("/challans/{id}/deliver", h.confirmDelivery)
	r.Post("/challans/{id}/cancel", h.cancelChallan)
	r.Get("/sales-orders/{id}/deliverable-lines", h.getDeliverableLines)
}

type createChallanRequest struct {
	Number       string `json:"number"`
	SalesOrderID int64  `json:"sales_order_id" validate:"required,gt=0"`
	Notes        string `json:"notes"`
	Lines        []struct {
		SOLineID int64 `json:"so_line_id" validate:"required,gt=0"`
		Qty      int64 `json:"qty" validate:"required,gte=1"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) listChallans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	salesOrderID, _ := strconv.ParseInt(q.Get("sales_order_id"), 10, 64)

	challans, total, err := h.service.ListChallans(r.Context(), limit, (page-1)*limit, ChallanStatus(q.Get("status")), salesOrderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if challans == nil {
		challans = []Challan{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       challans,
		"pagination": shared.NewPagination(page, limit, total),
	})
}

func (h *Handler) createChallan(w http.ResponseWriter, r *http.Request) {
	var req createChallanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateChallanInput{
		Number:       req.Number,
		SalesOrderID: req.SalesOrderID,
		Notes:        req.Notes,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, ChallanLineInput{SOLineID: l.SOLineID, Qty: l.Qty})
	}
	challan, err := h.service.CreateChallan(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, challan)
}

func (h *Handler) getChallan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	challan, err := h.service.GetChallan(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, challan)
}

func (h *Handler) dispatchChallan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	challan, err := h.service.DispatchChallan(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, challan)
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	challan, err := h.service.ConfirmDelivery(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, challan)
}

func (h *Handler) cancelChallan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelChallan(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(ChallanStatusCancelled)})
}

func (h *Handler) getDeliverableLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	lines, err := h.service.GetDeliverableLines(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if lines == nil {
		lines = []SOLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
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
	case errors.Is(err, inventory.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrConsistency):
		httpx.Problem(w, http.StatusInternalServerError, "Reconcile Manually", err.Error())
	default:
		h.logger.Error("delivery request failed", "path", r.URL.Path, "error", err)
		httpx.RespondError(w, err)
	}
}
