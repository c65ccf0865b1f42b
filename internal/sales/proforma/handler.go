package proforma

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

// Handler exposes the proforma HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers proforma routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/proformas", h.list)
	r.Post("/proformas", h.create)
	r.Get("/proformas/{id}", h.get)
	r.Put("/proformas/{id}", h.update)
	r.Post("/proformas/{id}/issue", h.issue)
	r.Post("/proformas/{id}/convert", h.convert)
	r.Post("/proformas/{id}/expire", h.expire)
	r.Post("/proformas/{id}/cancel", h.cancel)
}

type lineRequest struct {
	ItemID          int64   `json:"item_id" validate:"required,gt=0"`
	ItemName        string  `json:"item_name" validate:"required"`
	Qty             int64   `json:"qty" validate:"required,gte=1"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
	TaxPercent      float64 `json:"tax_percent" validate:"gte=0,lte=100"`
	Unit            string  `json:"unit"`
}

type createRequest struct {
	Number     string        `json:"number"`
	CustomerID int64         `json:"customer_id" validate:"required,gt=0"`
	Notes      string        `json:"notes"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateRequest struct {
	Notes string        `json:"notes"`
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type issueRequest struct {
	ValidUntil string `json:"valid_until"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	customerID, _ := strconv.ParseInt(q.Get("customer_id"), 10, 64)

	items, total, err := h.service.List(r.Context(), limit, (page-1)*limit, Status(q.Get("status")), customerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Proforma{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": shared.NewPagination(page, limit, total),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		Number:     req.Number,
		CustomerID: req.CustomerID,
		Notes:      req.Notes,
		Lines:      toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{
		Notes: req.Notes,
		Lines: toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	var validUntil time.Time
	if req.ValidUntil != "" {
		var err error
		validUntil, err = time.Parse("2006-01-02", req.ValidUntil)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "valid_until must be YYYY-MM-DD")
			return
		}
	}
	p, err := h.service.Issue(r.Context(), id, validUntil)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Convert(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) expire(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.MarkExpired(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusCancelled)})
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
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	default:
		h.logger.Error("proforma request failed", "path", r.URL.Path, "error", err)
		httpx.RespondError(w, err)
	}
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput(l))
	}
	return out
}
