package sku

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockledger/stockledger/internal/platform/httpx"
)

// Handler wires SKU master data endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the SKU handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers SKU routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/skus", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/", h.handleCreate)
		r.Put("/{id}", h.handleUpdate)
	})
}

type skuRequest struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	CurrentStock  int64  `json:"currentStock" validate:"gte=0"`
	MinStockLevel int64  `json:"minStockLevel" validate:"gte=0"`
	IsActive      *bool  `json:"isActive"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 20
	}

	filters := ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	if v := q.Get("isActive"); v != "" {
		active := v == "true"
		filters.IsActive = &active
	}

	skus, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list skus", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if skus == nil {
		skus = []SKU{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"skus": skus, "total": total, "page": page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sku id")
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get sku", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	item := SKU{
		Code:          req.Code,
		Name:          req.Name,
		CurrentStock:  req.CurrentStock,
		MinStockLevel: req.MinStockLevel,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	created, err := h.service.Create(r.Context(), item)
	if err != nil {
		h.respondError(w, "create sku", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sku id")
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	item := SKU{
		Code:          req.Code,
		Name:          req.Name,
		MinStockLevel: req.MinStockLevel,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if err := h.service.Update(r.Context(), id, item); err != nil {
		h.respondError(w, "update sku", err)
		return
	}
	updated, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "reload sku", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (skuRequest, bool) {
	var req skuRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body: "+err.Error())
		return skuRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return skuRequest{}, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalid):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
