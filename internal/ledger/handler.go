package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stockledger/stockledger/internal/platform/httpx"
	"github.com/stockledger/stockledger/internal/shared"
)

const writeRateLimit = 60
const writeRateWindow = time.Minute

// IdempotencyPort guards repeated submission of the same request key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort counts write attempts by type and outcome.
type MetricsPort interface {
	ObserveAdjustment(adjustmentType, outcome string)
}

// Handler wires the ledger JSON endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyPort
	metrics     MetricsPort
	validate    *validator.Validate
}

// NewHandler constructs the ledger handler. idempotency and metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyPort, metrics MetricsPort) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		metrics:     metrics,
		validate:    validator.New(),
	}
}

func (h *Handler) observeWrite(adjustmentType string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
	}
	h.metrics.ObserveAdjustment(adjustmentType, outcome)
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(writeRateLimit, writeRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "write rate limit exceeded")
		}),
	)
	r.Route("/adjustments", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Get("/{id}", h.handleGet)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/", h.handleCreate)
			gr.Post("/bulk", h.handleCreateBulk)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor != 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type adjustmentRequest struct {
	SKUID          int64  `json:"skuId" validate:"required,gt=0"`
	AdjustmentType string `json:"adjustmentType" validate:"required,oneof=increase decrease"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	Reason         string `json:"reason" validate:"required,oneof=damaged expired lost found inventory_count other"`
	Notes          string `json:"notes"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type bulkItemRequest struct {
	SKUID    int64 `json:"skuId" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type bulkRequest struct {
	Items          []bulkItemRequest `json:"items" validate:"required,min=1,dive"`
	AdjustmentType string            `json:"adjustmentType" validate:"required,oneof=increase decrease"`
	Reason         string            `json:"reason" validate:"required,oneof=damaged expired lost found inventory_count other"`
	Notes          string            `json:"notes"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type entryResponse struct {
	ID             int64        `json:"id"`
	SKU            skuResponse  `json:"sku"`
	AdjustmentType string       `json:"adjustmentType"`
	Quantity       int64        `json:"quantity"`
	Reason         string       `json:"reason"`
	Notes          string       `json:"notes,omitempty"`
	User           userResponse `json:"user"`
	PreviousStock  int64        `json:"previousStock"`
	NewStock       int64        `json:"newStock"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type skuResponse struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type userResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type listResponse struct {
	Adjustments []entryResponse `json:"adjustments"`
	Page        int             `json:"page"`
	Pages       int             `json:"pages"`
	Total       int             `json:"total"`
}

type bulkOutcomeResponse struct {
	Index      int            `json:"index"`
	Adjustment *entryResponse `json:"adjustment,omitempty"`
	Error      *outcomeError  `json:"error,omitempty"`
}

type outcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:             e.Adjustment.ID,
		SKU:            skuResponse{ID: e.SKU.ID, Code: e.SKU.Code, Name: e.SKU.Name},
		AdjustmentType: string(e.Adjustment.Type),
		Quantity:       e.Adjustment.Quantity,
		Reason:         string(e.Adjustment.Reason),
		Notes:          e.Adjustment.Notes,
		User:           userResponse{ID: e.Actor.ID, Name: e.Actor.Name, Email: e.Actor.Email},
		PreviousStock:  e.Adjustment.PreviousStock,
		NewStock:       e.Adjustment.NewStock(),
		CreatedAt:      e.Adjustment.CreatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
		return
	}

	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key, ok := h.claimIdempotencyKey(r.Context(), w, req.IdempotencyKey)
	if !ok {
		return
	}

	adj, err := h.service.RecordAdjustment(r.Context(), AdjustmentInput{
		SKUID:    req.SKUID,
		Type:     AdjustmentType(req.AdjustmentType),
		Quantity: req.Quantity,
		Reason:   Reason(req.Reason),
		Notes:    req.Notes,
		ActorID:  actor,
	})
	h.observeWrite(req.AdjustmentType, err)
	if err != nil {
		h.releaseIdempotencyKey(r.Context(), key)
		h.respondError(w, r, "record adjustment", err)
		return
	}

	entry, err := h.service.Get(r.Context(), adj.ID)
	if err != nil {
		h.logger.Error("resolve created adjustment", slog.Any("error", err), slog.Int64("id", adj.ID))
		h.respondError(w, r, "resolve created adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleCreateBulk(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
		return
	}

	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if _, ok := h.claimIdempotencyKey(r.Context(), w, req.IdempotencyKey); !ok {
		return
	}

	items := make([]BulkItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = BulkItem{SKUID: it.SKUID, Quantity: it.Quantity}
	}
	outcomes := h.service.RecordBulk(r.Context(), BulkInput{
		Items:   items,
		Type:    AdjustmentType(req.AdjustmentType),
		Reason:  Reason(req.Reason),
		Notes:   req.Notes,
		ActorID: actor,
	})

	results := make([]bulkOutcomeResponse, len(outcomes))
	for i, out := range outcomes {
		results[i].Index = out.Index
		h.observeWrite(req.AdjustmentType, out.Err)
		if out.Err != nil {
			results[i].Error = &outcomeError{Code: errorCode(out.Err), Message: out.Err.Error()}
			continue
		}
		entry, err := h.service.Get(r.Context(), out.Adjustment.ID)
		if err != nil {
			h.logger.Error("resolve bulk adjustment", slog.Any("error", err), slog.Int64("id", out.Adjustment.ID))
			results[i].Error = &outcomeError{Code: "internal", Message: "adjustment committed but could not be resolved"}
			continue
		}
		resp := toEntryResponse(entry)
		results[i].Adjustment = &resp
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, sort, page, err := parseListQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, pg, err := h.service.List(r.Context(), f, sort, page)
	if err != nil {
		h.respondError(w, r, "list adjustments", err)
		return
	}
	resp := listResponse{
		Adjustments: make([]entryResponse, 0, len(entries)),
		Page:        pg.Page,
		Pages:       pg.TotalPages,
		Total:       pg.Total,
	}
	for _, e := range entries {
		resp.Adjustments = append(resp.Adjustments, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid adjustment id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	dr, err := parseDateRange(r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	stats, err := h.service.StatsByType(r.Context(), dr)
	if err != nil {
		h.respondError(w, r, "stats", err)
		return
	}
	if stats == nil {
		stats = []TypeStats{}
	}
	httpx.JSON(w, http.StatusOK, stats)
}

// claimIdempotencyKey validates and records an optional client key.
// A repeated key refuses the request before any write happens.
func (h *Handler) claimIdempotencyKey(ctx context.Context, w http.ResponseWriter, key string) (string, bool) {
	if key == "" || h.idempotency == nil {
		return "", true
	}
	if _, err := uuid.Parse(key); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "idempotency key must be a UUID")
		return "", false
	}
	if err := h.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "request with this idempotency key was already processed")
			return "", false
		}
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "idempotency check failed")
		return "", false
	}
	return key, true
}

func (h *Handler) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(ctx, key); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrSKUNotFound), errors.Is(err, ErrAdjustmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidSort):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "storage unreachable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrSKUNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidReason):
		return "invalid_argument"
	case errors.Is(err, ErrInsufficientStock):
		return "invalid_operation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotAttempted):
		return "not_attempted"
	default:
		return "internal"
	}
}

func parseListQuery(r *http.Request) (Filter, Sort, Page, error) {
	q := r.URL.Query()
	var f Filter

	if v := q.Get("skuId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Filter{}, Sort{}, Page{}, errors.New("skuId must be an integer")
		}
		f.SKUID = id
	}
	if v := q.Get("adjustmentType"); v != "" {
		t := AdjustmentType(v)
		if !t.Valid() {
			return Filter{}, Sort{}, Page{}, errors.New("adjustmentType must be increase or decrease")
		}
		f.Type = t
	}
	dr, err := parseDateRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		return Filter{}, Sort{}, Page{}, err
	}
	f.From, f.To = dr.From, dr.To
	f.Search = q.Get("search")

	sort := Sort{Field: q.Get("sortBy"), Desc: true}
	if sort.Field == "" {
		sort.Field = "createdAt"
	}
	switch q.Get("sortOrder") {
	case "", "desc":
	case "asc":
		sort.Desc = false
	default:
		return Filter{}, Sort{}, Page{}, errors.New("sortOrder must be asc or desc")
	}

	page := Page{Number: 1, Size: 10}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Filter{}, Sort{}, Page{}, errors.New("page must be a positive integer")
		}
		page.Number = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Filter{}, Sort{}, Page{}, errors.New("limit must be a positive integer")
		}
		page.Size = n
	}
	return f, sort, page, nil
}

// parseDateRange accepts RFC3339 timestamps or bare dates. A bare end
// date is widened to the end of that day so the bound stays inclusive.
func parseDateRange(start, end string) (DateRange, error) {
	var dr DateRange
	if start != "" {
		t, err := parseTimeParam(start, false)
		if err != nil {
			return DateRange{}, errors.New("startDate is not a valid date")
		}
		dr.From = t
	}
	if end != "" {
		t, err := parseTimeParam(end, true)
		if err != nil {
			return DateRange{}, errors.New("endDate is not a valid date")
		}
		dr.To = t
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From) {
		return DateRange{}, errors.New("endDate must not precede startDate")
	}
	return dr, nil
}

func parseTimeParam(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
