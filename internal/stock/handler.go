package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-pos/atlas-pos/internal/catalog"
	"github.com/atlas-pos/atlas-pos/internal/platform/httpx"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Handler wires the JSON endpoints the back office screens call. Routing,
// rendering and authentication live with the collaborators; this surface
// only translates requests into recorder/query calls.
type Handler struct {
	logger    *slog.Logger
	recorder  *Service
	query     *QueryService
	validate  *Validator
	products  catalog.Repository
	payloads  *validator.Validate
	scheduler func(r *http.Request) error
}

// NewHandler constructs the stock handler. products may be nil, dropping
// the mirror fields from the current-stock response. scheduleSync may be
// nil, in which case POST /sync runs the reconciliation inline.
func NewHandler(logger *slog.Logger, recorder *Service, query *QueryService, validate *Validator, products catalog.Repository, scheduleSync func(r *http.Request) error) *Handler {
	return &Handler{
		logger:    logger,
		recorder:  recorder,
		query:     query,
		validate:  validate,
		products:  products,
		payloads:  validator.New(),
		scheduler: scheduleSync,
	}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.handleSummary)
	r.Get("/products/{productID}", h.handleCurrentStock)
	r.Get("/products/{productID}/history", h.handleHistory)
	r.Post("/validate", h.handleValidate)

	writeLimiter := httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	r.Group(func(r chi.Router) {
		r.Use(writeLimiter)
		r.Post("/movements", h.handleMovement)
		r.Post("/adjustments", h.handleAdjustment)
		r.Post("/corrections", h.handleCorrection)
		r.Post("/sync", h.handleSync)
	})
}

type movementRequest struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Type      string  `json:"type" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Note      string  `json:"note"`
	RefKind   string  `json:"ref_kind" validate:"omitempty,oneof=purchase transaction adjustment"`
	RefID     int64   `json:"ref_id" validate:"gte=0"`
	UserID    int64   `json:"user_id" validate:"gte=0"`
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.payloads.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.recorder.RecordMovement(r.Context(), MovementInput{
		ProductID: req.ProductID,
		Type:      MovementType(req.Type),
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Note:      req.Note,
		Ref:       Reference{Kind: RefKind(req.RefKind), ID: req.RefID},
		UserID:    req.UserID,
	})
	if err != nil {
		h.respondError(w, r, "record movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementPayload(movement))
}

type adjustmentRequest struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Type      string  `json:"type" validate:"required"`
	Reason    string  `json:"reason" validate:"required"`
	Notes     string  `json:"notes"`
	UserID    int64   `json:"user_id" validate:"gte=0"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.payloads.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	adjustment, movement, err := h.recorder.CreateAdjustment(r.Context(), AdjustmentInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Type:      MovementType(req.Type),
		Reason:    req.Reason,
		Notes:     req.Notes,
		UserID:    req.UserID,
	})
	if err != nil {
		h.respondError(w, r, "create adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"adjustment": adjustment,
		"movement":   movementPayload(movement),
	})
}

type correctionRequest struct {
	ProductID   int64   `json:"product_id" validate:"required"`
	NewQuantity float64 `json:"new_quantity" validate:"gte=0"`
	Reason      string  `json:"reason" validate:"required"`
	UserID      int64   `json:"user_id" validate:"gte=0"`
}

func (h *Handler) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.payloads.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	adjustment, movement, err := h.recorder.StockCorrection(r.Context(), req.ProductID, req.NewQuantity, req.Reason, req.UserID)
	if err != nil {
		h.respondError(w, r, "stock correction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"adjustment": adjustment,
		"movement":   movementPayload(movement),
	})
}

type validateRequest struct {
	Lines []validateLine `json:"lines" validate:"required,min=1,dive"`
}

type validateLine struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.payloads.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]RequestedLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, RequestedLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	result, err := h.validate.ValidateStock(r.Context(), lines)
	if err != nil {
		h.respondError(w, r, "validate stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	quantity, err := h.query.CurrentStock(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, "current stock", err)
		return
	}
	payload := map[string]any{"product_id": productID, "quantity": quantity}
	// The mirrors should agree with the ledger; exposing them next to the
	// derived balance lets operators spot drift before the nightly sync.
	if h.products != nil {
		if p, err := h.products.Get(r.Context(), productID); err == nil {
			payload["name"] = p.Name
			payload["product_stock"] = p.Stock
		}
		if rec, err := h.products.InventoryRecord(r.Context(), productID); err == nil {
			payload["inventory_quantity"] = rec.Quantity
		}
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	q := r.URL.Query()
	var from, to time.Time
	if raw := q.Get("from"); raw != "" {
		from, err = time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		to, err = time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := h.query.StockHistory(r.Context(), productID, from, to, limit)
	if err != nil {
		h.respondError(w, r, "stock history", err)
		return
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, m := range entries {
		payload = append(payload, movementPayload(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "entries": payload})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.query.InventorySummary(r.Context())
	if err != nil {
		h.respondError(w, r, "inventory summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.scheduler != nil {
		if err := h.scheduler(r); err != nil {
			h.respondError(w, r, "schedule sync", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"scheduled": true})
		return
	}
	touched, err := h.query.SyncFromMovements(r.Context())
	if err != nil {
		h.respondError(w, r, "sync from movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"touched": touched})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var lineErr LineError
	switch {
	case errors.As(err, &lineErr):
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{"valid": false, "errors": []LineError{lineErr}})
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidMovementType):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func movementPayload(m Movement) map[string]any {
	payload := map[string]any{
		"id":              m.ID,
		"product_id":      m.ProductID,
		"movement_type":   string(m.Type),
		"quantity":        m.Quantity,
		"unit_price":      m.UnitPrice,
		"total_price":     m.TotalPrice,
		"quantity_before": m.QuantityBefore,
		"quantity_after":  m.QuantityAfter,
		"notes":           m.Notes,
		"created_at":      m.CreatedAt,
	}
	if m.UserID != 0 {
		payload["user_id"] = m.UserID
	}
	if m.JournalNumber != "" {
		payload["journal_number"] = m.JournalNumber
	}
	if !m.Ref.IsZero() {
		payload["reference"] = map[string]any{"kind": string(m.Ref.Kind), "id": m.Ref.ID}
	}
	return payload
}
