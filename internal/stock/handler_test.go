package stock

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/atlas-pos/atlas-pos/internal/catalog"
)

func newTestHandler(t *testing.T, repo *memoryRepo) (*Handler, *Service) {
	t.Helper()
	svc := seededService(t, repo)
	query := NewQueryService(repo, QueryConfig{})
	h := NewHandler(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), svc, query, NewValidator(query, nil), nil, nil)
	return h, svc
}

// catalogStub satisfies catalog.Repository for handler tests.
type catalogStub struct {
	products map[int64]catalog.Product
	records  map[int64]catalog.InventoryRecord
}

func (c *catalogStub) Get(ctx context.Context, id int64) (catalog.Product, error) {
	if p, ok := c.products[id]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (c *catalogStub) ProductName(ctx context.Context, id int64) (string, error) {
	p, err := c.Get(ctx, id)
	return p.Name, err
}

func (c *catalogStub) InventoryRecord(ctx context.Context, productID int64) (catalog.InventoryRecord, error) {
	if rec, ok := c.records[productID]; ok {
		return rec, nil
	}
	return catalog.InventoryRecord{}, catalog.ErrNotFound
}

func serveStock(h *Handler, method, target string, body any) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.MountRoutes(r)
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleMovement(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, _ := newTestHandler(t, repo)

	rec := serveStock(h, http.MethodPost, "/movements", map[string]any{
		"product_id": 1,
		"type":       "purchase",
		"quantity":   10,
		"unit_price": 4,
		"user_id":    7,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 10.0, payload["quantity_after"])
	require.Equal(t, 40.0, payload["total_price"])
	require.Equal(t, 10.0, repo.stockMirror[1])
}

func TestHandleMovementRejectsBadPayload(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, _ := newTestHandler(t, repo)

	rec := serveStock(h, http.MethodPost, "/movements", map[string]any{
		"product_id": 1,
		"type":       "purchase",
		"quantity":   5,
		"ref_kind":   "invoice", // outside the closed set
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveStock(h, http.MethodPost, "/movements", map[string]any{
		"product_id": 99,
		"type":       "purchase",
		"quantity":   5,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAdjustment(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 1, 10, 4)

	rec := serveStock(h, http.MethodPost, "/adjustments", map[string]any{
		"product_id": 1,
		"quantity":   3,
		"type":       "adjustment_out",
		"reason":     "damaged in storage",
		"user_id":    7,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var payload struct {
		Movement map[string]any `json:"movement"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "ADJ202503070001", payload.Movement["journal_number"])
	require.Equal(t, 7.0, payload.Movement["quantity_after"])
}

func TestHandleCorrection(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 1, 10, 4)

	rec := serveStock(h, http.MethodPost, "/corrections", map[string]any{
		"product_id":   1,
		"new_quantity": 4,
		"reason":       "cycle count",
		"user_id":      7,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 4.0, repo.stockMirror[1])

	// Correcting to the current quantity is rejected.
	rec = serveStock(h, http.MethodPost, "/corrections", map[string]any{
		"product_id":   1,
		"new_quantity": 4,
		"reason":       "cycle count",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleValidate(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 1, 3, 4)

	rec := serveStock(h, http.MethodPost, "/validate", map[string]any{
		"lines": []map[string]any{{"product_id": 1, "quantity": 5}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "insufficient_stock", result.Errors[0].Reason)

	rec = serveStock(h, http.MethodPost, "/validate", map[string]any{"lines": []map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCurrentStockAndHistory(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 1, 10, 4)
	require.NoError(t, svc.ProcessTransaction(context.Background(), Sale{
		ID: 1, Number: "TRX-1",
		Lines: []SaleLine{{ProductID: 1, Quantity: 2, UnitPrice: 25}},
	}))

	rec := serveStock(h, http.MethodGet, "/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	require.Equal(t, 8.0, current["quantity"])

	rec = serveStock(h, http.MethodGet, "/products/1/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Entries, 1)
	require.Equal(t, "sale", history.Entries[0]["movement_type"])

	rec = serveStock(h, http.MethodGet, "/products/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCurrentStockIncludesMirrors(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 1, 8, 4)
	h.products = &catalogStub{
		products: map[int64]catalog.Product{1: {ID: 1, Name: "Arabica Beans 1kg", Stock: 8}},
		records:  map[int64]catalog.InventoryRecord{1: {ProductID: 1, Quantity: 8}},
	}

	rec := serveStock(h, http.MethodGet, "/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 8.0, payload["quantity"])
	require.Equal(t, "Arabica Beans 1kg", payload["name"])
	require.Equal(t, 8.0, payload["product_stock"])
	require.Equal(t, 8.0, payload["inventory_quantity"])
}

func TestHandleSummary(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	repo.addProduct(2, 30)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 2, 5, 10)

	rec := serveStock(h, http.MethodGet, "/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 2, summary.TotalProducts)
	require.Equal(t, 1, summary.OutOfStock)
}

func TestHandleSyncInlineAndScheduled(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 25)
	h, svc := newTestHandler(t, repo)
	stockIn(t, svc, 1, 10, 4)
	repo.stockMirror[1] = 99

	rec := serveStock(h, http.MethodPost, "/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 10.0, repo.stockMirror[1])

	scheduled := false
	h.scheduler = func(r *http.Request) error {
		scheduled = true
		return nil
	}
	rec = serveStock(h, http.MethodPost, "/sync", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, scheduled)
}
