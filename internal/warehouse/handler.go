package warehouse

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/httpx"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/shared"
)

const (
	reconRateLimit  = 10
	reconRateWindow = time.Minute

	dateLayout = "2006-01-02"
)

// Handler wires the warehouse JSON API: sales, purchases, stock reads,
// reconciliation, and the integrity sweep.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	recon     *Reconciler
	integrity *IntegrityValidator
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, recon *Reconciler, integrity *IntegrityValidator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		recon:     recon,
		integrity: integrity,
		validator: validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MountRoutes registers warehouse routes on the provided router. Scan-wide
// and destructive reconciliation endpoints share a rate limit so a
// misbehaving client cannot keep product batch locks saturated.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(reconRateLimit, reconRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "too many requests", "reconciliation endpoints are rate limited")
		}),
	)

	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.createSale)
		r.Get("/{saleID}", h.getSale)
		r.Delete("/{saleID}", h.deleteSale)
	})
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", h.recordPurchase)
		r.Get("/{batchID}", h.getBatch)
		r.Delete("/{batchID}", h.deletePurchase)
	})
	r.Route("/stock/{productID}", func(r chi.Router) {
		r.Get("/availability", h.availability)
		r.Get("/batches", h.listBatches)
	})
	r.Route("/reconciliation", func(r chi.Router) {
		r.Post("/products/{productID}/sync", h.syncProduct)
		r.Get("/products/{productID}/batch-sales", h.validateBatchSales)
		r.Get("/products/{productID}/continuity", h.validateContinuity)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/sync", h.syncAll)
			gr.Post("/products/{productID}/repair", h.repairBatchSales)
			gr.Post("/audit", h.fullAudit)
			gr.Post("/expire", h.expireOverdue)
		})
	})
	r.Get("/integrity", h.integrityScan)
}

type createSaleRequest struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	UnitType       string `json:"unit_type" validate:"required,oneof=PACKS UNITS"`
	Reference      string `json:"reference" validate:"omitempty,uuid"`
	ActorID        int64  `json:"actor_id" validate:"omitempty,gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type recordPurchaseRequest struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	UnitType       string `json:"unit_type" validate:"required,oneof=PACKS UNITS"`
	UnitCost       string `json:"unit_cost" validate:"omitempty,max=32"`
	Reference      string `json:"reference" validate:"omitempty,uuid"`
	PurchaseDate   string `json:"purchase_date" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate     string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	ActorID        int64  `json:"actor_id" validate:"omitempty,gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type saleResponse struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	UnitType  UnitType  `json:"unit_type"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type allocationResponse struct {
	BatchID      int64 `json:"batch_id"`
	QuantitySold int64 `json:"quantity_sold"`
}

type saleResultResponse struct {
	Sale        saleResponse         `json:"sale"`
	Allocations []allocationResponse `json:"allocations"`
}

type batchResponse struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	Quantity          int64           `json:"quantity"`
	QuantitySold      int64           `json:"quantity_sold"`
	QuantityRemaining int64           `json:"quantity_remaining"`
	UnitType          UnitType        `json:"unit_type"`
	Status            BatchStatus     `json:"status"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Reference         string          `json:"reference,omitempty"`
	PurchaseDate      time.Time       `json:"purchase_date"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	CreatedAt         time.Time       `json:"created_at"`
}

type batchListResponse struct {
	ProductID int64           `json:"product_id"`
	Batches   []batchResponse `json:"batches"`
}

type expireResponse struct {
	Expired int `json:"expired"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", "request body must be valid JSON")
		return
	}
	if fields := h.validatePayload(req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	result, err := h.service.CreateSale(r.Context(), CreateSaleInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		UnitType:       UnitType(req.UnitType),
		Reference:      req.Reference,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newSaleResultResponse(result))
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil || saleID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid sale id", "sale id must be a positive integer")
		return
	}
	sale, err := h.service.GetSale(r.Context(), saleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSaleResponse(sale))
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil || saleID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid sale id", "sale id must be a positive integer")
		return
	}
	if err := h.service.DeleteSale(r.Context(), saleID, queryInt(r, "actor_id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordPurchase(w http.ResponseWriter, r *http.Request) {
	var req recordPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", "request body must be valid JSON")
		return
	}
	if fields := h.validatePayload(req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	unitCost := decimal.Zero
	if req.UnitCost != "" {
		parsed, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"UnitCost": "must be a decimal number"})
			return
		}
		unitCost = parsed
	}
	expiry, err := time.Parse(dateLayout, req.ExpiryDate)
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"ExpiryDate": "must be formatted YYYY-MM-DD"})
		return
	}
	var purchaseDate time.Time
	if req.PurchaseDate != "" {
		purchaseDate, err = time.Parse(dateLayout, req.PurchaseDate)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"PurchaseDate": "must be formatted YYYY-MM-DD"})
			return
		}
	}
	batch, err := h.service.RecordPurchase(r.Context(), RecordPurchaseInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		UnitType:       UnitType(req.UnitType),
		UnitCost:       unitCost,
		Reference:      req.Reference,
		PurchaseDate:   purchaseDate,
		ExpiryDate:     expiry,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newBatchResponse(batch))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil || batchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid batch id", "batch id must be a positive integer")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBatchResponse(batch))
}

func (h *Handler) deletePurchase(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil || batchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid batch id", "batch id must be a positive integer")
		return
	}
	if err := h.service.DeletePurchase(r.Context(), batchID, queryInt(r, "actor_id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid product id", "product id must be a positive integer")
		return
	}
	view, err := h.service.Availability(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid product id", "product id must be a positive integer")
		return
	}
	batches, err := h.service.ListBatches(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := batchListResponse{ProductID: productID, Batches: make([]batchResponse, 0, len(batches))}
	for _, b := range batches {
		resp.Batches = append(resp.Batches, newBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) syncProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid product id", "product id must be a positive integer")
		return
	}
	result, err := h.recon.SyncProduct(r.Context(), productID, "api:sync")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.recon.SyncAll(r.Context(), "api:sync_all")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) validateBatchSales(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid product id", "product id must be a positive integer")
		return
	}
	report, err := h.recon.ValidateBatchSales(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) repairBatchSales(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid product id", "product id must be a positive integer")
		return
	}
	result, err := h.recon.RepairBatchSales(r.Context(), productID, "api:repair")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) validateContinuity(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid product id", "product id must be a positive integer")
		return
	}
	day := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "invalid date", "date must be formatted YYYY-MM-DD")
			return
		}
		day = parsed
	}
	report, err := h.recon.ValidateDailyContinuity(r.Context(), productID, day)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fullAudit(w http.ResponseWriter, r *http.Request) {
	summary, err := h.recon.FullAudit(r.Context(), "api:full_audit")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) expireOverdue(w http.ResponseWriter, r *http.Request) {
	expired, err := h.recon.ExpireOverdue(r.Context(), "api:expire")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expireResponse{Expired: expired})
}

func (h *Handler) integrityScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Run(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// validatePayload runs struct validation and flattens the result into a
// field -> message map for the problem response.
func (h *Handler) validatePayload(payload any) map[string]string {
	return httpx.ValidationFields(h.validator.Struct(payload))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "insufficient stock", stockErr.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, ErrBatchConsumed):
		httpx.Problem(w, http.StatusConflict, "batch has recorded sales", err.Error())
	case errors.Is(err, ErrRepairFailed):
		httpx.Problem(w, http.StatusConflict, "repair failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "duplicate request", err.Error())
	default:
		h.logger.Error("warehouse request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "the request could not be processed")
	}
}

func newSaleResponse(s Sale) saleResponse {
	return saleResponse{
		ID:        s.ID,
		ProductID: s.ProductID,
		Quantity:  s.Quantity,
		UnitType:  s.UnitType,
		Reference: s.Reference,
		CreatedAt: s.CreatedAt,
	}
}

func newSaleResultResponse(res SaleResult) saleResultResponse {
	allocs := make([]allocationResponse, 0, len(res.Allocations))
	for _, a := range res.Allocations {
		allocs = append(allocs, allocationResponse{BatchID: a.BatchID, QuantitySold: a.QuantitySold})
	}
	return saleResultResponse{Sale: newSaleResponse(res.Sale), Allocations: allocs}
}

func newBatchResponse(b Batch) batchResponse {
	return batchResponse{
		ID:                b.ID,
		ProductID:         b.ProductID,
		Quantity:          b.Quantity,
		QuantitySold:      b.QuantitySold,
		QuantityRemaining: b.QuantityRemaining,
		UnitType:          b.UnitType,
		Status:            b.Status,
		UnitCost:          b.UnitCost,
		Reference:         b.Reference,
		PurchaseDate:      b.PurchaseDate,
		ExpiryDate:        b.ExpiryDate,
		CreatedAt:         b.CreatedAt,
	}
}

func queryInt(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
