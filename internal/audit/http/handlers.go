package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/audit"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/httpx"
)

const (
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour

	dateLayout = "2006-01-02"
)

// ListService defines the business contract for the corrections listing.
type ListService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Result, error)
}

// Handler serves the corrections log JSON API.
type Handler struct {
	logger  *slog.Logger
	service ListService
	now     func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service ListService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		httpx.Problem(w, http.StatusNotImplemented, "not configured", "corrections listing is not available")
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid filters", err.Error())
		return
	}
	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list corrections failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "the request could not be processed")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// parseFilters reads the query string. Without an explicit window the
// listing covers the last seven days; windows longer than ninety days
// are rejected.
func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	filters := audit.Filters{
		Entity: q.Get("entity"),
		Action: q.Get("action"),
	}

	if raw := q.Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return audit.Filters{}, fmt.Errorf("entity_id must be a positive integer")
		}
		filters.EntityID = id
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return audit.Filters{}, fmt.Errorf("page must be a positive integer")
		}
		filters.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return audit.Filters{}, fmt.Errorf("page_size must be a positive integer")
		}
		filters.PageSize = size
	}

	now := h.now()
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("from must be formatted YYYY-MM-DD")
		}
		filters.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(dateLayout, raw)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("to must be formatted YYYY-MM-DD")
		}
		// Include the whole day named by "to".
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if filters.From.IsZero() && filters.To.IsZero() {
		filters.To = now
		filters.From = now.Add(-defaultDateRange)
	} else if filters.To.IsZero() {
		filters.To = now
	} else if filters.From.IsZero() {
		filters.From = filters.To.Add(-defaultDateRange)
	}
	if filters.To.Before(filters.From) {
		return audit.Filters{}, fmt.Errorf("to must not be before from")
	}
	if filters.To.Sub(filters.From) > maxDateRange {
		return audit.Filters{}, fmt.Errorf("date window must not exceed 90 days")
	}
	return filters, nil
}
