package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

const maxRange = 90 * 24 * time.Hour

// TimelineService defines the read contract for the audit trail.
type TimelineService interface {
	Timeline(ctx context.Context, filters TimelineFilters) (Result, error)
}

// Handler serves the audit trail.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	errors  *httpx.ErrorRenderer
	rbac    rbac.Middleware
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, errors *httpx.ErrorRenderer, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, errors: errors, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermViewAuditTrail))
		r.Get("/", h.timeline)
	})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:    q.Get("actor"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
		Page:     atoiOrZero(q.Get("page")),
		PageSize: atoiOrZero(q.Get("page_size")),
	}
	var err error
	if filters.From, err = parseTime(q.Get("from")); err != nil {
		return TimelineFilters{}, fmt.Errorf("%w: from must be RFC3339", httpx.ErrValidation)
	}
	if filters.To, err = parseTime(q.Get("to")); err != nil {
		return TimelineFilters{}, fmt.Errorf("%w: to must be RFC3339", httpx.ErrValidation)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) {
			return TimelineFilters{}, fmt.Errorf("%w: from is after to", httpx.ErrValidation)
		}
		if filters.To.Sub(filters.From) > maxRange {
			return TimelineFilters{}, fmt.Errorf("%w: range exceeds 90 days", httpx.ErrValidation)
		}
	}
	return filters, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func atoiOrZero(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
