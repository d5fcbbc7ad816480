package stockview

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/samudra-erp/samudra-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the read-only stock view.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs stockview handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers view routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.list)
	r.Get("/stock/{productID}/{locationID}", h.detail)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		ProductID:  parseInt(q.Get("product_id")),
		LocationID: parseInt(q.Get("location_id")),
		CategoryID: parseInt(q.Get("category_id")),
		Search:     q.Get("q"),
		Page:       int(parseInt(q.Get("page"))),
		PerPage:    int(parseInt(q.Get("per_page"))),
	}
	details, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       details,
		"pagination": page,
	})
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	productID := parseInt(chi.URLParam(r, "productID"))
	locationID := parseInt(chi.URLParam(r, "locationID"))
	detail, err := h.service.Detail(r.Context(), productID, locationID)
	if err != nil {
		h.respondError(w, "stock detail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrValidation) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
