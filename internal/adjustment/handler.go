package adjustment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/samudra-erp/samudra-erp/internal/inventory"
	"github.com/samudra-erp/samudra-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock adjustments.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs adjustment handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.create)
	r.Get("/adjustments", h.list)
	r.Get("/adjustments/{id}", h.get)
	r.Post("/adjustments/{id}/complete", h.complete)
	r.Post("/adjustments/{id}/cancel", h.cancel)
	r.Delete("/adjustments/{id}", h.delete)
}

type createLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required"`
	QtyActual string `json:"qty_actual" validate:"required"`
}

type createRequest struct {
	Number     string              `json:"number"`
	LocationID int64               `json:"location_id" validate:"required"`
	Date       string              `json:"date"`
	Reason     string              `json:"reason" validate:"max=500"`
	ActorID    int64               `json:"actor_id"`
	Lines      []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		Number:     req.Number,
		LocationID: req.LocationID,
		Reason:     req.Reason,
		ActorID:    req.ActorID,
	}
	if req.Date != "" {
		t, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		input.Date = t
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.QtyActual)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty_actual must be a decimal number")
			return
		}
		input.Lines = append(input.Lines, LineInput{ProductID: line.ProductID, QtyActual: qty})
	}

	header, lines, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"adjustment": header, "lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		LocationID: parseInt(q.Get("location_id")),
		Status:     Status(q.Get("status")),
		Page:       int(parseInt(q.Get("page"))),
		PerPage:    int(parseInt(q.Get("per_page"))),
	}
	headers, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list adjustments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       headers,
		"pagination": page,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	header, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustment": header, "lines": lines})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	var req struct {
		ActorID int64 `json:"actor_id"`
	}
	// body is optional
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.Complete(r.Context(), id, req.ActorID); err != nil {
		h.respondError(w, "complete adjustment", err)
		return
	}
	header, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustment": header, "lines": lines})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.respondError(w, "cancel adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete adjustment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, inventory.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, inventory.ErrProductNotFound), errors.Is(err, inventory.ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, inventory.ErrBusy):
		httpx.Problem(w, http.StatusConflict, "Busy", "stock record is locked by another operation, retry")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
