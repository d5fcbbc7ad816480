package opname

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

// Handler wires HTTP endpoints for stock opnames.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs opname handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers opname routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/opnames", h.create)
	r.Get("/opnames", h.list)
	r.Get("/opnames/{id}", h.get)
	r.Post("/opnames/{id}/populate", h.populate)
	r.Post("/opnames/{id}/counts", h.recordCounts)
	r.Post("/opnames/{id}/complete", h.complete)
	r.Post("/opnames/{id}/cancel", h.cancel)
	r.Delete("/opnames/{id}", h.delete)
}

type createRequest struct {
	Number     string `json:"number"`
	LocationID int64  `json:"location_id" validate:"required"`
	Date       string `json:"date"`
	Note       string `json:"note" validate:"max=500"`
	ActorID    int64  `json:"actor_id"`
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
		Note:       req.Note,
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

	header, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create opname", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, header)
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
		h.respondError(w, "list opnames", err)
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
		h.respondError(w, "get opname", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"opname": header, "lines": lines})
}

func (h *Handler) populate(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	lines, err := h.service.Populate(r.Context(), id)
	if err != nil {
		h.respondError(w, "populate opname", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

type countRequest struct {
	Counts []struct {
		LineID      int64  `json:"line_id" validate:"required"`
		QtyPhysical string `json:"qty_physical" validate:"required"`
	} `json:"counts" validate:"required,min=1,dive"`
}

func (h *Handler) recordCounts(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	var req countRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	counts := make([]CountInput, 0, len(req.Counts))
	for _, c := range req.Counts {
		qty, err := decimal.NewFromString(c.QtyPhysical)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty_physical must be a decimal number")
			return
		}
		counts = append(counts, CountInput{LineID: c.LineID, QtyPhysical: qty})
	}

	if err := h.service.RecordCounts(r.Context(), id, counts); err != nil {
		h.respondError(w, "record counts", err)
		return
	}
	header, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get opname", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"opname": header, "lines": lines})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	var req struct {
		ActorID int64 `json:"actor_id"`
	}
	// body is optional
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.Complete(r.Context(), id, req.ActorID); err != nil {
		h.respondError(w, "complete opname", err)
		return
	}
	header, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get opname", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"opname": header, "lines": lines})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.respondError(w, "cancel opname", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete opname", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, inventory.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLineNotFound), errors.Is(err, inventory.ErrLocationNotFound), errors.Is(err, inventory.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyPopulated):
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
