package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/samudra-erp/samudra-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the movement journal.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.postMovement)
	r.Get("/movements", h.listMovements)
}

type postMovementRequest struct {
	ProductID  int64   `json:"product_id" validate:"required"`
	LocationID int64   `json:"location_id" validate:"required"`
	Quantity   string  `json:"quantity" validate:"required"`
	Cost       *string `json:"cost"`
	Kind       string  `json:"kind" validate:"required"`
	RefType    string  `json:"ref_type"`
	RefID      int64   `json:"ref_id"`
	Note       string  `json:"note" validate:"max=500"`
	ActorID    int64   `json:"actor_id"`
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	var req postMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a decimal number")
		return
	}
	input := AdjustInput{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Delta:      quantity,
		Kind:       MovementKind(req.Kind),
		RefType:    RefType(req.RefType),
		RefID:      req.RefID,
		Note:       req.Note,
		ActorID:    req.ActorID,
	}
	if req.Cost != nil {
		cost, err := decimal.NewFromString(*req.Cost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cost must be a decimal number")
			return
		}
		input.Cost = &cost
	}

	record, err := h.service.AdjustStock(r.Context(), input)
	if err != nil {
		h.respondError(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		ProductID:  parseInt(q.Get("product_id")),
		LocationID: parseInt(q.Get("location_id")),
		Kind:       MovementKind(q.Get("kind")),
		Page:       int(parseInt(q.Get("page"))),
		PerPage:    int(parseInt(q.Get("per_page"))),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		// inclusive end of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	movements, page, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       movements,
		"pagination": page,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrBusy):
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
