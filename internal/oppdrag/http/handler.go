package oppdraghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/httpx"
)

type orderService interface {
	SettleDecision(ctx context.Context, d oppdrag.Decision) (oppdrag.SettleResult, error)
	Resend(ctx context.Context, id int64) (*oppdrag.PaymentOrder, error)
	Get(ctx context.Context, id int64) (*oppdrag.PaymentOrder, error)
	List(ctx context.Context, filter oppdrag.ListFilter) ([]oppdrag.PaymentOrder, error)
	CurrentLines(ctx context.Context, caseID string) ([]oppdrag.PaymentLine, error)
}

// Enqueuer hands a decision to the settle task queue.
type Enqueuer interface {
	EnqueueSettle(ctx context.Context, payload oppdrag.DecisionPayload) (*asynq.TaskInfo, error)
}

// Handler exposes decision intake and order status queries.
type Handler struct {
	logger    *slog.Logger
	service   orderService
	enqueuer  Enqueuer
	validator *validator.Validate
}

// NewHandler constructs the handler. enqueuer may be nil, in which case
// asynchronous intake is refused.
func NewHandler(logger *slog.Logger, service orderService, enqueuer Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

// MountRoutes registers the API under the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/decisions", h.handleDecision)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/resend", h.resendOrder)
	r.Get("/cases/{caseID}/lines", h.caseLines)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var payload oppdrag.DecisionPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, validationError(err))
		return
	}
	decision, err := payload.Decision()
	if err != nil {
		httpx.RespondError(w, classify(err))
		return
	}

	if strings.Contains(r.Header.Get("Prefer"), "respond-async") {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusNotImplemented, "Async Unavailable", "no settle queue configured")
			return
		}
		info, err := h.enqueuer.EnqueueSettle(r.Context(), payload)
		if err != nil {
			h.logger.Error("enqueue settle", slog.String("decision_id", payload.DecisionID), slog.Any("error", err))
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": info.ID, "decisionId": payload.DecisionID})
		return
	}

	res, err := h.service.SettleDecision(r.Context(), decision)
	if err != nil {
		if res.Order != nil && errors.Is(err, oppdrag.ErrSend) {
			// Persisted but not sent; report where it stands.
			h.logger.Warn("decision accepted, send pending", slog.Int64("order_id", res.Order.ID), slog.Any("error", err))
			httpx.JSON(w, http.StatusAccepted, newOrderResponse(*res.Order))
			return
		}
		h.logger.Error("settle decision", slog.String("decision_id", decision.DecisionID), slog.Any("error", err))
		httpx.RespondError(w, classify(err))
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, newOrderResponse(*res.Order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := oppdrag.ListFilter{
		Status: oppdrag.Status(strings.ToUpper(q.Get("status"))),
		CaseID: q.Get("caseId"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be a positive integer", httpx.ErrValidation))
			return
		}
		filter.Limit = limit
	}
	orders, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, classify(err))
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, classify(err))
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(*order))
}

func (h *Handler) resendOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Resend(r.Context(), id)
	if err != nil {
		h.logger.Warn("resend order", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, classify(err))
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(*order))
}

func (h *Handler) caseLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.CurrentLines(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, classify(err))
		return
	}
	out := make([]lineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, newLineResponse(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": out})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return 0, false
	}
	return id, true
}

func classify(err error) error {
	switch {
	case errors.Is(err, oppdrag.ErrNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, oppdrag.ErrInvalidDecision), errors.Is(err, oppdrag.ErrLineChain):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, oppdrag.ErrNotResendable), errors.Is(err, oppdrag.ErrStaleTransition):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, oppdrag.ErrSend):
		return fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	return err
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(parts, "; "))
}

type failureResponse struct {
	Severity    string `json:"severity"`
	MessageCode string `json:"messageCode,omitempty"`
	Text        string `json:"text,omitempty"`
}

type lineResponse struct {
	ID               int64   `json:"id"`
	PeriodFrom       string  `json:"periodFrom"`
	PeriodTo         string  `json:"periodTo,omitempty"`
	Amount           *string `json:"amount,omitempty"`
	Type             string  `json:"type"`
	SupersedesLineID *int64  `json:"supersedesLineId,omitempty"`
}

type orderResponse struct {
	ID                int64            `json:"id"`
	CaseID            string           `json:"caseId"`
	DecisionID        string           `json:"decisionId"`
	RecipientID       string           `json:"recipientId"`
	Status            string           `json:"status"`
	ReconciliationKey string           `json:"reconciliationKey"`
	Total             string           `json:"total"`
	Failure           *failureResponse `json:"failure,omitempty"`
	Lines             []lineResponse   `json:"lines"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func newOrderResponse(o oppdrag.PaymentOrder) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		CaseID:            o.CaseID,
		DecisionID:        o.DecisionID,
		RecipientID:       o.RecipientID,
		Status:            string(o.Status),
		ReconciliationKey: o.ReconciliationKey.Format(time.RFC3339Nano),
		Total:             o.Total().String(),
		Lines:             make([]lineResponse, 0, len(o.Lines)),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	if o.Failure != nil {
		resp.Failure = &failureResponse{Severity: o.Failure.Severity, MessageCode: o.Failure.MessageCode, Text: o.Failure.Text}
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, newLineResponse(l))
	}
	return resp
}

func newLineResponse(l oppdrag.PaymentLine) lineResponse {
	lr := lineResponse{
		ID:               l.ID,
		PeriodFrom:       l.PeriodFrom.Format(time.DateOnly),
		Type:             string(l.Type),
		SupersedesLineID: l.SupersedesLineID,
	}
	if l.PeriodTo != nil {
		lr.PeriodTo = l.PeriodTo.Format(time.DateOnly)
	}
	if l.Amount.Valid {
		s := l.Amount.Decimal.String()
		lr.Amount = &s
	}
	return lr
}
