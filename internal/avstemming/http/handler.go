package avstemminghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/internal/avstemming"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/httpx"
)

const defaultLimit = 50

type recordLister interface {
	Records(ctx context.Context, limit int) ([]avstemming.Record, error)
	NextPeriod(ctx context.Context) (avstemming.Period, error)
}

// Trigger enqueues an out-of-schedule run.
type Trigger interface {
	EnqueueGrensesnittavstemming(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
}

// Handler serves the reconciliation audit trail.
type Handler struct {
	logger  *slog.Logger
	service recordLister
	trigger Trigger
}

// NewHandler constructs the handler. trigger may be nil.
func NewHandler(logger *slog.Logger, service recordLister, trigger Trigger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, trigger: trigger}
}

// MountRoutes registers the endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/avstemming", h.listRecords)
	r.Get("/avstemming/next", h.nextPeriod)
	r.Post("/avstemming/run", h.triggerRun)
}

type recordResponse struct {
	ID         int64              `json:"id"`
	RunID      string             `json:"runId"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	OrderCount int                `json:"orderCount"`
	Summary    avstemming.Summary `json:"summary"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be a positive integer", httpx.ErrValidation))
			return
		}
		limit = n
	}
	records, err := h.service.Records(r.Context(), limit)
	if err != nil {
		h.logger.Error("list avstemming records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{
			ID:         rec.ID,
			RunID:      rec.RunID,
			From:       rec.Period.From,
			To:         rec.Period.To,
			OrderCount: rec.OrderCount,
			Summary:    rec.Summary,
			CreatedAt:  rec.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": out})
}

func (h *Handler) nextPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.service.NextPeriod(r.Context())
	if err != nil {
		if errors.Is(err, avstemming.ErrInvalidPeriod) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]time.Time{"from": period.From, "to": period.To})
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Trigger Unavailable", "no job queue configured")
		return
	}
	info, err := h.trigger.EnqueueGrensesnittavstemming(r.Context(), "http")
	if err != nil {
		h.logger.Error("enqueue avstemming", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": info.ID})
}
