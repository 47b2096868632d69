package avstemminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/settlement-bridge/internal/avstemming"
)

type stubService struct {
	records   []avstemming.Record
	limit     int
	period    avstemming.Period
	periodErr error
}

func (s *stubService) Records(_ context.Context, limit int) ([]avstemming.Record, error) {
	s.limit = limit
	return s.records, nil
}

func (s *stubService) NextPeriod(context.Context) (avstemming.Period, error) {
	return s.period, s.periodErr
}

type stubTrigger struct {
	triggers []string
	err      error
}

func (s *stubTrigger) EnqueueGrensesnittavstemming(_ context.Context, trigger string) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.triggers = append(s.triggers, trigger)
	return &asynq.TaskInfo{ID: "run-1"}, nil
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestListRecords(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubService{records: []avstemming.Record{{
		ID:         1,
		RunID:      "2f4e0e59-4d5b-4c4f-9a61-0f5f3b3f6a10",
		Period:     avstemming.Period{From: from, To: from.Add(24 * time.Hour)},
		OrderCount: 2,
		Summary: avstemming.Summary{
			Total:     avstemming.Bucket{Count: 2, Amount: decimal.NewFromInt(300)},
			Confirmed: avstemming.Bucket{Count: 2, Amount: decimal.NewFromInt(300)},
			Messages:  3,
		},
	}}}

	rec := serve(NewHandler(nil, svc, nil), http.MethodGet, "/avstemming")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultLimit, svc.limit)

	var body struct {
		Records []recordResponse `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, 2, body.Records[0].OrderCount)
	assert.Equal(t, 3, body.Records[0].Summary.Messages)
	assert.True(t, body.Records[0].Summary.Total.Amount.Equal(decimal.NewFromInt(300)))

	rec = serve(NewHandler(nil, svc, nil), http.MethodGet, "/avstemming?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.limit)

	rec = serve(NewHandler(nil, svc, nil), http.MethodGet, "/avstemming?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNextPeriod(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubService{period: avstemming.Period{From: from, To: from.Add(time.Hour)}}
	rec := serve(NewHandler(nil, svc, nil), http.MethodGet, "/avstemming/next")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2024-01-01T00:00:00Z")

	svc.periodErr = avstemming.ErrInvalidPeriod
	rec = serve(NewHandler(nil, svc, nil), http.MethodGet, "/avstemming/next")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	trigger := &stubTrigger{}
	rec := serve(NewHandler(nil, &stubService{}, trigger), http.MethodPost, "/avstemming/run")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"http"}, trigger.triggers)

	rec = serve(NewHandler(nil, &stubService{}, nil), http.MethodPost, "/avstemming/run")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	trigger.err = errors.New("redis down")
	rec = serve(NewHandler(nil, &stubService{}, trigger), http.MethodPost, "/avstemming/run")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
