package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vulnscan-armada/internal/app/scheduling"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

type mockCycles struct{ mock.Mock }

func (m *mockCycles) Handle(ctx context.Context, p task.Progress) bool {
	return m.Called(ctx, p).Bool(0)
}

type mockScheduler struct{ mock.Mock }

func (m *mockScheduler) Schedule(ctx context.Context, scanUUID uuid.UUID, startAt, endAt time.Time, webhookURL string) (uuid.UUID, error) {
	args := m.Called(ctx, scanUUID, startAt, endAt, webhookURL)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockScheduler) Cancel(ctx context.Context, scanUUID uuid.UUID) error {
	return m.Called(ctx, scanUUID).Error(0)
}

func newTestServer(t *testing.T, ready ReadinessCheck) (*Server, *mockCycles, *mockScheduler) {
	t.Helper()
	cycles, sched := new(mockCycles), new(mockScheduler)
	s, err := NewServer(DefaultConfig(), cycles, sched, ready, prometheus.NewRegistry(),
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return s, cycles, sched
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_HandleCycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		progress task.Progress
		ok       bool
		wantCode int
		wantBody string
	}{
		{name: "pending ok", path: "/v1/handlers/pending", progress: task.ProgressPending, ok: true, wantCode: http.StatusOK, wantBody: "true"},
		{name: "upper case state", path: "/v1/handlers/DELETED", progress: task.ProgressDeleted, ok: true, wantCode: http.StatusOK, wantBody: "true"},
		{name: "queue unreadable", path: "/v1/handlers/running", progress: task.ProgressRunning, ok: false, wantCode: http.StatusOK, wantBody: "false"},
		{name: "unknown state", path: "/v1/handlers/paused", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, cycles, _ := newTestServer(t, nil)
			if tt.progress != "" {
				cycles.On("Handle", mock.Anything, tt.progress).Return(tt.ok).Once()
			}

			rec := do(s, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
			}
			cycles.AssertExpectations(t)
		})
	}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/health", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/readiness", "").Code)

	down, _, _ := newTestServer(t, func(context.Context) error { return errors.New("db unreachable") })
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/v1/readiness", "").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s, cycles, _ := newTestServer(t, nil)
	cycles.On("Handle", mock.Anything, task.ProgressFailed).Return(true).Once()
	do(s, http.MethodGet, "/v1/handlers/failed", "")

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vulnscan_api_triggered_cycles_total{ok="true",state="FAILED"} 1`)
	assert.Contains(t, body, `route="/v1/handlers/{state}"`)
}

func TestServer_Schedule(t *testing.T) {
	t.Parallel()

	s, _, sched := newTestServer(t, nil)
	scanUUID, taskUUID := uuid.New(), uuid.New()
	startAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	endAt := startAt.Add(4 * time.Hour)

	sched.On("Schedule", mock.Anything, scanUUID,
		mock.MatchedBy(startAt.Equal), mock.MatchedBy(endAt.Equal), "https://hooks.slack.com/services/x").
		Return(taskUUID, nil).Once()

	body := `{"start_at":"2024-03-01T10:00:00Z","end_at":"2024-03-01T14:00:00Z","slack_webhook_url":"https://hooks.slack.com/services/x"}`
	rec := do(s, http.MethodPost, "/v1/scans/"+scanUUID.String()+"/schedule", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, taskUUID.String(), resp.TaskUUID)
	sched.AssertExpectations(t)
}

func TestServer_ScheduleErrors(t *testing.T) {
	t.Parallel()

	const body = `{"start_at":"2024-03-01T10:00:00Z","end_at":"2024-03-01T14:00:00Z"}`
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "invalid window", err: scheduling.ErrInvalidWindow, wantCode: http.StatusBadRequest},
		{name: "missing scan", err: task.ErrScanNotFound, wantCode: http.StatusNotFound},
		{name: "already scheduled", err: task.ErrScanAlreadyScheduled, wantCode: http.StatusConflict},
		{name: "store failure", err: errors.New("connection reset"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _, sched := newTestServer(t, nil)
			scanUUID := uuid.New()
			sched.On("Schedule", mock.Anything, scanUUID, mock.Anything, mock.Anything, "").
				Return(uuid.Nil, tt.err).Once()

			rec := do(s, http.MethodPost, "/v1/scans/"+scanUUID.String()+"/schedule", body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	s, _, sched := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/scans/not-a-uuid/schedule", body).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/scans/"+uuid.NewString()+"/schedule", "{").Code)
	sched.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_Cancel(t *testing.T) {
	t.Parallel()

	s, _, sched := newTestServer(t, nil)
	scheduled, idle := uuid.New(), uuid.New()
	sched.On("Cancel", mock.Anything, scheduled).Return(nil).Once()
	sched.On("Cancel", mock.Anything, idle).Return(scheduling.ErrNotScheduled).Once()

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/v1/scans/"+scheduled.String()+"/schedule", "").Code)
	assert.Equal(t, http.StatusConflict, do(s, http.MethodDelete, "/v1/scans/"+idle.String()+"/schedule", "").Code)
	sched.AssertExpectations(t)
}

func TestServer_DebugDashboard(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/debug/statsviz/", "").Code)

	cfg := DefaultConfig()
	cfg.Debug = true
	debug, err := NewServer(cfg, new(mockCycles), new(mockScheduler), nil, prometheus.NewRegistry(),
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(debug, http.MethodGet, "/debug/statsviz/", "").Code)
}
