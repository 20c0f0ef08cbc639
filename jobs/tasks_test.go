package jobs

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/automata-backoffice/backoffice/internal/jobs"
)

type stubDisabler struct {
	threshold time.Time
	count     int
	err       error
}

func (s *stubDisabler) DisableInactive(_ context.Context, threshold time.Time) (int, error) {
	s.threshold = threshold
	return s.count, s.err
}

type stubRetirer struct {
	calls   int
	retired int
	err     error
}

func (s *stubRetirer) RetireSystemRolesIfThresholdExceeded(context.Context) (int, error) {
	s.calls++
	return s.retired, s.err
}

func TestNewTaskKnowsEveryTask(t *testing.T) {
	for _, name := range TaskNames() {
		task, err := NewTask(name)
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
	_, err := NewTask("mail:send")
	require.ErrorContains(t, err, "unsupported task")
}

func TestMaintenanceCron(t *testing.T) {
	entries, err := MaintenanceCron()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, CronDisableInactive, entries[0].Spec)
	require.Equal(t, TaskDisableInactive, entries[0].Task.Type())
	require.Equal(t, CronRetireSystemRoles, entries[1].Spec)
	require.Equal(t, TaskRetireSystemRoles, entries[1].Task.Type())
}

func TestDisableInactiveJobUsesConfiguredWindow(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	users := &stubDisabler{count: 3}
	job := NewDisableInactiveJob(users, 90, nil, metrics)
	now := time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewDisableInactiveTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now.AddDate(0, 0, -90), users.threshold)

	task, err = NewDisableInactiveTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now.AddDate(0, 0, -7), users.threshold)
}

func TestDisableInactiveJobRejectsBadPayload(t *testing.T) {
	job := NewDisableInactiveJob(&stubDisabler{}, 90, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskDisableInactive, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	job.InactivityDays = 0
	err = job.Handle(context.Background(), asynq.NewTask(TaskDisableInactive, nil))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDisableInactiveJobWrapsFailure(t *testing.T) {
	boom := errors.New("pool closed")
	job := NewDisableInactiveJob(&stubDisabler{err: boom}, 90, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskDisableInactive, nil))
	require.ErrorIs(t, err, boom)
}

func TestRetireSystemRolesJob(t *testing.T) {
	roles := &stubRetirer{retired: 2}
	job := NewRetireSystemRolesJob(roles, nil, nil)
	require.NoError(t, job.Handle(context.Background(), NewRetireSystemRolesTask()))
	require.Equal(t, 1, roles.calls)

	roles.err = errors.New("serialization failure")
	require.ErrorContains(t, job.Handle(context.Background(), NewRetireSystemRolesTask()), "retire system roles")
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHandlerHealth(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, queueHealth{Queue: QueueDefault, Pending: 4, Retry: 1}, body)

	rr = serve(NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestDisableInactiveJobRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewDisableInactiveJob(&stubDisabler{count: 5}, 30, nil, metrics)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskDisableInactive, nil)))

	count, err := testutil.GatherAndCount(registry, "backoffice_job_affected_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
