package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/synchistory"
	"github.com/Ramsey-B/clover/internal/repositories/tenant"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncer"
)

type fakeEngine struct {
	fullRuns int
	incRuns  int
	incSince []time.Time
	runErr   error
	stats    models.SyncStats
}

func (f *fakeEngine) RunFull(ctx context.Context) (models.SyncRun, error) {
	f.fullRuns++
	if f.runErr != nil {
		return models.SyncRun{Kind: models.SyncKindFull}, f.runErr
	}
	return models.SyncRun{
		ID:      uuid.New(),
		Kind:    models.SyncKindFull,
		Status:  models.SyncStatusCompleted,
		Total:   3,
		Created: 1,
		Updated: 2,
	}, nil
}

func (f *fakeEngine) RunIncremental(ctx context.Context, since time.Time) (models.SyncRun, error) {
	f.incRuns++
	f.incSince = append(f.incSince, since)
	if f.runErr != nil {
		return models.SyncRun{Kind: models.SyncKindIncremental}, f.runErr
	}
	return models.SyncRun{
		ID:     uuid.New(),
		Kind:   models.SyncKindIncremental,
		Status: models.SyncStatusCompleted,
	}, nil
}

func (f *fakeEngine) Stats() models.SyncStats {
	return f.stats
}

type fakeHistory struct {
	rows      []synchistory.Row
	lastLimit int
	err       error
}

func (f *fakeHistory) ListRecent(ctx context.Context, limit int) ([]synchistory.Row, error) {
	f.lastLimit = limit
	return f.rows, f.err
}

type fakeMaintainer struct {
	resolutions []tenant.DuplicateResolution
	err         error
	calls       int
}

func (f *fakeMaintainer) ResolveDuplicates(ctx context.Context) ([]tenant.DuplicateResolution, error) {
	f.calls++
	return f.resolutions, f.err
}

func newTestApp(engine *fakeEngine, history *fakeHistory, maintainer *fakeMaintainer) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	h := NewHandler(engine, history, maintainer, logger)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func request(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTriggerSync_Full(t *testing.T) {
	engine := &fakeEngine{}
	e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

	rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"full"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var run models.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, models.SyncKindFull, run.Kind)
	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 1, engine.fullRuns)
	assert.Equal(t, 0, engine.incRuns)
}

func TestTriggerSync_IncrementalWithSince(t *testing.T) {
	engine := &fakeEngine{}
	e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

	rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"incremental","since":"2025-03-01T00:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.incSince, 1)
	expected := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, engine.incSince[0].Equal(expected))
}

func TestTriggerSync_IncrementalInfersSince(t *testing.T) {
	older := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("newest completed run wins", func(t *testing.T) {
		engine := &fakeEngine{stats: models.SyncStats{
			LastFull:        &models.SyncRun{Status: models.SyncStatusCompleted, StartedAt: older},
			LastIncremental: &models.SyncRun{Status: models.SyncStatusCompleted, StartedAt: newer},
		}}
		e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

		rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"incremental"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, engine.incSince, 1)
		assert.True(t, engine.incSince[0].Equal(newer))
	})

	t.Run("failed runs do not count", func(t *testing.T) {
		engine := &fakeEngine{stats: models.SyncStats{
			LastFull:        &models.SyncRun{Status: models.SyncStatusCompleted, StartedAt: older},
			LastIncremental: &models.SyncRun{Status: models.SyncStatusFailed, StartedAt: newer},
		}}
		e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

		rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"incremental"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, engine.incSince, 1)
		assert.True(t, engine.incSince[0].Equal(older))
	})

	t.Run("no completed run rejects", func(t *testing.T) {
		engine := &fakeEngine{}
		e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

		rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"incremental"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, engine.incRuns)
	})
}

func TestTriggerSync_ConflictWhileRunning(t *testing.T) {
	engine := &fakeEngine{runErr: syncer.ErrSyncInProgress}
	e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

	rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"full"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestTriggerSync_UnknownKind(t *testing.T) {
	engine := &fakeEngine{}
	e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

	rec := request(e, http.MethodPost, "/api/v1/admin/sync", `{"kind":"partial"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, engine.fullRuns)
	assert.Equal(t, 0, engine.incRuns)
}

func TestStats(t *testing.T) {
	engine := &fakeEngine{stats: models.SyncStats{
		TotalRuns:    4,
		TotalCreated: 10,
		TotalSkipped: 1,
		FailureRate:  0.05,
		RecentErrors: []string{"record rec-9: no usable name"},
	}}
	e := newTestApp(engine, &fakeHistory{}, &fakeMaintainer{})

	rec := request(e, http.MethodGet, "/api/v1/admin/sync/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.SyncStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.TotalRuns)
	assert.Equal(t, 10, stats.TotalCreated)
	assert.InDelta(t, 0.05, stats.FailureRate, 1e-9)
	assert.Equal(t, []string{"record rec-9: no usable name"}, stats.RecentErrors)
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{rows: []synchistory.Row{
		{ID: uuid.New(), Kind: models.SyncKindFull, Status: models.SyncStatusCompleted, Total: 12},
		{ID: uuid.New(), Kind: models.SyncKindIncremental, Status: models.SyncStatusCompleted, Total: 2},
	}}
	e := newTestApp(&fakeEngine{}, history, &fakeMaintainer{})

	rec := request(e, http.MethodGet, "/api/v1/admin/sync/history?limit=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.lastLimit)
	var rows []synchistory.Row
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, models.SyncKindFull, rows[0].Kind)
}

func TestHistory_DefaultLimit(t *testing.T) {
	history := &fakeHistory{lastLimit: -1}
	e := newTestApp(&fakeEngine{}, history, &fakeMaintainer{})

	rec := request(e, http.MethodGet, "/api/v1/admin/sync/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, history.lastLimit)
}

func TestResolveDuplicates(t *testing.T) {
	kept := uuid.New()
	removed := uuid.New()
	maintainer := &fakeMaintainer{resolutions: []tenant.DuplicateResolution{
		{SourceRecordID: "rec-1", KeptTenantID: kept, RemovedIDs: []uuid.UUID{removed}},
	}}
	e := newTestApp(&fakeEngine{}, &fakeHistory{}, maintainer)

	rec := request(e, http.MethodPost, "/api/v1/admin/registry/duplicates/resolve", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResolveDuplicatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Resolved)
	require.Len(t, resp.Resolutions, 1)
	assert.Equal(t, "rec-1", resp.Resolutions[0].SourceRecordID)
	assert.Equal(t, kept, resp.Resolutions[0].KeptTenantID)
	assert.Equal(t, 1, maintainer.calls)
}

func TestResolveDuplicates_StoreFailure(t *testing.T) {
	maintainer := &fakeMaintainer{err: httperror.NewHTTPError(http.StatusInternalServerError, "failed to find duplicated source records")}
	e := newTestApp(&fakeEngine{}, &fakeHistory{}, maintainer)

	rec := request(e, http.MethodPost, "/api/v1/admin/registry/duplicates/resolve", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
