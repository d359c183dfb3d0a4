// Package admin exposes the operational surface of the sync engine: manual
// run triggers, aggregate statistics, the persisted run history and registry
// maintenance.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/synchistory"
	"github.com/Ramsey-B/clover/internal/repositories/tenant"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SyncEngine is the part of the sync engine the admin surface drives.
type SyncEngine interface {
	RunFull(ctx context.Context) (models.SyncRun, error)
	RunIncremental(ctx context.Context, since time.Time) (models.SyncRun, error)
	Stats() models.SyncStats
}

// HistoryLister serves the persisted run audit rows.
type HistoryLister interface {
	ListRecent(ctx context.Context, limit int) ([]synchistory.Row, error)
}

// RegistryMaintainer heals duplicated source record references.
type RegistryMaintainer interface {
	ResolveDuplicates(ctx context.Context) ([]tenant.DuplicateResolution, error)
}

// TriggerSyncRequest selects the kind of run to start. Since overrides the
// change window of an incremental run; when absent the start time of the
// newest completed run is used.
type TriggerSyncRequest struct {
	Kind  string     `json:"kind"`
	Since *time.Time `json:"since,omitempty"`
}

// ResolveDuplicatesResponse reports the healed source record references.
type ResolveDuplicatesResponse struct {
	Resolved    int                          `json:"resolved"`
	Resolutions []tenant.DuplicateResolution `json:"resolutions"`
}

// Handler handles admin requests
type Handler struct {
	engine   SyncEngine
	history  HistoryLister
	registry RegistryMaintainer
	logger   ectologger.Logger
}

// NewHandler creates a new admin handler
func NewHandler(engine SyncEngine, history HistoryLister, registry RegistryMaintainer, logger ectologger.Logger) *Handler {
	return &Handler{
		engine:   engine,
		history:  history,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers the admin routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("/admin")
	admin.POST("/sync", h.TriggerSync)
	admin.GET("/sync/stats", h.Stats)
	admin.GET("/sync/history", h.History)
	admin.POST("/registry/duplicates/resolve", h.ResolveDuplicates)
}

// TriggerSync handles POST /admin/sync. The run executes synchronously and
// the response is its report; contention with a running sync answers 409.
func (h *Handler) TriggerSync(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "admin_handler.TriggerSync")
	defer span.End()

	var req TriggerSyncRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var run models.SyncRun
	var err error
	switch req.Kind {
	case models.SyncKindFull:
		run, err = h.engine.RunFull(ctx)
	case models.SyncKindIncremental:
		since, sinceErr := h.incrementalSince(req.Since)
		if sinceErr != nil {
			return sinceErr
		}
		run, err = h.engine.RunIncremental(ctx, since)
	default:
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown sync kind %q", req.Kind)
	}
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"kind":   run.Kind,
		"status": run.Status,
	}).Infof("Triggered manual %s sync", run.Kind)

	return c.JSON(http.StatusOK, run)
}

// incrementalSince picks the change window for a manual incremental run.
func (h *Handler) incrementalSince(requested *time.Time) (time.Time, error) {
	if requested != nil {
		return *requested, nil
	}

	stats := h.engine.Stats()
	var since time.Time
	for _, run := range []*models.SyncRun{stats.LastFull, stats.LastIncremental} {
		if run != nil && run.Status == models.SyncStatusCompleted && run.StartedAt.After(since) {
			since = run.StartedAt
		}
	}
	if since.IsZero() {
		return time.Time{}, httperror.NewHTTPError(http.StatusBadRequest, "no completed run to infer since from, pass since or trigger a full sync")
	}

	return since, nil
}

// Stats handles GET /admin/sync/stats
func (h *Handler) Stats(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "admin_handler.Stats")
	defer span.End()

	return c.JSON(http.StatusOK, h.engine.Stats())
}

// History handles GET /admin/sync/history
func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "admin_handler.History")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	rows, err := h.history.ListRecent(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rows)
}

// ResolveDuplicates handles POST /admin/registry/duplicates/resolve
func (h *Handler) ResolveDuplicates(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "admin_handler.ResolveDuplicates")
	defer span.End()

	resolutions, err := h.registry.ResolveDuplicates(ctx)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"resolved": len(resolutions),
	}).Infof("Resolved %d duplicated source record references", len(resolutions))

	return c.JSON(http.StatusOK, ResolveDuplicatesResponse{
		Resolved:    len(resolutions),
		Resolutions: resolutions,
	})
}
