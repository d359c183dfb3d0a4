package synchistory

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const syncHistoryTable = "sync_history"

var historyStruct = database.NewStruct(new(Row))

// Row is one completed sync run as persisted for the audit surface. The
// in-memory SyncRun stays ephemeral; rows only carry the counters.
type Row struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Kind       string    `db:"kind" json:"kind"`
	Status     string    `db:"status" json:"status"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
	Total      int       `db:"total" json:"total"`
	Created    int       `db:"created" json:"created"`
	Updated    int       `db:"updated" json:"updated"`
	Deleted    int       `db:"deleted" json:"deleted"`
	Skipped    int       `db:"skipped" json:"skipped"`
	ErrorCount int       `db:"error_count" json:"error_count"`
}

// Repository handles sync run audit persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new sync history repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Insert records a completed run
func (r *Repository) Insert(ctx context.Context, run models.SyncRun) error {
	ctx, span := tracing.StartSpan(ctx, "synchistory.Repository.Insert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(syncHistoryTable).
		Cols("id", "kind", "status", "started_at", "finished_at", "total", "created", "updated", "deleted", "skipped", "error_count").
		Values(run.ID, run.Kind, run.Status, run.StartedAt, run.FinishedAt, run.Total, run.Created, run.Updated, run.Deleted, run.Skipped, len(run.Errors))

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
			"kind":   run.Kind,
		}).Error("failed to insert sync history row")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert sync history row")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
	}).Debugf("Created %s", syncHistoryTable)
	return nil
}

// ListRecent returns the newest runs first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Row, error) {
	ctx, span := tracing.StartSpan(ctx, "synchistory.Repository.ListRecent")
	defer span.End()

	if limit < 1 || limit > 100 {
		limit = 20
	}

	sb := historyStruct.SelectFrom(syncHistoryTable)
	sb.OrderBy("started_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []Row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list sync history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sync history")
	}

	return rows, nil
}
