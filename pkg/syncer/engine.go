// Package syncer orchestrates synchronization passes between the workspace
// collection and the tenant registry. One engine instance owns the
// process-wide single-flight guard: bulk passes never overlap, while
// webhook-driven single-record upserts run alongside them freely.
package syncer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/ratelimit"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/workspace"
)

// errRingSize bounds the error history surfaced by LastErrors.
const errRingSize = 10

// ErrSyncInProgress is returned when a bulk sync is requested while another
// one is still running. The caller gets it immediately, nothing queues.
var ErrSyncInProgress = httperror.NewHTTPError(http.StatusConflict, "a sync is already in progress")

// Registry is the tenant persistence surface the engine writes through.
type Registry interface {
	Create(ctx context.Context, tenant *models.TenantEntity) error
	Update(ctx context.Context, tenant *models.TenantEntity) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]models.TenantEntity, error)
	GetBySourceRecordID(ctx context.Context, sourceRecordID string) (*models.TenantEntity, error)
	FindByName(ctx context.Context, name string) ([]models.TenantEntity, error)
	FindBySlugPrefix(ctx context.Context, prefix string) ([]models.TenantEntity, error)
	ListWithSourceRef(ctx context.Context) ([]models.TenantEntity, error)
}

// Source is the workspace read surface.
type Source interface {
	GetRecord(ctx context.Context, id string) (*models.SourceRecord, error)
	GetAnyRecord(ctx context.Context, id string) (*models.SourceRecord, error)
	QueryCollection(ctx context.Context, collectionID string, modifiedAfter *time.Time) ([]models.SourceRecord, error)
	GetChildContent(ctx context.Context, recordID string) (string, error)
}

// Matcher decides whether a record refers to an existing entity.
type Matcher interface {
	Resolve(ctx context.Context, candidate matching.Candidate, entities []models.TenantEntity) *matching.Match
}

// Events receives registry mutations for downstream fan-out.
type Events interface {
	EmitTenantCreated(ctx context.Context, tenant *models.TenantEntity, matchStep string)
	EmitTenantUpdated(ctx context.Context, tenant *models.TenantEntity, matchStep string)
	EmitTenantDeleted(ctx context.Context, tenant *models.TenantEntity)
}

// History persists completed runs for the audit surface.
type History interface {
	Insert(ctx context.Context, run models.SyncRun) error
}

// Config holds the engine's tunables.
type Config struct {
	CollectionID string
	MaxSyncAge   time.Duration
}

// Engine runs sync passes and tracks their outcomes in memory.
type Engine struct {
	cfg      Config
	logger   ectologger.Logger
	registry Registry
	source   Source
	matcher  Matcher
	pacer    ratelimit.Pacer
	emitter  Events
	history  History

	mu      sync.Mutex
	syncing bool

	stateMu         sync.Mutex
	lastFull        *models.SyncRun
	lastIncremental *models.SyncRun
	lastCompleted   time.Time
	totalRuns       int
	totalRecords    int
	totalCreated    int
	totalUpdated    int
	totalDeleted    int
	totalSkipped    int
	recentErrors    []string
}

// NewEngine creates a sync engine
func NewEngine(cfg Config, registry Registry, source Source, matcher Matcher, pacer ratelimit.Pacer, emitter Events, history History, logger ectologger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		source:   source,
		matcher:  matcher,
		pacer:    pacer,
		emitter:  emitter,
		history:  history,
	}
}

// RunFull synchronizes every record in the collection.
func (e *Engine) RunFull(ctx context.Context) (models.SyncRun, error) {
	return e.run(ctx, models.SyncKindFull, nil)
}

// RunIncremental synchronizes records edited at or after since, then
// reconciles deletions across every entity holding a source reference.
func (e *Engine) RunIncremental(ctx context.Context, since time.Time) (models.SyncRun, error) {
	return e.run(ctx, models.SyncKindIncremental, &since)
}

func (e *Engine) run(ctx context.Context, kind string, since *time.Time) (models.SyncRun, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		metrics.SyncRunsTotal.WithLabelValues(kind, "rejected").Inc()
		return models.SyncRun{Kind: kind}, ErrSyncInProgress
	}
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	run := models.SyncRun{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.SyncStatusCompleted,
		Since:     since,
		StartedAt: time.Now().UTC(),
		Errors:    []string{},
	}

	ctx = appctx.SetSyncRunID(ctx, run.ID.String())
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.run")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"kind":   kind,
	})
	log.Infof("Starting %s sync", kind)

	metrics.SyncInFlight.Inc()
	defer metrics.SyncInFlight.Dec()

	records, err := e.source.QueryCollection(ctx, e.cfg.CollectionID, since)
	if err != nil {
		run.Status = models.SyncStatusFailed
		run.Errors = append(run.Errors, fmt.Sprintf("failed to list collection records: %v", err))
		log.WithError(err).Error("sync aborted, collection unreachable")
		e.finish(ctx, &run)
		return run, nil
	}

	run.Total = len(records)
	for i := range records {
		if ctx.Err() != nil {
			run.Status = models.SyncStatusCancelled
			log.Warn("sync cancelled, returning partial run")
			break
		}
		if i > 0 {
			if err := e.pacer.Wait(ctx); err != nil {
				run.Status = models.SyncStatusCancelled
				break
			}
		}

		_, created, _, err := e.upsertRecord(ctx, &records[i])
		if err != nil {
			run.Skipped++
			run.Errors = append(run.Errors, fmt.Sprintf("record %s: %v", records[i].ID, err))
			metrics.RecordSyncRecord("skipped")
			continue
		}
		if created {
			run.Created++
		} else {
			run.Updated++
		}
	}

	if kind == models.SyncKindIncremental && run.Status == models.SyncStatusCompleted {
		e.reconcileDeletions(ctx, &run, log)
	}

	e.finish(ctx, &run)
	return run, nil
}

// UpsertOne synchronizes a single record by id. This is the webhook path:
// it is not gated by the single-flight guard and may interleave with a bulk
// pass, converging on the same entity through the matcher.
func (e *Engine) UpsertOne(ctx context.Context, recordID string) (*models.TenantEntity, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.UpsertOne")
	defer span.End()

	record, err := e.source.GetRecord(ctx, recordID)
	if err != nil {
		return nil, false, err
	}

	entity, created, _, err := e.upsertRecord(ctx, record)
	if err != nil {
		metrics.RecordSyncRecord("skipped")
		return nil, false, err
	}
	return entity, created, nil
}

// Remove deletes the tenant referencing the given source record. When no
// entity carries the reference the record body is fetched to try a name and
// slug lookup, covering entities synced before references were recorded. An
// entity already absent is success: deletions arrive through both the
// webhook and the reconciliation pass and must stay idempotent.
func (e *Engine) Remove(ctx context.Context, recordID string) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.Remove")
	defer span.End()

	tenant, err := e.registry.GetBySourceRecordID(ctx, recordID)
	if err != nil {
		if httperror.GetStatusCode(err) != http.StatusNotFound {
			return err
		}
		tenant = e.findByRecordIdentity(ctx, recordID)
		if tenant == nil {
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"source_record_id": recordID,
			}).Info("no tenant references the deleted record")
			return nil
		}
	}

	if err := e.registry.Delete(ctx, tenant.ID); err != nil {
		if httperror.GetStatusCode(err) == http.StatusNotFound {
			return nil
		}
		return err
	}

	metrics.RecordSyncRecord("deleted")
	e.emitter.EmitTenantDeleted(ctx, tenant)
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":        tenant.ID,
		"source_record_id": recordID,
	}).Info("Deleted tenant after source deletion")
	return nil
}

// findByRecordIdentity identifies the entity a deleted record belonged to
// when no source reference was ever recorded. The gone record's body still
// resolves, so its name and derived slug are tried against the registry.
// Only a single unreferenced hit qualifies: anything ambiguous, or an entity
// tracking a different record, is left alone.
func (e *Engine) findByRecordIdentity(ctx context.Context, recordID string) *models.TenantEntity {
	record, err := e.source.GetAnyRecord(ctx, recordID)
	if err != nil {
		return nil
	}
	name := strings.TrimSpace(record.TitleText())
	if name == "" {
		return nil
	}

	// an ambiguous name never falls through to the slug lookup
	if hits, err := e.registry.FindByName(ctx, name); err == nil && len(hits) > 0 {
		return soleUnreferenced(hits)
	}

	slug := normalizers.Slugify(name)
	if slug == "" {
		return nil
	}
	hits, err := e.registry.FindBySlugPrefix(ctx, slug)
	if err != nil {
		return nil
	}
	var exact []models.TenantEntity
	for i := range hits {
		if hits[i].Slug == slug {
			exact = append(exact, hits[i])
		}
	}
	return soleUnreferenced(exact)
}

func soleUnreferenced(hits []models.TenantEntity) *models.TenantEntity {
	if len(hits) != 1 || hits[0].HasSourceRef() {
		return nil
	}
	return &hits[0]
}

// upsertRecord runs one record through the matcher and applies the outcome.
func (e *Engine) upsertRecord(ctx context.Context, record *models.SourceRecord) (*models.TenantEntity, bool, string, error) {
	name := strings.TrimSpace(record.TitleText())
	if name == "" {
		return nil, false, "", httperror.NewHTTPErrorf(http.StatusBadRequest, "record %s has no usable name", record.ID)
	}

	entities, err := e.registry.List(ctx)
	if err != nil {
		return nil, false, "", err
	}

	candidate := matching.Candidate{
		SourceRecordID: record.ID,
		Name:           name,
		ContactEmail:   record.EmailText(),
	}

	if match := e.matcher.Resolve(ctx, candidate, entities); match != nil {
		if err := e.applyUpdate(ctx, match.Tenant, match.Step, record, name); err != nil {
			return nil, false, "", err
		}
		metrics.RecordSyncRecord("updated")
		return match.Tenant, false, match.Step, nil
	}

	entity, err := e.applyCreate(ctx, record, name)
	if err != nil {
		return nil, false, "", err
	}
	metrics.RecordSyncRecord("created")
	return entity, true, "", nil
}

// applyUpdate overwrites the matched entity with fresh source values. The
// slug is never touched: whatever slug the incoming name would produce is
// discarded in favor of the existing one.
func (e *Engine) applyUpdate(ctx context.Context, tenant *models.TenantEntity, step string, record *models.SourceRecord, name string) error {
	content, contentOK := e.fetchContent(ctx, record)

	tenant.Name = name
	tenant.ContactEmail = nilIfEmpty(record.EmailText())
	tenant.ProductsServices = nilIfEmpty(record.ProductsServicesText())
	if contentOK {
		tenant.PageContent = content
	}

	switch {
	case !tenant.HasSourceRef():
		tenant.SourceRecordID = &record.ID
	case tenant.SourceRef() != record.ID:
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"tenant_id":        tenant.ID,
			"existing_ref":     tenant.SourceRef(),
			"source_record_id": record.ID,
			"match_step":       step,
		}).Warn("matched tenant references a different source record, keeping the existing reference")
	}

	tenant.Metadata = database.JSONB[models.SyncMetadata]{Data: e.freshMetadata(tenant.SourceRef(), record)}

	if err := e.registry.Update(ctx, tenant); err != nil {
		return err
	}
	e.emitter.EmitTenantUpdated(ctx, tenant, step)
	return nil
}

// applyCreate inserts a brand-new tenant for an unmatched record.
func (e *Engine) applyCreate(ctx context.Context, record *models.SourceRecord, name string) (*models.TenantEntity, error) {
	base := normalizers.Slugify(name)
	if base == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "record %s produces an empty slug", record.ID)
	}

	slug, err := e.chooseSlug(ctx, base)
	if err != nil {
		return nil, err
	}

	content, _ := e.fetchContent(ctx, record)

	entity := &models.TenantEntity{
		Name:             name,
		Slug:             slug,
		ContactEmail:     nilIfEmpty(record.EmailText()),
		ProductsServices: nilIfEmpty(record.ProductsServicesText()),
		PageContent:      content,
		SourceRecordID:   &record.ID,
		Metadata:         database.JSONB[models.SyncMetadata]{Data: e.freshMetadata(record.ID, record)},
	}

	if err := e.registry.Create(ctx, entity); err != nil {
		return nil, err
	}
	e.emitter.EmitTenantCreated(ctx, entity, "")
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":        entity.ID,
		"slug":             entity.Slug,
		"source_record_id": record.ID,
	}).Info("Created tenant from source record")
	return entity, nil
}

// chooseSlug returns base when no existing entity holds it, otherwise the
// first free numbered variant. The collision is logged for manual review:
// the matcher decided the colliding entity is a different tenant.
func (e *Engine) chooseSlug(ctx context.Context, base string) (string, error) {
	existing, err := e.registry.FindBySlugPrefix(ctx, base)
	if err != nil {
		return "", err
	}

	taken := make(map[string]struct{}, len(existing))
	for i := range existing {
		taken[existing[i].Slug] = struct{}{}
	}
	if _, ok := taken[base]; !ok {
		return base, nil
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"slug": base,
	}).Warn("slug collision with an entity the matcher did not select, review for a possible duplicate")

	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}

// reconcileDeletions probes the source for every entity holding a source
// reference and deletes the ones the source reports gone. Only a definitive
// NotFound deletes: transient failures, auth failures and rate limits leave
// the entity untouched until the next pass.
func (e *Engine) reconcileDeletions(ctx context.Context, run *models.SyncRun, log ectologger.Logger) {
	tenants, err := e.registry.ListWithSourceRef(ctx)
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("deletion reconciliation: %v", err))
		return
	}

	for i := range tenants {
		if ctx.Err() != nil {
			run.Status = models.SyncStatusCancelled
			return
		}
		if i > 0 {
			if err := e.pacer.Wait(ctx); err != nil {
				run.Status = models.SyncStatusCancelled
				return
			}
		}

		ref := tenants[i].SourceRef()
		_, err := e.source.GetRecord(ctx, ref)
		if err == nil {
			continue
		}
		if !workspace.IsNotFound(err) {
			log.WithError(err).WithFields(map[string]any{
				"tenant_id":        tenants[i].ID,
				"source_record_id": ref,
			}).Warn("skipping deletion, source probe did not return a definitive answer")
			continue
		}

		if err := e.registry.Delete(ctx, tenants[i].ID); err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("delete tenant %s: %v", tenants[i].ID, err))
			continue
		}
		run.Deleted++
		metrics.RecordSyncRecord("deleted")
		e.emitter.EmitTenantDeleted(ctx, &tenants[i])
		log.WithFields(map[string]any{
			"tenant_id":        tenants[i].ID,
			"source_record_id": ref,
		}).Info("Deleted tenant no longer present in source")
	}
}

// fetchContent pulls the record body. Content is supplementary: a fetch
// failure syncs the entity without it and reports ok=false so updates keep
// the previously captured content.
func (e *Engine) fetchContent(ctx context.Context, record *models.SourceRecord) (*string, bool) {
	content, err := e.source.GetChildContent(ctx, record.ID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"record_id": record.ID,
		}).Warn("failed to fetch record content")
		return nil, false
	}
	return nilIfEmpty(content), true
}

func (e *Engine) freshMetadata(sourceRef string, record *models.SourceRecord) models.SyncMetadata {
	now := time.Now().UTC()
	meta := models.SyncMetadata{
		SourceRecordID: sourceRef,
		LastSyncedAt:   &now,
	}
	if t := record.LastEditedTime.Time; !t.IsZero() {
		edited := t.UTC()
		meta.SourceLastModifiedAt = &edited
	}
	return meta
}

func (e *Engine) finish(ctx context.Context, run *models.SyncRun) {
	run.FinishedAt = time.Now().UTC()
	metrics.RecordSyncRun(run.Kind, run.Status, run.FinishedAt.Sub(run.StartedAt).Seconds())

	snapshot := *run

	e.stateMu.Lock()
	e.totalRuns++
	e.totalRecords += run.Total
	e.totalCreated += run.Created
	e.totalUpdated += run.Updated
	e.totalDeleted += run.Deleted
	e.totalSkipped += run.Skipped
	e.recentErrors = append(e.recentErrors, run.Errors...)
	if n := len(e.recentErrors) - errRingSize; n > 0 {
		e.recentErrors = e.recentErrors[n:]
	}
	if run.Kind == models.SyncKindFull {
		e.lastFull = &snapshot
	} else {
		e.lastIncremental = &snapshot
	}
	if run.Status == models.SyncStatusCompleted {
		e.lastCompleted = run.FinishedAt
	}
	e.stateMu.Unlock()

	if e.history != nil {
		if err := e.history.Insert(ctx, snapshot); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"run_id": run.ID,
			}).Warn("failed to record sync history")
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  run.ID,
		"kind":    run.Kind,
		"status":  run.Status,
		"total":   run.Total,
		"created": run.Created,
		"updated": run.Updated,
		"deleted": run.Deleted,
		"skipped": run.Skipped,
	}).Infof("Finished %s sync", run.Kind)
}

// Stats reports the aggregate counters since process start.
func (e *Engine) Stats() models.SyncStats {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	stats := models.SyncStats{
		LastFull:        e.lastFull,
		LastIncremental: e.lastIncremental,
		TotalRuns:       e.totalRuns,
		TotalCreated:    e.totalCreated,
		TotalUpdated:    e.totalUpdated,
		TotalDeleted:    e.totalDeleted,
		TotalSkipped:    e.totalSkipped,
		RecentErrors:    append([]string{}, e.recentErrors...),
	}
	if e.totalRecords > 0 {
		stats.FailureRate = float64(e.totalSkipped) / float64(e.totalRecords)
	}
	return stats
}

// LastErrors returns the most recent per-record error messages, oldest first.
func (e *Engine) LastErrors() []string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return append([]string{}, e.recentErrors...)
}

// Healthy reports whether the registry can be trusted: a run has completed,
// the last completion is recent enough, and skips stay under a quarter of
// the records processed.
func (e *Engine) Healthy() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.lastCompleted.IsZero() {
		return false
	}
	if e.cfg.MaxSyncAge > 0 && time.Since(e.lastCompleted) > e.cfg.MaxSyncAge {
		return false
	}
	if e.totalRecords > 0 && float64(e.totalSkipped)/float64(e.totalRecords) > 0.25 {
		return false
	}
	return true
}

func nilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
