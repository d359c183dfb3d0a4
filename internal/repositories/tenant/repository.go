package tenant

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const tenantsTable = "tenants"

var tenantStruct = database.NewStruct(new(models.TenantEntity))

// Repository handles tenant registry persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new tenant repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create inserts a new tenant
func (r *Repository) Create(ctx context.Context, tenant *models.TenantEntity) error {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.Create")
	defer span.End()

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(tenantsTable).
		Cols("id", "name", "slug", "contact_email", "products_services", "page_content", "source_record_id", "metadata", "created_at", "updated_at").
		Values(tenant.ID, tenant.Name, tenant.Slug, tenant.ContactEmail, tenant.ProductsServices, tenant.PageContent, tenant.SourceRecordID, tenant.Metadata,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenant.ID,
			"slug":      tenant.Slug,
		}).Error("failed to create tenant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create tenant")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenant.ID,
		"slug":      tenant.Slug,
	}).Debugf("Created %s", tenantsTable)
	return nil
}

// Update writes the mutable columns of a tenant. The slug is immutable and
// is never part of the update set.
func (r *Repository) Update(ctx context.Context, tenant *models.TenantEntity) error {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tenantsTable).
		Set(
			ub.Assign("name", tenant.Name),
			ub.Assign("contact_email", tenant.ContactEmail),
			ub.Assign("products_services", tenant.ProductsServices),
			ub.Assign("page_content", tenant.PageContent),
			ub.Assign("source_record_id", tenant.SourceRecordID),
			ub.Assign("metadata", tenant.Metadata),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", tenant.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&tenant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "tenant %s does not exist", tenant.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenant.ID,
		}).Error("failed to update tenant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update tenant")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenant.ID,
	}).Debugf("Updated %s", tenantsTable)
	return nil
}

// Delete removes a tenant by ID
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tenantsTable).
		Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": id,
		}).Error("failed to delete tenant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete tenant")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": id,
		}).Error("failed to delete tenant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete tenant")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "tenant %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": id,
	}).Debugf("Deleted %s", tenantsTable)
	return nil
}

// GetByID retrieves a tenant by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.GetByID")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var tenant models.TenantEntity
	err := r.db.GetContext(ctx, &tenant, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "tenant %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": id,
		}).Error("failed to get tenant")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get tenant")
	}

	return &tenant, nil
}

// List returns every tenant ordered oldest first. The matcher depends on the
// ordering: when several rows are equally good candidates the oldest wins.
func (r *Repository) List(ctx context.Context) ([]models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.List")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var tenants []models.TenantEntity
	if err := r.db.SelectContext(ctx, &tenants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list tenants")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list tenants")
	}

	return tenants, nil
}

// GetBySourceRecordID returns the tenant referencing the given source record.
// Duplicate references are tolerated: the oldest row wins and the collision is
// logged so the duplicates can be healed through the admin path.
func (r *Repository) GetBySourceRecordID(ctx context.Context, sourceRecordID string) (*models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.GetBySourceRecordID")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.Where(sb.Equal("source_record_id", sourceRecordID))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var tenants []models.TenantEntity
	if err := r.db.SelectContext(ctx, &tenants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_record_id": sourceRecordID,
		}).Error("failed to get tenant by source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get tenant by source record")
	}

	if len(tenants) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no tenant references source record %s", sourceRecordID)
	}
	if len(tenants) > 1 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"source_record_id": sourceRecordID,
			"tenant_count":     len(tenants),
		}).Warn("multiple tenants reference the same source record")
	}

	return &tenants[0], nil
}

// FindByName returns tenants whose name matches case-insensitively, oldest first
func (r *Repository) FindByName(ctx context.Context, name string) ([]models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.FindByName")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.Where("LOWER(name) = LOWER(" + sb.Var(strings.TrimSpace(name)) + ")")
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var tenants []models.TenantEntity
	if err := r.db.SelectContext(ctx, &tenants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"name": name,
		}).Error("failed to find tenants by name")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find tenants by name")
	}

	return tenants, nil
}

// FindByEmail returns tenants whose contact email matches case-insensitively, oldest first.
func (r *Repository) FindByEmail(ctx context.Context, email string) ([]models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.FindByEmail")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.Where("LOWER(contact_email) = LOWER(" + sb.Var(strings.TrimSpace(email)) + ")")
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var tenants []models.TenantEntity
	if err := r.db.SelectContext(ctx, &tenants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"email": email,
		}).Error("failed to find tenants by email")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find tenants by email")
	}

	return tenants, nil
}

// FindBySlugPrefix returns tenants whose slug equals the prefix exactly or
// starts with it, oldest first. Used to pick collision suffixes for new slugs.
func (r *Repository) FindBySlugPrefix(ctx context.Context, prefix string) ([]models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.FindBySlugPrefix")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.Where(sb.Like("slug", prefix+"%"))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var tenants []models.TenantEntity
	if err := r.db.SelectContext(ctx, &tenants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"slug_prefix": prefix,
		}).Error("failed to find tenants by slug prefix")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find tenants by slug prefix")
	}

	return tenants, nil
}

// ListWithSourceRef returns every tenant carrying a source record reference,
// oldest first. This is the input set for deletion reconciliation.
func (r *Repository) ListWithSourceRef(ctx context.Context) ([]models.TenantEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.ListWithSourceRef")
	defer span.End()

	sb := tenantStruct.SelectFrom(tenantsTable)
	sb.Where(sb.IsNotNull("source_record_id"))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var tenants []models.TenantEntity
	if err := r.db.SelectContext(ctx, &tenants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list tenants with source refs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list tenants with source refs")
	}

	return tenants, nil
}

// DuplicateResolution reports one healed source record reference.
type DuplicateResolution struct {
	SourceRecordID string      `json:"source_record_id"`
	KeptTenantID   uuid.UUID   `json:"kept_tenant_id"`
	RemovedIDs     []uuid.UUID `json:"removed_tenant_ids"`
}

// ResolveDuplicates finds source records referenced by more than one tenant
// and keeps only the oldest row per record, clearing the reference on the
// younger rows. The younger tenants themselves are preserved. Runs in a
// single transaction so a partial healing never becomes visible.
func (r *Repository) ResolveDuplicates(ctx context.Context) ([]DuplicateResolution, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.ResolveDuplicates")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT source_record_id
		FROM tenants
		WHERE source_record_id IS NOT NULL
		GROUP BY source_record_id
		HAVING COUNT(*) > 1
		ORDER BY source_record_id
	`
	var duplicated []string
	if err := tx.SelectContext(ctx, &duplicated, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to find duplicated source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find duplicated source records")
	}

	resolutions := make([]DuplicateResolution, 0, len(duplicated))
	for _, sourceRecordID := range duplicated {
		sb := tenantStruct.SelectFrom(tenantsTable)
		sb.Where(sb.Equal("source_record_id", sourceRecordID))
		sb.OrderBy("created_at ASC")

		selectQuery, selectArgs := sb.Build()
		var tenants []models.TenantEntity
		if err := tx.SelectContext(ctx, &tenants, selectQuery, selectArgs...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"source_record_id": sourceRecordID,
			}).Error("failed to load duplicated tenants")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load duplicated tenants")
		}
		if len(tenants) < 2 {
			continue
		}

		removed := make([]uuid.UUID, 0, len(tenants)-1)
		for _, younger := range tenants[1:] {
			removed = append(removed, younger.ID)
		}

		ub := database.NewUpdateBuilder()
		ub.Update(tenantsTable).
			Set(
				ub.Assign("source_record_id", nil),
				ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
			).
			Where(
				ub.Equal("source_record_id", sourceRecordID),
				ub.NotEqual("id", tenants[0].ID),
			)

		updateQuery, updateArgs := ub.Build()
		if _, err := tx.ExecContext(ctx, updateQuery, updateArgs...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"source_record_id": sourceRecordID,
			}).Error("failed to clear duplicate source record references")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear duplicate source record references")
		}

		resolutions = append(resolutions, DuplicateResolution{
			SourceRecordID: sourceRecordID,
			KeptTenantID:   tenants[0].ID,
			RemovedIDs:     removed,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit duplicate resolution")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"resolved_count": len(resolutions),
	}).Infof("Resolved duplicate source record references")
	return resolutions, nil
}
