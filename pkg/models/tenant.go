package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
)

// TenantEntity is a canonical client organization in the registry.
//
// Slug is assigned on create and never changes for the lifetime of the
// entity, even when the name it was derived from does. SourceRecordID is the
// promoted copy of Metadata.SourceRecordID so lookups can use an index; it is
// not unique because legacy imports produced duplicate references that are
// tolerated until explicitly resolved.
type TenantEntity struct {
	ID               uuid.UUID                    `db:"id" json:"id"`
	Name             string                       `db:"name" json:"name"`
	Slug             string                       `db:"slug" json:"slug"`
	ContactEmail     *string                      `db:"contact_email" json:"contact_email,omitempty"`
	ProductsServices *string                      `db:"products_services" json:"products_services,omitempty"`
	PageContent      *string                      `db:"page_content" json:"page_content,omitempty"`
	SourceRecordID   *string                      `db:"source_record_id" json:"source_record_id,omitempty"`
	Metadata         database.JSONB[SyncMetadata] `db:"metadata" json:"metadata"`
	CreatedAt        time.Time                    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time                    `db:"updated_at" json:"updated_at"`
}

// SyncMetadata is the source bookkeeping kept on each entity.
type SyncMetadata struct {
	SourceRecordID       string     `json:"source_record_id,omitempty"`
	SourceLastModifiedAt *time.Time `json:"source_last_modified_at,omitempty"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty"`
}

// TableName returns the database table name
func (TenantEntity) TableName() string {
	return "tenants"
}

// HasSourceRef reports whether the entity carries a source record reference.
func (t *TenantEntity) HasSourceRef() bool {
	return t.SourceRecordID != nil && *t.SourceRecordID != ""
}

// SourceRef returns the source record reference or an empty string.
func (t *TenantEntity) SourceRef() string {
	if t.SourceRecordID == nil {
		return ""
	}
	return *t.SourceRecordID
}
