package matching

import (
	"context"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func newTestResolver() *Resolver {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewResolver(0.78, logger)
}

func newEntity(name, slug string) models.TenantEntity {
	return models.TenantEntity{ID: uuid.New(), Name: name, Slug: slug}
}

func strPtr(s string) *string {
	return &s
}

func TestResolver_Resolve(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	t.Run("should match by source record reference before anything else", func(t *testing.T) {
		referenced := newEntity("Old Name", "old-name")
		referenced.SourceRecordID = strPtr("rec-1")
		sameName := newEntity("New Name", "new-name")

		match := resolver.Resolve(ctx, Candidate{SourceRecordID: "rec-1", Name: "New Name"}, []models.TenantEntity{referenced, sameName})
		require.NotNil(t, match)
		assert.Equal(t, StepSourceRecord, match.Step)
		assert.Equal(t, referenced.ID, match.Tenant.ID)
		assert.Equal(t, 1.0, match.Score)
	})

	t.Run("should pick the oldest entity when the source record is duplicated", func(t *testing.T) {
		older := newEntity("Acme Corp", "acme-corp")
		older.SourceRecordID = strPtr("rec-dup")
		younger := newEntity("Acme Corp 2", "acme-corp-2")
		younger.SourceRecordID = strPtr("rec-dup")

		match := resolver.Resolve(ctx, Candidate{SourceRecordID: "rec-dup", Name: "Acme Corp"}, []models.TenantEntity{older, younger})
		require.NotNil(t, match)
		assert.Equal(t, older.ID, match.Tenant.ID)
	})

	t.Run("should match by exact normalized name", func(t *testing.T) {
		stored := newEntity("Acme Corp", "acme-corp")

		match := resolver.Resolve(ctx, Candidate{Name: "ACME, Corp."}, []models.TenantEntity{stored})
		require.NotNil(t, match)
		assert.Equal(t, StepExactName, match.Step)
		assert.Equal(t, stored.ID, match.Tenant.ID)
	})

	t.Run("should resolve exact name ties in favor of the oldest", func(t *testing.T) {
		first := newEntity("Acme Corp", "acme-corp")
		second := newEntity("ACME CORP", "acme-corp-2")

		match := resolver.Resolve(ctx, Candidate{Name: "acme corp"}, []models.TenantEntity{first, second})
		require.NotNil(t, match)
		assert.Equal(t, first.ID, match.Tenant.ID)
	})

	t.Run("should match by contact email when the name changed", func(t *testing.T) {
		stored := newEntity("Acme Corp", "acme-corp")
		stored.ContactEmail = strPtr("hello@acme.test")

		match := resolver.Resolve(ctx, Candidate{Name: "Completely Different", ContactEmail: "Hello@Acme.test"}, []models.TenantEntity{stored})
		require.NotNil(t, match)
		assert.Equal(t, StepEmail, match.Step)
		assert.Equal(t, stored.ID, match.Tenant.ID)
	})

	t.Run("should skip the email step when the candidate has no email", func(t *testing.T) {
		stored := newEntity("Acme Corp", "acme-corp")
		stored.ContactEmail = strPtr("")

		match := resolver.Resolve(ctx, Candidate{Name: "Completely Different"}, []models.TenantEntity{stored})
		assert.Nil(t, match)
	})

	t.Run("should match by fuzzy name above the threshold", func(t *testing.T) {
		stored := newEntity("Hockey Think Tank", "hockey-think-tank")

		match := resolver.Resolve(ctx, Candidate{Name: "The Hockey Think Tank"}, []models.TenantEntity{stored})
		require.NotNil(t, match)
		assert.Equal(t, StepFuzzyName, match.Step)
		assert.InDelta(t, 0.9405, match.Score, 0.001)
	})

	t.Run("should respect the fuzzy threshold boundary", func(t *testing.T) {
		candidate := Candidate{Name: "tango " + strings.Repeat("a", 44)}

		below := newEntity("tango "+strings.Repeat("a", 31)+strings.Repeat("b", 13), "tango-legacy")
		match := resolver.Resolve(ctx, candidate, []models.TenantEntity{below})
		assert.Nil(t, match, "a 0.74 score must not match")

		above := newEntity("tango "+strings.Repeat("a", 34)+strings.Repeat("b", 10), "tango-current")
		match = resolver.Resolve(ctx, candidate, []models.TenantEntity{above})
		require.NotNil(t, match, "a 0.80 score must match")
		assert.Equal(t, StepFuzzyName, match.Step)
		assert.InDelta(t, 0.80, match.Score, 0.0001)
	})

	t.Run("should prefer the best fuzzy score", func(t *testing.T) {
		near := newEntity("Hockey Think Tank", "hockey-think-tank")
		nearer := newEntity("The Hockey Think Tank Inc", "the-hockey-think-tank-inc")

		match := resolver.Resolve(ctx, Candidate{Name: "The Hockey Think Tank Incorporated"}, []models.TenantEntity{near, nearer})
		require.NotNil(t, match)
		assert.Equal(t, nearer.ID, match.Tenant.ID)
	})

	t.Run("should match by slug when the entity was renamed", func(t *testing.T) {
		renamed := newEntity("Widget Industries", "acme")

		match := resolver.Resolve(ctx, Candidate{Name: "Acme"}, []models.TenantEntity{renamed})
		require.NotNil(t, match)
		assert.Equal(t, StepSlugPrefix, match.Step)
		assert.Equal(t, renamed.ID, match.Tenant.ID)
	})

	t.Run("should match a slug carrying a numeric suffix", func(t *testing.T) {
		suffixed := newEntity("Widget Industries", "acme-2")

		match := resolver.Resolve(ctx, Candidate{Name: "Acme"}, []models.TenantEntity{suffixed})
		require.NotNil(t, match)
		assert.Equal(t, StepSlugPrefix, match.Step)
	})

	t.Run("should match by base name after stripping qualifiers", func(t *testing.T) {
		stored := newEntity("Brightworks Studio LLC", "brightworks-studio-llc")

		match := resolver.Resolve(ctx, Candidate{Name: "Brightworks Studio - Copy 3"}, []models.TenantEntity{stored})
		require.NotNil(t, match)
		assert.Equal(t, StepBaseName, match.Step)
		assert.InDelta(t, 0.9409, match.Score, 0.001)
	})

	t.Run("should return nil for a genuinely new tenant", func(t *testing.T) {
		entities := []models.TenantEntity{
			newEntity("Acme Corp", "acme-corp"),
			newEntity("Widget Industries", "widget-industries"),
		}

		match := resolver.Resolve(ctx, Candidate{Name: "Northwind Traders", ContactEmail: "ops@northwind.test"}, entities)
		assert.Nil(t, match)
	})

	t.Run("should return nil for an empty registry", func(t *testing.T) {
		match := resolver.Resolve(ctx, Candidate{SourceRecordID: "rec-9", Name: "Acme"}, nil)
		assert.Nil(t, match)
	})
}

func TestTrimSlugSuffix(t *testing.T) {
	t.Run("should strip numeric and short suffixes", func(t *testing.T) {
		assert.Equal(t, "acme", trimSlugSuffix("acme-2"))
		assert.Equal(t, "acme", trimSlugSuffix("acme-123"))
		assert.Equal(t, "acme", trimSlugSuffix("acme-v2"))
	})

	t.Run("should leave meaningful slugs alone", func(t *testing.T) {
		assert.Equal(t, "acme-corp", trimSlugSuffix("acme-corp"))
		assert.Equal(t, "acme", trimSlugSuffix("acme"))
	})
}
