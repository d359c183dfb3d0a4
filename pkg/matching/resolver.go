// Package matching decides whether an incoming source record refers to an
// entity the registry already knows. The cascade runs cheap, trustworthy
// signals before expensive, fallible ones; the first step that produces a
// hit wins and later steps never run.
package matching

import (
	"context"
	"regexp"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Match steps in cascade order.
const (
	StepSourceRecord = "source_record"
	StepExactName    = "exact_name"
	StepEmail        = "email"
	StepFuzzyName    = "fuzzy_name"
	StepSlugPrefix   = "slug_prefix"
	StepBaseName     = "base_name"
)

// slugSuffixRe matches the numeric or short trailing token a source-side
// duplicate appends to a slug ("acme-2", "acme-v2").
var slugSuffixRe = regexp.MustCompile(`-([0-9]+|[a-z0-9]{1,2})$`)

// Candidate is the identity extracted from one incoming source record.
type Candidate struct {
	SourceRecordID string
	Name           string
	ContactEmail   string
}

// Match reports which entity won and through which step.
type Match struct {
	Tenant *models.TenantEntity
	Step   string
	Score  float64
}

// Resolver runs the match cascade. It is pure: every decision is made from
// the candidate and the entity list it is handed, never from storage.
type Resolver struct {
	threshold float64
	scorer    *Scorer
	logger    ectologger.Logger
}

// NewResolver creates a resolver accepting fuzzy scores at or above threshold
func NewResolver(threshold float64, logger ectologger.Logger) *Resolver {
	return &Resolver{
		threshold: threshold,
		scorer:    NewScorer(),
		logger:    logger,
	}
}

// Resolve returns the existing entity the candidate refers to, or nil when
// the candidate is genuinely new. The entities slice must be ordered oldest
// first: every step resolves ties in favor of the earliest row.
func (r *Resolver) Resolve(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.Resolve")
	defer span.End()

	steps := []func(context.Context, Candidate, []models.TenantEntity) *Match{
		r.bySourceRecord,
		r.byExactName,
		r.byEmail,
		r.byFuzzyName,
		r.bySlugPrefix,
		r.byBaseName,
	}

	for _, step := range steps {
		if match := step(ctx, candidate, entities); match != nil {
			metrics.RecordMatchDecision(match.Step)
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"source_record_id": candidate.SourceRecordID,
				"tenant_id":        match.Tenant.ID,
				"step":             match.Step,
				"score":            match.Score,
			}).Debug("matched candidate to existing tenant")
			return match
		}
	}

	metrics.RecordMatchDecision("no_match")
	return nil
}

func (r *Resolver) bySourceRecord(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	if candidate.SourceRecordID == "" {
		return nil
	}

	var hits []*models.TenantEntity
	for i := range entities {
		if entities[i].SourceRef() == candidate.SourceRecordID {
			hits = append(hits, &entities[i])
		}
	}
	if len(hits) == 0 {
		return nil
	}
	if len(hits) > 1 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"source_record_id": candidate.SourceRecordID,
			"tenant_count":     len(hits),
		}).Warn("multiple tenants reference the same source record, using the oldest")
	}

	return &Match{Tenant: hits[0], Step: StepSourceRecord, Score: 1.0}
}

func (r *Resolver) byExactName(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	name := normalizers.NormalizeName(candidate.Name)
	if name == "" {
		return nil
	}

	for i := range entities {
		if normalizers.NormalizeName(entities[i].Name) == name {
			return &Match{Tenant: &entities[i], Step: StepExactName, Score: 1.0}
		}
	}
	return nil
}

func (r *Resolver) byEmail(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	email := normalizers.NormalizeEmail(candidate.ContactEmail)
	if email == "" {
		return nil
	}

	for i := range entities {
		if entities[i].ContactEmail == nil {
			continue
		}
		if normalizers.NormalizeEmail(*entities[i].ContactEmail) == email {
			return &Match{Tenant: &entities[i], Step: StepEmail, Score: 1.0}
		}
	}
	return nil
}

func (r *Resolver) byFuzzyName(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	return r.fuzzy(candidate.Name, entities, StepFuzzyName, func(name string) string { return name })
}

// byBaseName re-runs the fuzzy comparison with trailing qualifiers stripped
// from both sides, catching "Acme Corp 2" against "Acme Corp".
func (r *Resolver) byBaseName(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	return r.fuzzy(normalizers.StripTrailingQualifiers(candidate.Name), entities, StepBaseName, normalizers.StripTrailingQualifiers)
}

// fuzzy scores the candidate name against every entity sharing at least one
// significant word. The word filter is the pre-selection index keeping the
// comparison off the full registry.
func (r *Resolver) fuzzy(candidateName string, entities []models.TenantEntity, step string, transform func(string) string) *Match {
	words := normalizers.SignificantWords(candidateName)
	if len(words) == 0 {
		return nil
	}

	var best *models.TenantEntity
	bestScore := 0.0
	for i := range entities {
		name := transform(entities[i].Name)
		if !sharesSignificantWord(words, name) {
			continue
		}
		score := r.scorer.NameSimilarity(candidateName, name)
		if score > bestScore {
			best = &entities[i]
			bestScore = score
		}
	}

	if best == nil || bestScore < r.threshold {
		return nil
	}
	return &Match{Tenant: best, Step: step, Score: bestScore}
}

func (r *Resolver) bySlugPrefix(ctx context.Context, candidate Candidate, entities []models.TenantEntity) *Match {
	slug := normalizers.Slugify(candidate.Name)
	if slug == "" {
		return nil
	}

	for i := range entities {
		existing := entities[i].Slug
		if existing == slug || trimSlugSuffix(existing) == slug || existing == trimSlugSuffix(slug) {
			return &Match{Tenant: &entities[i], Step: StepSlugPrefix, Score: 1.0}
		}
	}
	return nil
}

func sharesSignificantWord(words []string, name string) bool {
	lower := strings.ToLower(name)
	for _, word := range words {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func trimSlugSuffix(slug string) string {
	trimmed := slugSuffixRe.ReplaceAllString(slug, "")
	if trimmed == "" {
		return slug
	}
	return trimmed
}
