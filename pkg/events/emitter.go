// Package events handles event emission for tenant lifecycle changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Emitter publishes tenant lifecycle events. Emission is best-effort: a
// broker failure is logged and never fails the registry mutation that
// caused it.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter. A nil producer disables emission.
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitTenantCreated emits a tenant.created event
func (e *Emitter) EmitTenantCreated(ctx context.Context, tenant *models.TenantEntity, matchStep string) {
	e.emit(ctx, kafka.EventTenantCreated, tenant, matchStep)
}

// EmitTenantUpdated emits a tenant.updated event
func (e *Emitter) EmitTenantUpdated(ctx context.Context, tenant *models.TenantEntity, matchStep string) {
	e.emit(ctx, kafka.EventTenantUpdated, tenant, matchStep)
}

// EmitTenantDeleted emits a tenant.deleted event
func (e *Emitter) EmitTenantDeleted(ctx context.Context, tenant *models.TenantEntity) {
	e.emit(ctx, kafka.EventTenantDeleted, tenant, "")
}

func (e *Emitter) emit(ctx context.Context, eventType string, tenant *models.TenantEntity, matchStep string) {
	if e == nil || e.producer == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	event := &kafka.TenantEvent{
		EventType:      eventType,
		TenantID:       tenant.ID.String(),
		Slug:           tenant.Slug,
		Name:           tenant.Name,
		SourceRecordID: tenant.SourceRef(),
		MatchStep:      matchStep,
		SyncRunID:      appctx.GetSyncRunID(ctx),
	}

	if err := e.producer.PublishTenantEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"tenant_id":  event.TenantID,
		}).Errorf("Failed to emit %s event", eventType)
	}
}
