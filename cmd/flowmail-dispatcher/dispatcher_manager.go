package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/gestium/flowmail/pkg/cache"
	"github.com/gestium/flowmail/pkg/engine"
	"github.com/gestium/flowmail/pkg/eventbus"
	"github.com/gestium/flowmail/pkg/events"
	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/tickets"
)

// DispatcherManager wires the event bus to the dispatch engine: every
// task event becomes one dispatch cycle, and configuration change
// events invalidate the workflow cache.
type DispatcherManager struct {
	dispatcher    *engine.Dispatcher
	workflowCache *cache.WorkflowCache
	eventBus      eventbus.EventBus
	logger        *slog.Logger
}

func NewDispatcherManager(
	source engine.WorkflowSource,
	workflowCache *cache.WorkflowCache,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	ticketsClient *tickets.Client,
	logger *slog.Logger,
) *DispatcherManager {
	dispatcher := engine.NewDispatcher(
		source,
		p.JobRepository(),
		ticketsClient,
		ticketsClient,
		ticketsClient,
		logger,
	)

	return &DispatcherManager{
		dispatcher:    dispatcher,
		workflowCache: workflowCache,
		eventBus:      eventBus,
		logger:        logger,
	}
}

// WithTracer enables span emission for dispatch cycles.
func (m *DispatcherManager) WithTracer(tracer trace.Tracer) *DispatcherManager {
	m.dispatcher.WithTracer(tracer)

	return m
}

// Start registers the event handlers and blocks until the context is
// cancelled.
func (m *DispatcherManager) Start(ctx context.Context) error {
	for _, eventType := range []events.EventType{
		events.TaskCreatedEvent,
		events.TaskUpdatedEvent,
		events.TaskAssignedEvent,
		events.CommentCreatedEvent,
	} {
		err := m.eventBus.Handle(eventType, m.handleTaskEvent)
		if err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	err := m.eventBus.Handle(events.WorkflowConfigChangedEvent, m.handleConfigChange)
	if err != nil {
		return fmt.Errorf("failed to register config change handler: %w", err)
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	m.logger.InfoContext(ctx, "Dispatcher started")

	<-ctx.Done()

	m.logger.InfoContext(ctx, "Dispatcher stopped")

	return nil
}

func (m *DispatcherManager) handleTaskEvent(ctx context.Context, event any) error {
	var domainEvent *models.DomainEvent

	switch e := event.(type) {
	case *events.TaskCreated:
		domainEvent = e.ToDomainEvent()
	case *events.TaskUpdated:
		domainEvent = e.ToDomainEvent()
	case *events.TaskAssigned:
		domainEvent = e.ToDomainEvent()
	case *events.CommentCreated:
		domainEvent = e.ToDomainEvent()
	default:
		m.logger.WarnContext(ctx, "Ignoring unexpected event payload", "type", fmt.Sprintf("%T", event))

		return nil
	}

	_, err := m.dispatcher.Dispatch(ctx, domainEvent)

	return err
}

func (m *DispatcherManager) handleConfigChange(ctx context.Context, event any) error {
	change, ok := event.(*events.WorkflowConfigChanged)
	if !ok {
		return nil
	}

	m.logger.InfoContext(ctx, "Workflow configuration changed",
		"workflow_id", change.WorkflowID, "trigger", string(change.Trigger), "change", change.Change)

	if m.workflowCache != nil {
		m.workflowCache.Invalidate(ctx, change.Trigger)
	}

	return nil
}
