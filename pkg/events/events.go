// Package events defines the wire events exchanged between the ticket
// system, the dispatcher and the notification services.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/gestium/flowmail/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "flowmail.events"               // Task lifecycle events from the ticket system
const ConfigTopic = "flowmail.config.changes" // Workflow configuration changes from the API

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Task lifecycle events.
	TaskCreatedEvent    EventType = "task.created"
	TaskUpdatedEvent    EventType = "task.updated"
	TaskAssignedEvent   EventType = "task.assigned"
	CommentCreatedEvent EventType = "comment.created"

	// Configuration events.
	WorkflowConfigChangedEvent EventType = "workflow.config.changed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskEvent carries one task change through the bus. Provenance marks
// whether a user or the engine itself produced the change; automation
// events are dropped at the dispatcher boundary.
type TaskEvent struct {
	BaseEvent

	Task        models.Task          `json:"task"`
	Changes     []models.FieldChange `json:"changes,omitempty"`
	CommentText string               `json:"comment_text,omitempty"`
	Provenance  models.Provenance    `json:"provenance"`
}

type TaskCreated struct {
	TaskEvent
}

func (e TaskCreated) GetType() EventType {
	return TaskCreatedEvent
}

type TaskUpdated struct {
	TaskEvent
}

func (e TaskUpdated) GetType() EventType {
	return TaskUpdatedEvent
}

type TaskAssigned struct {
	TaskEvent
}

func (e TaskAssigned) GetType() EventType {
	return TaskAssignedEvent
}

type CommentCreated struct {
	TaskEvent
}

func (e CommentCreated) GetType() EventType {
	return CommentCreatedEvent
}

// WorkflowConfigChanged announces that a workflow was created, updated,
// deleted or toggled. Consumers use it to invalidate caches.
type WorkflowConfigChanged struct {
	BaseEvent

	WorkflowID string             `json:"workflow_id"`
	Trigger    models.TriggerKind `json:"trigger"`
	Change     string             `json:"change"`
}

func (e WorkflowConfigChanged) GetType() EventType {
	return WorkflowConfigChangedEvent
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// triggerKinds maps wire event types to dispatcher trigger kinds.
var triggerKinds = map[EventType]models.TriggerKind{
	TaskCreatedEvent:    models.TriggerTaskCreated,
	TaskUpdatedEvent:    models.TriggerTaskUpdated,
	TaskAssignedEvent:   models.TriggerTaskAssigned,
	CommentCreatedEvent: models.TriggerCommentCreated,
}

// ToDomainEvent converts a wire task event into the dispatcher's domain
// event form.
func (e *TaskEvent) ToDomainEvent() *models.DomainEvent {
	return &models.DomainEvent{
		ID:          e.ID,
		Trigger:     triggerKinds[e.Type],
		Task:        e.Task,
		Changes:     e.Changes,
		CommentText: e.CommentText,
		Provenance:  e.Provenance,
		OccurredAt:  e.Timestamp,
	}
}
