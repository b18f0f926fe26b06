package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Handlers subscribe by type.
const (
	// Ledger events
	EventPointsAwarded  EventType = "points.awarded"
	EventPointsAdjusted EventType = "points.adjusted"

	// Question lifecycle events
	EventQuestionCreated          EventType = "question.created"
	EventQuestionEdited           EventType = "question.edited"
	EventQuestionValidated        EventType = "question.validated"
	EventValidationResponded      EventType = "question.validation_responded"
	EventQuestionTeacherValidated EventType = "question.teacher_validated"

	// Assignment events
	EventAssignmentIssued EventType = "assignment.issued"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted when a new transaction is appended to the ledger.
// The aggregate is the student.
type PointsAwardedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	Category      string `json:"category"`
	Points        int    `json:"points"`
	ModuleID      string `json:"module_id,omitempty"`
	Automatic     bool   `json:"automatic"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": e.TransactionID,
		"category":       e.Category,
		"points":         e.Points,
		"module_id":      e.ModuleID,
		"automatic":      e.Automatic,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(studentID, transactionID, category string, points int, moduleID string, automatic bool) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:     NewBaseEvent(EventPointsAwarded, studentID),
		TransactionID: transactionID,
		Category:      category,
		Points:        points,
		ModuleID:      moduleID,
		Automatic:     automatic,
	}
}

// PointsAdjustedEvent is emitted when an existing transaction's points change.
type PointsAdjustedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	OldPoints     int    `json:"old_points"`
	NewPoints     int    `json:"new_points"`
	AdjustedBy    string `json:"adjusted_by"`
}

// Payload implements Event interface.
func (e PointsAdjustedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": e.TransactionID,
		"old_points":     e.OldPoints,
		"new_points":     e.NewPoints,
		"adjusted_by":    e.AdjustedBy,
	}
}

// Delta returns the applied change.
func (e PointsAdjustedEvent) Delta() int {
	return e.NewPoints - e.OldPoints
}

// NewPointsAdjustedEvent creates a new PointsAdjustedEvent.
func NewPointsAdjustedEvent(studentID, transactionID string, oldPoints, newPoints int, adjustedBy string) PointsAdjustedEvent {
	return PointsAdjustedEvent{
		BaseEvent:     NewBaseEvent(EventPointsAdjusted, studentID),
		TransactionID: transactionID,
		OldPoints:     oldPoints,
		NewPoints:     newPoints,
		AdjustedBy:    adjustedBy,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Question Events
// ═══════════════════════════════════════════════════════════════════════════

// QuestionEvent is emitted on every lifecycle transition of a question.
// The aggregate is the question; ActorID is who triggered it.
type QuestionEvent struct {
	BaseEvent
	ModuleID string `json:"module_id"`
	ActorID  string `json:"actor_id"`
	Outcome  *bool  `json:"outcome,omitempty"`
}

// Payload implements Event interface.
func (e QuestionEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"module_id": e.ModuleID,
		"actor_id":  e.ActorID,
	}
	if e.Outcome != nil {
		p["outcome"] = *e.Outcome
	}
	return p
}

// NewQuestionEvent creates a new QuestionEvent of the given type.
func NewQuestionEvent(eventType EventType, questionID, moduleID, actorID string, outcome *bool) QuestionEvent {
	return QuestionEvent{
		BaseEvent: NewBaseEvent(eventType, questionID),
		ModuleID:  moduleID,
		ActorID:   actorID,
		Outcome:   outcome,
	}
}

// AssignmentIssuedEvent is emitted when a validation assignment is persisted.
type AssignmentIssuedEvent struct {
	BaseEvent
	ModuleID        string   `json:"module_id"`
	QuestionIDs     []string `json:"question_ids"`
	AutomaticPoints int      `json:"automatic_points"`
}

// Payload implements Event interface.
func (e AssignmentIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"module_id":        e.ModuleID,
		"question_ids":     e.QuestionIDs,
		"automatic_points": e.AutomaticPoints,
	}
}

// NewAssignmentIssuedEvent creates a new AssignmentIssuedEvent.
func NewAssignmentIssuedEvent(studentID, moduleID string, questionIDs []string, automaticPoints int) AssignmentIssuedEvent {
	return AssignmentIssuedEvent{
		BaseEvent:       NewBaseEvent(EventAssignmentIssued, studentID),
		ModuleID:        moduleID,
		QuestionIDs:     questionIDs,
		AutomaticPoints: automaticPoints,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event. Useful for tests and tools that do not
// need side effects.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
