package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// BatchID is the associated allocation batch, if applicable.
	BatchID string `json:"batch_id,omitempty"`

	// CodeID is the associated code, if applicable.
	CodeID string `json:"code_id,omitempty"`

	// ResourceName is the associated external resource name, if applicable.
	ResourceName string `json:"resource_name,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeAllocationCompleted    = "allocation.completed"
	EventTypeDeletionInitiated      = "deletion.initiated"
	EventTypeReconcilePassCompleted = "reconcile.pass_completed"
	EventTypeCodeReset              = "code.reset"
	EventTypeTriggerToggled         = "trigger.toggled"
	EventTypeError                  = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
// The zero value is a disabled publisher that drops all events.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishAllocationCompleted publishes an allocation batch completion event.
func (ep *EventPublisher) PublishAllocationCompleted(batchID string, succeeded, failed int) error {
	level := EventLevelInfo
	if failed > 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeAllocationCompleted,
		Source:  "allocator",
		BatchID: batchID,
		Message: fmt.Sprintf("Allocation batch %s completed: %d succeeded, %d failed", batchID, succeeded, failed),
		Level:   level,
		Data: map[string]interface{}{
			"succeeded": succeeded,
			"failed":    failed,
		},
	})
}

// PublishDeletionInitiated publishes a deletion initiation event.
func (ep *EventPublisher) PublishDeletionInitiated(codeID, resourceName string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeletionInitiated,
		Source:       "deleter",
		CodeID:       codeID,
		ResourceName: resourceName,
		Message:      fmt.Sprintf("Deletion initiated for code %s (resource %s)", codeID, resourceName),
		Level:        EventLevelInfo,
	})
}

// PublishReconcilePassCompleted publishes a reconciliation pass completion event.
func (ep *EventPublisher) PublishReconcilePassCompleted(processed, succeeded, failed int) error {
	level := EventLevelInfo
	if failed > 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeReconcilePassCompleted,
		Source:  "reconciler",
		Message: fmt.Sprintf("Reconcile pass completed: %d processed, %d succeeded, %d failed", processed, succeeded, failed),
		Level:   level,
		Data: map[string]interface{}{
			"processed": processed,
			"succeeded": succeeded,
			"failed":    failed,
		},
	})
}

// PublishCodeReset publishes a code reset event.
func (ep *EventPublisher) PublishCodeReset(codeID, resourceName string) error {
	return ep.Publish(Event{
		Type:         EventTypeCodeReset,
		Source:       "reconciler",
		CodeID:       codeID,
		ResourceName: resourceName,
		Message:      fmt.Sprintf("Code %s reset to available (resource %s gone)", codeID, resourceName),
		Level:        EventLevelInfo,
	})
}

// PublishTriggerToggled publishes a trigger state change event.
func (ep *EventPublisher) PublishTriggerToggled(ruleName string, enabled bool) error {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return ep.Publish(Event{
		Type:    EventTypeTriggerToggled,
		Source:  "trigger",
		Message: fmt.Sprintf("Reconciliation trigger %s %s", ruleName, state),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"rule":    ruleName,
			"enabled": enabled,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Drained by the processEvents goroutine.
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Subscribers run in their own goroutine so a slow one
		// cannot block delivery.
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByBatchID creates a filter that only allows events for a specific allocation batch.
func FilterByBatchID(batchID string) EventFilter {
	return func(event Event) bool {
		return event.BatchID == batchID
	}
}

// FilterByCodeID creates a filter that only allows events for a specific code.
func FilterByCodeID(codeID string) EventFilter {
	return func(event Event) bool {
		return event.CodeID == codeID
	}
}
