package sync

import "time"

// EventType classifies sync lifecycle events surfaced to the UI
type EventType string

const (
	EventMutationQueued   EventType = "mutation_queued"
	EventMutationSettled  EventType = "mutation_settled"
	EventMutationRetrying EventType = "mutation_retrying"
	EventMutationFailed   EventType = "mutation_failed"
	EventConflictRebased  EventType = "conflict_rebased"
	EventPullApplied      EventType = "pull_applied"
	EventConnectivity     EventType = "connectivity"
)

// Event is one sync lifecycle notification
type Event struct {
	Type       EventType `json:"type"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	MutationID string    `json:"mutation_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// EventSink receives sync events; the websocket hub implements this to push
// them to connected UI clients. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

// NopSink discards events
type NopSink struct{}

func (NopSink) Publish(Event) {}
