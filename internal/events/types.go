// Package events defines the event types carried by the in-process event bus.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// State events
	EventStateChanged EventType = "state_changed"
	EventRulesChanged EventType = "rules_changed"

	// Update notifier events
	EventUpdateCheckRequested EventType = "update_check_requested"
	EventUpdateAvailable      EventType = "update_available"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// StateChangedPayload describes which part of the resident server state changed.
type StateChangedPayload struct {
	Section string `json:"section"` // "info", "players" or "rules"
	Source  string `json:"source"`
}

// RulesChangedPayload is emitted when custom rules are written or deleted.
type RulesChangedPayload struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// UpdateAvailablePayload carries the result of a successful update check.
type UpdateAvailablePayload struct {
	Current string `json:"current"`
	Latest  string `json:"latest"`
	URL     string `json:"url,omitempty"`
}

// NotifyMQTTPayload is published as-is to the events topic.
type NotifyMQTTPayload struct {
	Topic string                 `json:"-"`
	Data  map[string]interface{} `json:"data"`
}
