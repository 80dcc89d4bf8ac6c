// Package bus fans server-side events out to in-process subscribers:
// the WebSocket hub, notification forwarders, and the usage digest.
package bus

// Event represents a server-side event to broadcast to subscribers.
type Event struct {
	Name    string      `json:"name"`              // protocol.Event* constant
	Project string      `json:"project,omitempty"` // owning project id, when the event has one
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the watcher, notifier, and digest to decouple from the
// concrete Bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
