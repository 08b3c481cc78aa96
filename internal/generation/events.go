package generation

// Event names published by the controller and service.
const (
	EventStarted   = "generation_started"
	EventStreaming = "generation_streaming"
	EventCompleted = "generation_completed"
	EventAborted   = "generation_aborted"
	EventFailed    = "generation_failed"
	// EventNotice carries a user-visible message in Fields["message"].
	EventNotice = "notice"
)

// Event represents a generation lifecycle event.
// Minimal and stable: name + generation ID and optional fields via key/values.
type Event struct {
	Name         string
	GenerationID string
	Fields       map[string]any
}

// EventPublisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
