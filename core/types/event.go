package types

// Event represents a typed event emitted while a position changes state.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent returns an event of the supplied type with an empty attribute set.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: make(map[string]string)}
}

// Set records an attribute and returns the event for chaining. Empty values
// are skipped so payloads stay compact.
func (e *Event) Set(key, value string) *Event {
	if e == nil || key == "" || value == "" {
		return e
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}
