package types

// Event represents a typed event emitted during dispute state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Clone returns a deep copy so subscribers cannot mutate a shared payload.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}
