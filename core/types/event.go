package types

// Event is a structured state-change record emitted by native modules and
// surfaced to downstream consumers (indexers, RPC subscribers). Events are the
// only audit trail for records that are removed from state on completion.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute or the empty string when unset.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
