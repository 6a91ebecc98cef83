package types

// Event is the canonical payload of a lending event. Attribute values are
// decimal strings for amounts and hex strings for accounts.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
