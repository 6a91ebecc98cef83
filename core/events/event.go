package events

// Event is a committed ledger change, identified by its type name.
type Event interface {
	EventType() string
}

// Emitter receives events once the operation that produced them commits.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
