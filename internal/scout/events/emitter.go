package events

// Emitter is the event logging backend. Implementations are
// fire-and-forget and non-blocking; write errors are logged internally,
// never returned to the caller.
type Emitter interface {
	Emit(event *RequestEvent)
	Close() error
}

// NoopEmitter is used when event logging is disabled.
type NoopEmitter struct{}

func (n *NoopEmitter) Emit(event *RequestEvent) {}

func (n *NoopEmitter) Close() error { return nil }
