package repo

// SendFunc writes one event to the push transport
type SendFunc func(event string, data any) error

// Transport is the push connection as seen by the use cases
type Transport interface {
	// Emit sends an event; it fails with a *domain.TransportError unless the
	// connection is authenticated
	Emit(event string, data any) error

	// IsAuthenticated reports whether Emit can currently succeed
	IsAuthenticated() bool

	// OnAuthenticated registers a hook run on every authenticated transition,
	// before any other sender can use the connection. The hook must only use
	// the provided send function.
	OnAuthenticated(hook func(send SendFunc)) (remove func())
}
