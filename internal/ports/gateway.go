package ports

// Gateway is a long-running mail listener
type Gateway interface {
	// Start starts accepting connections in the background
	Start() error

	// Stop closes the listener and open sessions
	Stop() error
}
