// Package room holds the in-memory state of a single audio room: which
// transports are connected and which of them have joined as participants.
//
// The two registries are keyed by the same client ID but have independent
// lifecycles and independent locks. Neither performs I/O while locked.
package room

// Handle is the server's view of one client transport.
type Handle interface {
	// IsOpen reports whether frames written now may still be delivered.
	IsOpen() bool
	// WriteText queues a single text frame.
	WriteText(data []byte) error
	// Close queues a close frame behind any pending writes and tears the
	// transport down.
	Close(code int, reason string) error
}

// Entry pairs a client ID with its transport.
type Entry struct {
	ID     string
	Handle Handle
}
