package mixer

import "errors"

// Sentinel errors returned by this package. Callers can match them with
// errors.Is after wrapping.
var (
	// ErrInvalidFormat indicates a stream format outside supported limits.
	ErrInvalidFormat = errors.New("mixer: invalid format")

	// ErrInvalidConfig indicates an unusable MixThread configuration.
	ErrInvalidConfig = errors.New("mixer: invalid config")

	// ErrQueueClosed indicates a push to a PacketQueue after Close.
	ErrQueueClosed = errors.New("mixer: packet queue closed")
)
