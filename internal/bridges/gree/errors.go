package gree

import "errors"

// Domain-specific errors for the Gree bridge.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCrypto is returned when encryption or decryption fails, including
	// decrypts with a wrong key that produce garbage instead of JSON.
	ErrCrypto = errors.New("gree: crypto failure")

	// ErrProtocol is returned when a datagram or pack violates the wire
	// format: malformed JSON, missing type discriminator, unknown payload
	// type, or mismatched cols/dat lengths.
	ErrProtocol = errors.New("gree: protocol violation")

	// ErrDeviceUnreachable is returned when a device does not answer within
	// the configured timeout across all retry attempts.
	ErrDeviceUnreachable = errors.New("gree: device unreachable")

	// ErrNotBound is returned when a status or command exchange is attempted
	// against a device that has not completed the bind handshake.
	ErrNotBound = errors.New("gree: device not bound")

	// ErrUnknownDevice is returned when an operation references a device ID
	// the registry has never seen.
	ErrUnknownDevice = errors.New("gree: unknown device")

	// ErrBindFailed is returned when the bind handshake completes with an
	// unexpected response or the device rejects the bind.
	ErrBindFailed = errors.New("gree: bind failed")

	// ErrQueueFull is returned when the command queue cannot accept more work.
	ErrQueueFull = errors.New("gree: command queue full")

	// ErrDispatcherStopped is returned when submitting to a stopped dispatcher.
	ErrDispatcherStopped = errors.New("gree: dispatcher stopped")
)
