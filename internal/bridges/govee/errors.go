package govee

import "errors"

// Domain errors for the Govee BLE bridge package.
var (
	// ErrInvalidArgument is returned by a setter when the value is out of
	// range. The desired state is left untouched.
	ErrInvalidArgument = errors.New("govee: invalid argument")

	// ErrInvalidDeviceID is returned when a device identifier is not a
	// 6-byte hardware address in any accepted notation.
	ErrInvalidDeviceID = errors.New("govee: invalid device id")

	// ErrPayloadTooLarge is returned when a frame payload exceeds 17 bytes.
	ErrPayloadTooLarge = errors.New("govee: payload too large")

	// ErrInvalidFrame is returned when raw bytes do not form a valid frame.
	ErrInvalidFrame = errors.New("govee: invalid frame")

	// ErrConnectFailed is returned when the radio link cannot be established.
	ErrConnectFailed = errors.New("govee: connect failed")

	// ErrWriteFailed is returned when a frame write fails mid-link.
	ErrWriteFailed = errors.New("govee: write failed")

	// ErrNotConnected is returned when a write is attempted on a link that
	// has already dropped.
	ErrNotConnected = errors.New("govee: not connected")

	// ErrSessionClosed is returned by operations on a closed session or
	// registry.
	ErrSessionClosed = errors.New("govee: session closed")

	// ErrUnknownDevice is returned by lookups for a device without a session.
	ErrUnknownDevice = errors.New("govee: unknown device")

	// ErrInvalidTopic is returned when a command topic does not match the
	// bridge's topic layout.
	ErrInvalidTopic = errors.New("govee: invalid topic")

	// ErrInvalidPatch is returned when a command payload cannot be decoded.
	ErrInvalidPatch = errors.New("govee: invalid command payload")
)
