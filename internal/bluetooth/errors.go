package bluetooth

import "errors"

// Sentinel errors for the BLE transport.
var (
	// ErrUnsupportedPlatform is returned when no BLE stack is available.
	ErrUnsupportedPlatform = errors.New("bluetooth: unsupported platform")

	// ErrCharacteristicNotFound is returned when the connected device does
	// not expose the control characteristic.
	ErrCharacteristicNotFound = errors.New("bluetooth: control characteristic not found")

	// ErrInvalidUUID is returned when the control characteristic UUID does
	// not parse.
	ErrInvalidUUID = errors.New("bluetooth: invalid characteristic uuid")
)
