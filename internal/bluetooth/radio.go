package bluetooth

import (
	"fmt"

	"github.com/google/uuid"
)

// radio is one local BLE adapter.
type radio interface {
	// Enable powers the adapter up. Called once before the first Connect.
	Enable() error

	// Connect opens a GATT connection to address (AA:BB:CC:DD:EE:FF).
	// It blocks until the connection is up or fails.
	Connect(address string) (peripheral, error)

	// SetConnectHandler registers the callback for adapter-level connect
	// and disconnect events.
	SetConnectHandler(fn func(address string, connected bool))
}

// peripheral is a connected remote device.
type peripheral interface {
	// ControlCharacteristic discovers the characteristic frames are written to.
	ControlCharacteristic(id uuid.UUID) (characteristic, error)

	Disconnect() error
}

// characteristic is a writable GATT characteristic.
type characteristic interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// radioFactory opens the adapter named by hint.
type radioFactory func(hint string) (radio, error)

// parseCharacteristic parses a 128-bit characteristic UUID.
func parseCharacteristic(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %q: %w", ErrInvalidUUID, s, err)
	}
	return id, nil
}
