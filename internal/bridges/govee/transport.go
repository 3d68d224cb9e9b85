package govee

import (
	"context"
	"fmt"
	"strings"
)

// ControlCharacteristicUUID is the GATT characteristic every frame is written to.
const ControlCharacteristicUUID = "00010203-0405-0607-0809-0a0b0c0d2b11"

// Transport opens radio links to lights. Each session owns the links it opens.
type Transport interface {
	// Connect establishes a link to the device at address (canonical form).
	// adapter is an optional hint naming the local radio to use.
	Connect(ctx context.Context, address, adapter string) (Link, error)
}

// Link is one established connection to a light.
type Link interface {
	// IsConnected reports whether the link is still up.
	IsConnected() bool

	// WriteFrame writes a frame to the control characteristic.
	WriteFrame(ctx context.Context, f Frame) error

	// Disconnect tears the link down. It is safe to call more than once.
	Disconnect() error
}

// Logger is the structured logging interface used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NormalizeDeviceID converts a hardware address in any accepted notation
// ("aabbccddeeff", "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff") into the
// canonical upper-case colon-separated form used as the registry key.
func NormalizeDeviceID(id string) (string, error) {
	raw := StripDeviceID(id)
	if len(raw) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	for _, c := range raw {
		if !isHexDigit(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
		}
	}

	var b strings.Builder
	b.Grow(17)
	for i := 0; i < len(raw); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(raw[i : i+2])
	}
	return b.String(), nil
}

// StripDeviceID removes separators and upper-cases the address. The result
// is the form used in topics.
func StripDeviceID(id string) string {
	return strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(id)))
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
