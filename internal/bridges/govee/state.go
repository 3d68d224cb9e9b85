package govee

import (
	"strings"
	"time"
)

// State is the desired state of one light.
type State struct {
	Power      bool
	Brightness float64
	Color      Color
}

// DefaultState is the desired state of a light that has never been commanded:
// off, full brightness, white.
func DefaultState() State {
	return State{
		Power:      false,
		Brightness: 1,
		Color:      Color{Mode: ColorModeRGB, R: 0xFF, G: 0xFF, B: 0xFF, Kelvin: MinKelvin},
	}
}

// Field is one independently transmitted group of the desired state.
// The numeric order is the transmission priority.
type Field int

const (
	FieldPower Field = iota
	FieldBrightness
	FieldColor

	numFields = 3
)

// String returns the field name.
func (f Field) String() string {
	switch f {
	case FieldPower:
		return "power"
	case FieldBrightness:
		return "brightness"
	case FieldColor:
		return "color"
	default:
		return "unknown"
	}
}

// Fields is a set of Field values.
type Fields uint8

// Has reports whether f is in the set.
func (s Fields) Has(f Field) bool {
	return s&(1<<uint(f)) != 0
}

// With returns the set with f added.
func (s Fields) With(f Field) Fields {
	return s | 1<<uint(f)
}

// List returns the field names in priority order.
func (s Fields) List() []string {
	var out []string
	for f := FieldPower; f < numFields; f++ {
		if s.Has(f) {
			out = append(out, f.String())
		}
	}
	return out
}

// String joins the field names with ",".
func (s Fields) String() string {
	return strings.Join(s.List(), ",")
}

// LinkState is the connection state of a session.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkClosed
)

// String returns the state name.
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is the notification a session emits after a state change has been
// written to the light.
type Status struct {
	// DeviceID is the canonical address.
	DeviceID string

	// TopicID is the address as it appeared in the first command topic.
	TopicID string

	// Changed is the field whose frame was just confirmed.
	Changed Field

	State     State
	Timestamp time.Time
}

// Notifier receives state-changed notifications. Implementations must not
// block; they are called from the session loop.
type Notifier interface {
	Notify(Status)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Status)

// Notify implements Notifier.
func (f NotifierFunc) Notify(s Status) { f(s) }

// LinkObserver receives link and write events for telemetry.
// Implementations must not block.
type LinkObserver interface {
	LinkStateChanged(deviceID string, state LinkState)
	FrameWritten(deviceID string, field Field, keepAlive bool, err error)
}

// SessionStats are cumulative counters for one session.
type SessionStats struct {
	FramesSent      uint64    `json:"frames_sent"`
	KeepAlivesSent  uint64    `json:"keep_alives_sent"`
	WriteErrors     uint64    `json:"write_errors"`
	ConnectFailures uint64    `json:"connect_failures"`
	Connects        uint64    `json:"connects"`
	LastSent        time.Time `json:"last_sent"`
}

// Snapshot is a point-in-time copy of a session for the API and health reports.
type Snapshot struct {
	DeviceID string
	TopicID  string
	Model    string
	Profile  string
	State    State
	Dirty    Fields
	Link     LinkState
	Stats    SessionStats
}
