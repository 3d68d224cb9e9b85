package govee

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// MQTT message types exchanged with home automation controllers.
// The command and state documents follow the Home Assistant MQTT JSON light schema.

// Power values of the "state" field.
const (
	PowerOn  = "ON"
	PowerOff = "OFF"
)

// RGB is the "color" object of commands and status documents.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Patch is a partial desired-state command. Absent fields are left unchanged.
// Topic: <prefix>/zone<Z>/light/<device>/command
type Patch struct {
	// State is "ON" or "OFF".
	State *string `json:"state,omitempty"`

	// Brightness is 0-255.
	Brightness *float64 `json:"brightness,omitempty"`

	Color *RGB `json:"color,omitempty"`

	// ColorTemp is in mired.
	ColorTemp *int `json:"color_temp,omitempty"`

	// Segment selects the strip segment on segment-capable lights.
	Segment *int `json:"segment,omitempty"`
}

// ParsePatch decodes a command payload.
func ParsePatch(payload []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(payload, &p); err != nil {
		return Patch{}, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	return p, nil
}

// IsEmpty reports whether the patch carries no fields.
func (p Patch) IsEmpty() bool {
	return p.State == nil && p.Brightness == nil && p.Color == nil && p.ColorTemp == nil && p.Segment == nil
}

// StatusMessage is published after a state change has reached the light.
// Topic: <prefix>/zone<Z>/light/<device>/state
// QoS: configured, Retained: Yes
type StatusMessage struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
	Color      RGB    `json:"color"`

	// ColorTemp is present only in color temperature mode, in mired.
	ColorTemp *int `json:"color_temp,omitempty"`
}

// NewStatusMessage renders a desired state as a status document. In color
// temperature mode the color is the approximate display color of the
// temperature.
func NewStatusMessage(st State) StatusMessage {
	msg := StatusMessage{
		State:      PowerOff,
		Brightness: int(math.Round(st.Brightness * 255)),
		Color:      RGB{R: int(st.Color.R), G: int(st.Color.G), B: int(st.Color.B)},
	}
	if st.Power {
		msg.State = PowerOn
	}

	if st.Color.Mode == ColorModeTemperature {
		r, g, b := KelvinToRGB(st.Color.Kelvin)
		msg.Color = RGB{R: int(r), G: int(g), B: int(b)}
		mired := KelvinToMired(st.Color.Kelvin)
		msg.ColorTemp = &mired
	}

	return msg
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: <prefix>/zone<Z>/bridge/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Lights is the number of sessions; Connected counts those with a live link.
	Lights    int `json:"lights"`
	Connected int `json:"connected"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics aggregates the session counters.
type BridgeStatistics struct {
	FramesSent      uint64 `json:"frames_sent"`
	KeepAlivesSent  uint64 `json:"keep_alives_sent"`
	WriteErrors     uint64 `json:"write_errors"`
	ConnectFailures uint64 `json:"connect_failures"`
	StatusDropped   uint64 `json:"status_dropped"`
}

// NewLWTMessage creates the Last Will and Testament published by the broker
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topics builds the topic names for one prefix and zone.
type Topics struct {
	Prefix string
	Zone   int
}

// NewTopics returns the topic builder. An empty prefix selects "goveeblemqtt".
func NewTopics(prefix string, zone int) Topics {
	if prefix == "" {
		prefix = "goveeblemqtt"
	}
	return Topics{Prefix: prefix, Zone: zone}
}

func (t Topics) lightBase() string {
	return fmt.Sprintf("%s/zone%d/light/", t.Prefix, t.Zone)
}

// Command returns the command topic for a light.
// Example: goveeblemqtt/zone1/light/A4C138001122/command
func (t Topics) Command(topicID string) string {
	return t.lightBase() + topicID + "/command"
}

// State returns the status topic for a light.
// Example: goveeblemqtt/zone1/light/A4C138001122/state
func (t Topics) State(topicID string) string {
	return t.lightBase() + topicID + "/state"
}

// CommandSubscribe returns the subscription pattern for every light's commands.
// Example: goveeblemqtt/zone1/light/+/command
func (t Topics) CommandSubscribe() string {
	return t.lightBase() + "+/command"
}

// Health returns the bridge health topic.
// Example: goveeblemqtt/zone1/bridge/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/zone%d/bridge/health", t.Prefix, t.Zone)
}

// ParseCommand extracts the device id segment from a command topic.
func (t Topics) ParseCommand(topic string) (string, error) {
	base := t.lightBase()
	if !strings.HasPrefix(topic, base) || !strings.HasSuffix(topic, "/command") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	id := topic[len(base) : len(topic)-len("/command")]
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return id, nil
}

// TopicDeviceID removes separators from a device id for use in topics,
// preserving the caller's letter case.
func TopicDeviceID(id string) string {
	return strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(id))
}
