package influxdb

import (
	"context"
	"math"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

// Measurement names written by Telemetry.
const (
	MeasurementLink       = "ble_link"
	MeasurementFrame      = "ble_frame"
	MeasurementLightState = "light_state"
)

// PointWriter queues points for writing. *Client satisfies it.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Telemetry turns bridge events into points. It implements
// govee.LinkObserver and govee.StatusSink.
type Telemetry struct {
	writer   PointWriter
	bridgeID string
	now      func() time.Time
}

// NewTelemetry creates a Telemetry tagging every point with bridgeID.
func NewTelemetry(writer PointWriter, bridgeID string) *Telemetry {
	return &Telemetry{
		writer:   writer,
		bridgeID: bridgeID,
		now:      time.Now,
	}
}

// LinkStateChanged implements govee.LinkObserver.
func (t *Telemetry) LinkStateChanged(deviceID string, state govee.LinkState) {
	t.writer.WritePoint(write.NewPoint(
		MeasurementLink,
		t.tags(deviceID),
		map[string]interface{}{
			"state":     state.String(),
			"connected": state == govee.LinkConnected,
		},
		t.now(),
	))
}

// FrameWritten implements govee.LinkObserver.
func (t *Telemetry) FrameWritten(deviceID string, field govee.Field, keepAlive bool, err error) {
	tags := t.tags(deviceID)
	tags["field"] = field.String()
	tags["kind"] = "command"
	if keepAlive {
		tags["kind"] = "keep_alive"
	}

	fields := map[string]interface{}{
		"ok": err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	t.writer.WritePoint(write.NewPoint(MeasurementFrame, tags, fields, t.now()))
}

// HandleStatus implements govee.StatusSink. Brightness is written on the
// 0-255 scale of the status document.
func (t *Telemetry) HandleStatus(_ context.Context, s govee.Status) error {
	st := s.State
	fields := map[string]interface{}{
		"power":      st.Power,
		"brightness": int(math.Round(st.Brightness * 255)),
		"color_mode": st.Color.Mode.String(),
		"changed":    s.Changed.String(),
	}
	if st.Color.Mode == govee.ColorModeTemperature {
		fields["kelvin"] = st.Color.Kelvin
	} else {
		fields["red"] = int(st.Color.R)
		fields["green"] = int(st.Color.G)
		fields["blue"] = int(st.Color.B)
	}

	at := s.Timestamp
	if at.IsZero() {
		at = t.now()
	}

	t.writer.WritePoint(write.NewPoint(MeasurementLightState, t.tags(s.DeviceID), fields, at))
	return nil
}

func (t *Telemetry) tags(deviceID string) map[string]string {
	return map[string]string{
		"bridge_id": t.bridgeID,
		"device_id": deviceID,
	}
}

var (
	_ govee.LinkObserver = (*Telemetry)(nil)
	_ govee.StatusSink   = (*Telemetry)(nil)
	_ PointWriter        = (*Client)(nil)
)
