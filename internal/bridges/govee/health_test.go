package govee

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealthSource struct {
	lights, connected int
	stats             BridgeStatistics
}

func (f fakeHealthSource) HealthCounts() (int, int, BridgeStatistics) {
	return f.lights, f.connected, f.stats
}

func lastHealth(t *testing.T, pub *fakePublisher, topic string) HealthMessage {
	t.Helper()
	msgs := pub.on(topic)
	require.NotEmpty(t, msgs)

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].payload, &msg))
	assert.True(t, msgs[len(msgs)-1].retained)
	return msg
}

func TestHealthReporter_Status(t *testing.T) {
	topics := NewTopics("", 1)
	tests := []struct {
		name      string
		connected bool
		source    fakeHealthSource
		want      HealthStatus
		reason    string
	}{
		{"healthy", true, fakeHealthSource{lights: 2, connected: 1}, HealthHealthy, ""},
		{"no lights yet", true, fakeHealthSource{}, HealthHealthy, ""},
		{"all lights down", true, fakeHealthSource{lights: 2}, HealthDegraded, "no lights connected"},
		{"mqtt down", false, fakeHealthSource{lights: 1, connected: 1}, HealthDegraded, "MQTT disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newFakePublisher()
			pub.setConnected(tt.connected)
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "ble-bridge-01",
				Version:   "test",
				Topics:    topics,
				Publisher: pub,
				Source:    tt.source,
			})

			require.NoError(t, h.PublishNow())
			msg := lastHealth(t, pub, topics.Health())
			assert.Equal(t, tt.want, msg.Status)
			assert.Equal(t, tt.reason, msg.Reason)
			assert.Equal(t, "ble-bridge-01", msg.Bridge)
			assert.Equal(t, tt.source.lights, msg.Lights)
			require.NotNil(t, msg.Statistics)
		})
	}
}

func TestHealthReporter_Lifecycle(t *testing.T) {
	pub := newFakePublisher()
	topics := NewTopics("", 1)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "ble-bridge-01",
		Interval:  10 * time.Millisecond,
		Topics:    topics,
		Publisher: pub,
		Source:    fakeHealthSource{lights: 1, connected: 1, stats: BridgeStatistics{FramesSent: 7}},
	})

	require.NoError(t, h.PublishStarting())
	assert.Equal(t, HealthStarting, lastHealth(t, pub, topics.Health()).Status)

	h.Start(context.Background())
	require.Eventually(t, func() bool { return len(pub.on(topics.Health())) >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()

	msg := lastHealth(t, pub, topics.Health())
	assert.Equal(t, HealthStopping, msg.Status)
	assert.Equal(t, uint64(7), msg.Statistics.FramesSent)
}
