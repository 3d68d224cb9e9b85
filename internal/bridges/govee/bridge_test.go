package govee

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMQTT records subscriptions and lets tests inject messages.
type fakeMQTT struct {
	*fakePublisher

	mu       sync.Mutex
	handlers map[string]func(topic string, payload []byte)
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		fakePublisher: newFakePublisher(),
		handlers:      make(map[string]func(string, []byte)),
	}
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	m.handlers[topic] = handler
	m.mu.Unlock()
	return nil
}

func (m *fakeMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	delete(m.handlers, topic)
	m.mu.Unlock()
	return nil
}

func (m *fakeMQTT) deliver(pattern, topic string, payload []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		h(topic, payload)
	}
	return ok
}

func newTestBridge(t *testing.T, sim *SimTransport, mqtt *fakeMQTT, devices []DeviceSpec) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeOptions{
		BridgeID:   "ble-bridge-01",
		Version:    "test",
		Topics:     NewTopics("goveeblemqtt", 1),
		QoS:        1,
		MQTTClient: mqtt,
		Transport:  sim,
		Adapter:    "hci0",
		Timings:    fastTimings(),
		Devices:    devices,
	})
	require.NoError(t, err)
	return b
}

func TestNewBridge_Validation(t *testing.T) {
	_, err := NewBridge(BridgeOptions{BridgeID: "x", Transport: NewSimTransport()})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{BridgeID: "x", MQTTClient: newFakeMQTT()})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{MQTTClient: newFakeMQTT(), Transport: NewSimTransport()})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{
		BridgeID:   "x",
		MQTTClient: newFakeMQTT(),
		Transport:  NewSimTransport(),
		Devices:    []DeviceSpec{{ID: "bogus"}},
	})
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
}

func TestBridge_CommandToStatus(t *testing.T) {
	sim := NewSimTransport()
	mqtt := newFakeMQTT()
	b := newTestBridge(t, sim, mqtt, nil)

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	ok := mqtt.deliver("goveeblemqtt/zone1/light/+/command",
		"goveeblemqtt/zone1/light/a4c138001122/command",
		[]byte(`{"state":"ON","color_temp":250}`))
	require.True(t, ok, "command subscription missing")

	dev := sim.Device(testDevice)
	require.Eventually(t, func() bool { return len(dev.Frames()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []byte{CmdSetPower, CmdSetColor}, commands(dev.Frames()))
	assert.Equal(t, "hci0", dev.Adapter())

	stateTopic := "goveeblemqtt/zone1/light/a4c138001122/state"
	require.Eventually(t, func() bool { return len(mqtt.on(stateTopic)) == 2 }, 2*time.Second, time.Millisecond)

	msgs := mqtt.on(stateTopic)
	var last StatusMessage
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].payload, &last))
	assert.Equal(t, PowerOn, last.State)
	require.NotNil(t, last.ColorTemp)
	assert.Equal(t, 250, *last.ColorTemp)

	info, err := b.Light("A4:C1:38:00:11:22")
	require.NoError(t, err)
	assert.Equal(t, LinkConnected, info.Link)

	m := b.GetMetrics()
	assert.True(t, m.MQTTConnected)
	assert.Equal(t, 1, m.Lights)
	assert.Equal(t, uint64(2), m.Statistics.FramesSent)
	assert.Equal(t, uint64(1), m.Ingress.Received)
}

func TestBridge_AutostartAndNames(t *testing.T) {
	sim := NewSimTransport()
	mqtt := newFakeMQTT()
	b := newTestBridge(t, sim, mqtt, []DeviceSpec{
		{ID: "a4:c1:38:00:11:22", Name: "Desk", Model: "H6008", Autostart: true},
		{ID: "a4:c1:38:00:11:33", Name: "Shelf"},
	})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	lights := b.Lights()
	require.Len(t, lights, 1)
	assert.Equal(t, "Desk", lights[0].Name)
	assert.Equal(t, ProfileExtended, lights[0].Profile)

	require.NoError(t, b.Command(ctx, "A4C138001133", Patch{State: ptr("ON")}))
	info, err := b.Light("A4C138001133")
	require.NoError(t, err)
	assert.Equal(t, "Shelf", info.Name)
	assert.Equal(t, ProfileBasic, info.Profile)

	require.Eventually(t, func() bool {
		lights, connected, _ := b.HealthCounts()
		return lights == 2 && connected == 2
	}, 2*time.Second, time.Millisecond)
}

func TestBridge_Forget(t *testing.T) {
	sim := NewSimTransport()
	b := newTestBridge(t, sim, newFakeMQTT(), nil)

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	require.NoError(t, b.Command(ctx, testDevice, Patch{State: ptr("ON")}))
	dev := sim.Device(testDevice)
	require.Eventually(t, dev.Connected, time.Second, time.Millisecond)

	forgetCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Forget(forgetCtx, "a4c138001122"))
	assert.False(t, dev.Connected())
	assert.Empty(t, b.Lights())

	_, err := b.Light(testDevice)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.ErrorIs(t, b.Forget(forgetCtx, testDevice), ErrUnknownDevice)
	assert.ErrorIs(t, b.Forget(forgetCtx, "kitchen"), ErrInvalidDeviceID)

	require.NoError(t, b.Command(ctx, testDevice, Patch{State: ptr("ON")}))
	assert.Len(t, b.Lights(), 1)
}

func TestBridge_StatusSink(t *testing.T) {
	mqtt := newFakeMQTT()
	b := newTestBridge(t, NewSimTransport(), mqtt, nil)

	got := make(chan Status, 4)
	b.AddStatusSink(StatusSinkFunc(func(_ context.Context, s Status) error {
		got <- s
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	require.NoError(t, b.Command(ctx, testDevice, Patch{Brightness: ptr(10.0)}))

	select {
	case s := <-got:
		assert.Equal(t, FieldBrightness, s.Changed)
	case <-time.After(2 * time.Second):
		t.Fatal("sink not called")
	}
}

func TestBridge_Stop(t *testing.T) {
	sim := NewSimTransport()
	mqtt := newFakeMQTT()
	b := newTestBridge(t, sim, mqtt, []DeviceSpec{{ID: testDevice, Autostart: true}})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	require.Eventually(t, sim.Device(testDevice).Connected, time.Second, time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(stopCtx))
	require.NoError(t, b.Stop(stopCtx))

	assert.False(t, sim.Device(testDevice).Connected())
	assert.False(t, mqtt.deliver(NewTopics("goveeblemqtt", 1).CommandSubscribe(), "", nil), "still subscribed")

	health := mqtt.on("goveeblemqtt/zone1/bridge/health")
	require.NotEmpty(t, health)
	var last HealthMessage
	require.NoError(t, json.Unmarshal(health[len(health)-1].payload, &last))
	assert.Equal(t, HealthStopping, last.Status)

	assert.ErrorIs(t, b.Command(ctx, testDevice, Patch{State: ptr("ON")}), ErrSessionClosed)
}
