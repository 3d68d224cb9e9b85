package govee

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DeviceSpec describes a light known from configuration.
type DeviceSpec struct {
	ID    string
	Name  string
	Model string

	// Autostart creates the session when the bridge starts.
	Autostart bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	BridgeID string
	Version  string

	Topics Topics
	QoS    byte

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// StatusQueueSize bounds pending status notifications. Default: 64.
	StatusQueueSize int

	// MQTTClient is the bus connection. Required.
	MQTTClient MQTTClient

	// Transport is the radio. Required.
	Transport Transport
	Adapter   string
	Timings   Timings

	Devices []DeviceSpec

	// Store seeds new sessions with persisted state. Optional.
	Store StateLoader

	// Observer receives link and write events. Optional.
	Observer LinkObserver

	Logger Logger
}

// Bridge wires the bus to the light sessions:
//   - command messages are decoded and applied through Ingress
//   - confirmed state changes are published through Egress
//   - bridge health is published periodically
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts     BridgeOptions
	mqtt     MQTTClient
	registry *Registry
	ingress  *Ingress
	egress   *Egress
	health   *HealthReporter

	names map[string]string

	stopOnce sync.Once
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = NewTopics("", opts.Topics.Zone)
	}

	models := make(map[string]string, len(opts.Devices))
	names := make(map[string]string, len(opts.Devices))
	for _, d := range opts.Devices {
		id, err := NormalizeDeviceID(d.ID)
		if err != nil {
			return nil, fmt.Errorf("configured device: %w", err)
		}
		if d.Model != "" {
			models[id] = d.Model
		}
		if d.Name != "" {
			names[id] = d.Name
		}
	}

	egress, err := NewEgress(EgressOptions{
		Publisher: opts.MQTTClient,
		Topics:    opts.Topics,
		QoS:       opts.QoS,
		QueueSize: opts.StatusQueueSize,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(RegistryOptions{
		Transport: opts.Transport,
		Adapter:   opts.Adapter,
		Models:    models,
		Notifier:  egress,
		Observer:  opts.Observer,
		Store:     opts.Store,
		Logger:    opts.Logger,
		Timings:   opts.Timings,
	})
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		opts:     opts,
		mqtt:     opts.MQTTClient,
		registry: registry,
		ingress:  NewIngress(registry, opts.Topics, opts.Logger),
		egress:   egress,
		names:    names,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Topics:    opts.Topics,
		Publisher: opts.MQTTClient,
		Source:    b,
		Logger:    opts.Logger,
	})

	return b, nil
}

// Start subscribes to commands, creates autostart sessions and begins
// status delivery and health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.egress.Start(ctx)

	topic := b.opts.Topics.CommandSubscribe()
	if err := b.mqtt.Subscribe(topic, b.opts.QoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	started := 0
	for _, d := range b.opts.Devices {
		if !d.Autostart {
			continue
		}
		if _, err := b.registry.GetOrCreate(ctx, d.ID, d.Model); err != nil {
			b.logError("autostart failed", err)
			continue
		}
		started++
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.opts.BridgeID,
		"configured_devices", len(b.opts.Devices),
		"autostarted", started)

	return nil
}

// Stop stops accepting commands, closes every session waiting within ctx,
// then stops delivery and health reporting.
func (b *Bridge) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		if uerr := b.mqtt.Unsubscribe(b.opts.Topics.CommandSubscribe()); uerr != nil {
			b.logError("failed to unsubscribe from commands", uerr)
		}
		err = b.registry.CloseAll(ctx)
		b.egress.Stop()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
	return err
}

func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	// Errors are logged and counted by Ingress.
	_ = b.ingress.HandleMessage(topic, payload)
}

// Command applies a patch to a light, creating its session if needed.
func (b *Bridge) Command(ctx context.Context, deviceID string, p Patch) error {
	return b.ingress.Apply(ctx, deviceID, p)
}

// AddStatusSink registers a receiver of every delivered state change.
func (b *Bridge) AddStatusSink(sink StatusSink) {
	b.egress.AddSink(sink)
}

// Forget stops a light's session, waiting within ctx, and drops it. The next
// command for the light starts a fresh session from the persisted state.
func (b *Bridge) Forget(ctx context.Context, deviceID string) error {
	if err := b.registry.Close(ctx, deviceID); err != nil {
		return err
	}
	b.logInfo("light forgotten", "device", deviceID)
	return nil
}

// LightInfo is a session snapshot with its configured name.
type LightInfo struct {
	Snapshot
	Name string
}

// Lights returns a snapshot of every session ordered by device id.
func (b *Bridge) Lights() []LightInfo {
	sessions := b.registry.List()
	out := make([]LightInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, LightInfo{Snapshot: s.Snapshot(), Name: b.names[s.ID()]})
	}
	return out
}

// Light returns the snapshot of one session.
func (b *Bridge) Light(deviceID string) (LightInfo, error) {
	s, err := b.registry.Get(deviceID)
	if err != nil {
		return LightInfo{}, err
	}
	return LightInfo{Snapshot: s.Snapshot(), Name: b.names[s.ID()]}, nil
}

// HealthCounts implements HealthSource.
func (b *Bridge) HealthCounts() (lights, connected int, stats BridgeStatistics) {
	for _, s := range b.registry.List() {
		lights++
		if s.LinkState() == LinkConnected {
			connected++
		}
		st := s.Stats()
		stats.FramesSent += st.FramesSent
		stats.KeepAlivesSent += st.KeepAlivesSent
		stats.WriteErrors += st.WriteErrors
		stats.ConnectFailures += st.ConnectFailures
	}
	stats.StatusDropped = b.egress.Stats().Dropped
	return lights, connected, stats
}

// Metrics contains bridge counters for the API.
type Metrics struct {
	MQTTConnected bool             `json:"mqtt_connected"`
	Lights        int              `json:"lights"`
	Connected     int              `json:"connected"`
	Statistics    BridgeStatistics `json:"statistics"`
	Ingress       IngressStats     `json:"ingress"`
	Egress        EgressStats      `json:"egress"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	lights, connected, stats := b.HealthCounts()
	return Metrics{
		MQTTConnected: b.mqtt.IsConnected(),
		Lights:        lights,
		Connected:     connected,
		Statistics:    stats,
		Ingress:       b.ingress.Stats(),
		Egress:        b.egress.Stats(),
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.opts.Logger != nil {
		b.opts.Logger.Error(msg, "error", err)
	}
}
