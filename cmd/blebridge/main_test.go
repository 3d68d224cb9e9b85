package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/logging"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_BLE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidBridgeConfig verifies validation errors stop startup.
func TestRun_InvalidBridgeConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: ""
  zone: 1
ble:
  simulate: true
`)
	t.Setenv("GRAYLOGIC_BLE_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without a bridge id")
	}
}

// TestRun_MQTTUnreachable verifies run fails when no broker answers.
func TestRun_MQTTUnreachable(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(`
bridge:
  id: test-bridge
ble:
  simulate: true
mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
    client_id: "test-unreachable"
  reconnect:
    initial_delay: 1
    max_delay: 1
logging:
  level: error
`, freePort(t)))
	t.Setenv("GRAYLOGIC_BLE_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_BLE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_BLE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestDialTarget(t *testing.T) {
	tests := []struct {
		address  string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"127.0.0.1:1883", "127.0.0.1", 1883, false},
		{":1883", "127.0.0.1", 1883, false},
		{"0.0.0.0:1884", "127.0.0.1", 1884, false},
		{"[::]:1885", "127.0.0.1", 1885, false},
		{"broker.local:8883", "broker.local", 8883, false},
		{"no-port", "", 0, true},
		{"host:abc", "", 0, true},
		{"host:0", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			host, port, err := dialTarget(tt.address)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("dialTarget(%q) succeeded, want error", tt.address)
				}
				return
			}
			if err != nil {
				t.Fatalf("dialTarget(%q) error = %v", tt.address, err)
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("dialTarget(%q) = %s, %d; want %s, %d", tt.address, host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestBridgeOptions(t *testing.T) {
	cfg := &config.Config{
		Bridge: config.BridgeConfig{
			ID:              "bridge-7",
			Zone:            3,
			TopicPrefix:     "lights",
			HealthInterval:  15,
			StatusQueueSize: 8,
		},
		BLE: config.BLEConfig{
			Adapter:        "hci1",
			ConnectTimeout: 4,
			ConnectBackoff: 1500,
			WriteBackoff:   500,
			KeepAlive:      2000,
			Devices: []config.DeviceConfig{
				{ID: "a4:c1:38:00:00:01", Name: "Desk", Model: "H6008", Autostart: true},
			},
		},
		MQTT: config.MQTTConfig{QoS: 2},
	}

	opts := bridgeOptions(cfg)

	if opts.BridgeID != "bridge-7" {
		t.Errorf("BridgeID = %q", opts.BridgeID)
	}
	if opts.Topics != govee.NewTopics("lights", 3) {
		t.Errorf("Topics = %+v", opts.Topics)
	}
	if opts.QoS != 2 {
		t.Errorf("QoS = %d, want 2", opts.QoS)
	}
	if opts.HealthInterval != 15*time.Second {
		t.Errorf("HealthInterval = %v", opts.HealthInterval)
	}
	if opts.StatusQueueSize != 8 {
		t.Errorf("StatusQueueSize = %d", opts.StatusQueueSize)
	}
	if opts.Adapter != "hci1" {
		t.Errorf("Adapter = %q", opts.Adapter)
	}

	want := govee.Timings{
		ConnectTimeout:    4 * time.Second,
		ConnectBackoff:    1500 * time.Millisecond,
		WriteBackoff:      500 * time.Millisecond,
		KeepAliveInterval: 2 * time.Second,
	}
	if opts.Timings != want {
		t.Errorf("Timings = %+v, want %+v", opts.Timings, want)
	}

	if len(opts.Devices) != 1 {
		t.Fatalf("Devices = %d, want 1", len(opts.Devices))
	}
	d := opts.Devices[0]
	if d.ID != "a4:c1:38:00:00:01" || d.Name != "Desk" || d.Model != "H6008" || !d.Autostart {
		t.Errorf("Devices[0] = %+v", d)
	}
}

func TestNewTransport_Simulate(t *testing.T) {
	tr, err := newTransport(config.BLEConfig{Simulate: true}, logging.Default())
	if err != nil {
		t.Fatalf("newTransport() error = %v", err)
	}
	if _, ok := tr.(*govee.SimTransport); !ok {
		t.Errorf("newTransport() = %T, want *govee.SimTransport", tr)
	}
}

// TestRun_SimulatedStartupAndShutdown runs the whole bridge against the
// embedded broker and the simulated radio, drives a light over MQTT and
// checks the retained state.
func TestRun_SimulatedStartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "bridge.db")
	port := freePort(t)

	path := writeConfig(t, fmt.Sprintf(`
bridge:
  id: test-bridge
  zone: 1
  health_interval: 1

ble:
  simulate: true
  connect_backoff_ms: 50
  write_backoff_ms: 50
  keep_alive_ms: 200

database:
  enabled: true
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    client_id: "test-bridge"
  qos: 1
  embedded:
    enabled: true
    address: "127.0.0.1:%d"

api:
  enabled: false

logging:
  level: error
  format: text
`, dbPath, port))
	t.Setenv("GRAYLOGIC_BLE_CONFIG", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port)).
		SetClientID("test-observer").
		SetConnectTimeout(time.Second)

	var client pahomqtt.Client
	deadline := time.Now().Add(10 * time.Second)
	for {
		client = pahomqtt.NewClient(opts)
		tok := client.Connect()
		if tok.WaitTimeout(2*time.Second) && tok.Error() == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("embedded broker never accepted a connection")
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(100 * time.Millisecond):
		}
	}
	defer client.Disconnect(100)

	topics := govee.NewTopics("goveeblemqtt", 1)
	states := make(chan govee.StatusMessage, 16)
	sub := client.Subscribe(topics.State("A4C138000001"), 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		var msg govee.StatusMessage
		if err := json.Unmarshal(m.Payload(), &msg); err == nil {
			states <- msg
		}
	})
	if !sub.WaitTimeout(2*time.Second) || sub.Error() != nil {
		t.Fatalf("subscribe failed: %v", sub.Error())
	}

	// The bridge may not have subscribed yet; repeating the command is a no-op
	// once it has applied.
	command := topics.Command("A4C138000001")
	deadline = time.Now().Add(10 * time.Second)
	var got govee.StatusMessage
wait:
	for {
		client.Publish(command, 1, false, []byte(`{"state":"ON","brightness":128}`)).WaitTimeout(time.Second)
		select {
		case got = <-states:
			if got.State == govee.PowerOn && got.Brightness == 128 {
				break wait
			}
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatalf("no ON state published, last = %+v", got)
		}
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
