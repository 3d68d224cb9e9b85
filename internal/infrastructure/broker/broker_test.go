package broker

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
)

func testConfig(t *testing.T) config.MQTTConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	return config.MQTTConfig{
		Embedded: config.EmbeddedBrokerConfig{Enabled: true, Address: addr},
	}
}

func startBroker(t *testing.T, cfg config.MQTTConfig) *Broker {
	t.Helper()
	b, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func dial(addr, user, pass string) (pahomqtt.Client, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID(fmt.Sprintf("broker-test-%d", time.Now().UnixNano())).
		SetUsername(user).
		SetPassword(pass).
		SetConnectTimeout(2 * time.Second)

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(3 * time.Second) {
		return nil, errors.New("connect timeout")
	}
	return c, token.Error()
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(config.MQTTConfig{}, nil); err == nil {
		t.Fatal("New() expected error for empty address")
	}
}

func TestStart_AcceptsClients(t *testing.T) {
	cfg := testConfig(t)
	b := startBroker(t, cfg)

	if got := b.Address(); got != cfg.Embedded.Address {
		t.Errorf("Address() = %q, want %q", got, cfg.Embedded.Address)
	}

	c, err := dial(b.Address(), "", "")
	if err != nil {
		t.Fatalf("dial() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", b.Clients())
	}

	c.Disconnect(0)
	deadline = time.Now().Add(2 * time.Second)
	for b.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Clients() != 0 {
		t.Errorf("Clients() after disconnect = %d, want 0", b.Clients())
	}
}

func TestStart_Twice(t *testing.T) {
	b := startBroker(t, testConfig(t))

	if err := b.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestAuth_RejectsWrongCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}
	b := startBroker(t, cfg)

	if _, err := dial(b.Address(), "bridge", "wrong"); err == nil {
		t.Error("dial() with wrong password succeeded")
	}

	c, err := dial(b.Address(), "bridge", "secret")
	if err != nil {
		t.Fatalf("dial() with valid credentials error = %v", err)
	}
	c.Disconnect(0)
}

func TestClose_Idempotent(t *testing.T) {
	b := startBroker(t, testConfig(t))

	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
