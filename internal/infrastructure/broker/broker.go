// Package broker runs an embedded MQTT broker for installations without an
// external one. The bridge's own client connects to it over TCP like any
// other client, so the rest of the bridge is unaware of where the broker runs.
package broker

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
)

// listenerID names the single TCP listener.
const listenerID = "tcp"

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("broker: already started")

// Broker is an in-process MQTT broker.
//
// Thread Safety: All methods are safe for concurrent use.
type Broker struct {
	server  *mochi.Server
	address string

	mu      sync.Mutex
	started bool
	closed  bool

	clients atomic.Int64
}

// New creates a broker listening on cfg.Embedded.Address once started.
// When cfg.Auth.Username is set only that user may connect; otherwise any
// client is accepted.
func New(cfg config.MQTTConfig, logger *slog.Logger) (*Broker, error) {
	if cfg.Embedded.Address == "" {
		return nil, fmt.Errorf("embedded broker address is required")
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger,
	})

	b := &Broker{
		server:  server,
		address: cfg.Embedded.Address,
	}

	if err := b.addAuth(cfg.Auth); err != nil {
		return nil, err
	}
	if err := server.AddHook(&clientHook{broker: b}, nil); err != nil {
		return nil, fmt.Errorf("adding client hook: %w", err)
	}

	return b, nil
}

func (b *Broker) addAuth(creds config.MQTTAuthConfig) error {
	if creds.Username == "" {
		if err := b.server.AddHook(new(auth.AllowHook), nil); err != nil {
			return fmt.Errorf("adding allow hook: %w", err)
		}
		return nil
	}

	err := b.server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: auth.RString(creds.Username), Password: auth.RString(creds.Password), Allow: true},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("adding auth hook: %w", err)
	}
	return nil
}

// Start binds the listener and begins serving.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: b.address})
	if err := b.server.AddListener(tcp); err != nil {
		return fmt.Errorf("listening on %s: %w", b.address, err)
	}
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	b.started = true
	return nil
}

// Address returns the bound listener address, or the configured one before Start.
func (b *Broker) Address() string {
	if l, ok := b.server.Listeners.Get(listenerID); ok {
		return l.Address()
	}
	return b.address
}

// Clients returns the number of connected clients, the inline client excluded.
func (b *Broker) Clients() int {
	return int(b.clients.Load())
}

// Close stops the broker and disconnects every client.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.server.Close()
}

// clientHook counts connected clients.
type clientHook struct {
	mochi.HookBase
	broker *Broker
}

func (h *clientHook) ID() string {
	return "client-count"
}

func (h *clientHook) Provides(hook byte) bool {
	return bytes.Contains([]byte{
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
	}, []byte{hook})
}

func (h *clientHook) OnSessionEstablished(cl *mochi.Client, pk packets.Packet) {
	h.broker.clients.Add(1)
}

func (h *clientHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	h.broker.clients.Add(-1)
}
