package bluetooth

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

// Options configures a Transport.
type Options struct {
	// Characteristic is the control characteristic UUID.
	// Default: govee.ControlCharacteristicUUID
	Characteristic string

	Logger govee.Logger
}

// Transport implements govee.Transport over BLE.
//
// Thread Safety: All methods are safe for concurrent use.
type Transport struct {
	control uuid.UUID
	open    radioFactory
	logger  govee.Logger

	mu     sync.Mutex
	radios map[string]radio
	links  map[string]*link

	// enableMu serializes adapter bring-up; mu is not held across it.
	enableMu sync.Mutex
}

// NewTransport creates a BLE transport on the host's BlueZ stack.
func NewTransport(opts Options) (*Transport, error) {
	return newTransport(opts, openRadio)
}

func newTransport(opts Options, open radioFactory) (*Transport, error) {
	characteristic := opts.Characteristic
	if characteristic == "" {
		characteristic = govee.ControlCharacteristicUUID
	}
	control, err := parseCharacteristic(characteristic)
	if err != nil {
		return nil, err
	}

	return &Transport{
		control: control,
		open:    open,
		logger:  opts.Logger,
		radios:  make(map[string]radio),
		links:   make(map[string]*link),
	}, nil
}

// Connect implements govee.Transport. It returns when the link is up, the
// connect fails, or ctx ends. A connection that completes after ctx ended
// is torn down in the background.
func (t *Transport) Connect(ctx context.Context, address, adapter string) (govee.Link, error) {
	id, err := govee.NormalizeDeviceID(address)
	if err != nil {
		return nil, err
	}

	r, err := t.radio(adapter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", govee.ErrConnectFailed, err)
	}

	type result struct {
		l   *link
		err error
	}
	done := make(chan result, 1)

	go func() {
		l, err := t.dial(r, id)
		done <- result{l: l, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", govee.ErrConnectFailed, id, res.err)
		}
		t.track(res.l)
		return res.l, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.l != nil {
				_ = res.l.Disconnect() //nolint:errcheck // Abandoned connect
			}
		}()
		return nil, fmt.Errorf("%w: %s: %w", govee.ErrConnectFailed, id, ctx.Err())
	}
}

// dial connects and resolves the control characteristic.
func (t *Transport) dial(r radio, id string) (*link, error) {
	p, err := r.Connect(id)
	if err != nil {
		return nil, err
	}

	ch, err := p.ControlCharacteristic(t.control)
	if err != nil {
		_ = p.Disconnect() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	return newLink(id, p, ch, t.untrack), nil
}

// radio returns the adapter for hint, enabling it on first use.
func (t *Transport) radio(hint string) (radio, error) {
	if r, ok := t.lookupRadio(hint); ok {
		return r, nil
	}

	t.enableMu.Lock()
	defer t.enableMu.Unlock()

	if r, ok := t.lookupRadio(hint); ok {
		return r, nil
	}

	r, err := t.open(hint)
	if err != nil {
		return nil, err
	}
	if err := r.Enable(); err != nil {
		return nil, fmt.Errorf("enabling adapter %q: %w", hint, err)
	}
	r.SetConnectHandler(t.handleConnectEvent)

	t.mu.Lock()
	t.radios[hint] = r
	t.mu.Unlock()

	t.logInfo("bluetooth adapter enabled", "adapter", hint)
	return r, nil
}

func (t *Transport) lookupRadio(hint string) (radio, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.radios[hint]
	return r, ok
}

func (t *Transport) track(l *link) {
	t.mu.Lock()
	if old, ok := t.links[l.address]; ok && old != l {
		old.markDown()
	}
	t.links[l.address] = l
	t.mu.Unlock()
}

func (t *Transport) untrack(l *link) {
	t.mu.Lock()
	if t.links[l.address] == l {
		delete(t.links, l.address)
	}
	t.mu.Unlock()
}

// handleConnectEvent marks the link of a device that dropped as down.
func (t *Transport) handleConnectEvent(address string, connected bool) {
	if connected {
		return
	}
	id, err := govee.NormalizeDeviceID(address)
	if err != nil {
		return
	}

	t.mu.Lock()
	l := t.links[id]
	t.mu.Unlock()

	if l != nil {
		l.markDown()
		t.logInfo("device disconnected", "device", id)
	}
}

// LinkCount returns the number of links currently tracked as open.
func (t *Transport) LinkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

func (t *Transport) logInfo(msg string, keysAndValues ...any) {
	if t.logger != nil {
		t.logger.Info(msg, keysAndValues...)
	}
}

var _ govee.Transport = (*Transport)(nil)
