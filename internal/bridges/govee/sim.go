package govee

import (
	"context"
	"fmt"
	"sync"
)

// simFrameLimit bounds the frames kept per simulated light; the oldest go first.
const simFrameLimit = 4096

// SimTransport is an in-memory Transport. It backs the "simulate" mode for
// development without a radio and is used throughout the tests.
//
// Thread Safety: All methods are safe for concurrent use.
type SimTransport struct {
	mu      sync.Mutex
	devices map[string]*SimDevice
}

// NewSimTransport creates an empty simulated radio.
func NewSimTransport() *SimTransport {
	return &SimTransport{devices: make(map[string]*SimDevice)}
}

// Device returns the simulated light at address, creating it on first use.
func (t *SimTransport) Device(address string) *SimDevice {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[address]
	if !ok {
		d = &SimDevice{address: address}
		t.devices[address] = d
	}
	return d
}

// Connect implements Transport.
func (t *SimTransport) Connect(ctx context.Context, address, adapter string) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	d := t.Device(address)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectAttempts++
	if d.failConnects > 0 {
		d.failConnects--
		return nil, fmt.Errorf("%w: %s unreachable", ErrConnectFailed, address)
	}
	if d.unreachable {
		return nil, fmt.Errorf("%w: %s unreachable", ErrConnectFailed, address)
	}

	d.connects++
	d.generation++
	d.connected = true
	d.lastAdapter = adapter
	return &simLink{device: d, generation: d.generation}, nil
}

// SimDevice records what a simulated light has received.
type SimDevice struct {
	address string

	mu              sync.Mutex
	frames          []Frame
	connectAttempts int
	connects        int
	generation      int
	connected       bool
	failConnects    int
	failWrites      int
	unreachable     bool
	lastAdapter     string
}

// FailConnects makes the next n connect attempts fail.
func (d *SimDevice) FailConnects(n int) {
	d.mu.Lock()
	d.failConnects = n
	d.mu.Unlock()
}

// FailWrites makes the next n frame writes fail and drop the link.
func (d *SimDevice) FailWrites(n int) {
	d.mu.Lock()
	d.failWrites = n
	d.mu.Unlock()
}

// SetUnreachable makes every connect attempt fail until cleared.
func (d *SimDevice) SetUnreachable(v bool) {
	d.mu.Lock()
	d.unreachable = v
	d.mu.Unlock()
}

// DropLink simulates the light going out of range while connected.
func (d *SimDevice) DropLink() {
	d.mu.Lock()
	d.connected = false
	d.generation++
	d.mu.Unlock()
}

// Frames returns a copy of the frames written successfully, at most the
// latest simFrameLimit.
func (d *SimDevice) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Frame, len(d.frames))
	copy(out, d.frames)
	return out
}

// Connects returns the number of successful connects.
func (d *SimDevice) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// ConnectAttempts returns the number of connect attempts, failed ones included.
func (d *SimDevice) ConnectAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectAttempts
}

// Connected reports whether a link is currently up.
func (d *SimDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Adapter returns the adapter hint passed on the last connect.
func (d *SimDevice) Adapter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAdapter
}

type simLink struct {
	device     *SimDevice
	generation int
	once       sync.Once
}

func (l *simLink) IsConnected() bool {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	return l.device.generation == l.generation
}

func (l *simLink) WriteFrame(ctx context.Context, f Frame) error {
	d := l.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.generation != l.generation {
		return ErrNotConnected
	}
	if d.failWrites > 0 {
		d.failWrites--
		d.connected = false
		d.generation++
		return fmt.Errorf("%w: %s link lost", ErrWriteFailed, d.address)
	}
	if _, err := ParseFrame(f[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if len(d.frames) == simFrameLimit {
		d.frames = append(d.frames[:0], d.frames[1:]...)
	}
	d.frames = append(d.frames, f)
	return nil
}

func (l *simLink) Disconnect() error {
	l.once.Do(func() {
		d := l.device
		d.mu.Lock()
		if d.generation == l.generation {
			d.connected = false
			d.generation++
		}
		d.mu.Unlock()
	})
	return nil
}
