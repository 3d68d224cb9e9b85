package bluetooth

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

// link is one GATT connection to a light.
type link struct {
	address string
	device  peripheral
	control characteristic
	release func(*link)

	mu   sync.Mutex
	up   bool
	once sync.Once
}

func newLink(address string, device peripheral, control characteristic, release func(*link)) *link {
	return &link{
		address: address,
		device:  device,
		control: control,
		release: release,
		up:      true,
	}
}

// IsConnected implements govee.Link.
func (l *link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.up
}

// WriteFrame implements govee.Link. BLE writes without response do not
// block on the peer, so ctx is only checked before the write.
func (l *link) WriteFrame(ctx context.Context, f govee.Frame) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", govee.ErrWriteFailed, err)
	}
	if !l.IsConnected() {
		return govee.ErrNotConnected
	}

	if _, err := l.control.WriteWithoutResponse(f.Bytes()); err != nil {
		l.markDown()
		return fmt.Errorf("%w: %w", govee.ErrWriteFailed, err)
	}
	return nil
}

// Disconnect implements govee.Link. Only the first call reaches the device.
func (l *link) Disconnect() error {
	var err error
	l.once.Do(func() {
		l.markDown()
		if l.release != nil {
			l.release(l)
		}
		err = l.device.Disconnect()
	})
	return err
}

func (l *link) markDown() {
	l.mu.Lock()
	l.up = false
	l.mu.Unlock()
}
