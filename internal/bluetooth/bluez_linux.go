//go:build linux

package bluetooth

import (
	"fmt"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// openRadio returns the BlueZ adapter named by hint, or the default adapter.
func openRadio(hint string) (radio, error) {
	adapter := bluetooth.DefaultAdapter
	if hint != "" {
		adapter = bluetooth.NewAdapter(hint)
	}
	return &bluezRadio{adapter: adapter}, nil
}

type bluezRadio struct {
	adapter *bluetooth.Adapter
}

func (r *bluezRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *bluezRadio) SetConnectHandler(fn func(address string, connected bool)) {
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		fn(device.Address.String(), connected)
	})
}

func (r *bluezRadio) Connect(address string) (peripheral, error) {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", address, err)
	}

	device, err := r.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &bluezPeripheral{device: device}, nil
}

type bluezPeripheral struct {
	device bluetooth.Device
}

// ControlCharacteristic searches every service for id. The control
// characteristic lives in a vendor service whose UUID varies by model.
func (p *bluezPeripheral) ControlCharacteristic(id uuid.UUID) (characteristic, error) {
	want := bluetooth.NewUUID([16]byte(id))

	services, err := p.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}

	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{want})
		if err != nil {
			continue
		}
		for _, c := range chars {
			if c.UUID() == want {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, id)
}

func (p *bluezPeripheral) Disconnect() error {
	return p.device.Disconnect()
}
