// Package ble runs the scale-sync session: it discovers a Bluetooth LE body
// scale advertising the Weight Scale service, subscribes to its Weight
// Measurement characteristic and turns the first valid notification into a
// measurement.
package ble

import (
	"context"
	"strings"
)

// Weight Scale profile UUIDs (16-bit 0x181D and 0x2A9D on the Bluetooth base UUID).
const (
	WeightServiceUUID     = "0000181d-0000-1000-8000-00805f9b34fb"
	WeightMeasurementUUID = "00002a9d-0000-1000-8000-00805f9b34fb"
)

// AdapterState mirrors the host Bluetooth radio.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterPoweredOff
	AdapterPoweredOn
	AdapterUnauthorized
)

func (s AdapterState) String() string {
	switch s {
	case AdapterPoweredOff:
		return "powered-off"
	case AdapterPoweredOn:
		return "powered-on"
	case AdapterUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// DiscoveredDevice is one advertising peripheral seen during a scan. It only
// lives as long as the session that found it.
type DiscoveredDevice struct {
	Address      string
	Name         string
	RSSI         int
	ServiceUUIDs []string
}

// HasService reports whether the advertisement lists uuid.
func (d DiscoveredDevice) HasService(uuid string) bool {
	for _, s := range d.ServiceUUIDs {
		if sameUUID(s, uuid) {
			return true
		}
	}
	return false
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	UUID() string
	// Subscribe enables notifications; callback receives each raw value.
	Subscribe(callback func(data []byte)) error
}

// Service represents a discovered GATT service.
type Service interface {
	UUID() string
	// DiscoverCharacteristics lists the characteristics matching uuids.
	DiscoverCharacteristics(uuids []string) ([]Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverServices lists the services matching uuids.
	DiscoverServices(uuids []string) ([]Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the adapter and reports its state through onState.
	// onState may be called more than once and from any goroutine.
	Enable(onState func(AdapterState)) error
	// Scan reports advertisements for serviceUUID until StopScan is called.
	// It blocks for the duration of the scan.
	Scan(serviceUUID string, onResult func(DiscoveredDevice)) error
	// StopScan ends a running Scan.
	StopScan() error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

func sameUUID(a, b string) bool {
	return strings.EqualFold(a, b)
}
