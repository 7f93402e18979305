package ble

import (
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"
)

// ErrAdapterUnavailable means the Bluetooth adapter could not be enabled.
var ErrAdapterUnavailable = errors.New("bluetooth adapter is not available")

// Advertisement is one received advertising report.
type Advertisement struct {
	Address      string
	RSSI         int16
	LocalName    string
	Manufacturer []ManufacturerData
	At           time.Time
}

// AdvertiseOptions configures an outgoing advertisement.
type AdvertiseOptions struct {
	LocalName    string
	Manufacturer ManufacturerData
	Interval     time.Duration
}

// Advertiser is a configured advertisement.
type Advertiser interface {
	Start() error
	Stop() error
}

// Adapter is the part of a Bluetooth adapter the scanner and publisher need.
// Scan blocks until StopScan is called.
type Adapter interface {
	Enable() error
	Scan(fn func(Advertisement)) error
	StopScan() error
	Advertise(opts AdvertiseOptions) (Advertiser, error)
}

// tinygoAdapter drives a tinygo.org/x/bluetooth adapter.
type tinygoAdapter struct {
	adapter *bluetooth.Adapter
}

// DefaultAdapter returns the system default adapter.
func DefaultAdapter() Adapter {
	return &tinygoAdapter{adapter: bluetooth.DefaultAdapter}
}

func (a *tinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return nil
}

func (a *tinygoAdapter) Scan(fn func(Advertisement)) error {
	return a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			Address:   result.Address.String(),
			RSSI:      result.RSSI,
			LocalName: result.LocalName(),
			At:        time.Now(),
		}
		for _, el := range result.ManufacturerData() {
			adv.Manufacturer = append(adv.Manufacturer, ManufacturerData{
				CompanyID: el.CompanyID,
				Data:      append([]byte(nil), el.Data...),
			})
		}
		// Some backends only expose the raw payload.
		if len(adv.Manufacturer) == 0 {
			if ads, err := ParseAdvertisingData(result.Bytes()); err == nil {
				adv.Manufacturer = ManufacturerDataFromAD(ads)
				if adv.LocalName == "" {
					adv.LocalName = LocalNameFromAD(ads)
				}
			}
		}
		fn(adv)
	})
}

func (a *tinygoAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *tinygoAdapter) Advertise(opts AdvertiseOptions) (Advertiser, error) {
	if err := CheckPayload(opts.Manufacturer.Data, opts.LocalName); err != nil {
		return nil, err
	}
	adv := a.adapter.DefaultAdvertisement()
	btOpts := bluetooth.AdvertisementOptions{
		LocalName: opts.LocalName,
		ManufacturerData: []bluetooth.ManufacturerDataElement{{
			CompanyID: opts.Manufacturer.CompanyID,
			Data:      opts.Manufacturer.Data,
		}},
	}
	if opts.Interval > 0 {
		btOpts.Interval = bluetooth.NewDuration(opts.Interval)
	}
	if err := adv.Configure(btOpts); err != nil {
		return nil, fmt.Errorf("configure advertisement: %w", err)
	}
	return adv, nil
}
