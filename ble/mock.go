package ble

import (
	"errors"
	"sync"
	"time"
)

// ErrNotScanning is what the mock's StopScan returns with no scan running,
// matching the tinygo adapters.
var ErrNotScanning = errors.New("bluetooth: there is no scan in progress")

// MockAdapter replays Advertisements and records advertisements started.
type MockAdapter struct {
	EnableError    error
	ScanError      error
	AdvertiseError error
	Advertisements []Advertisement

	// ScanDelay postpones the start of each scan.
	ScanDelay time.Duration

	mu         sync.Mutex
	stopScan   chan struct{}
	scanning   bool
	stopErrors int
	advertised []*MockAdvertiser
}

// NewMockAdapter creates a MockAdapter that reports ads on every scan.
func NewMockAdapter(ads ...Advertisement) *MockAdapter {
	return &MockAdapter{Advertisements: ads}
}

func (m *MockAdapter) Enable() error {
	return m.EnableError
}

// Scan delivers every Advertisement, then blocks until StopScan. Like the
// real adapters it keeps no record of a StopScan made before it started.
func (m *MockAdapter) Scan(fn func(Advertisement)) error {
	if m.ScanError != nil {
		return m.ScanError
	}
	if m.ScanDelay > 0 {
		time.Sleep(m.ScanDelay)
	}
	m.mu.Lock()
	stop := make(chan struct{})
	m.stopScan = stop
	m.scanning = true
	m.mu.Unlock()

	for _, adv := range m.Advertisements {
		fn(adv)
	}
	<-stop
	return nil
}

func (m *MockAdapter) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanning {
		m.stopErrors++
		return ErrNotScanning
	}
	close(m.stopScan)
	m.scanning = false
	return nil
}

// StopErrors counts StopScan calls made while no scan was running.
func (m *MockAdapter) StopErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopErrors
}

func (m *MockAdapter) Advertise(opts AdvertiseOptions) (Advertiser, error) {
	if m.AdvertiseError != nil {
		return nil, m.AdvertiseError
	}
	adv := &MockAdvertiser{Options: opts}
	m.mu.Lock()
	m.advertised = append(m.advertised, adv)
	m.mu.Unlock()
	return adv, nil
}

// Advertised returns every advertisement configured so far.
func (m *MockAdapter) Advertised() []*MockAdvertiser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockAdvertiser(nil), m.advertised...)
}

// MockAdvertiser tracks Start and Stop calls.
type MockAdvertiser struct {
	Options    AdvertiseOptions
	StartError error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (a *MockAdvertiser) Start() error {
	if a.StartError != nil {
		return a.StartError
	}
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *MockAdvertiser) Stop() error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	return nil
}

// State reports whether Start and Stop were called.
func (a *MockAdvertiser) State() (started, stopped bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started, a.stopped
}
