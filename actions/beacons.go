package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nedpals/davi-device-agent/ble"
	"github.com/nedpals/davi-device-agent/status"
)

// Beacons holds the "Start beacon watcher" and "Start beacon publisher"
// handlers. They share the adapter but run independently.
type Beacons struct {
	Logger    *log.Logger
	CompanyID uint16
	Payload   []byte
	LocalName string
	MinRSSI   int16
	// ScanTimeout ends the watcher on its own. Zero watches until stopped.
	ScanTimeout time.Duration

	feed      *status.Feed
	adapter   ble.Adapter
	publisher *ble.Publisher
	startMu   sync.Mutex
	watcher   runner
}

// NewBeacons creates the handlers on adapter with the default company ID
// and payload.
func NewBeacons(feed *status.Feed, adapter ble.Adapter) *Beacons {
	logger := log.New(os.Stderr, "[ble] ", log.LstdFlags)
	publisher := ble.NewPublisher(adapter)
	publisher.Logger = logger
	return &Beacons{
		Logger:    logger,
		CompanyID: ble.DefaultCompanyID,
		Payload:   append([]byte(nil), ble.DefaultPayload...),
		feed:      feed,
		adapter:   adapter,
		publisher: publisher,
	}
}

func (h *Beacons) manufacturerData() ble.ManufacturerData {
	return ble.ManufacturerData{CompanyID: h.CompanyID, Data: h.Payload}
}

// Start starts the watcher.
func (h *Beacons) Start(ctx context.Context) error {
	return h.StartWatcher(ctx)
}

// Stop stops the watcher and the publisher.
func (h *Beacons) Stop() {
	h.StopWatcher()
	h.StopPublisher()
}

// Running reports whether either half is active.
func (h *Beacons) Running() bool {
	return h.WatcherRunning() || h.PublisherRunning()
}

// StartWatcher scans for advertisements carrying CompanyID manufacturer
// data and posts one line per beacon.
func (h *Beacons) StartWatcher(ctx context.Context) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	src := status.SourceBLE
	if h.watcher.running() {
		h.feed.Printf(src, "Beacon watcher already running")
		return nil
	}
	if err := h.adapter.Enable(); err != nil {
		h.feed.Errorf(src, "Bluetooth adapter is not available")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	scanner := ble.NewScanner(h.adapter)
	scanner.Logger = h.Logger
	scanner.CompanyID = h.CompanyID
	scanner.MinRSSI = h.MinRSSI
	scanner.Timeout = h.ScanTimeout

	h.feed.Printf(src, "Watching for beacons from company 0x%04X", h.CompanyID)
	h.watcher.launch(ctx, func(ctx context.Context) {
		err := scanner.Scan(ctx, func(b ble.Beacon) {
			h.feed.Printf(src, "%s", b)
		})
		if err != nil {
			h.feed.Errorf(src, "Beacon watcher stopped: %v", err)
			return
		}
		h.feed.Printf(src, "Beacon watcher stopped")
	})
	return nil
}

// StopWatcher ends the scan.
func (h *Beacons) StopWatcher() {
	h.watcher.stop()
}

// WatcherRunning reports whether a scan is active.
func (h *Beacons) WatcherRunning() bool {
	return h.watcher.running()
}

// StartPublisher advertises CompanyID with Payload.
func (h *Beacons) StartPublisher() error {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	src := status.SourceBLE
	if h.publisher.Running() {
		h.feed.Printf(src, "Beacon publisher already running")
		return nil
	}

	md := h.manufacturerData()
	err := h.publisher.Start(ble.AdvertiseOptions{LocalName: h.LocalName, Manufacturer: md})
	switch {
	case errors.Is(err, ble.ErrAdapterUnavailable):
		h.feed.Errorf(src, "Bluetooth adapter is not available")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		h.feed.Errorf(src, "Cannot publish beacon: %v", err)
		return err
	}
	h.feed.Printf(src, "Publishing beacon %s", md)
	return nil
}

// StopPublisher withdraws the advertisement.
func (h *Beacons) StopPublisher() {
	if !h.publisher.Running() {
		return
	}
	if err := h.publisher.Stop(); err != nil {
		h.feed.Errorf(status.SourceBLE, "Cannot stop publisher: %v", err)
		return
	}
	h.feed.Printf(status.SourceBLE, "Publisher stopped")
}

// PublisherRunning reports whether an advertisement is live.
func (h *Beacons) PublisherRunning() bool {
	return h.publisher.Running()
}
