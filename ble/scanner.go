package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultRepeatWindow suppresses identical reports from one address.
const DefaultRepeatWindow = 2 * time.Second

// Beacon is an advertisement that matched the scanner's company ID.
type Beacon struct {
	Address string
	RSSI    int16
	Name    string
	Data    ManufacturerData
	At      time.Time
}

func (b Beacon) String() string {
	return fmt.Sprintf("Beacon %s rssi=%d name=%s manufacturerData=[%s]", b.Address, b.RSSI, b.Name, b.Data)
}

// Scanner reports beacons carrying manufacturer data for CompanyID.
type Scanner struct {
	Logger    *log.Logger
	CompanyID uint16
	// MinRSSI drops weaker advertisements. Zero keeps everything.
	MinRSSI int16
	// Timeout ends the scan. Zero scans until the context is done.
	Timeout      time.Duration
	RepeatWindow time.Duration

	adapter Adapter
}

// NewScanner creates a Scanner on adapter with default settings.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{
		Logger:       log.New(os.Stderr, "[ble] ", log.LstdFlags),
		CompanyID:    DefaultCompanyID,
		RepeatWindow: DefaultRepeatWindow,
		adapter:      adapter,
	}
}

// Scan enables the adapter and blocks until ctx is done or Timeout
// elapses, calling fn for every matching beacon. Calls to fn are
// serialized by the adapter's scan callback.
func (s *Scanner) Scan(ctx context.Context, fn func(Beacon)) error {
	if err := s.adapter.Enable(); err != nil {
		if errors.Is(err, ErrAdapterUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	// The adapter forgets a StopScan that arrives before scanning starts, so
	// stopping retries until Scan has returned.
	scanDone := make(chan struct{})
	var stopper sync.WaitGroup
	stopper.Add(1)
	go func() {
		defer stopper.Done()
		select {
		case <-ctx.Done():
		case <-scanDone:
			return
		}
		s.stopScan(scanDone)
	}()

	lastSeen := make(map[string]time.Time)
	s.Logger.Printf("Scanning for company ID 0x%04X", s.CompanyID)
	err := s.adapter.Scan(func(adv Advertisement) {
		if ctx.Err() != nil {
			return
		}
		b, ok := s.match(adv)
		if !ok {
			return
		}
		key := b.Address + "|" + b.Data.String()
		if prev, seen := lastSeen[key]; seen && s.RepeatWindow > 0 && b.At.Sub(prev) < s.RepeatWindow {
			return
		}
		lastSeen[key] = b.At
		fn(b)
	})
	close(scanDone)
	stopper.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// stopScanRetry paces StopScan attempts made before the scan is running.
const stopScanRetry = 20 * time.Millisecond

// stopScan calls StopScan until it succeeds or the scan has ended.
func (s *Scanner) stopScan(scanDone <-chan struct{}) {
	retry := time.NewTicker(stopScanRetry)
	defer retry.Stop()
	for attempt := 1; ; attempt++ {
		err := s.adapter.StopScan()
		if err == nil {
			return
		}
		if attempt == 1 {
			s.Logger.Printf("Stop scan: %v, retrying until the scan starts", err)
		}
		select {
		case <-scanDone:
			return
		case <-retry.C:
		}
	}
}

func (s *Scanner) match(adv Advertisement) (Beacon, bool) {
	if s.MinRSSI != 0 && adv.RSSI < s.MinRSSI {
		return Beacon{}, false
	}
	for _, md := range adv.Manufacturer {
		if md.CompanyID != s.CompanyID {
			continue
		}
		at := adv.At
		if at.IsZero() {
			at = time.Now()
		}
		return Beacon{Address: adv.Address, RSSI: adv.RSSI, Name: adv.LocalName, Data: md, At: at}, true
	}
	return Beacon{}, false
}
