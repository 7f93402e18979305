// Package actions holds the agent's button handlers. Each one checks that
// its hardware is available, subscribes to the driver's events and posts
// what it decodes to the status feed.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable wraps the hardware availability errors a handler has
// already reported on the status feed.
var ErrUnavailable = errors.New("feature unavailable")

// Feature names accepted by Features.Start and Features.Stop.
const (
	FeatureNFC       = "nfc"
	FeatureSmartCard = "smartcard"
	FeatureWatcher   = "watcher"
	FeaturePublisher = "publisher"
)

// AllFeatures lists the feature names in menu order.
var AllFeatures = []string{FeatureNFC, FeatureSmartCard, FeatureWatcher, FeaturePublisher}

// Features groups the handlers behind one name-based front door for the
// console, tray and WebSocket requests.
type Features struct {
	NFC       *NFC
	SmartCard *SmartCard
	Beacons   *Beacons
}

// Start starts the named feature. ctx bounds its lifetime.
func (f *Features) Start(ctx context.Context, feature string) error {
	switch feature {
	case FeatureNFC:
		return f.NFC.Start(ctx)
	case FeatureSmartCard:
		return f.SmartCard.Start(ctx)
	case FeatureWatcher:
		return f.Beacons.StartWatcher(ctx)
	case FeaturePublisher:
		return f.Beacons.StartPublisher()
	}
	return fmt.Errorf("unknown feature %q", feature)
}

// Stop stops the named feature.
func (f *Features) Stop(feature string) error {
	switch feature {
	case FeatureNFC:
		f.NFC.Stop()
	case FeatureSmartCard:
		f.SmartCard.Stop()
	case FeatureWatcher:
		f.Beacons.StopWatcher()
	case FeaturePublisher:
		f.Beacons.StopPublisher()
	default:
		return fmt.Errorf("unknown feature %q", feature)
	}
	return nil
}

// Running reports the state of every feature by name.
func (f *Features) Running() map[string]bool {
	return map[string]bool{
		FeatureNFC:       f.NFC.Running(),
		FeatureSmartCard: f.SmartCard.Running(),
		FeatureWatcher:   f.Beacons.WatcherRunning(),
		FeaturePublisher: f.Beacons.PublisherRunning(),
	}
}

// StopAll stops every feature and waits for their workers.
func (f *Features) StopAll() {
	var wg sync.WaitGroup
	for _, stop := range []func(){f.NFC.Stop, f.SmartCard.Stop, f.Beacons.Stop} {
		wg.Add(1)
		go func(stop func()) {
			defer wg.Done()
			stop()
		}(stop)
	}
	wg.Wait()
}

// runner owns one background worker at a time.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runner) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// launch starts fn unless a worker is live.
func (r *runner) launch(ctx context.Context, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	go func() {
		defer close(done)
		defer func() {
			r.mu.Lock()
			if r.done == done {
				r.cancel, r.done = nil, nil
			}
			r.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

// stop cancels the worker and waits for it. It reports whether one was
// running.
func (r *runner) stop() bool {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return false
	}
	cancel()
	<-done
	return true
}
