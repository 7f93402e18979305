package ble

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// ErrPublisherRunning is returned by Start while an advertisement is live.
var ErrPublisherRunning = errors.New("publisher already running")

// Publisher advertises one manufacturer data payload at a time.
type Publisher struct {
	Logger *log.Logger

	adapter Adapter
	mu      sync.Mutex
	adv     Advertiser
	current ManufacturerData
}

// NewPublisher creates a Publisher on adapter.
func NewPublisher(adapter Adapter) *Publisher {
	return &Publisher{
		Logger:  log.New(os.Stderr, "[ble] ", log.LstdFlags),
		adapter: adapter,
	}
}

// Start enables the adapter and begins advertising opts.
func (p *Publisher) Start(opts AdvertiseOptions) error {
	if err := CheckPayload(opts.Manufacturer.Data, opts.LocalName); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adv != nil {
		return ErrPublisherRunning
	}

	if err := p.adapter.Enable(); err != nil {
		if errors.Is(err, ErrAdapterUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	adv, err := p.adapter.Advertise(opts)
	if err != nil {
		return err
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}
	p.adv = adv
	p.current = opts.Manufacturer
	p.Logger.Printf("Advertising %s", opts.Manufacturer)
	return nil
}

// Stop ends the advertisement. Stopping an idle publisher is a no-op.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adv == nil {
		return nil
	}
	err := p.adv.Stop()
	p.adv = nil
	if err != nil {
		return fmt.Errorf("stop advertisement: %w", err)
	}
	return nil
}

// Running reports whether an advertisement is live.
func (p *Publisher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adv != nil
}

// Current returns the payload being advertised.
func (p *Publisher) Current() (ManufacturerData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.adv != nil
}
