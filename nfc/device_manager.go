package nfc

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Reconnection policy defaults.
const (
	MaxRetries                = 5
	BaseDelay                 = 500 * time.Millisecond
	MaxReconnectTries         = 10
	ReconnectDelay            = 2 * time.Second
	DeviceEnumRetries         = 3
	DeviceResetWaitTime       = 3 * time.Second
	DeviceErrorCooldownPeriod = 10 * time.Second
	MaxRetriesCooldownPeriod  = 30 * time.Second
	PostErrorPauseTime        = 1 * time.Second
)

// errStopped is returned when a reconnect is aborted by the stop channel.
var errStopped = errors.New("reconnection aborted by stop signal")

// RecoveryPolicy holds the delays used by DeviceManager. Tests shrink them.
type RecoveryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxReconnectTries int
	ReconnectDelay    time.Duration
	ResetWait         time.Duration
	ErrorCooldown     time.Duration
	RetriesCooldown   time.Duration
	PostErrorPause    time.Duration
}

// DefaultRecoveryPolicy returns the delays tuned for USB readers such as
// the ACR122.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		MaxRetries:        MaxRetries,
		BaseDelay:         BaseDelay,
		MaxReconnectTries: MaxReconnectTries,
		ReconnectDelay:    ReconnectDelay,
		ResetWait:         DeviceResetWaitTime,
		ErrorCooldown:     DeviceErrorCooldownPeriod,
		RetriesCooldown:   MaxRetriesCooldownPeriod,
		PostErrorPause:    PostErrorPauseTime,
	}
}

// DeviceManager keeps a single NFC device open and recovers it after
// errors.
type DeviceManager struct {
	Policy RecoveryPolicy

	manager    Manager
	device     Device
	devicePath string

	inCooldown    bool
	cooldownTimer *time.Timer

	mu sync.RWMutex
}

// NewDeviceManager creates a DeviceManager. An empty devicePath selects the
// first device the manager lists.
func NewDeviceManager(manager Manager, devicePath string) *DeviceManager {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return &DeviceManager{
		Policy:        DefaultRecoveryPolicy(),
		manager:       manager,
		devicePath:    devicePath,
		cooldownTimer: timer,
	}
}

// Device returns the open device, or nil.
func (dm *DeviceManager) Device() Device {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device
}

// HasDevice reports whether a device is open.
func (dm *DeviceManager) HasDevice() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device != nil
}

// InCooldown reports whether the manager is waiting out a cooldown.
func (dm *DeviceManager) InCooldown() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.inCooldown
}

// DevicePath returns the path of the managed device.
func (dm *DeviceManager) DevicePath() string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.devicePath
}

// TryConnect opens and initializes the device unless an open one still
// answers InitiatorInit. It returns ErrNoDevice when no reader is attached.
func (dm *DeviceManager) TryConnect() error {
	if dev := dm.Device(); dev != nil {
		err := dev.InitiatorInit()
		if err == nil {
			return nil
		}
		log.Printf("Device was marked connected, but Init failed: %v. Attempting full reconnect.", err)
		dm.closeDevice()
	}

	path := dm.DevicePath()
	if path == "" {
		devices, err := dm.manager.ListDevices()
		if err != nil {
			return fmt.Errorf("error listing NFC devices: %w", err)
		}
		if len(devices) == 0 {
			return ErrNoDevice
		}
		path = devices[0]
		log.Printf("No specific device path, trying first available: %s", path)
	}

	dev, err := dm.manager.OpenDevice(path)
	if err != nil {
		return fmt.Errorf("failed to open device %s: %w", path, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return fmt.Errorf("failed to initialize device %s: %w", path, err)
	}

	dm.mu.Lock()
	dm.device = dev
	dm.devicePath = path
	dm.mu.Unlock()

	log.Printf("Successfully connected to device: %s", dev.String())
	return nil
}

// Reconnect retries TryConnect with a linear backoff.
func (dm *DeviceManager) Reconnect(stop <-chan struct{}) error {
	return dm.reconnect(false, stop)
}

// ForceReconnect waits for the device to reset before reconnecting.
func (dm *DeviceManager) ForceReconnect(stop <-chan struct{}) error {
	return dm.reconnect(true, stop)
}

func (dm *DeviceManager) reconnect(force bool, stop <-chan struct{}) error {
	logPrefix := "Reconnect"
	maxAttempts := dm.Policy.MaxReconnectTries
	step := dm.Policy.ReconnectDelay
	if force {
		logPrefix = "Force reconnect"
		maxAttempts = 3
		step = dm.Policy.ReconnectDelay / 2
	}

	dm.closeDevice()

	if force {
		select {
		case <-time.After(dm.Policy.ResetWait):
		case <-stop:
			return errStopped
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = dm.TryConnect()
		if lastErr == nil {
			log.Printf("%s: attempt %d successful.", logPrefix, attempt)
			return nil
		}
		log.Printf("%s: attempt %d failed: %v", logPrefix, attempt, lastErr)

		select {
		case <-stop:
			return errStopped
		case <-time.After(step * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", logPrefix, maxAttempts, lastErr)
}

// Close closes the open device, if any.
func (dm *DeviceManager) Close() {
	dm.closeDevice()
}

func (dm *DeviceManager) closeDevice() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.device == nil {
		return
	}
	if err := dm.device.Close(); err != nil {
		log.Printf("Error closing device: %v", err)
	}
	dm.device = nil
}

func (dm *DeviceManager) enterCooldown(d time.Duration) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.inCooldown {
		return
	}
	dm.inCooldown = true
	dm.cooldownTimer.Reset(d)
	log.Printf("Entering device cooldown for %v", d)
}

// HandleError applies the recovery policy to a device error. IO and
// configuration errors close the device and force a reconnect (or a
// cooldown for the ACR122 failure modes). Timeouts and closed-device
// errors retry with exponential backoff until MaxRetries, then cool down.
// It returns the updated retry count and whether a cooldown began.
func (dm *DeviceManager) HandleError(err error, retryCount int, stop <-chan struct{}) (int, bool) {
	log.Printf("Device error: %v", err)

	if IsIOError(err) || IsDeviceConfigError(err) {
		dm.closeDevice()

		if needsCooldown(err) {
			dm.enterCooldown(dm.Policy.ErrorCooldown)
			return retryCount, true
		}

		select {
		case <-time.After(dm.Policy.PostErrorPause):
		case <-stop:
			return retryCount, false
		}
		if errReconnect := dm.ForceReconnect(stop); errReconnect != nil {
			log.Printf("Force reconnection failed after IO/Config error: %v", errReconnect)
		}
		return retryCount, false
	}

	if IsTimeoutError(err) || IsDeviceClosedError(err) {
		if retryCount >= dm.Policy.MaxRetries {
			log.Printf("Max retries reached for %v. Closing device.", err)
			dm.closeDevice()
			dm.enterCooldown(dm.Policy.RetriesCooldown)
			return retryCount, true
		}

		delay := dm.Policy.BaseDelay << retryCount
		retryCount++
		log.Printf("Retrying connection (attempt %d/%d) in %v...", retryCount, dm.Policy.MaxRetries, delay)
		select {
		case <-time.After(delay):
		case <-stop:
			return retryCount, false
		}
		if errReconnect := dm.Reconnect(stop); errReconnect != nil {
			log.Printf("Device reconnection failed: %v", errReconnect)
			return retryCount, false
		}
		return 0, false
	}

	return retryCount, false
}

// EndCooldown clears the cooldown and force-reconnects.
func (dm *DeviceManager) EndCooldown(stop <-chan struct{}) {
	log.Println("Device cooldown period ended.")
	dm.mu.Lock()
	dm.inCooldown = false
	dm.mu.Unlock()
	if err := dm.ForceReconnect(stop); err != nil {
		log.Printf("Reconnection after cooldown failed: %v", err)
	}
}

// CooldownChannel fires when a cooldown ends.
func (dm *DeviceManager) CooldownChannel() <-chan time.Time {
	return dm.cooldownTimer.C
}
