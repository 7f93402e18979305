package nfc

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Polling intervals
const (
	DefaultPollingInterval      = 100 * time.Millisecond
	DeviceIdleCheckInterval     = 200 * time.Millisecond
	DeviceCheckInterval         = 2 * time.Second
	RemovalCheckInterval        = 250 * time.Millisecond
	UnhandledErrorRetryInterval = 1 * time.Second
)

// TagEvent reports a tag arriving, changing content, failing to read or
// leaving the field.
type TagEvent struct {
	UID     string
	Type    string
	Message *Message // nil when the tag carries no NDEF message
	Err     error
	Removed bool
	At      time.Time
}

// DeviceStatus describes the reader connection.
type DeviceStatus struct {
	Connected   bool
	Message     string
	CardPresent bool
}

// Reader polls an NFC device and emits TagEvents for new tags, changed
// content and removals. A tag left on the reader is reported once.
type Reader struct {
	PollInterval time.Duration

	deviceManager *DeviceManager
	cache         *TagCache
	events        chan TagEvent
	statusChan    chan DeviceStatus
	stopChan      chan struct{}
	stopOnce      sync.Once
	workerWg      sync.WaitGroup
}

// NewReader creates a Reader for deviceStr (empty for the first device).
func NewReader(deviceStr string, manager Manager) (*Reader, error) {
	if manager == nil {
		return nil, fmt.Errorf("NFC manager cannot be nil")
	}
	return &Reader{
		PollInterval:  DefaultPollingInterval,
		deviceManager: NewDeviceManager(manager, deviceStr),
		cache:         NewTagCache(),
		events:        make(chan TagEvent, 16),
		statusChan:    make(chan DeviceStatus, 1),
		stopChan:      make(chan struct{}),
	}, nil
}

// DeviceManager exposes the connection manager, mainly to tune its policy.
func (r *Reader) DeviceManager() *DeviceManager {
	return r.deviceManager
}

// SetRemovalGrace sets how long a tag may be missed before it is reported
// as removed.
func (r *Reader) SetRemovalGrace(d time.Duration) {
	r.cache.SetGrace(d)
}

// Connect opens the device synchronously so callers can report a missing
// reader before starting the worker. It returns ErrNoDevice when no reader
// is attached.
func (r *Reader) Connect() error {
	if err := r.deviceManager.TryConnect(); err != nil {
		return err
	}
	r.logDeviceInfo()
	r.broadcastDeviceStatus()
	return nil
}

// Start launches the polling worker.
func (r *Reader) Start() {
	r.workerWg.Add(1)
	go r.worker()
}

// Stop signals the worker and waits for it to close the device.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.workerWg.Wait()
}

// Events delivers tag events until the reader stops.
func (r *Reader) Events() <-chan TagEvent {
	return r.events
}

// StatusUpdates delivers connection changes. Updates are dropped when
// nobody listens.
func (r *Reader) StatusUpdates() <-chan DeviceStatus {
	return r.statusChan
}

// GetDeviceStatus returns the live connection state.
func (r *Reader) GetDeviceStatus() DeviceStatus {
	status := DeviceStatus{
		Connected:   r.deviceManager.HasDevice(),
		CardPresent: r.cache.Len() > 0,
	}
	switch {
	case status.Connected:
		if dev := r.deviceManager.Device(); dev != nil {
			status.Message = fmt.Sprintf("Connected to %s", dev.String())
		} else {
			status.Message = "Connected"
		}
	case r.deviceManager.InCooldown():
		status.Message = "Device in cooldown"
	default:
		status.Message = "Not connected"
	}
	return status
}

func (r *Reader) worker() {
	defer r.workerWg.Done()
	log.Println("NFC reader worker started.")

	deviceCheck := time.NewTicker(DeviceCheckInterval)
	removalCheck := time.NewTicker(RemovalCheckInterval)
	retryCount := 0

	defer func() {
		deviceCheck.Stop()
		removalCheck.Stop()
		r.deviceManager.Close()
		r.broadcastDeviceStatus("Worker stopped, device disconnected.")
		log.Println("NFC reader worker stopped.")
	}()

	for {
		select {
		case <-r.stopChan:
			return

		case <-deviceCheck.C:
			r.handleDeviceCheck(&retryCount)

		case <-removalCheck.C:
			for _, uid := range r.cache.Sweep() {
				r.emit(TagEvent{UID: uid, Removed: true, At: time.Now()})
			}

		case <-r.deviceManager.CooldownChannel():
			r.deviceManager.EndCooldown(r.stopChan)

		default:
			if !r.deviceManager.HasDevice() || r.deviceManager.InCooldown() {
				r.sleep(DeviceIdleCheckInterval)
				continue
			}

			tags, err := r.getTags()
			if err != nil {
				r.handleDeviceErrors(err, &retryCount)
				continue
			}
			retryCount = 0

			for _, tag := range tags {
				r.handleTag(tag)
			}
			r.sleep(r.PollInterval)
		}
	}
}

func (r *Reader) sleep(d time.Duration) {
	select {
	case <-r.stopChan:
	case <-time.After(d):
	}
}

func (r *Reader) handleDeviceCheck(retryCount *int) {
	if r.deviceManager.HasDevice() || r.deviceManager.InCooldown() {
		return
	}
	if err := r.deviceManager.TryConnect(); err != nil {
		log.Printf("Device check: connection attempt failed: %v", err)
		r.broadcastDeviceStatus(fmt.Sprintf("Connection failed: %v", err))
		return
	}
	*retryCount = 0
	r.logDeviceInfo()
	r.broadcastDeviceStatus()
}

func (r *Reader) handleDeviceErrors(err error, retryCount *int) {
	newRetryCount, cooling := r.deviceManager.HandleError(err, *retryCount, r.stopChan)
	*retryCount = newRetryCount

	if cooling {
		r.broadcastDeviceStatus("Device in cooldown")
		return
	}
	if r.deviceManager.HasDevice() {
		r.broadcastDeviceStatus()
		return
	}

	if !IsIOError(err) && !IsDeviceConfigError(err) && !IsTimeoutError(err) && !IsDeviceClosedError(err) {
		log.Printf("Unhandled error from GetTags: %v", err)
		r.emit(TagEvent{Err: fmt.Errorf("get tags error: %w", err), At: time.Now()})
		r.sleep(UnhandledErrorRetryInterval)
	}
}

// handleTag reads one tag and emits an event when it is new, changed, or
// newly failing. Repeated identical failures are reported once.
func (r *Reader) handleTag(tag Tag) {
	uid := tag.UID()
	ev := TagEvent{UID: uid, Type: tag.Type(), At: time.Now()}

	raw, err := tag.ReadData()
	var fingerprint []byte
	switch {
	case err != nil:
		ev.Err = err
		fingerprint = []byte("error:" + err.Error())
	case len(raw) > 0:
		fingerprint = raw
		msg, parseErr := ParseMessage(raw)
		if parseErr != nil {
			ev.Err = parseErr
		} else {
			ev.Message = msg
		}
	}

	if IsTagRemovedError(err) {
		// Left the field mid-read; the sweep reports the removal.
		r.cache.Touch(uid)
		return
	}
	if !r.cache.HasChanged(uid, fingerprint) {
		return
	}
	log.Printf("Tag data changed or new tag: UID %s (Type: %s)", uid, ev.Type)
	r.emit(ev)
}

func (r *Reader) emit(ev TagEvent) {
	select {
	case r.events <- ev:
	case <-r.stopChan:
	}
}

func (r *Reader) getTags() ([]Tag, error) {
	dev := r.deviceManager.Device()
	if dev == nil {
		return nil, fmt.Errorf("getTags: no device connected")
	}
	tags, err := dev.GetTags()
	if err != nil {
		return nil, fmt.Errorf("getTags: %w", err)
	}
	return tags, nil
}

func (r *Reader) broadcastDeviceStatus(customMessage ...string) {
	status := r.GetDeviceStatus()
	if len(customMessage) > 0 && customMessage[0] != "" {
		status.Message = customMessage[0]
	}
	select {
	case r.statusChan <- status:
	default:
	}
}

func (r *Reader) logDeviceInfo() {
	dev := r.deviceManager.Device()
	if dev == nil {
		return
	}
	log.Printf("Connected NFC device: %s (Connection: %s, Path: %s)", dev.String(), dev.Connection(), r.deviceManager.DevicePath())
}
