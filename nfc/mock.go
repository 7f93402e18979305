package nfc

import (
	"fmt"
	"sync"
)

// MockManager is a Manager that hands out a MockDevice.
//
// Example:
//
//	manager := nfc.NewMockManager()
//	manager.MockDevice.SetTags([]nfc.Tag{nfc.NewMockTag("04A1B2C3")})
//	reader, _ := nfc.NewReader("", manager)
type MockManager struct {
	// DevicesList is returned by ListDevices
	DevicesList []string

	// ListDevicesError, if set, is returned by ListDevices
	ListDevicesError error

	// MockDevice is returned by OpenDevice
	MockDevice *MockDevice

	// OpenDeviceError, if set, is returned by OpenDevice
	OpenDeviceError error

	// CallLog records method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockManager creates a MockManager listing one device.
func NewMockManager() *MockManager {
	return &MockManager{
		DevicesList: []string{"mock:usb:001"},
		MockDevice:  NewMockDevice(),
	}
}

func (m *MockManager) OpenDevice(deviceStr string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("OpenDevice(%s)", deviceStr))
	if m.OpenDeviceError != nil {
		return nil, m.OpenDeviceError
	}
	if m.MockDevice == nil {
		m.MockDevice = NewMockDevice()
	}
	m.MockDevice.reopen(deviceStr)
	return m.MockDevice, nil
}

func (m *MockManager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "ListDevices")
	if m.ListDevicesError != nil {
		return nil, m.ListDevicesError
	}
	return append([]string(nil), m.DevicesList...), nil
}

// Calls returns a copy of the call log.
func (m *MockManager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// MockDevice simulates NFC reader hardware.
type MockDevice struct {
	// DeviceName is returned by String
	DeviceName string

	// DeviceConnection is returned by Connection
	DeviceConnection string

	// InitError, if set, is returned by InitiatorInit
	InitError error

	// GetTagsFunc overrides the tags/error pair when set
	GetTagsFunc func() ([]Tag, error)

	isOpen       bool
	tags         []Tag
	getTagsError error
	closeCount   int
	mu           sync.Mutex
}

// NewMockDevice creates an open MockDevice with no tags.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock NFC Reader",
		DeviceConnection: "mock:usb:001",
		isOpen:           true,
	}
}

func (m *MockDevice) reopen(conn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOpen = true
	m.DeviceConnection = conn
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOpen {
		return fmt.Errorf("device already closed")
	}
	m.isOpen = false
	m.closeCount++
	return nil
}

func (m *MockDevice) InitiatorInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOpen {
		return fmt.Errorf("device not open")
	}
	return m.InitError
}

func (m *MockDevice) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceName
}

func (m *MockDevice) Connection() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceConnection
}

func (m *MockDevice) GetTags() ([]Tag, error) {
	m.mu.Lock()
	fn := m.GetTagsFunc
	tags := append([]Tag(nil), m.tags...)
	err := m.getTagsError
	open := m.isOpen
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	if !open {
		return nil, ErrDeviceClosed
	}
	return tags, err
}

// SetTags replaces the tags in the simulated field.
func (m *MockDevice) SetTags(tags []Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = tags
}

// SetGetTagsError makes GetTags fail with err (nil clears it).
func (m *MockDevice) SetGetTagsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getTagsError = err
}

// IsOpen reports whether the device is open.
func (m *MockDevice) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// CloseCount returns how many times the device was closed.
func (m *MockDevice) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// MockTag simulates a tag carrying a raw NDEF message.
type MockTag struct {
	TagUID  string
	TagType string

	// Data is the raw NDEF message returned by ReadData
	Data []byte

	// ReadDataError, if set, is returned by ReadData
	ReadDataError error

	reads int
	mu    sync.Mutex
}

// NewMockTag creates a MIFARE Ultralight MockTag with no message.
func NewMockTag(uid string) *MockTag {
	return &MockTag{TagUID: uid, TagType: TagTypeUltralight}
}

// NewMockTagWithMessage creates a MockTag carrying msg.
func NewMockTagWithMessage(uid string, msg *Message) *MockTag {
	t := NewMockTag(uid)
	data, err := msg.Encode()
	if err != nil {
		panic(fmt.Sprintf("encode mock tag message: %v", err))
	}
	t.Data = data
	return t
}

func (t *MockTag) UID() string  { return t.TagUID }
func (t *MockTag) Type() string { return t.TagType }

func (t *MockTag) ReadData() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	if t.ReadDataError != nil {
		return nil, t.ReadDataError
	}
	return append([]byte(nil), t.Data...), nil
}

// Reads returns how many times ReadData was called.
func (t *MockTag) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}
