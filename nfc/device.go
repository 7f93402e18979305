package nfc

// Device represents an NFC reader hardware device obtained from a Manager.
type Device interface {
	Close() error
	InitiatorInit() error
	String() string
	Connection() string
	// GetTags polls the field once and returns every tag in range.
	GetTags() ([]Tag, error)
}

// Manager handles NFC device discovery.
//
// Example:
//
//	manager := nfc.NewManager()
//	devices, _ := manager.ListDevices()
//	device, _ := manager.OpenDevice(devices[0])
//	tags, _ := device.GetTags()
type Manager interface {
	OpenDevice(deviceStr string) (Device, error)
	ListDevices() ([]string, error)
}

// NewManager returns the libnfc/freefare backed Manager.
func NewManager() Manager {
	return &libnfcManager{}
}
