package nfc

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
)

// libnfcManager implements Manager using libnfc.
type libnfcManager struct{}

func (m *libnfcManager) OpenDevice(deviceStr string) (Device, error) {
	dev, err := nfc.Open(deviceStr)
	if err != nil {
		return nil, err
	}
	return &libnfcDevice{device: dev}, nil
}

func (m *libnfcManager) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

// libnfcDevice implements Device on top of an open libnfc device.
type libnfcDevice struct {
	device nfc.Device
}

func (d *libnfcDevice) Close() error {
	return d.device.Close()
}

func (d *libnfcDevice) InitiatorInit() error {
	return d.device.InitiatorInit()
}

func (d *libnfcDevice) String() string {
	return d.device.String()
}

func (d *libnfcDevice) Connection() string {
	return d.device.Connection()
}

// GetTags asks freefare for the MIFARE tags it knows, then lists the
// ISO14443A passive targets to pick up Type 4 tags freefare skipped.
func (d *libnfcDevice) GetTags() ([]Tag, error) {
	var found []Tag
	seen := make(map[string]bool)

	ffTags, err := freefare.GetTags(d.device)
	if err != nil {
		log.Printf("Error getting tags from freefare.GetTags: %v", err)
	} else {
		for _, ffTag := range ffTags {
			uid := strings.ToUpper(ffTag.UID())
			if seen[uid] {
				continue
			}
			seen[uid] = true

			switch t := ffTag.(type) {
			case freefare.ClassicTag:
				found = append(found, newClassicAdapter(t))
			case freefare.UltralightTag:
				found = append(found, newUltralightAdapter(t))
			default:
				log.Printf("Ignoring unsupported freefare tag: UID %s, Type %T", uid, t)
			}
		}
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, listErr := d.device.InitiatorListPassiveTargets(modulation)
	if listErr != nil {
		if err != nil && len(found) == 0 {
			return nil, fmt.Errorf("error from freefare (%v) and passive targets (%w)", err, listErr)
		}
		log.Printf("Error listing passive targets: %v", listErr)
		return found, nil
	}

	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok || isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		uid := strings.ToUpper(hex.EncodeToString(isoA.UID[:isoA.UIDLen]))
		if seen[uid] {
			continue
		}
		// SAK bit 5 marks ISO14443-4 compliance
		if isoA.Sak&0x20 != 0 {
			seen[uid] = true
			found = append(found, &iso14443Tag{
				device:   d.device,
				uid:      uid,
				uidBytes: append([]byte(nil), isoA.UID[:isoA.UIDLen]...),
			})
		}
	}

	return found, nil
}

// type4Timeout bounds one APDU exchange, in milliseconds.
const type4Timeout = 500

// iso14443Tag is an NFC Forum Type 4 tag read through ISO 7816 APDUs.
type iso14443Tag struct {
	device   nfc.Device
	uid      string
	uidBytes []byte
}

func (t *iso14443Tag) UID() string  { return t.uid }
func (t *iso14443Tag) Type() string { return TagTypeISO14443_4A }

// ReadData selects the target by UID and reads its NDEF file.
func (t *iso14443Tag) ReadData() ([]byte, error) {
	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	if _, err := t.device.InitiatorSelectPassiveTarget(modulation, t.uidBytes); err != nil {
		return nil, NewTagRemovedError("ReadData", t.uid, fmt.Errorf("select target: %w", err))
	}
	defer func() {
		if err := t.device.InitiatorDeselectTarget(); err != nil {
			log.Printf("Deselect Type 4 tag %s: %v", t.uid, err)
		}
	}()
	return readType4NDEF(t.uid, t.transceive)
}

func (t *iso14443Tag) transceive(apdu []byte) ([]byte, error) {
	var rx [262]byte
	n, err := t.device.InitiatorTransceiveBytes(apdu, rx[:], type4Timeout)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), rx[:n]...), nil
}
