package nfc

import (
	"log"

	"github.com/clausecker/freefare"
)

// MIFARE Classic keys.
var (
	// publicKey is the NFC Forum key A for NDEF sectors.
	publicKey = [6]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
	// factoryKey is the transport key of blank tags.
	factoryKey = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

// classicApplicationBuffer holds the largest NFC Forum application a 4K
// tag can carry.
const classicApplicationBuffer = 4096

// classicTag is the subset of freefare.ClassicTag the adapter uses.
type classicTag interface {
	UID() string
	Type() int
	Connect() error
	Disconnect() error
	ReadMad() (*freefare.Mad, error)
	ReadApplication(mad *freefare.Mad, aid freefare.MadAid, buf []byte, key [6]byte, keyType int) (int, error)
	Authenticate(block byte, key [6]byte, keyType int) error
}

// classicAdapter reads the NFC Forum application of a MIFARE Classic tag
// through its MIFARE Application Directory.
type classicAdapter struct {
	tag classicTag
}

func newClassicAdapter(tag freefare.ClassicTag) *classicAdapter {
	return &classicAdapter{tag: tag}
}

func (c *classicAdapter) UID() string {
	return c.tag.UID()
}

func (c *classicAdapter) Type() string {
	if c.tag.Type() == freefare.Classic4k {
		return TagTypeClassic4K
	}
	return TagTypeClassic1K
}

// ReadData reads the NFC Forum application and extracts its NDEF TLV. A
// tag whose MAD is unreadable but which still answers to the factory key
// is blank and has no message.
func (c *classicAdapter) ReadData() ([]byte, error) {
	const op = "ReadData"
	uid := c.UID()

	if err := c.tag.Connect(); err != nil {
		return nil, NewTagRemovedError(op, uid, err)
	}
	defer c.tag.Disconnect()

	mad, errMad := c.tag.ReadMad()
	if errMad != nil {
		madSector := byte(0x00)
		if c.tag.Type() == freefare.Classic4k {
			madSector = 0x10
		}
		trailer := freefare.ClassicSectorLastBlock(madSector)
		if errAuth := c.tag.Authenticate(trailer, factoryKey, int(freefare.KeyA)); errAuth == nil {
			log.Printf("classic ReadData: MAD read failed on %s (%v), factory key accepted, treating as blank", uid, errMad)
			return nil, nil
		}
		return nil, NewAuthError(op, uid, errMad)
	}

	buf := make([]byte, classicApplicationBuffer)
	n, err := c.tag.ReadApplication(mad, freefare.MadNFCForumAid, buf, publicKey, int(freefare.KeyA))
	if err != nil {
		return nil, NewReadError(op, uid, err)
	}
	if n == 0 {
		return nil, nil
	}

	ndef, _ := FindNDEF(buf[:n])
	return ndef, nil
}
