package nfc

// Tag types reported by Tag.Type.
const (
	TagTypeClassic1K   = "MIFARE Classic 1K"
	TagTypeClassic4K   = "MIFARE Classic 4K"
	TagTypeUltralight  = "MIFARE Ultralight"
	TagTypeUltralightC = "MIFARE Ultralight C"
	TagTypeISO14443_4A = "ISO 14443-4A"
)

// Tag is a single tag in the reader's field.
type Tag interface {
	UID() string
	Type() string
	// ReadData returns the raw NDEF message stored on the tag with any TLV
	// framing removed. A tag without an NDEF message returns (nil, nil).
	ReadData() ([]byte, error)
}

// ReadMessage reads and decodes the NDEF message of tag. A tag without an
// NDEF message returns (nil, nil).
func ReadMessage(tag Tag) (*Message, error) {
	raw, err := tag.ReadData()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		if nfcErr, ok := err.(*NFCError); ok {
			nfcErr.TagUID = tag.UID()
		}
		return nil, err
	}
	return msg, nil
}
