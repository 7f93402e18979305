package nfc

// TLV block types found in the data area of Type 2 tags and the MIFARE
// Classic NFC Forum sectors.
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// tlvLength decodes the length field of the TLV starting at data[0] (the
// type byte). It returns the value length and the offset of the value.
// ok is false when the header is truncated.
func tlvLength(data []byte) (length, valueStart int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] != 0xFF {
		return int(data[1]), 2, true
	}
	// Long form: 0xFF followed by a 2-byte big-endian length
	if len(data) < 4 {
		return 0, 0, false
	}
	return int(data[2])<<8 | int(data[3]), 4, true
}

// FindNDEF walks a TLV area and returns the value of the first NDEF
// Message TLV. found is false when a terminator or the end of data comes
// first. A present but empty NDEF TLV yields (nil, true).
func FindNDEF(data []byte) (ndef []byte, found bool) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, false
		}

		length, valueStart, ok := tlvLength(data[offset:])
		if !ok {
			return nil, false
		}
		start := offset + valueStart
		if start+length > len(data) {
			return nil, false
		}
		if data[offset] == TLVNDEF {
			if length == 0 {
				return nil, true
			}
			return data[start : start+length], true
		}
		offset = start + length
	}
	return nil, false
}

// EncodeTLV wraps value in a TLV of the given type followed by a
// terminator TLV.
func EncodeTLV(tlvType byte, value []byte) []byte {
	out := make([]byte, 0, len(value)+5)
	out = append(out, tlvType)
	if len(value) < 0xFF {
		out = append(out, byte(len(value)))
	} else {
		out = append(out, 0xFF, byte(len(value)>>8), byte(len(value)))
	}
	out = append(out, value...)
	return append(out, TLVTerminator)
}
