package nfc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Type Name Format values (NDEF record header bits 0-2).
const (
	TNFEmpty     byte = 0x00
	TNFWellKnown byte = 0x01
	TNFMedia     byte = 0x02
	TNFAbsURI    byte = 0x03
	TNFExternal  byte = 0x04
	TNFUnknown   byte = 0x05
	TNFUnchanged byte = 0x06
	TNFReserved  byte = 0x07
)

// NDEF record header flags.
const (
	flagMB = 0x80 // Message Begin
	flagME = 0x40 // Message End
	flagCF = 0x20 // Chunk Flag
	flagSR = 0x10 // Short Record
	flagIL = 0x08 // ID Length present
)

// uriPrefixes is the NFC Forum URI Record Type Definition abbreviation
// table, indexed by identifier code. Codes past the end are reserved and
// expand to nothing.
var uriPrefixes = [...]string{
	0x00: "",
	0x01: "http://www.",
	0x02: "https://www.",
	0x03: "http://",
	0x04: "https://",
	0x05: "tel:",
	0x06: "mailto:",
	0x07: "ftp://anonymous:anonymous@",
	0x08: "ftp://ftp.",
	0x09: "ftps://",
	0x0A: "sftp://",
	0x0B: "smb://",
	0x0C: "nfs://",
	0x0D: "ftp://",
	0x0E: "dav://",
	0x0F: "news:",
	0x10: "telnet://",
	0x11: "imap:",
	0x12: "rtsp://",
	0x13: "urn:",
	0x14: "pop:",
	0x15: "sip:",
	0x16: "sips:",
	0x17: "tftp:",
	0x18: "btspp://",
	0x19: "btl2cap://",
	0x1A: "btgoep://",
	0x1B: "tcpobex://",
	0x1C: "irdaobex://",
	0x1D: "file://",
	0x1E: "urn:epc:id:",
	0x1F: "urn:epc:tag:",
	0x20: "urn:epc:pat:",
	0x21: "urn:epc:raw:",
	0x22: "urn:epc:",
	0x23: "urn:nfc:",
}

// Record is a single NDEF record. Chunked records are reassembled by
// ParseMessage, so a Record always carries its complete payload.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
}

// Message is an ordered list of NDEF records.
type Message struct {
	Records []Record
}

// IsText reports whether r is a well-known Text record.
func (r Record) IsText() bool {
	return r.TNF == TNFWellKnown && bytes.Equal(r.Type, []byte("T"))
}

// IsURI reports whether r is a well-known URI record.
func (r Record) IsURI() bool {
	return r.TNF == TNFWellKnown && bytes.Equal(r.Type, []byte("U"))
}

// Text decodes a Text record. ok is false for any other record type.
func (r Record) Text() (text, lang string, ok bool) {
	if !r.IsText() {
		return "", "", false
	}
	text, lang, err := ParseTextPayload(r.Payload)
	if err != nil {
		return "", "", false
	}
	return text, lang, true
}

// URI decodes a URI record with its prefix expanded.
func (r Record) URI() (string, bool) {
	if !r.IsURI() {
		return "", false
	}
	uri, err := ParseURIPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return uri, true
}

// NewTextRecord builds a UTF-8 Text record.
func NewTextRecord(text, lang string) Record {
	return Record{TNF: TNFWellKnown, Type: []byte("T"), Payload: MakeTextPayload(text, lang)}
}

// NewURIRecord builds a URI record, abbreviating the longest known prefix.
func NewURIRecord(uri string) Record {
	return Record{TNF: TNFWellKnown, Type: []byte("U"), Payload: MakeURIPayload(uri)}
}

// FirstURI returns the first URI record in the message.
func (m *Message) FirstURI() (string, bool) {
	for _, r := range m.Records {
		if uri, ok := r.URI(); ok {
			return uri, true
		}
	}
	return "", false
}

// FirstText returns the first Text record in the message.
func (m *Message) FirstText() (string, bool) {
	for _, r := range m.Records {
		if text, _, ok := r.Text(); ok {
			return text, true
		}
	}
	return "", false
}

// ParseTextPayload decodes a Text record payload: a status byte (bit 7
// set for UTF-16, bits 0-5 language code length), the IANA language code
// and the text itself.
func ParseTextPayload(payload []byte) (text, lang string, err error) {
	if len(payload) < 1 {
		return "", "", Errorf("ParseTextPayload", "text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	isUTF16 := status&0x80 != 0

	textStart := 1 + langLength
	if textStart > len(payload) {
		return "", "", Errorf("ParseTextPayload", "text record payload too short (language code missing)")
	}
	lang = string(payload[1:textStart])
	textBytes := payload[textStart:]

	if !isUTF16 {
		return string(textBytes), lang, nil
	}
	if len(textBytes)%2 != 0 {
		return "", "", Errorf("ParseTextPayload", "invalid UTF-16 text length: %d", len(textBytes))
	}
	return decodeUTF16(textBytes), lang, nil
}

// decodeUTF16 honours a byte order mark and defaults to big endian.
func decodeUTF16(b []byte) string {
	var order binary.ByteOrder = binary.BigEndian
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		case b[0] == 0xFF && b[1] == 0xFE:
			order = binary.LittleEndian
			b = b[2:]
		}
	}
	u16s := make([]uint16, len(b)/2)
	for i := range u16s {
		u16s[i] = order.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16s))
}

// MakeTextPayload creates a UTF-8 Text record payload.
func MakeTextPayload(text, lang string) []byte {
	if lang == "" {
		lang = "en"
	}
	langCode := []byte(lang)
	if len(langCode) > 0x3F {
		langCode = langCode[:0x3F]
	}
	payload := make([]byte, 0, 1+len(langCode)+len(text))
	payload = append(payload, byte(len(langCode)))
	payload = append(payload, langCode...)
	return append(payload, text...)
}

// ParseURIPayload expands a URI record payload.
func ParseURIPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", Errorf("ParseURIPayload", "URI record payload too short")
	}
	return URIPrefix(payload[0]) + string(payload[1:]), nil
}

// URIPrefix returns the expansion of an identifier code.
func URIPrefix(code byte) string {
	if int(code) < len(uriPrefixes) {
		return uriPrefixes[code]
	}
	return ""
}

// MakeURIPayload abbreviates uri with the longest matching prefix.
func MakeURIPayload(uri string) []byte {
	best := 0
	for code := 1; code < len(uriPrefixes); code++ {
		p := uriPrefixes[code]
		if strings.HasPrefix(uri, p) && len(p) > len(uriPrefixes[best]) {
			best = code
		}
	}
	rest := uri[len(uriPrefixes[best]):]
	payload := make([]byte, 0, 1+len(rest))
	payload = append(payload, byte(best))
	return append(payload, rest...)
}

// ParseMessage decodes raw NDEF message bytes.
func ParseMessage(data []byte) (*Message, error) {
	const op = "ParseMessage"
	if len(data) == 0 {
		return nil, Errorf(op, "empty NDEF message")
	}

	msg := &Message{}
	var chunk *Record
	offset := 0

	for offset < len(data) {
		header := data[offset]
		me := header&flagME != 0
		cf := header&flagCF != 0
		sr := header&flagSR != 0
		il := header&flagIL != 0
		tnf := header & 0x07
		pos := offset + 1

		if pos >= len(data) {
			return nil, Errorf(op, "truncated type length at offset %d", pos)
		}
		typeLength := int(data[pos])
		pos++

		var payloadLength int
		if sr {
			if pos >= len(data) {
				return nil, Errorf(op, "truncated short record payload length at offset %d", pos)
			}
			payloadLength = int(data[pos])
			pos++
		} else {
			if pos+4 > len(data) {
				return nil, Errorf(op, "truncated payload length at offset %d", pos)
			}
			payloadLength = int(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
		}

		idLength := 0
		if il {
			if pos >= len(data) {
				return nil, Errorf(op, "truncated ID length at offset %d", pos)
			}
			idLength = int(data[pos])
			pos++
		}

		if payloadLength < 0 || pos+typeLength+idLength+payloadLength > len(data) {
			return nil, Errorf(op, "record at offset %d overruns message (%d bytes)", offset, len(data))
		}
		recType := bytes.Clone(data[pos : pos+typeLength])
		pos += typeLength
		var recID []byte
		if idLength > 0 {
			recID = bytes.Clone(data[pos : pos+idLength])
			pos += idLength
		}
		payload := bytes.Clone(data[pos : pos+payloadLength])
		pos += payloadLength
		offset = pos

		switch {
		case chunk == nil && cf:
			chunk = &Record{TNF: tnf, Type: recType, ID: recID, Payload: payload}
		case chunk != nil:
			if tnf != TNFUnchanged {
				return nil, Errorf(op, "middle chunk has TNF 0x%02X, want 0x06", tnf)
			}
			chunk.Payload = append(chunk.Payload, payload...)
			if !cf {
				msg.Records = append(msg.Records, *chunk)
				chunk = nil
			}
		default:
			msg.Records = append(msg.Records, Record{TNF: tnf, Type: recType, ID: recID, Payload: payload})
		}

		if me {
			break
		}
	}

	if chunk != nil {
		return nil, Errorf(op, "message ended inside a chunked record")
	}
	return msg, nil
}

// Encode serializes the message.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Records) == 0 {
		return nil, Errorf("EncodeMessage", "cannot encode empty record list")
	}

	var out []byte
	for i, r := range m.Records {
		if len(r.Type) > 0xFF || len(r.ID) > 0xFF {
			return nil, Errorf("EncodeMessage", "record %d type or id longer than 255 bytes", i)
		}
		header := r.TNF & 0x07
		if i == 0 {
			header |= flagMB
		}
		if i == len(m.Records)-1 {
			header |= flagME
		}
		short := len(r.Payload) <= 0xFF
		if short {
			header |= flagSR
		}
		if len(r.ID) > 0 {
			header |= flagIL
		}

		out = append(out, header, byte(len(r.Type)))
		if short {
			out = append(out, byte(len(r.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
		}
		if len(r.ID) > 0 {
			out = append(out, byte(len(r.ID)))
		}
		out = append(out, r.Type...)
		out = append(out, r.ID...)
		out = append(out, r.Payload...)
	}
	return out, nil
}

// String summarizes a record for logs.
func (r Record) String() string {
	return fmt.Sprintf("TNF=0x%02X type=%q (%d bytes)", r.TNF, r.Type, len(r.Payload))
}
