package nfc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// fakeType4 answers SELECT and READ BINARY like an NDEF Type 4 tag.
type fakeType4 struct {
	noNDEFApp bool
	files     map[string][]byte
	selected  []byte
	failAfter int // transceive fails after this many commands, 0 never
	commands  [][]byte
}

func newFakeType4(message []byte, maxRead uint16) *fakeType4 {
	// CCLEN, mapping version 2.0, MLe, MLc, NDEF file control TLV for
	// E104 holding 2048 bytes, read free, write denied
	cc := []byte{
		0x00, 0x0F,
		0x20,
		byte(maxRead >> 8), byte(maxRead),
		0x00, 0x3B,
		0x04, 0x06, 0xE1, 0x04, 0x08, 0x00, 0x00, 0xFF,
	}
	ndef := make([]byte, 2, 2+len(message))
	binary.BigEndian.PutUint16(ndef, uint16(len(message)))
	ndef = append(ndef, message...)
	return &fakeType4{files: map[string][]byte{"E103": cc, "E104": ndef}}
}

func (f *fakeType4) transceive(apdu []byte) ([]byte, error) {
	f.commands = append(f.commands, apdu)
	if f.failAfter > 0 && len(f.commands) > f.failAfter {
		return nil, errors.New("target lost")
	}
	switch apdu[1] {
	case insSelect:
		lc := int(apdu[4])
		name := apdu[5 : 5+lc]
		if apdu[2] == p1SelectByName {
			if f.noNDEFApp || !bytes.Equal(name, type4NDEFApp) {
				return []byte{0x6A, 0x82}, nil
			}
			return []byte{0x90, 0x00}, nil
		}
		key := bytesToHex(name)
		if _, ok := f.files[key]; !ok {
			return []byte{0x6A, 0x82}, nil
		}
		f.selected = name
		return []byte{0x90, 0x00}, nil
	case insReadBinary:
		file := f.files[bytesToHex(f.selected)]
		offset := int(apdu[2])<<8 | int(apdu[3])
		le := int(apdu[4])
		if offset > len(file) {
			return []byte{0x6B, 0x00}, nil
		}
		end := min(offset+le, len(file))
		return append(append([]byte(nil), file[offset:end]...), 0x90, 0x00), nil
	}
	return []byte{0x6D, 0x00}, nil
}

func bytesToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func TestReadType4NDEF(t *testing.T) {
	msg := &Message{Records: []Record{
		NewURIRecord("https://example.com/type4"),
		NewTextRecord("a Type 4 tag carrying more than one short read worth of text", "en"),
	}}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	t.Run("single read", func(t *testing.T) {
		tag := newFakeType4(raw, 0x00FF)
		got, err := readType4NDEF("04112233445566", tag.transceive)
		if err != nil {
			t.Fatalf("readType4NDEF: %v", err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("got % X, want % X", got, raw)
		}
	})

	t.Run("chunked by MLe", func(t *testing.T) {
		tag := newFakeType4(raw, 16)
		got, err := readType4NDEF("04112233445566", tag.transceive)
		if err != nil {
			t.Fatalf("readType4NDEF: %v", err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("got % X, want % X", got, raw)
		}
		// app, CC select, CC read, NDEF select, NLEN, then the chunks
		wantReads := (len(raw) + 15) / 16
		if n := len(tag.commands) - 5; n != wantReads {
			t.Errorf("%d chunk reads, want %d", n, wantReads)
		}
	})

	t.Run("decodes", func(t *testing.T) {
		tag := newFakeType4(raw, 0)
		got, err := readType4NDEF("04112233445566", tag.transceive)
		if err != nil {
			t.Fatalf("readType4NDEF: %v", err)
		}
		parsed, err := ParseMessage(got)
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		if len(parsed.Records) != 2 {
			t.Fatalf("got %d records", len(parsed.Records))
		}
	})

	t.Run("no NDEF application", func(t *testing.T) {
		tag := newFakeType4(raw, 0)
		tag.noNDEFApp = true
		got, err := readType4NDEF("04112233445566", tag.transceive)
		if err != nil || got != nil {
			t.Errorf("got (% X, %v), want (nil, nil)", got, err)
		}
	})

	t.Run("empty NDEF file", func(t *testing.T) {
		tag := newFakeType4(nil, 0)
		got, err := readType4NDEF("04112233445566", tag.transceive)
		if err != nil || got != nil {
			t.Errorf("got (% X, %v), want (nil, nil)", got, err)
		}
	})

	t.Run("missing NDEF file", func(t *testing.T) {
		tag := newFakeType4(raw, 0)
		delete(tag.files, "E104")
		_, err := readType4NDEF("04112233445566", tag.transceive)
		if GetErrorCode(err) != ErrCodeReadFailed {
			t.Errorf("expected read error, got %v", err)
		}
	})

	t.Run("tag leaves mid read", func(t *testing.T) {
		tag := newFakeType4(raw, 16)
		tag.failAfter = 6
		_, err := readType4NDEF("04112233445566", tag.transceive)
		if !IsTagRemovedError(err) {
			t.Errorf("expected tag removed error, got %v", err)
		}
	})
}

func TestParseType4CC(t *testing.T) {
	good := newFakeType4(nil, 0x0040).files["E103"]

	cc, err := parseType4CC(good)
	if err != nil {
		t.Fatalf("parseType4CC: %v", err)
	}
	if !bytes.Equal(cc.ndefFile, []byte{0xE1, 0x04}) || cc.ndefFileSize != 0x0800 || cc.maxRead != 0x40 {
		t.Errorf("parsed %+v", cc)
	}

	old := append([]byte(nil), good...)
	old[2] = 0x10
	if _, err := parseType4CC(old); err == nil {
		t.Error("mapping version 1.0 accepted")
	}

	noTLV := append([]byte(nil), good...)
	noTLV[7] = 0x05
	if _, err := parseType4CC(noTLV); err == nil {
		t.Error("CC without NDEF file control TLV accepted")
	}

	if _, err := parseType4CC(good[:10]); err == nil {
		t.Error("short CC accepted")
	}
}
