package nfc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nedpals/davi-device-agent/smartcard"
)

// NFC Forum Type 4 tag commands
const (
	claISO7816       = 0x00
	insSelect        = 0xA4
	insReadBinary    = 0xB0
	p1SelectByName   = 0x04
	p1SelectByFileID = 0x00
	p2SelectNoFCI    = 0x0C

	swFileNotFound = 0x6A82

	type4CCLen      = 15
	type4NDEFFileTL = 0x04
	// maxReadChunk keeps READ BINARY within a short APDU.
	maxReadChunk = 0xFD
)

var (
	type4NDEFApp = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}
	type4CCFile  = []byte{0xE1, 0x03}
)

// type4CC is the part of the Capability Container needed to read.
type type4CC struct {
	mappingVersion byte
	maxRead        int
	ndefFile       []byte
	ndefFileSize   int
}

func parseType4CC(cc []byte) (type4CC, error) {
	if len(cc) < type4CCLen {
		return type4CC{}, fmt.Errorf("capability container too short: %d bytes", len(cc))
	}
	out := type4CC{
		mappingVersion: cc[2],
		maxRead:        int(binary.BigEndian.Uint16(cc[3:5])),
	}
	if out.mappingVersion>>4 < 2 {
		return type4CC{}, fmt.Errorf("mapping version %d.%d not supported", out.mappingVersion>>4, out.mappingVersion&0x0F)
	}
	if out.maxRead == 0 || out.maxRead > maxReadChunk {
		out.maxRead = maxReadChunk
	}

	for i := 7; i+1 < len(cc); {
		t, l := cc[i], int(cc[i+1])
		if i+2+l > len(cc) {
			break
		}
		if t == type4NDEFFileTL && l >= 6 {
			v := cc[i+2 : i+2+l]
			out.ndefFile = append([]byte(nil), v[0:2]...)
			out.ndefFileSize = int(binary.BigEndian.Uint16(v[2:4]))
			return out, nil
		}
		i += 2 + l
	}
	return type4CC{}, errors.New("capability container has no NDEF file control TLV")
}

// readType4NDEF selects the NDEF application, reads the Capability
// Container and then the NDEF file through transceive. A tag without the
// NDEF application or with an empty NDEF file returns (nil, nil).
func readType4NDEF(uid string, transceive func([]byte) ([]byte, error)) ([]byte, error) {
	exchange := func(step string, apdu []byte) ([]byte, error) {
		raw, err := transceive(apdu)
		if err != nil {
			return nil, NewTagRemovedError("ReadData", uid, fmt.Errorf("%s: %w", step, err))
		}
		resp, err := smartcard.ParseResponse(raw)
		if err != nil {
			return nil, NewReadError("ReadData", uid, fmt.Errorf("%s: %w", step, err))
		}
		if !resp.IsSuccess() {
			return nil, &apduStatusError{step: step, sw: resp.StatusWord()}
		}
		return resp.Data, nil
	}
	readFailed := func(err error) error {
		var swErr *apduStatusError
		if errors.As(err, &swErr) {
			return NewReadError("ReadData", uid, err)
		}
		return err
	}

	_, err := exchange("select NDEF application",
		smartcard.BuildAPDU(claISO7816, insSelect, p1SelectByName, 0x00, type4NDEFApp, 0))
	var swErr *apduStatusError
	if errors.As(err, &swErr) && swErr.sw == swFileNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, readFailed(err)
	}

	if _, err := exchange("select CC file",
		smartcard.BuildAPDU(claISO7816, insSelect, p1SelectByFileID, p2SelectNoFCI, type4CCFile, -1)); err != nil {
		return nil, readFailed(err)
	}
	ccData, err := exchange("read CC file",
		smartcard.BuildAPDU(claISO7816, insReadBinary, 0x00, 0x00, nil, type4CCLen))
	if err != nil {
		return nil, readFailed(err)
	}
	cc, err := parseType4CC(ccData)
	if err != nil {
		return nil, NewReadError("ReadData", uid, err)
	}

	if _, err := exchange("select NDEF file",
		smartcard.BuildAPDU(claISO7816, insSelect, p1SelectByFileID, p2SelectNoFCI, cc.ndefFile, -1)); err != nil {
		return nil, readFailed(err)
	}
	nlenData, err := exchange("read NLEN",
		smartcard.BuildAPDU(claISO7816, insReadBinary, 0x00, 0x00, nil, 2))
	if err != nil {
		return nil, readFailed(err)
	}
	if len(nlenData) < 2 {
		return nil, NewReadError("ReadData", uid, fmt.Errorf("NLEN response is %d bytes", len(nlenData)))
	}
	nlen := int(binary.BigEndian.Uint16(nlenData))
	if nlen == 0 {
		return nil, nil
	}
	if cc.ndefFileSize > 0 && nlen > cc.ndefFileSize-2 {
		return nil, NewReadError("ReadData", uid, fmt.Errorf("NLEN %d exceeds NDEF file size %d", nlen, cc.ndefFileSize))
	}

	msg := make([]byte, 0, nlen)
	for len(msg) < nlen {
		offset := 2 + len(msg)
		chunk := min(nlen-len(msg), cc.maxRead)
		data, err := exchange(fmt.Sprintf("read NDEF at %d", offset),
			smartcard.BuildAPDU(claISO7816, insReadBinary, byte(offset>>8), byte(offset), nil, chunk))
		if err != nil {
			return nil, readFailed(err)
		}
		if len(data) == 0 {
			return nil, NewReadError("ReadData", uid, fmt.Errorf("empty read at offset %d with %d bytes left", offset, nlen-len(msg)))
		}
		msg = append(msg, data[:min(len(data), nlen-len(msg))]...)
	}
	return msg, nil
}

type apduStatusError struct {
	step string
	sw   uint16
}

func (e *apduStatusError) Error() string {
	return fmt.Sprintf("%s: status %04X", e.step, e.sw)
}
