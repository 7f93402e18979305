package smartcard

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Status words
const (
	SW1Success  = 0x90
	SW2Success  = 0x00
	SW1MoreData = 0x61
)

// PC/SC pseudo-APDU class and instructions
const (
	CLAPCSC   = 0xFF
	INSGetUID = 0xCA
)

// Response is a parsed APDU response.
type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess reports SW1SW2 = 90 00.
func (r Response) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// StatusWord returns SW1SW2 as one value.
func (r Response) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// Err returns nil on success, or an error naming the status word.
func (r Response) Err() error {
	if r.IsSuccess() || r.SW1 == SW1MoreData {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// ParseResponse splits raw into data and status word.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, errors.New("response too short")
	}
	return Response{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildAPDU constructs a short APDU. le < 0 omits the Le byte.
func BuildAPDU(cla, ins, p1, p2 byte, data []byte, le int) []byte {
	cmd := []byte{cla, ins, p1, p2}
	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}
	if le >= 0 {
		cmd = append(cmd, byte(le))
	}
	return cmd
}

// GetUIDAPDU is FF CA 00 00 00.
func GetUIDAPDU() []byte {
	return BuildAPDU(CLAPCSC, INSGetUID, 0x00, 0x00, nil, 0)
}

// ReadUID asks the reader for the contactless UID of card. Contact cards
// answer with an error status word.
func ReadUID(card Card) (string, error) {
	raw, err := card.Transmit(GetUIDAPDU())
	if err != nil {
		return "", fmt.Errorf("GET UID failed: %w", err)
	}
	resp, err := ParseResponse(raw)
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(resp.Data)), nil
}
