// Package ble scans for and publishes Bluetooth LE advertisements that
// carry manufacturer-specific data.
package ble

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DefaultCompanyID is the Bluetooth SIG identifier reserved for testing.
const DefaultCompanyID uint16 = 0xFFFE

// MaxPayloadLen is what remains of a 31 byte legacy advertisement after the
// AD length, AD type and company ID.
const MaxPayloadLen = 27

// DefaultPayload is 0x1234 written big-endian.
var DefaultPayload = []byte{0x12, 0x34}

var (
	ErrPayloadTooLarge = fmt.Errorf("manufacturer payload exceeds %d bytes", MaxPayloadLen)
	ErrShortData       = errors.New("manufacturer data shorter than company ID")
)

// ManufacturerData is one manufacturer-specific AD structure.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// Encode writes the company ID little-endian followed by the payload.
func (m ManufacturerData) Encode() ([]byte, error) {
	if len(m.Data) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 2, 2+len(m.Data))
	binary.LittleEndian.PutUint16(out, m.CompanyID)
	return append(out, m.Data...), nil
}

// PayloadBudget is how many payload bytes fit beside localName. A name
// takes its own AD structure: the name plus a length and a type byte.
func PayloadBudget(localName string) int {
	budget := MaxPayloadLen
	if localName != "" {
		budget -= len(localName) + 2
	}
	return max(budget, 0)
}

// CheckPayload returns ErrPayloadTooLarge when payload and localName do not
// fit in one legacy advertisement.
func CheckPayload(payload []byte, localName string) error {
	budget := PayloadBudget(localName)
	if len(payload) <= budget {
		return nil
	}
	if localName == "" {
		return ErrPayloadTooLarge
	}
	return fmt.Errorf("%w: local name %q leaves room for %d bytes, got %d", ErrPayloadTooLarge, localName, budget, len(payload))
}

// DecodeManufacturerData splits raw AD data into company ID and payload.
func DecodeManufacturerData(raw []byte) (ManufacturerData, error) {
	if len(raw) < 2 {
		return ManufacturerData{}, ErrShortData
	}
	return ManufacturerData{
		CompanyID: binary.LittleEndian.Uint16(raw),
		Data:      append([]byte(nil), raw[2:]...),
	}, nil
}

// String renders "0xFFFE: 12-34".
func (m ManufacturerData) String() string {
	return fmt.Sprintf("0x%04X: %s", m.CompanyID, DashedHex(m.Data))
}

// DashedHex renders b as uppercase byte pairs joined by dashes.
func DashedHex(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, "-")
}

// ParsePayload accepts hex with optional 0x prefix and dash, colon or space
// separators.
func ParsePayload(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer("-", "", ":", "", " ", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid payload hex %q: %w", s, err)
	}
	if len(b) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}
