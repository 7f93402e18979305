package smartcard

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Convention is the bit convention announced by TS.
type Convention string

const (
	ConventionDirect  Convention = "direct"
	ConventionInverse Convention = "inverse"
)

// ATR is a parsed ISO 7816-3 Answer-To-Reset.
type ATR struct {
	Raw        []byte
	Convention Convention
	// Protocols lists the T= values announced by the TDi bytes, or T=0
	// when there are none.
	Protocols  []int
	Historical []byte
	HasTCK     bool
	TCK        byte
	TCKValid   bool
	// Card names the contactless card when the historical bytes follow
	// the PC/SC part 3 layout.
	Card string
}

// pcscCardNames maps the PC/SC part 3 card name byte to a name.
var pcscCardNames = map[byte]string{
	0x01: "MIFARE Classic 1K",
	0x02: "MIFARE Classic 4K",
	0x03: "MIFARE Ultralight",
	0x04: "MIFARE Mini",
	0x05: "MIFARE Ultralight C",
	0x06: "MIFARE Plus 2K",
	0x07: "MIFARE Plus 4K",
	0x0A: "MIFARE Plus 2K",
	0x0B: "MIFARE Plus 4K",
	0x26: "MIFARE DESFire",
}

// pcscRID is the PC/SC registered application provider identifier.
var pcscRID = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}

// ParseATR decodes raw. The result keeps Raw even when an error is
// returned for a truncated ATR.
func ParseATR(raw []byte) (*ATR, error) {
	atr := &ATR{Raw: append([]byte(nil), raw...)}
	if len(raw) < 2 {
		return atr, fmt.Errorf("ATR too short: %d bytes", len(raw))
	}

	switch raw[0] {
	case 0x3B:
		atr.Convention = ConventionDirect
	case 0x3F:
		atr.Convention = ConventionInverse
	default:
		return atr, fmt.Errorf("invalid TS byte 0x%02X", raw[0])
	}

	t0 := raw[1]
	histLen := int(t0 & 0x0F)
	y := t0 >> 4
	pos := 2
	seen := make(map[int]bool)
	needsTCK := false

	for {
		for _, bit := range []byte{0x1, 0x2, 0x4} {
			if y&bit != 0 {
				pos++
			}
		}
		if y&0x8 == 0 {
			break
		}
		if pos >= len(raw) {
			return atr, fmt.Errorf("ATR truncated in interface bytes at offset %d", pos)
		}
		td := raw[pos]
		pos++
		proto := int(td & 0x0F)
		if proto != 0 {
			needsTCK = true
		}
		if !seen[proto] {
			seen[proto] = true
			atr.Protocols = append(atr.Protocols, proto)
		}
		y = td >> 4
	}
	if len(atr.Protocols) == 0 {
		atr.Protocols = []int{0}
	}

	if pos+histLen > len(raw) {
		return atr, fmt.Errorf("ATR truncated: %d historical bytes announced, %d available", histLen, len(raw)-pos)
	}
	atr.Historical = raw[pos : pos+histLen]
	pos += histLen

	if needsTCK {
		if pos >= len(raw) {
			return atr, fmt.Errorf("ATR missing TCK")
		}
		atr.HasTCK = true
		atr.TCK = raw[pos]
		var x byte
		for _, b := range raw[1 : pos+1] {
			x ^= b
		}
		atr.TCKValid = x == 0
	}

	atr.Card = cardName(atr.Historical)
	return atr, nil
}

// cardName finds the PC/SC part 3 pattern 80 4F len RID SS NN NN.
func cardName(hist []byte) string {
	for i := 0; i+10 < len(hist); i++ {
		if hist[i] != 0x80 || hist[i+1] != 0x4F {
			continue
		}
		if string(hist[i+3:i+8]) != string(pcscRID) {
			continue
		}
		if name, ok := pcscCardNames[hist[i+10]]; ok {
			return name
		}
	}
	return ""
}

// Hex renders the raw ATR as uppercase contiguous hex.
func (a *ATR) Hex() string {
	return strings.ToUpper(hex.EncodeToString(a.Raw))
}

// Describe renders the decoded fields on one line.
func (a *ATR) Describe() string {
	var sb strings.Builder
	sb.WriteString("Convention: ")
	sb.WriteString(string(a.Convention))

	sb.WriteString(", protocols: ")
	for i, p := range a.Protocols {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("T=")
		sb.WriteString(strconv.Itoa(p))
	}

	if len(a.Historical) > 0 {
		sb.WriteString(", historical bytes: ")
		sb.WriteString(strings.ToUpper(hex.EncodeToString(a.Historical)))
	}
	if a.HasTCK && !a.TCKValid {
		sb.WriteString(", TCK mismatch")
	}
	if a.Card != "" {
		sb.WriteString(", card: ")
		sb.WriteString(a.Card)
	}
	return sb.String()
}
