package ble

import "fmt"

// AD types used here
const (
	ADFlags            = 0x01
	ADShortLocalName   = 0x08
	ADCompleteName     = 0x09
	ADManufacturerData = 0xFF
)

// ADStructure is one length-type-value element of an advertisement.
type ADStructure struct {
	Type byte
	Data []byte
}

// ParseAdvertisingData splits a raw advertising payload. A zero length byte
// ends the payload early, as padding does on some controllers.
func ParseAdvertisingData(raw []byte) ([]ADStructure, error) {
	var ads []ADStructure
	for pos := 0; pos < len(raw); {
		n := int(raw[pos])
		if n == 0 {
			break
		}
		if pos+1+n > len(raw) {
			return ads, fmt.Errorf("AD structure at offset %d overruns payload: length %d, %d bytes left", pos, n, len(raw)-pos-1)
		}
		ads = append(ads, ADStructure{Type: raw[pos+1], Data: raw[pos+2 : pos+1+n]})
		pos += 1 + n
	}
	return ads, nil
}

// ManufacturerDataFromAD returns every decodable manufacturer AD structure.
func ManufacturerDataFromAD(ads []ADStructure) []ManufacturerData {
	var out []ManufacturerData
	for _, ad := range ads {
		if ad.Type != ADManufacturerData {
			continue
		}
		if md, err := DecodeManufacturerData(ad.Data); err == nil {
			out = append(out, md)
		}
	}
	return out
}

// LocalNameFromAD prefers the complete local name over the shortened one.
func LocalNameFromAD(ads []ADStructure) string {
	short := ""
	for _, ad := range ads {
		switch ad.Type {
		case ADCompleteName:
			return string(ad.Data)
		case ADShortLocalName:
			short = string(ad.Data)
		}
	}
	return short
}
