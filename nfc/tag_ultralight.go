package nfc

import (
	"fmt"
	"log"

	"github.com/clausecker/freefare"
)

const (
	ultralightFirstDataPage = 4
	ultralightPages         = 16 // 64 bytes
	ultralightCPages        = 48 // 192 bytes

	// NTAG213/215/216 enumerate as Ultralight. NTAG216 user memory ends at
	// page 225, the largest of the family.
	ntag216EndPage = 226

	// Capability Container: E1 <version> <data area size / 8> <access>
	type2CCPage  = 3
	type2CCMagic = 0xE1
)

// ultralightAdapter reads NDEF data from MIFARE Ultralight and the NTAG21x
// tags freefare reports as Ultralight (NFC Forum Type 2).
type ultralightAdapter struct {
	tag freefare.UltralightTag
}

func newUltralightAdapter(tag freefare.UltralightTag) *ultralightAdapter {
	return &ultralightAdapter{tag: tag}
}

func (u *ultralightAdapter) UID() string {
	return u.tag.UID()
}

func (u *ultralightAdapter) Type() string {
	if u.tag.Type() == freefare.UltralightC {
		return TagTypeUltralightC
	}
	return TagTypeUltralight
}

// ReadData reads the data area page by page from page 4 and extracts the
// NDEF Message TLV.
func (u *ultralightAdapter) ReadData() ([]byte, error) {
	if err := u.tag.Connect(); err != nil {
		return nil, NewReadError("ReadData", u.UID(), fmt.Errorf("connect: %w", err))
	}
	defer u.tag.Disconnect()

	fallback := byte(ntag216EndPage)
	if u.tag.Type() == freefare.UltralightC {
		fallback = ultralightCPages
	}
	lastPage := type2DataEnd(u.tag.ReadPage, fallback)
	return readType2Area(u.UID(), lastPage, u.tag.ReadPage)
}

// type2DataEnd returns the page after the data area announced by the
// Capability Container. Without a valid CC it returns fallback and the
// area read stops at the first page that fails.
func type2DataEnd(readPage func(byte) ([4]byte, error), fallback byte) byte {
	cc, err := readPage(type2CCPage)
	if err != nil || cc[0] != type2CCMagic || cc[2] == 0 {
		return fallback
	}
	end := ultralightFirstDataPage + int(cc[2])*2 // 8 bytes per unit, 4 per page
	if end > 0xFF {
		end = 0xFF
	}
	return byte(end)
}

// readType2Area reads pages [4, lastPage) until the NDEF TLV is complete or
// a read fails. A read failure on the very first page is reported as tag
// removal, later failures end the area.
func readType2Area(uid string, lastPage byte, readPage func(byte) ([4]byte, error)) ([]byte, error) {
	var area []byte
	for page := byte(ultralightFirstDataPage); page < lastPage; page++ {
		data, err := readPage(page)
		if err != nil {
			if page == ultralightFirstDataPage {
				return nil, NewTagRemovedError("ReadData", uid, err)
			}
			log.Printf("ultralight ReadData: error reading page %d of %s: %v", page, uid, err)
			break
		}
		area = append(area, data[:]...)

		if ndef, found := FindNDEF(area); found {
			return ndef, nil
		}
		// A terminator before any NDEF TLV ends the search early.
		if containsTerminator(area) {
			return nil, nil
		}
	}

	ndef, _ := FindNDEF(area)
	return ndef, nil
}

func containsTerminator(area []byte) bool {
	offset := 0
	for offset < len(area) {
		switch area[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return true
		}
		length, valueStart, ok := tlvLength(area[offset:])
		if !ok {
			return false
		}
		offset += valueStart + length
	}
	return false
}
