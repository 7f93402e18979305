package nfc

import (
	"bytes"
	"testing"
)

func TestEncodeTLV_ShortMessage(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	got := EncodeTLV(TLVNDEF, data)
	want := []byte{0x03, 0x04, 0x01, 0x02, 0x03, 0x04, 0xFE}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeTLV = % X, want % X", got, want)
	}
}

func TestEncodeTLV_LongMessage(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	got := EncodeTLV(TLVNDEF, data)

	if got[0] != 0x03 || got[1] != 0xFF || got[2] != 0x01 || got[3] != 0x2C {
		t.Fatalf("unexpected long header % X", got[:4])
	}
	if !bytes.Equal(got[4:4+len(data)], data) {
		t.Error("value mismatch")
	}
	if got[len(got)-1] != TLVTerminator {
		t.Error("missing terminator")
	}
}

func TestFindNDEF(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		want      []byte
		wantFound bool
	}{
		{
			name:      "plain",
			data:      []byte{0x03, 0x02, 0xAA, 0xBB, 0xFE},
			want:      []byte{0xAA, 0xBB},
			wantFound: true,
		},
		{
			name:      "leading null and lock control TLVs",
			data:      []byte{0x00, 0x00, 0x01, 0x03, 0xA0, 0x0C, 0x34, 0x03, 0x01, 0xCC, 0xFE},
			want:      []byte{0xCC},
			wantFound: true,
		},
		{
			name:      "long form length",
			data:      append([]byte{0x03, 0xFF, 0x00, 0x02}, 0x11, 0x22, 0xFE),
			want:      []byte{0x11, 0x22},
			wantFound: true,
		},
		{
			name:      "empty NDEF TLV",
			data:      []byte{0x03, 0x00, 0xFE},
			want:      nil,
			wantFound: true,
		},
		{
			name:      "terminator first",
			data:      []byte{0xFE, 0x03, 0x01, 0xAA},
			wantFound: false,
		},
		{
			name:      "truncated value",
			data:      []byte{0x03, 0x05, 0xAA},
			wantFound: false,
		},
		{
			name:      "truncated long length",
			data:      []byte{0x03, 0xFF, 0x00},
			wantFound: false,
		},
		{
			name:      "empty area",
			data:      nil,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := FindNDEF(tt.data)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("FindNDEF = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestFindNDEF_RoundTrip(t *testing.T) {
	msg := &Message{Records: []Record{NewURIRecord("https://example.com")}}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, found := FindNDEF(EncodeTLV(TLVNDEF, raw))
	if !found || !bytes.Equal(got, raw) {
		t.Errorf("round trip mismatch: found=%v", found)
	}
}
