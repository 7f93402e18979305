package nfc

import (
	"bytes"
	"strings"
	"testing"
)

func TestTextRecordEncodeDecode(t *testing.T) {
	tests := []struct {
		text     string
		lang     string
		wantLang string
	}{
		{"Hello NFC World!", "en", "en"},
		{"Bonjour", "fr", "fr"},
		{"こんにちは", "ja", "ja"},
		{"", "de", "de"},
		{"Test", "", "en"},
	}

	for _, tt := range tests {
		msg := &Message{Records: []Record{NewTextRecord(tt.text, tt.lang)}}
		raw, err := msg.Encode()
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.text, err)
		}

		parsed, err := ParseMessage(raw)
		if err != nil {
			t.Fatalf("ParseMessage(%q): %v", tt.text, err)
		}
		if len(parsed.Records) != 1 {
			t.Fatalf("got %d records, want 1", len(parsed.Records))
		}
		text, lang, ok := parsed.Records[0].Text()
		if !ok {
			t.Fatalf("record for %q is not a text record", tt.text)
		}
		if text != tt.text || lang != tt.wantLang {
			t.Errorf("got (%q, %q), want (%q, %q)", text, lang, tt.text, tt.wantLang)
		}
	}
}

func TestParseTextPayload_UTF16(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{
			name:    "big endian BOM",
			payload: []byte{0x82, 'e', 'n', 0xFE, 0xFF, 0x00, 'H', 0x00, 'i'},
			want:    "Hi",
		},
		{
			name:    "little endian BOM",
			payload: []byte{0x82, 'e', 'n', 0xFF, 0xFE, 'H', 0x00, 'i', 0x00},
			want:    "Hi",
		},
		{
			name:    "no BOM defaults to big endian",
			payload: []byte{0x82, 'e', 'n', 0x00, 'O', 0x00, 'K'},
			want:    "OK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, lang, err := ParseTextPayload(tt.payload)
			if err != nil {
				t.Fatalf("ParseTextPayload: %v", err)
			}
			if text != tt.want || lang != "en" {
				t.Errorf("got (%q, %q), want (%q, \"en\")", text, lang, tt.want)
			}
		})
	}
}

func TestParseTextPayload_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"language longer than payload", []byte{0x05, 'e', 'n'}},
		{"odd UTF-16 length", []byte{0x80, 0x00, 0x41, 0x42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseTextPayload(tt.payload); err == nil {
				t.Error("expected error")
			} else if GetErrorCode(err) != ErrCodeInvalidData {
				t.Errorf("error code = %d, want ErrCodeInvalidData", GetErrorCode(err))
			}
		})
	}
}

func TestURIPrefixTable(t *testing.T) {
	tests := []struct {
		code byte
		want string
	}{
		{0x00, ""},
		{0x01, "http://www."},
		{0x04, "https://"},
		{0x06, "mailto:"},
		{0x07, "ftp://anonymous:anonymous@"},
		{0x1D, "file://"},
		{0x23, "urn:nfc:"},
		{0x24, ""},
		{0xFF, ""},
	}
	for _, tt := range tests {
		if got := URIPrefix(tt.code); got != tt.want {
			t.Errorf("URIPrefix(0x%02X) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestURIRecord_LongestPrefix(t *testing.T) {
	tests := []struct {
		uri      string
		wantCode byte
	}{
		{"https://www.example.com", 0x02},
		{"https://example.com", 0x04},
		{"http://www.example.com", 0x01},
		{"tel:+15551234", 0x05},
		{"urn:epc:id:sgtin:1", 0x1E},
		{"urn:epc:other", 0x22},
		{"urn:isbn:123", 0x13},
		{"ftp://ftp.example.com", 0x08},
		{"custom:thing", 0x00},
	}

	for _, tt := range tests {
		rec := NewURIRecord(tt.uri)
		if rec.Payload[0] != tt.wantCode {
			t.Errorf("%s: code 0x%02X, want 0x%02X", tt.uri, rec.Payload[0], tt.wantCode)
		}
		got, ok := rec.URI()
		if !ok || got != tt.uri {
			t.Errorf("%s: round trip got (%q, %v)", tt.uri, got, ok)
		}
	}
}

func TestParseMessage_MultipleRecords(t *testing.T) {
	msg := &Message{Records: []Record{
		NewURIRecord("https://example.com"),
		NewTextRecord("hello", "en"),
		{TNF: TNFMedia, Type: []byte("application/json"), ID: []byte("1"), Payload: []byte(`{}`)},
	}}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if raw[0]&flagMB == 0 || raw[0]&flagME != 0 {
		t.Errorf("first header 0x%02X should have MB and not ME", raw[0])
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(parsed.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(parsed.Records))
	}
	if uri, ok := parsed.FirstURI(); !ok || uri != "https://example.com" {
		t.Errorf("FirstURI = (%q, %v)", uri, ok)
	}
	if text, ok := parsed.FirstText(); !ok || text != "hello" {
		t.Errorf("FirstText = (%q, %v)", text, ok)
	}
	media := parsed.Records[2]
	if media.TNF != TNFMedia || string(media.ID) != "1" || string(media.Payload) != "{}" {
		t.Errorf("media record mismatch: %+v", media)
	}
}

func TestParseMessage_LongRecord(t *testing.T) {
	text := strings.Repeat("x", 300)
	msg := &Message{Records: []Record{NewTextRecord(text, "en")}}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw[0]&flagSR != 0 {
		t.Error("long record should not have SR flag set")
	}
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got, _ := parsed.FirstText(); got != text {
		t.Errorf("long text mismatch: got %d bytes", len(got))
	}
}

func TestParseMessage_Chunked(t *testing.T) {
	// "T" record split into three chunks: status+lang, "Hel", "lo"
	raw := []byte{
		flagMB | flagCF | flagSR | TNFWellKnown, 0x01, 0x03, 'T', 0x02, 'e', 'n',
		flagCF | flagSR | TNFUnchanged, 0x00, 0x03, 'H', 'e', 'l',
		flagME | flagSR | TNFUnchanged, 0x00, 0x02, 'l', 'o',
	}
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(parsed.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(parsed.Records))
	}
	text, lang, ok := parsed.Records[0].Text()
	if !ok || text != "Hello" || lang != "en" {
		t.Errorf("got (%q, %q, %v)", text, lang, ok)
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", []byte{0xD1}},
		{"payload overruns", []byte{0xD1, 0x01, 0x10, 'T', 0x02}},
		{"long length truncated", []byte{0xC1, 0x01, 0x00, 0x00}},
		{"unterminated chunk", []byte{flagMB | flagCF | flagSR | TNFWellKnown, 0x01, 0x01, 'T', 0x00}},
		{"bad middle chunk TNF", []byte{
			flagMB | flagCF | flagSR | TNFWellKnown, 0x01, 0x01, 'T', 0x00,
			flagME | flagSR | TNFWellKnown, 0x00, 0x01, 'x',
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseMessage_StopsAtMessageEnd(t *testing.T) {
	msg := &Message{Records: []Record{NewTextRecord("a", "en")}}
	raw, _ := msg.Encode()
	raw = append(raw, 0x00, 0x00, 0xFE)

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage with trailing bytes: %v", err)
	}
	if len(parsed.Records) != 1 {
		t.Errorf("got %d records, want 1", len(parsed.Records))
	}
}

func TestEncode_EmptyMessage(t *testing.T) {
	if _, err := (&Message{}).Encode(); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestRecordString(t *testing.T) {
	r := Record{TNF: TNFExternal, Type: []byte("example.com:x"), Payload: bytes.Repeat([]byte{1}, 4)}
	want := `TNF=0x04 type="example.com:x" (4 bytes)`
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
