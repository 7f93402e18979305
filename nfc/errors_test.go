package nfc

import (
	"errors"
	"fmt"
	"testing"
)

func TestNFCError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *NFCError
		expected string
	}{
		{
			name:     "with op and message",
			err:      NewNotSupportedError("ReadData"),
			expected: "ReadData: operation not supported",
		},
		{
			name:     "with tag and cause",
			err:      NewReadError("ReadData", "04A1B2C3", errors.New("connection lost")),
			expected: "ReadData: read failed (tag 04A1B2C3): connection lost",
		},
		{
			name:     "message only",
			err:      ErrNoDevice,
			expected: "no NFC reader found",
		},
		{
			name:     "formatted invalid data",
			err:      Errorf("ParseMessage", "record at offset %d overruns", 7),
			expected: "ParseMessage: record at offset 7 overruns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNFCError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewTagRemovedError("ReadData", "01", cause))

	if !errors.Is(err, &NFCError{Code: ErrCodeTagRemoved}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &NFCError{Code: ErrCodeAuthFailed}) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !IsTagRemovedError(err) {
		t.Error("IsTagRemovedError should be true")
	}
	if GetErrorCode(errors.New("plain")) != 0 {
		t.Error("plain errors have no code")
	}
}

func TestIsNoDeviceError(t *testing.T) {
	if !IsNoDeviceError(fmt.Errorf("connect: %w", ErrNoDevice)) {
		t.Error("wrapped ErrNoDevice should be detected")
	}
	if IsNoDeviceError(ErrTimeout) {
		t.Error("timeout is not a missing device")
	}
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"timeout sentinel", ErrTimeout, IsTimeoutError, true},
		{"timeout string", errors.New("libnfc: Operation timed out"), IsTimeoutError, true},
		{"closed sentinel", fmt.Errorf("x: %w", ErrDeviceClosed), IsDeviceClosedError, true},
		{"io string", errors.New("write: broken pipe"), IsIOError, true},
		{"io sentinel", ErrIO, IsIOError, true},
		{"config string", errors.New("Unable to write to USB"), IsDeviceConfigError, true},
		{"config sentinel", ErrDeviceConfig, IsDeviceConfigError, true},
		{"libnfc removal string", errors.New("Target was removed"), IsTagRemovedError, true},
		{"auth", NewAuthError("ReadData", "01", nil), IsAuthError, true},
		{"nil timeout", nil, IsTimeoutError, false},
		{"nil io", nil, IsIOError, false},
		{"unrelated", errors.New("something else"), IsIOError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsCooldown(t *testing.T) {
	if !needsCooldown(errors.New("RDR_to_PC_DataBlock failed")) {
		t.Error("ACR122 data block error needs cooldown")
	}
	if needsCooldown(errors.New("input / output error")) {
		t.Error("plain IO error does not need cooldown")
	}
}
