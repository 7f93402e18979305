package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Tag operation errors (100-199)
	ErrCodeNotSupported ErrorCode = iota + 100
	ErrCodeTagRemoved
	ErrCodeAuthFailed
	ErrCodeReadFailed
	ErrCodeInvalidData
	ErrCodeNoDevice
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "ReadData", "ParseMessage")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.TagUID != "" {
		sb.WriteString(" (tag ")
		sb.WriteString(e.TagUID)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNotSupportedError creates an error for unsupported operations.
func NewNotSupportedError(op string) *NFCError {
	return &NFCError{Code: ErrCodeNotSupported, Op: op, Message: "operation not supported"}
}

// NewTagRemovedError creates an error for when a tag is removed mid-operation.
func NewTagRemovedError(op, tagUID string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeTagRemoved, Op: op, TagUID: tagUID, Message: "tag removed during operation", Cause: cause}
}

// NewAuthError creates an error for authentication failures.
func NewAuthError(op, tagUID string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeAuthFailed, Op: op, TagUID: tagUID, Message: "authentication failed", Cause: cause}
}

// NewReadError creates an error for read failures.
func NewReadError(op, tagUID string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeReadFailed, Op: op, TagUID: tagUID, Message: "read failed", Cause: cause}
}

// Errorf creates an invalid-data NFCError with a formatted message.
func Errorf(op, format string, args ...any) *NFCError {
	return &NFCError{Code: ErrCodeInvalidData, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ErrNoDevice is returned when no NFC reader can be found.
var ErrNoDevice = &NFCError{Code: ErrCodeNoDevice, Message: "no NFC reader found"}

// Sentinel errors for device operations
var (
	// ErrTimeout indicates a timeout occurred during device communication
	ErrTimeout = errors.New("device operation timed out")

	// ErrDeviceClosed indicates the device connection was closed
	ErrDeviceClosed = errors.New("device closed")

	// ErrIO indicates an input/output error with the device
	ErrIO = errors.New("device I/O error")

	// ErrDeviceConfig indicates a device configuration error
	ErrDeviceConfig = errors.New("device configuration error")
)

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// IsNoDeviceError reports whether err means no reader is attached.
func IsNoDeviceError(err error) bool {
	return GetErrorCode(err) == ErrCodeNoDevice
}

// IsTagRemovedError checks if an error indicates the tag was removed.
func IsTagRemovedError(err error) bool {
	if err == nil {
		return false
	}
	if GetErrorCode(err) == ErrCodeTagRemoved {
		return true
	}
	// libnfc reports removal as plain strings
	errStr := err.Error()
	return strings.Contains(errStr, "tag removed") ||
		strings.Contains(errStr, "Target was removed")
}

// IsAuthError checks if an error indicates authentication failure.
func IsAuthError(err error) bool {
	return GetErrorCode(err) == ErrCodeAuthFailed
}

// The helpers below check the typed sentinel first and fall back to the
// strings libnfc and the USB stack produce.

func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Operation timed out") ||
		strings.Contains(errStr, "operation timed out") ||
		strings.Contains(errStr, "timeout")
}

func IsDeviceClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceClosed) {
		return true
	}
	return strings.Contains(err.Error(), "device closed")
}

func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIO) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "input / output error") ||
		strings.Contains(errStr, "Input/output error") ||
		strings.Contains(errStr, "i/o error") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "Operation not permitted")
}

func IsDeviceConfigError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceConfig) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "Device not configured") ||
		strings.Contains(errStr, "Unable to write to USB") ||
		strings.Contains(errStr, "RDR_to_PC_DataBlock")
}

// needsCooldown matches the ACR122 failure modes that only clear after the
// reader has been left alone for a while.
func needsCooldown(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "Operation not permitted") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "RDR_to_PC_DataBlock")
}
