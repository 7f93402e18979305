package server

import "github.com/nedpals/davi-device-agent/buildinfo"

// mDNS service discovery
var (
	MDNSServiceType = "_davi-device._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket message types pushed by the server
const (
	WSMessageTypeStatusSnapshot = "statusSnapshot"
	WSMessageTypeStatusEvent    = "statusEvent"
	WSMessageTypeError          = "error"
)

// WebSocket request types. Replies carry the request type with a
// "Response" suffix.
const (
	RequestReadTag        = "readTag"
	RequestReadATR        = "readATR"
	RequestStartWatcher   = "startWatcher"
	RequestStartPublisher = "startPublisher"
	RequestStop           = "stop"
	RequestClearStatus    = "clearStatus"
)

// Error codes sent in error payloads
const (
	ErrCodeParse       = "PARSE_ERROR"
	ErrCodeUnknownType = "UNKNOWN_TYPE"
	ErrCodeBadRequest  = "BAD_REQUEST"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
