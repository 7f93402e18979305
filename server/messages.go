package server

import "github.com/nedpals/davi-device-agent/status"

// Message is pushed to WebSocket clients.
type Message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Request is an incoming WebSocket request.
type Request struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response answers a Request.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SnapshotPayload is the body of a statusSnapshot message and of
// GET /api/v1/status.
type SnapshotPayload struct {
	Lines   []status.Event  `json:"lines"`
	Running map[string]bool `json:"running,omitempty"`
}

// ErrorPayload is the body of an error message.
type ErrorPayload struct {
	Code string `json:"code"`
}

func errorResponse(requestID, code, message string) Response {
	return Response{
		ID:      requestID,
		Type:    WSMessageTypeError,
		Success: false,
		Error:   message,
		Payload: ErrorPayload{Code: code},
	}
}

// StringField reads a string from a request payload.
func (r Request) StringField(key string) (string, bool) {
	v, ok := r.Payload[key].(string)
	return v, ok
}
