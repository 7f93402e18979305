// Package status implements the agent's status label: a bounded list of
// text lines that is only ever mutated from a single dispatcher goroutine,
// plus the feed that device handlers post their results to.
package status

import (
	"fmt"
	"time"
)

// Source identifies which feature produced a status line.
type Source string

const (
	SourceAgent     Source = "agent"
	SourceNFC       Source = "nfc"
	SourceSmartCard Source = "smartcard"
	SourceBLE       Source = "ble"
)

// Level is the severity of a status line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Kind distinguishes appended lines from label resets.
type Kind string

const (
	KindLine  Kind = "line"
	KindClear Kind = "clear"
)

// Event is a single change to the status label.
type Event struct {
	ID     string    `json:"id" cbor:"1,keyasint"`
	Seq    uint64    `json:"seq" cbor:"2,keyasint"`
	Time   time.Time `json:"time" cbor:"3,keyasint"`
	Kind   Kind      `json:"kind" cbor:"4,keyasint"`
	Source Source    `json:"source,omitempty" cbor:"5,keyasint,omitempty"`
	Level  Level     `json:"level,omitempty" cbor:"6,keyasint,omitempty"`
	Text   string    `json:"text,omitempty" cbor:"7,keyasint,omitempty"`
}

// String renders the event the way it appears on the label.
func (e Event) String() string {
	if e.Kind == KindClear {
		return fmt.Sprintf("[%s] -- cleared --", e.Time.Format("15:04:05"))
	}
	if e.Level == LevelError {
		return fmt.Sprintf("[%s] %s: error: %s", e.Time.Format("15:04:05"), e.Source, e.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Time.Format("15:04:05"), e.Source, e.Text)
}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceAgent, SourceNFC, SourceSmartCard, SourceBLE:
		return src, nil
	}
	return "", fmt.Errorf("unknown status source %q", s)
}
