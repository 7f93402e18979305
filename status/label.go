package status

import (
	"strings"
	"sync"
)

// DefaultMaxLines bounds the label when no explicit limit is configured.
const DefaultMaxLines = 200

// Label holds the accumulated status text. Its mutators are unexported and
// only reached through closures the Feed posts to the Dispatcher; the
// read accessors are safe from any goroutine.
type Label struct {
	mu       sync.RWMutex
	events   []Event
	maxLines int
}

// NewLabel creates an empty label holding at most maxLines lines.
func NewLabel(maxLines int) *Label {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Label{maxLines: maxLines}
}

func (l *Label) append(ev Event) (dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	if over := len(l.events) - l.maxLines; over > 0 {
		// Copy so the backing array does not grow without bound.
		kept := make([]Event, l.maxLines)
		copy(kept, l.events[over:])
		l.events = kept
		return over
	}
	return 0
}

func (l *Label) clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

// Events returns a copy of the lines currently on the label.
func (l *Label) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Lines returns the rendered label lines, oldest first.
func (l *Label) Lines() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lines := make([]string, len(l.events))
	for i, ev := range l.events {
		lines[i] = ev.String()
	}
	return lines
}

// Tail returns at most n of the most recent rendered lines.
func (l *Label) Tail(n int) []string {
	lines := l.Lines()
	if n >= 0 && len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

// Text returns the whole label as one newline separated string.
func (l *Label) Text() string {
	return strings.Join(l.Lines(), "\n")
}

// Len reports how many lines are on the label.
func (l *Label) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// MaxLines reports the configured bound.
func (l *Label) MaxLines() int {
	return l.maxLines
}
