package actions

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/nedpals/davi-device-agent/status"
)

func newTestFeed(t *testing.T) *status.Feed {
	t.Helper()
	d := status.NewDispatcher()
	d.Logger = log.New(io.Discard, "", 0)
	d.Start()
	t.Cleanup(d.Stop)
	feed := status.NewFeed(d, 500)
	feed.Logger = log.New(io.Discard, "", 0)
	return feed
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// texts returns the label text of every line, in order.
func texts(t *testing.T, feed *status.Feed) []string {
	t.Helper()
	if err := feed.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	var out []string
	for _, ev := range feed.Snapshot() {
		out = append(out, ev.Text)
	}
	return out
}

// waitForLine polls the label until a line equal to want appears.
func waitForLine(t *testing.T, feed *status.Feed, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, line := range texts(t, feed) {
			if line == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("line %q never posted; label:\n%s", want, strings.Join(texts(t, feed), "\n"))
}

func countLines(t *testing.T, feed *status.Feed, want string) int {
	t.Helper()
	n := 0
	for _, line := range texts(t, feed) {
		if line == want {
			n++
		}
	}
	return n
}
