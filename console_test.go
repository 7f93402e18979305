package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/status"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	agent := startTestAgent(t, testConfig(t))
	var out bytes.Buffer
	return &Console{agent: agent, out: &out}, &out
}

func TestConsoleStartsAndStopsFeatures(t *testing.T) {
	c, out := newTestConsole(t)

	if quit := c.Execute("atr"); quit {
		t.Fatal("atr should not quit")
	}
	if !c.agent.Features.Running()[actions.FeatureSmartCard] {
		t.Fatal("smart card watcher not running")
	}
	lines := labelTexts(t, c.agent)
	if len(lines) == 0 || lines[0] != "Waiting for a card on ACS ACR122U PICC Interface 00 00" {
		t.Errorf("label = %q", lines)
	}

	c.Execute("status")
	if !strings.Contains(out.String(), "smartcard  running") || !strings.Contains(out.String(), "nfc        stopped") {
		t.Errorf("status output:\n%s", out.String())
	}

	c.Execute("stop smartcard")
	if c.agent.Features.Running()[actions.FeatureSmartCard] {
		t.Error("smart card watcher still running")
	}
}

func TestConsoleStopAll(t *testing.T) {
	c, _ := newTestConsole(t)
	c.Execute("publish")
	c.Execute("watch")
	c.Execute("stop all")
	for name, running := range c.agent.Features.Running() {
		if running {
			t.Errorf("%s still running", name)
		}
	}
}

func TestConsoleMisc(t *testing.T) {
	c, out := newTestConsole(t)

	c.Execute("   ")
	if out.Len() != 0 {
		t.Errorf("blank line printed %q", out.String())
	}

	c.Execute("stop")
	if !strings.Contains(out.String(), "Usage: stop") {
		t.Errorf("missing usage: %q", out.String())
	}
	out.Reset()

	c.Execute("stop toaster")
	if !strings.Contains(out.String(), `unknown feature "toaster"`) {
		t.Errorf("stop toaster printed %q", out.String())
	}
	out.Reset()

	c.Execute("frobnicate")
	if !strings.Contains(out.String(), "Unknown command: frobnicate") {
		t.Errorf("unknown command printed %q", out.String())
	}
	out.Reset()

	c.agent.Feed.Printf(status.SourceAgent, "hello")
	labelTexts(t, c.agent)
	c.Execute("lines")
	if !strings.Contains(out.String(), "agent: hello") {
		t.Errorf("lines printed %q", out.String())
	}

	c.Execute("clear")
	if got := labelTexts(t, c.agent); len(got) != 0 {
		t.Errorf("label after clear = %q", got)
	}

	if !c.Execute("EXIT") {
		t.Error("exit should quit")
	}
}
