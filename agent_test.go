package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/ble"
	"github.com/nedpals/davi-device-agent/config"
	"github.com/nedpals/davi-device-agent/nfc"
	"github.com/nedpals/davi-device-agent/smartcard"
	"github.com/nedpals/davi-device-agent/status"
)

func mockHardware() Hardware {
	return Hardware{
		NFC:       nfc.NewMockManager(),
		Bluetooth: ble.NewMockAdapter(),
		PCSC: func() (smartcard.Context, error) {
			return smartcard.NewMockContext(), nil
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.MDNS = false
	cfg.Server.Port = freePort(t)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestAgent(t *testing.T, cfg *config.Config) *Agent {
	t.Helper()
	agent, err := NewAgent(cfg, mockHardware(), io.Discard)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if err := agent.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(agent.Stop)
	return agent
}

func labelTexts(t *testing.T, agent *Agent) []string {
	t.Helper()
	if err := agent.Feed.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	var out []string
	for _, ev := range agent.Feed.Snapshot() {
		out = append(out, ev.Text)
	}
	return out
}

func TestNewAgentAppliesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.NFC.Device = "pn532_uart:/dev/ttyUSB0"
	cfg.SmartCard.Reader = "Contact Reader"
	cfg.BLE.CompanyID = 0x004C
	cfg.BLE.Payload = "AB:CD:EF"
	cfg.BLE.MinRSSI = -70

	agent, err := NewAgent(cfg, mockHardware(), io.Discard)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if got := agent.Features.NFC.Device; got != cfg.NFC.Device {
		t.Errorf("NFC device = %q", got)
	}
	if got := agent.Features.SmartCard.Reader; got != "Contact Reader" {
		t.Errorf("smart card reader = %q", got)
	}
	b := agent.Features.Beacons
	if b.CompanyID != 0x004C || !bytes.Equal(b.Payload, []byte{0xAB, 0xCD, 0xEF}) || b.MinRSSI != -70 {
		t.Errorf("beacons = company 0x%04X payload %X rssi %d", b.CompanyID, b.Payload, b.MinRSSI)
	}
}

func TestNewAgentRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BLE.Payload = "zz"
	if _, err := NewAgent(cfg, mockHardware(), io.Discard); err == nil {
		t.Error("expected error for bad payload")
	}
}

func TestAgentStartFeatureSwallowsUnavailable(t *testing.T) {
	cfg := testConfig(t)
	hw := mockHardware()
	hw.PCSC = func() (smartcard.Context, error) { return nil, smartcard.ErrUnsupported }

	agent, err := NewAgent(cfg, hw, io.Discard)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if err := agent.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(agent.Stop)

	if err := agent.StartFeature(actions.FeatureSmartCard); err != nil {
		t.Errorf("StartFeature = %v, want nil", err)
	}
	if err := agent.StartFeature("toaster"); err == nil {
		t.Error("expected error for unknown feature")
	}
	lines := labelTexts(t, agent)
	if len(lines) != 1 || lines[0] != "Smart card API is not supported on this system" {
		t.Errorf("label = %q", lines)
	}
}

func TestAgentServe(t *testing.T) {
	cfg := testConfig(t)
	agent := startTestAgent(t, cfg)

	if got := agent.URL("localhost"); got != "" {
		t.Errorf("URL before Serve = %q", got)
	}
	if err := agent.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if err := agent.Serve(); err == nil {
		t.Error("second Serve should fail")
	}

	want := fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port)
	if got := agent.URL("localhost"); got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", cfg.Server.Port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(healthURL)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	agent.Stop()
	if _, err := http.Get(healthURL); err == nil {
		t.Error("server still answering after Stop")
	}
}

func TestAgentJournalsEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Status.Journal = filepath.Join(t.TempDir(), "status.cbor")

	agent, err := NewAgent(cfg, mockHardware(), io.Discard)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if err := agent.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	agent.Feed.Printf(status.SourceNFC, "URI: %s", "https://example.com")
	agent.Feed.Errorf(status.SourceBLE, "Bluetooth adapter is not available")
	agent.Stop()

	var got []string
	err = status.ReadJournal(cfg.Status.Journal, status.JournalFilter{}, func(ev status.Event) error {
		got = append(got, string(ev.Source)+": "+ev.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	want := []string{"nfc: URI: https://example.com", "ble: Bluetooth adapter is not available"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("journal = %q, want %q", got, want)
	}
}

func TestAgentJournalOpenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Status.Journal = filepath.Join(t.TempDir(), "missing", "status.cbor")

	agent, err := NewAgent(cfg, mockHardware(), io.Discard)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if err := agent.Start(); err == nil {
		t.Fatal("expected journal open error")
	}
}
