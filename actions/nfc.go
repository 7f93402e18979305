package actions

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nedpals/davi-device-agent/nfc"
	"github.com/nedpals/davi-device-agent/status"
)

// NFC is the "Read NFC tag" handler. Once started it reports every tag
// placed on the reader until stopped.
type NFC struct {
	Logger *log.Logger
	// Device is a libnfc connection string; empty picks the first reader.
	Device       string
	PollInterval time.Duration
	// Policy overrides the reader's recovery policy when set.
	Policy       *nfc.RecoveryPolicy
	RemovalGrace time.Duration

	feed    *status.Feed
	manager nfc.Manager
	startMu sync.Mutex
	run     runner
}

// NewNFC creates the handler on manager.
func NewNFC(feed *status.Feed, manager nfc.Manager) *NFC {
	return &NFC{
		Logger:  log.New(os.Stderr, "[nfc] ", log.LstdFlags),
		feed:    feed,
		manager: manager,
	}
}

// Start opens the reader and begins reporting tags. A missing reader is
// posted as "No NFC reader found" and returned as ErrUnavailable.
func (h *NFC) Start(ctx context.Context) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	if h.run.running() {
		h.feed.Printf(status.SourceNFC, "NFC reader already running")
		return nil
	}

	reader, err := nfc.NewReader(h.Device, h.manager)
	if err != nil {
		return err
	}
	if h.PollInterval > 0 {
		reader.PollInterval = h.PollInterval
	}
	if h.Policy != nil {
		reader.DeviceManager().Policy = *h.Policy
	}
	if h.RemovalGrace > 0 {
		reader.SetRemovalGrace(h.RemovalGrace)
	}

	if err := reader.Connect(); err != nil {
		if nfc.IsNoDeviceError(err) {
			h.feed.Errorf(status.SourceNFC, "No NFC reader found")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		h.feed.Errorf(status.SourceNFC, "Cannot open NFC reader: %v", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	name := reader.DeviceManager().DevicePath()
	if dev := reader.DeviceManager().Device(); dev != nil {
		name = dev.String()
	}
	reader.Start()
	h.feed.Printf(status.SourceNFC, "Waiting for NFC tags on %s", name)
	h.run.launch(ctx, func(ctx context.Context) { h.listen(ctx, reader) })
	return nil
}

// Stop closes the reader. Stopping an idle handler is a no-op.
func (h *NFC) Stop() {
	if h.run.stop() {
		h.feed.Printf(status.SourceNFC, "NFC reader stopped")
	}
}

// Running reports whether the reader is open.
func (h *NFC) Running() bool {
	return h.run.running()
}

func (h *NFC) listen(ctx context.Context, reader *nfc.Reader) {
	defer reader.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-reader.Events():
			h.report(ev)
		case st := <-reader.StatusUpdates():
			h.Logger.Printf("Reader status: %s", st.Message)
		}
	}
}

// report posts one line per decoded record, after a header line for the
// tag.
func (h *NFC) report(ev nfc.TagEvent) {
	src := status.SourceNFC
	switch {
	case ev.Removed:
		h.feed.Printf(src, "Tag %s removed", ev.UID)
		return
	case ev.UID == "":
		h.feed.Errorf(src, "%v", ev.Err)
		return
	}

	h.feed.Printf(src, "Tag %s (%s)", ev.UID, ev.Type)
	if ev.Err != nil {
		h.feed.Errorf(src, "Tag %s: %v", ev.UID, ev.Err)
		return
	}
	if ev.Message == nil || len(ev.Message.Records) == 0 {
		h.feed.Printf(src, "Tag %s has no NDEF message", ev.UID)
		return
	}
	for _, rec := range ev.Message.Records {
		h.feed.Printf(src, "%s", describeRecord(rec))
	}
}

func describeRecord(rec nfc.Record) string {
	if uri, ok := rec.URI(); ok {
		return "URI: " + uri
	}
	if text, lang, ok := rec.Text(); ok {
		return fmt.Sprintf("Text (%s): %s", lang, text)
	}
	return "Record " + rec.String()
}
