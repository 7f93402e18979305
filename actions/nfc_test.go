package actions

import (
	"context"
	"testing"
	"time"

	"github.com/nedpals/davi-device-agent/nfc"
	"github.com/nedpals/davi-device-agent/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNFC(t *testing.T, manager *nfc.MockManager) (*NFC, *status.Feed) {
	t.Helper()
	feed := newTestFeed(t)
	h := NewNFC(feed, manager)
	h.Logger = quiet()
	h.PollInterval = 5 * time.Millisecond
	h.RemovalGrace = 50 * time.Millisecond
	h.Policy = &nfc.RecoveryPolicy{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		MaxReconnectTries: 2,
		ReconnectDelay:    time.Millisecond,
		ResetWait:         time.Millisecond,
		ErrorCooldown:     20 * time.Millisecond,
		RetriesCooldown:   20 * time.Millisecond,
		PostErrorPause:    time.Millisecond,
	}
	t.Cleanup(h.Stop)
	return h, feed
}

func TestNFC_NoReader(t *testing.T) {
	manager := nfc.NewMockManager()
	manager.DevicesList = nil
	h, feed := newTestNFC(t, manager)

	err := h.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, h.Running())
	assert.Equal(t, []string{"No NFC reader found"}, texts(t, feed))
}

func TestNFC_ReportsRecordsAndRemoval(t *testing.T) {
	manager := nfc.NewMockManager()
	tag := nfc.NewMockTagWithMessage("04A1B2C3", &nfc.Message{Records: []nfc.Record{
		nfc.NewURIRecord("https://www.example.com/x"),
		nfc.NewTextRecord("Hello", "en"),
		{TNF: nfc.TNFMedia, Type: []byte("text/plain"), Payload: []byte("abc")},
	}})
	manager.MockDevice.SetTags([]nfc.Tag{tag})
	h, feed := newTestNFC(t, manager)

	require.NoError(t, h.Start(context.Background()))
	assert.True(t, h.Running())

	waitForLine(t, feed, `Record TNF=0x02 type="text/plain" (3 bytes)`)
	lines := texts(t, feed)
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, lines[0], "Waiting for NFC tags")
	assert.Equal(t, []string{
		"Tag 04A1B2C3 (MIFARE Ultralight)",
		"URI: https://www.example.com/x",
		"Text (en): Hello",
		`Record TNF=0x02 type="text/plain" (3 bytes)`,
	}, lines[1:5])

	manager.MockDevice.SetTags(nil)
	waitForLine(t, feed, "Tag 04A1B2C3 removed")
	assert.Equal(t, 1, countLines(t, feed, "Tag 04A1B2C3 (MIFARE Ultralight)"))

	h.Stop()
	assert.False(t, h.Running())
	waitForLine(t, feed, "NFC reader stopped")
}

func TestNFC_EmptyTag(t *testing.T) {
	manager := nfc.NewMockManager()
	manager.MockDevice.SetTags([]nfc.Tag{nfc.NewMockTag("0102030405060708")})
	h, feed := newTestNFC(t, manager)

	require.NoError(t, h.Start(context.Background()))
	waitForLine(t, feed, "Tag 0102030405060708 has no NDEF message")
}

func TestNFC_StartTwice(t *testing.T) {
	h, feed := newTestNFC(t, nfc.NewMockManager())

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Start(context.Background()))
	waitForLine(t, feed, "NFC reader already running")
}

func TestNFC_ContextCancelStops(t *testing.T) {
	h, _ := newTestNFC(t, nfc.NewMockManager())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !h.Running() }, 2*time.Second, 5*time.Millisecond)
}
