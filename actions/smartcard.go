package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nedpals/davi-device-agent/smartcard"
	"github.com/nedpals/davi-device-agent/status"
)

// SmartCard is the "Read smart card ATR" handler.
type SmartCard struct {
	Logger *log.Logger
	// Reader selects a PC/SC reader by name; empty prefers a contactless one.
	Reader      string
	PollTimeout time.Duration
	// Establish opens the PC/SC context. Tests replace it.
	Establish func() (smartcard.Context, error)

	feed    *status.Feed
	startMu sync.Mutex
	run     runner
}

// NewSmartCard creates the handler on the system PC/SC service.
func NewSmartCard(feed *status.Feed) *SmartCard {
	return &SmartCard{
		Logger:    log.New(os.Stderr, "[smartcard] ", log.LstdFlags),
		Establish: smartcard.EstablishContext,
		feed:      feed,
	}
}

// Start picks a reader and reports the ATR of every card presented to it.
func (h *SmartCard) Start(ctx context.Context) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	src := status.SourceSmartCard
	if h.run.running() {
		h.feed.Printf(src, "Smart card watcher already running")
		return nil
	}

	pcsc, err := h.Establish()
	if err != nil {
		h.feed.Errorf(src, "Smart card API is not supported on this system")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	readers, err := smartcard.ListReaders(pcsc)
	if err == nil {
		var reader string
		if reader, err = smartcard.ChooseReader(readers, h.Reader); err == nil {
			h.watch(ctx, pcsc, reader)
			return nil
		}
	}

	if errors.Is(err, smartcard.ErrNoReaders) {
		h.feed.Errorf(src, "No smart card readers found")
	} else {
		h.feed.Errorf(src, "%v", err)
	}
	if relErr := pcsc.Release(); relErr != nil {
		h.Logger.Printf("Release PC/SC context: %v", relErr)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (h *SmartCard) watch(ctx context.Context, pcsc smartcard.Context, reader string) {
	w := smartcard.NewWatcher(pcsc, reader)
	w.Logger = h.Logger
	if h.PollTimeout > 0 {
		w.PollTimeout = h.PollTimeout
	}

	h.feed.Printf(status.SourceSmartCard, "Waiting for a card on %s", reader)
	h.run.launch(ctx, func(ctx context.Context) {
		defer func() {
			if err := pcsc.Release(); err != nil {
				h.Logger.Printf("Release PC/SC context: %v", err)
			}
		}()
		if err := w.Watch(ctx, h.report); err != nil {
			h.feed.Errorf(status.SourceSmartCard, "Smart card watcher stopped: %v", err)
		}
	})
}

// Stop cancels the pending wait on the reader.
func (h *SmartCard) Stop() {
	if h.run.stop() {
		h.feed.Printf(status.SourceSmartCard, "Smart card watcher stopped")
	}
}

// Running reports whether a reader is being watched.
func (h *SmartCard) Running() bool {
	return h.run.running()
}

func (h *SmartCard) report(ev smartcard.CardEvent) {
	src := status.SourceSmartCard
	switch {
	case ev.Removed:
		h.feed.Printf(src, "Card removed from %s", ev.Reader)
		return
	case errors.Is(ev.Err, smartcard.ErrCardRemoved):
		h.feed.Errorf(src, "Card removed before ATR could be read")
		return
	case ev.Err != nil:
		h.feed.Errorf(src, "%v", ev.Err)
		return
	}

	h.feed.Printf(src, "ATR: %s", ev.ATR.Hex())
	if ev.ATR.Convention != "" {
		h.feed.Printf(src, "%s", ev.ATR.Describe())
	}
	if ev.UID != "" {
		h.feed.Printf(src, "UID: %s", ev.UID)
	}
}
