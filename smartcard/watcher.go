package smartcard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ebfe/scard"
)

// DefaultPollTimeout bounds each GetStatusChange call so cancellation is
// noticed even where SCardCancel is unreliable.
const DefaultPollTimeout = time.Second

// CardEvent reports a card arriving on, or leaving, the watched reader.
type CardEvent struct {
	Reader  string
	ATR     *ATR
	UID     string
	Err     error
	Removed bool
	At      time.Time
}

// Watcher waits for cards on one reader and reads their ATR.
type Watcher struct {
	Logger      *log.Logger
	PollTimeout time.Duration

	ctx    Context
	reader string
}

// NewWatcher creates a Watcher for reader on ctx.
func NewWatcher(ctx Context, reader string) *Watcher {
	return &Watcher{
		Logger:      log.New(os.Stderr, "[smartcard] ", log.LstdFlags),
		PollTimeout: DefaultPollTimeout,
		ctx:         ctx,
		reader:      reader,
	}
}

// Reader returns the watched reader name.
func (w *Watcher) Reader() string {
	return w.reader
}

// Watch blocks until ctx is done, calling fn for each card arrival and
// removal. A card already on the reader counts as an arrival. It returns
// nil on cancellation and an error when the reader goes away.
func (w *Watcher) Watch(ctx context.Context, fn func(CardEvent)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := w.ctx.Cancel(); err != nil {
				w.Logger.Printf("Cancel PC/SC wait: %v", err)
			}
		case <-done:
		}
	}()

	states := []scard.ReaderState{{Reader: w.reader, CurrentState: scard.StateUnaware}}
	present := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := w.ctx.GetStatusChange(states, w.PollTimeout)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, scard.ErrCancelled):
				return nil
			case isTimeout(err):
				continue
			default:
				return fmt.Errorf("watch reader %s: %w", w.reader, err)
			}
		}

		event := states[0].EventState
		states[0].CurrentState = event &^ scard.StateChanged

		switch {
		case event&scard.StatePresent != 0 && !present:
			present = true
			fn(w.readCard())
		case event&scard.StateEmpty != 0 && present:
			present = false
			fn(CardEvent{Reader: w.reader, Removed: true, At: time.Now()})
		}
	}
}

// readCard connects in shared mode and reads the ATR and, for contactless
// cards, the UID.
func (w *Watcher) readCard() CardEvent {
	ev := CardEvent{Reader: w.reader, At: time.Now()}

	card, err := w.ctx.Connect(w.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		if isCardRemoved(err) {
			ev.Err = ErrCardRemoved
		} else {
			ev.Err = fmt.Errorf("connect to %s: %w", w.reader, err)
		}
		return ev
	}
	defer func() {
		if err := card.Disconnect(scard.LeaveCard); err != nil {
			w.Logger.Printf("Disconnect from %s: %v", w.reader, err)
		}
	}()

	status, err := card.Status()
	if err != nil {
		if isCardRemoved(err) {
			ev.Err = ErrCardRemoved
		} else {
			ev.Err = fmt.Errorf("card status: %w", err)
		}
		return ev
	}
	if len(status.Atr) == 0 {
		ev.Err = ErrCardRemoved
		return ev
	}

	atr, err := ParseATR(status.Atr)
	if err != nil {
		w.Logger.Printf("ATR %X does not parse: %v", status.Atr, err)
	}
	ev.ATR = atr

	// The scard library panics on Transmit with any other protocol.
	if proto := card.ActiveProtocol(); proto != scard.ProtocolT0 && proto != scard.ProtocolT1 {
		w.Logger.Printf("Skipping UID for card on %s: protocol %d", w.reader, proto)
		return ev
	}
	if uid, err := ReadUID(card); err == nil {
		ev.UID = uid
	} else {
		w.Logger.Printf("No contactless UID for card on %s: %v", w.reader, err)
	}
	return ev
}
