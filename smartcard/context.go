// Package smartcard reads the Answer-To-Reset of cards presented to a PC/SC
// reader.
package smartcard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebfe/scard"
)

var (
	// ErrUnsupported means the PC/SC service is not available on this system.
	ErrUnsupported = errors.New("smart card API is not supported on this system")
	// ErrNoReaders means PC/SC is running but no reader is attached.
	ErrNoReaders = errors.New("no smart card readers found")
	// ErrCardRemoved means the card left before its ATR could be read.
	ErrCardRemoved = errors.New("card removed before ATR could be read")
	// ErrReaderNotFound means the configured reader is not attached.
	ErrReaderNotFound = errors.New("smart card reader not found")
)

// Context is the part of a PC/SC context the watcher needs.
type Context interface {
	ListReaders() ([]string, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (Card, error)
	Cancel() error
	Release() error
}

// Card is a connected card handle.
type Card interface {
	ActiveProtocol() scard.Protocol
	Status() (*scard.CardStatus, error)
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

// scardContext adapts *scard.Context to Context.
type scardContext struct {
	ctx *scard.Context
}

// EstablishContext opens a PC/SC context. Failure to reach the PC/SC
// service is reported as ErrUnsupported.
func EstablishContext() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return &scardContext{ctx: ctx}, nil
}

func (c *scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *scardContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return c.ctx.GetStatusChange(states, timeout)
}

func (c *scardContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (Card, error) {
	card, err := c.ctx.Connect(reader, mode, proto)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (c *scardContext) Cancel() error {
	return c.ctx.Cancel()
}

func (c *scardContext) Release() error {
	return c.ctx.Release()
}

// ListReaders returns the attached readers. PC/SC reports an empty list
// as an error, which is mapped to ErrNoReaders.
func ListReaders(ctx Context) ([]string, error) {
	readers, err := ctx.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, ErrNoReaders
		}
		return nil, fmt.Errorf("list smart card readers: %w", err)
	}
	if len(readers) == 0 {
		return nil, ErrNoReaders
	}
	return readers, nil
}

// ChooseReader picks name if attached, or the first reader that looks
// contactless, or the first reader.
func ChooseReader(readers []string, name string) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReaders
	}
	if name != "" {
		for _, r := range readers {
			if r == name {
				return r, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrReaderNotFound, name)
	}
	for _, r := range readers {
		if isContactless(r) {
			return r, nil
		}
	}
	return readers[0], nil
}

func isContactless(reader string) bool {
	lower := strings.ToLower(reader)
	for _, hint := range []string{"picc", "contactless", "acr122", "acr1252", "nfc", "cl "} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// isCardRemoved checks the typed PC/SC errors first, then the strings some
// drivers return instead.
func isCardRemoved(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrResetCard) ||
		errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}
	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "removed") ||
		strings.Contains(errLower, "no smart card") ||
		strings.Contains(errLower, "card is not present")
}

func isTimeout(err error) bool {
	if errors.Is(err, scard.ErrTimeout) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
