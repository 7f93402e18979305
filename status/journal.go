package status

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	journalEncMode cbor.EncMode
	journalDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	journalEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	journalDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR decoder mode: %v", err))
	}
}

// Journal appends every status event to a file as a stream of CBOR items.
// It is safe for concurrent use.
type Journal struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// OpenJournal opens (or creates) the journal at path for appending.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{
		file:    f,
		encoder: journalEncMode.NewEncoder(f),
	}, nil
}

// Record writes ev. Writes after Close are ignored.
func (j *Journal) Record(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	return j.encoder.Encode(ev)
}

// Attach subscribes the journal to feed and returns the unsubscribe func.
func (j *Journal) Attach(feed *Feed) func() {
	return feed.Subscribe(func(ev Event) {
		if err := j.Record(ev); err != nil {
			feed.Logger.Printf("Failed to journal event %d: %v", ev.Seq, err)
		}
	})
}

// Close flushes and closes the journal file. It is safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// JournalFilter selects which events a JournalReader yields. Zero values
// match everything.
type JournalFilter struct {
	Source     Source
	ErrorsOnly bool
}

func (f JournalFilter) matches(ev Event) bool {
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.ErrorsOnly && ev.Level != LevelError {
		return false
	}
	return true
}

// JournalReader streams events back out of a journal.
type JournalReader struct {
	decoder *cbor.Decoder
	filter  JournalFilter
}

// NewJournalReader reads events from r.
func NewJournalReader(r io.Reader, filter JournalFilter) *JournalReader {
	return &JournalReader{
		decoder: journalDecMode.NewDecoder(r),
		filter:  filter,
	}
}

// Next returns the next matching event, or io.EOF at the end.
func (r *JournalReader) Next() (Event, error) {
	for {
		var ev Event
		if err := r.decoder.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("decode journal event: %w", err)
		}
		if r.filter.matches(ev) {
			return ev, nil
		}
	}
}

// ReadJournal calls fn for each matching event in the file at path.
func ReadJournal(path string, filter JournalFilter, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	r := NewJournalReader(f, filter)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
