package status

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber receives every label change, on the dispatcher goroutine and
// in sequence order. It must not block for long.
type Subscriber func(Event)

// Feed ties a Dispatcher to a Label. Device handlers call Printf/Errorf
// from whatever goroutine their driver calls back on; the feed formats the
// text right away and marshals the label update onto the dispatcher.
type Feed struct {
	Logger *log.Logger

	dispatcher *Dispatcher
	label      *Label
	now        func() time.Time

	// seq is only touched on the dispatcher goroutine.
	seq uint64

	subMu   sync.Mutex
	subs    map[int]Subscriber
	nextSub int
}

// NewFeed creates a feed that posts to d and keeps at most maxLines lines.
func NewFeed(d *Dispatcher, maxLines int) *Feed {
	return &Feed{
		Logger:     log.New(os.Stderr, "[status] ", log.LstdFlags),
		dispatcher: d,
		label:      NewLabel(maxLines),
		now:        time.Now,
		subs:       make(map[int]Subscriber),
	}
}

// Label returns the label this feed writes to.
func (f *Feed) Label() *Label {
	return f.label
}

// Printf appends an informational line.
func (f *Feed) Printf(src Source, format string, args ...any) {
	f.post(Event{Kind: KindLine, Source: src, Level: LevelInfo, Text: fmt.Sprintf(format, args...)})
}

// Errorf appends an error line.
func (f *Feed) Errorf(src Source, format string, args ...any) {
	f.post(Event{Kind: KindLine, Source: src, Level: LevelError, Text: fmt.Sprintf(format, args...)})
}

// Clear empties the label.
func (f *Feed) Clear() {
	f.post(Event{Kind: KindClear})
}

// Snapshot returns the lines currently on the label.
func (f *Feed) Snapshot() []Event {
	return f.label.Events()
}

// Sync waits until every update posted so far has reached the label and
// all subscribers.
func (f *Feed) Sync() error {
	return f.dispatcher.Sync()
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed) Subscribe(fn Subscriber) (cancel func()) {
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.subMu.Lock()
			delete(f.subs, id)
			f.subMu.Unlock()
		})
	}
}

func (f *Feed) post(ev Event) {
	ev.ID = uuid.NewString()
	ev.Time = f.now()

	err := f.dispatcher.Post(func() {
		f.seq++
		ev.Seq = f.seq
		switch ev.Kind {
		case KindClear:
			f.label.clear()
		default:
			f.label.append(ev)
		}
		f.notify(ev)
	})
	if err != nil {
		f.Logger.Printf("Dropping status line %q: %v", ev.Text, err)
	}
}

func (f *Feed) notify(ev Event) {
	f.subMu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, f.subs[id])
	}
	f.subMu.Unlock()

	for _, sub := range subs {
		f.deliver(sub, ev)
	}
}

func (f *Feed) deliver(sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			f.Logger.Printf("Status subscriber panicked on event %d: %v", ev.Seq, r)
		}
	}()
	sub(ev)
}
