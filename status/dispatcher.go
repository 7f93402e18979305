package status

import (
	"errors"
	"log"
	"os"
	"sync"
)

// ErrDispatcherStopped is returned by Post once Stop has been called.
var ErrDispatcherStopped = errors.New("status dispatcher stopped")

// Dispatcher runs posted closures one at a time, in the order they were
// posted, on a single goroutine. It plays the role of a UI thread: anything
// that touches the label goes through Post.
type Dispatcher struct {
	Logger *log.Logger

	mu      sync.Mutex
	queue   []func()
	started bool
	stopped bool

	wake     chan struct{}
	stopChan chan struct{}
	workerWg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before posting work that
// must run; closures posted earlier are queued and run once it starts.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Logger:   log.New(os.Stderr, "[dispatcher] ", log.LstdFlags),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.workerWg.Add(1)
	go d.worker()
}

// Post enqueues fn to run on the dispatcher goroutine. It never blocks.
func (d *Dispatcher) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Sync blocks until every closure posted before the call has run.
func (d *Dispatcher) Sync() error {
	done := make(chan struct{})
	if err := d.Post(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-d.stopChan:
		// Stop drains the queue before the worker exits.
		d.workerWg.Wait()
		select {
		case <-done:
			return nil
		default:
			return ErrDispatcherStopped
		}
	}
}

// Stop rejects new work, runs whatever is already queued and waits for
// the dispatcher goroutine to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	if !started {
		// Never started: run the backlog here so posted work is not lost.
		d.drain()
		close(d.stopChan)
		return
	}
	close(d.stopChan)
	d.workerWg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.workerWg.Done()
	for {
		d.drain()
		select {
		case <-d.wake:
		case <-d.stopChan:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			d.run(fn)
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Printf("Recovered from panic in posted work: %v", r)
		}
	}()
	fn()
}
