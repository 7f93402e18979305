package smartcard

import (
	"sync"
	"time"

	"github.com/ebfe/scard"
)

// MockStep is one scripted GetStatusChange result.
type MockStep struct {
	State scard.StateFlag
	Err   error
}

// MockContext replays Steps from GetStatusChange, then blocks until Cancel
// or the timeout.
type MockContext struct {
	Readers    []string
	ListError  error
	Steps      []MockStep
	Card       *MockCard
	ConnectErr error

	mu        sync.Mutex
	cancelled chan struct{}
	cancelOne sync.Once
	released  bool
}

// NewMockContext creates a MockContext with one contactless reader.
func NewMockContext(steps ...MockStep) *MockContext {
	return &MockContext{
		Readers:   []string{"ACS ACR122U PICC Interface 00 00"},
		Steps:     steps,
		cancelled: make(chan struct{}),
	}
}

func (m *MockContext) ListReaders() ([]string, error) {
	return m.Readers, m.ListError
}

func (m *MockContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	m.mu.Lock()
	if len(m.Steps) > 0 {
		step := m.Steps[0]
		m.Steps = m.Steps[1:]
		m.mu.Unlock()
		if step.Err != nil {
			return step.Err
		}
		states[0].EventState = step.State | scard.StateChanged
		return nil
	}
	m.mu.Unlock()

	select {
	case <-m.cancelled:
		return scard.ErrCancelled
	case <-time.After(timeout):
		return scard.ErrTimeout
	}
}

func (m *MockContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (Card, error) {
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	return m.Card, nil
}

func (m *MockContext) Cancel() error {
	m.cancelOne.Do(func() { close(m.cancelled) })
	return nil
}

func (m *MockContext) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}

// Released reports whether Release was called.
func (m *MockContext) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// MockCard answers Status with ATR and every Transmit with UIDResponse.
type MockCard struct {
	Protocol    scard.Protocol
	ATR         []byte
	StatusErr   error
	UIDResponse []byte

	mu           sync.Mutex
	transmitted  [][]byte
	disconnected bool
}

func (c *MockCard) ActiveProtocol() scard.Protocol { return c.Protocol }

func (c *MockCard) Status() (*scard.CardStatus, error) {
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	return &scard.CardStatus{Atr: c.ATR}, nil
}

func (c *MockCard) Transmit(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	c.transmitted = append(c.transmitted, cmd)
	c.mu.Unlock()
	return c.UIDResponse, nil
}

func (c *MockCard) Disconnect(d scard.Disposition) error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	return nil
}

// Transmitted returns the commands sent so far.
func (c *MockCard) Transmitted() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.transmitted...)
}

// Disconnected reports whether Disconnect was called.
func (c *MockCard) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}
