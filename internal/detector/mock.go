package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockBackend is a test implementation of the Backend interface.
// It allows tests to control the raw output returned for every region.
type MockBackend struct {
	mu     sync.Mutex
	kind   Kind
	raw    Raw
	err    error
	panic  any
	calls  int
	closed bool
}

// NewMockBackend creates a MockBackend reporting kind.
func NewMockBackend(kind Kind) *MockBackend {
	return &MockBackend{kind: kind}
}

// SetRaw sets the output returned by Detect.
func (m *MockBackend) SetRaw(raw Raw) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
}

// SetError sets the error returned by Detect.
func (m *MockBackend) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes Detect panic with v.
func (m *MockBackend) SetPanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panic = v
}

// Calls returns how many times Detect ran.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Kind returns the configured kind.
func (m *MockBackend) Kind() Kind {
	return m.kind
}

// Detect returns the pre-configured output or error.
func (m *MockBackend) Detect(region gocv.Mat) (Raw, error) {
	m.mu.Lock()
	m.calls++
	raw, err, p := m.raw, m.err, m.panic
	m.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if err != nil {
		return Raw{}, err
	}
	return raw, nil
}

// Close marks the backend closed.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
