package mocks

import "sync"

// MockMessageQueue is an in-memory busevents.MessageQueue for tests.
// Unlike a real broker it delivers synchronously: Publish runs every
// handler registered for the subject before returning, so a test can
// publish an event and immediately assert on the subscriber's side
// effects without polling or sleeps. Safe for concurrent use.
type MockMessageQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string][]func([]byte) error
	closed    bool
}

func NewMockMessageQueue() *MockMessageQueue {
	return &MockMessageQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string][]func([]byte) error),
	}
}

func (m *MockMessageQueue) Publish(subject string, data []byte) error {
	m.mu.Lock()
	m.published[subject] = append(m.published[subject], data)
	handlers := append([]func([]byte) error(nil), m.handlers[subject]...)
	m.mu.Unlock()

	// Handler errors are swallowed the way the broker adapters log and
	// drop them; the recorded message is what tests assert on.
	for _, handler := range handlers {
		_ = handler(data)
	}
	return nil
}

func (m *MockMessageQueue) Subscribe(subject string, handler func([]byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = append(m.handlers[subject], handler)
	return nil
}

func (m *MockMessageQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called, for shutdown-path assertions.
func (m *MockMessageQueue) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetPublishedMessages returns everything published to a subject, oldest
// first.
func (m *MockMessageQueue) GetPublishedMessages(subject string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.published[subject]))
	copy(out, m.published[subject])
	return out
}
