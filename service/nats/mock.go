package nats

import (
	"context"
	"sync"
)

// MockPublisher records ledger events in memory. Errors set with FailPublish
// or FailBatch are returned until cleared with nil.
type MockPublisher struct {
	mu        sync.RWMutex
	events    []*LedgerEvent
	singleErr error
	batchErr  error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishEvent(ctx context.Context, event *LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.singleErr != nil {
		return m.singleErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) PublishEvents(ctx context.Context, events []*LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []*LedgerEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LedgerEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockPublisher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// EventsForToken returns the events that would land on Subject(token).
func (m *MockPublisher) EventsForToken(token string) []*LedgerEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*LedgerEvent
	for _, e := range m.events {
		if e.Token == token {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockPublisher) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.singleErr = err
}

func (m *MockPublisher) FailBatch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}
