package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler for tests.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule
	createErr error
	deleteErr error
}

type mockSchedule struct {
	input    PollDepositsInput
	interval time.Duration
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]mockSchedule),
	}
}

// UpsertDepositSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertDepositSchedule(ctx context.Context, input PollDepositsInput, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[scheduleID(input.CustodyAddress)] = mockSchedule{input: input, interval: interval}
	return nil
}

// DeleteDepositSchedule removes a schedule.
func (m *MockScheduler) DeleteDepositSchedule(ctx context.Context, custodyAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := scheduleID(custodyAddress)
	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// SetCreateError makes UpsertDepositSchedule return err.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteDepositSchedule return err.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Schedule returns the stored input and interval for a custody address.
func (m *MockScheduler) Schedule(custodyAddress string) (PollDepositsInput, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID(custodyAddress)]
	return s.input, s.interval, ok
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}
