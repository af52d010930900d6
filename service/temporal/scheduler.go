package temporal

import (
	"context"
	"time"
)

// Scheduler manages the deposit polling schedule. Each custody address
// gets one schedule that triggers PollDepositsWorkflow.
type Scheduler interface {
	// UpsertDepositSchedule creates the schedule, or updates its interval
	// and input when it already exists.
	UpsertDepositSchedule(ctx context.Context, input PollDepositsInput, interval time.Duration) error

	// DeleteDepositSchedule stops polling the custody address.
	DeleteDepositSchedule(ctx context.Context, custodyAddress string) error
}

// scheduleID returns the Temporal schedule ID for a custody address.
func scheduleID(custodyAddress string) string {
	return "poll-deposits-" + custodyAddress
}
