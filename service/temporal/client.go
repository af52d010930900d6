package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client is the Scheduler backed by a Temporal server.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient dials Temporal.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) workflowAction(input PollDepositsInput) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "poll-deposits-" + input.CustodyAddress,
		Workflow:  PollDepositsWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}
}

// UpsertDepositSchedule creates or updates the polling schedule. Overlapping
// runs are skipped so a slow poll never races the next one.
func (c *Client) UpsertDepositSchedule(ctx context.Context, input PollDepositsInput, interval time.Duration) error {
	id := scheduleID(input.CustodyAddress)
	handle := c.client.ScheduleClient().GetHandle(ctx, id)

	_, err := handle.Describe(ctx)
	var notFound *serviceerror.NotFound
	switch {
	case errors.As(err, &notFound):
		_, err = c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action:  c.workflowAction(input),
			Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
			Memo: map[string]interface{}{
				"custody_address": input.CustodyAddress,
				"created_by":      "ledgerwallet",
			},
		})
		if err != nil {
			c.logger.Error("failed to create schedule", "schedule_id", id, "error", err)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}
		c.logger.Info("deposit schedule created", "schedule_id", id, "interval", interval)
		return nil

	case err != nil:
		return fmt.Errorf("failed to describe schedule %q: %w", id, err)
	}

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{{Every: interval}}
			in.Description.Schedule.Action = c.workflowAction(input)
			return &client.ScheduleUpdate{Schedule: &in.Description.Schedule}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}
	c.logger.Info("deposit schedule updated", "schedule_id", id, "interval", interval)
	return nil
}

// DeleteDepositSchedule deletes the polling schedule.
func (c *Client) DeleteDepositSchedule(ctx context.Context, custodyAddress string) error {
	id := scheduleID(custodyAddress)
	if err := c.client.ScheduleClient().GetHandle(ctx, id).Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}
	c.logger.Info("deposit schedule deleted", "schedule_id", id)
	return nil
}

// TriggerPoll starts one poll immediately and waits for its result.
func (c *Client) TriggerPoll(ctx context.Context, input PollDepositsInput) (*PollDepositsResult, error) {
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("poll-deposits-manual-%s-%d", input.CustodyAddress, time.Now().UnixNano()),
		TaskQueue: c.taskQueue,
	}, PollDepositsWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start poll: %w", err)
	}

	var result PollDepositsResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("poll failed: %w", err)
	}
	return &result, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
