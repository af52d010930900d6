package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName     = "LEDGER"
	SubjectPrefix  = "ledger."
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention bounds how far back a late subscriber can replay.
	StreamRetention = 30 * 24 * time.Hour
)

// Publisher fans ledger record changes out to subscribers.
type Publisher interface {
	PublishEvent(ctx context.Context, event *LedgerEvent) error
	// PublishEvents attempts every event and reports the first failure.
	PublishEvents(ctx context.Context, events []*LedgerEvent) error
	Close() error
}

// JetStreamPublisher writes events into the LEDGER stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher connects to natsURL and creates or updates the LEDGER stream.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ledgerwallet-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Ledger record changes from the custodial wallet",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
		"messages", stream.CachedInfo().State.Msgs,
	)
	return &JetStreamPublisher{nc: nc, js: js, logger: logger}, nil
}

// MessageID identifies one state of one record. JetStream drops a second
// publish with the same id inside the duplicate window, which makes retried
// activities safe.
func MessageID(event *LedgerEvent) string {
	return fmt.Sprintf("%d-%s-%s", event.ID, event.Type, event.Status)
}

func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	subject := Subject(event.Token)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(MessageID(event))); err != nil {
		return fmt.Errorf("failed to publish ledger event %d: %w", event.ID, err)
	}

	p.logger.DebugContext(ctx, "published ledger event",
		"subject", subject,
		"id", event.ID,
		"type", event.Type,
		"status", event.Status,
	)
	return nil
}

func (p *JetStreamPublisher) PublishEvents(ctx context.Context, events []*LedgerEvent) error {
	var firstErr error
	for _, event := range events {
		if err := p.PublishEvent(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish ledger event in batch",
				"id", event.ID,
				"token", event.Token,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
