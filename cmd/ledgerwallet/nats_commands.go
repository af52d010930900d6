package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/ledgerwallet/service/nats"
)

// subscribeCommand streams ledger events straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to ledger events for a token, or every token",
		ArgsUsage: "[TOKEN]",
		Description: `Subscribe to ledger events published to NATS JetStream.

Events are published to the subject ledger.{token}.

Example:
  ledgerwallet nats subscribe ICP --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "ledgerwallet-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay the stream from the beginning instead of only new events",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if token := c.Args().First(); token != "" {
				subject = natspkg.Subject(token)
			}
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(c.String("nats-url"), nats.Name("ledgerwallet-cli"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(c.App.ErrWriter, "Waiting for ledger events... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			count := 0
			w := c.App.Writer
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.LedgerEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					count++

					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Fprintln(w, string(data))
					} else {
						fmt.Fprintf(w, "#%d %-8s id=%d %s %s %s units status=%s at=%s\n",
							count, event.Type, event.ID, event.Kind, event.Token, event.Amount, event.Status,
							event.PublishedAt.Format(time.RFC3339))
					}
					msg.Ack()

				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d events\n", count)
					}
					if ctx.Err() == context.Canceled {
						return nil
					}
					return ctx.Err()
				}
			}
		},
	}
}
