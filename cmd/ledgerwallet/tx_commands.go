package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerwallet/client"
	"github.com/brojonat/ledgerwallet/service/display"
)

func newClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, setupLogger(c))
}

func criteriaFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind (send, receive, deposit, withdraw)"},
		&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "Filter by token"},
		&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, confirmed, failed)"},
		&cli.StringFlag{Name: "search", Aliases: []string{"q"}, Usage: "Case-insensitive search over addresses, id and block index"},
	}
}

func criteriaFrom(c *cli.Context) client.Criteria {
	return client.Criteria{
		Kind:   c.String("kind"),
		Token:  c.String("token"),
		Status: c.String("status"),
		Search: c.String("search"),
	}
}

func printTransactions(w io.Writer, txs []client.Transaction) {
	t := newTable(w, "ID", "Time", "Kind", "Token", "Amount", "Status", "From", "To")
	for _, tx := range txs {
		t.Append([]string{
			strconv.FormatUint(tx.ID, 10),
			tx.Time.Format(time.RFC3339),
			tx.Kind,
			tx.Token,
			tx.AmountDisplay,
			tx.Status,
			display.Truncate(tx.From, 16),
			display.Truncate(tx.To, 16),
		})
	}
	t.Render()
}

func printTransactionDetailed(w io.Writer, tx *client.Transaction) {
	fmt.Fprintf(w, "ID:          %d\n", tx.ID)
	fmt.Fprintf(w, "Kind:        %s\n", tx.Kind)
	fmt.Fprintf(w, "Token:       %s\n", tx.Token)
	fmt.Fprintf(w, "Amount:      %s (%s units)\n", tx.AmountDisplay, tx.Amount)
	fmt.Fprintf(w, "Status:      %s\n", tx.Status)
	fmt.Fprintf(w, "From:        %s\n", tx.From)
	fmt.Fprintf(w, "To:          %s\n", tx.To)
	fmt.Fprintf(w, "Time:        %s\n", tx.Time.Format(time.RFC3339))
	if tx.BlockIndex != nil {
		fmt.Fprintf(w, "Block Index: %s\n", *tx.BlockIndex)
	}
}

func parseIDArg(c *cli.Context) (uint64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("requires exactly one argument: transaction id")
	}
	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id %q", c.Args().First())
	}
	return id, nil
}

func txCommands() *cli.Command {
	return &cli.Command{
		Name:    "tx",
		Aliases: []string{"transactions"},
		Usage:   "Ledger history and transfers via the HTTP API",
		Subcommands: []*cli.Command{
			txListCommand(),
			txRecentCommand(),
			txStatsCommand(),
			txGetCommand(),
			txSubmitCommand(),
			txSettleCommand(),
			txSyncCommand(),
			txAwaitCommand(),
		},
	}
}

func txListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List one page of filtered history",
		Flags: append(criteriaFlags(),
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Usage: "Page number (1-based)"},
			&cli.IntFlag{Name: "page-size", Usage: "Records per page (server default when unset)"},
		),
		Action: func(c *cli.Context) error {
			page, err := newClient(c).ListTransactions(c.Context, criteriaFrom(c), c.Int("page"), c.Int("page-size"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			return output(c, page, func(w io.Writer) {
				printTransactions(w, page.Items)
				fmt.Fprintf(w, "\nPage %d of %d (%d matching; %d confirmed, %d pending, %d failed)\n",
					page.Page, page.TotalPages, page.Filtered,
					page.Stats.Confirmed, page.Stats.Pending, page.Stats.Failed)
			})
		},
	}
}

func txRecentCommand() *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "Show the newest records",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 5, Usage: "Number of records"},
		},
		Action: func(c *cli.Context) error {
			txs, err := newClient(c).Recent(c.Context, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to get recent transactions: %w", err)
			}
			return output(c, txs, func(w io.Writer) {
				printTransactions(w, txs)
			})
		},
	}
}

func txStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Status counts and confirmed per-token totals",
		Flags: criteriaFlags(),
		Action: func(c *cli.Context) error {
			stats, err := newClient(c).Stats(c.Context, criteriaFrom(c))
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return output(c, stats, func(w io.Writer) {
				s := stats.Summary
				fmt.Fprintf(w, "Total: %d  Confirmed: %d  Pending: %d  Failed: %d\n\n", s.Total, s.Confirmed, s.Pending, s.Failed)
				t := newTable(w, "Token", "Inflow", "Outflow", "Net")
				for _, tt := range stats.Totals {
					t.Append([]string{tt.Token, tt.InflowDisplay, tt.OutflowDisplay, tt.NetDisplay})
				}
				t.Render()
			})
		},
	}
}

func txGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one record",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id, err := parseIDArg(c)
			if err != nil {
				return err
			}
			tx, err := newClient(c).GetTransaction(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			return output(c, tx, func(w io.Writer) {
				printTransactionDetailed(w, tx)
			})
		},
	}
}

func txSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Validate and submit a transfer",
		ArgsUsage: "AMOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Required: true, Usage: "Token to send"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Recipient address"},
			&cli.StringFlag{Name: "balance", Aliases: []string{"b"}, Usage: "External wallet balance (decimal), DEPOSIT only"},
			&cli.StringFlag{Name: "from", Usage: "Custodial account to debit"},
			&cli.StringFlag{Name: "request-id", Usage: "Idempotency key; reuse it to retry safely (generated when empty)"},
			operationFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: amount")
			}
			requestID := c.String("request-id")
			if requestID == "" {
				requestID = uuid.NewString()
			} else if _, err := uuid.Parse(requestID); err != nil {
				return fmt.Errorf("invalid request id %q: %w", requestID, err)
			}
			fmt.Fprintf(c.App.ErrWriter, "request id: %s\n", requestID)

			res, err := newClient(c).SubmitTransfer(c.Context, client.TransferRequest{
				Token:     c.String("token"),
				To:        c.String("to"),
				Amount:    c.Args().First(),
				Balance:   c.String("balance"),
				Operation: string(operation(c)),
				From:      c.String("from"),
				RequestID: requestID,
			})
			if err != nil {
				return fmt.Errorf("failed to submit transfer: %w", err)
			}
			err = output(c, res, func(w io.Writer) {
				if !res.Result.Valid {
					fmt.Fprintf(w, "✗ rejected: %s: %s\n", res.Result.Reason, res.Result.Error)
					return
				}
				fmt.Fprintln(w, "✓ Transfer submitted")
				printTransactionDetailed(w, res.Transaction)
			})
			if err != nil {
				return err
			}
			if !res.Result.Valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func txSettleCommand() *cli.Command {
	return &cli.Command{
		Name:      "settle",
		Usage:     "Move a pending record to confirmed or failed",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Required: true, Usage: "confirmed or failed"},
			&cli.StringFlag{Name: "block-index", Usage: "Block index of the settled transfer"},
		},
		Action: func(c *cli.Context) error {
			id, err := parseIDArg(c)
			if err != nil {
				return err
			}
			tx, err := newClient(c).Settle(c.Context, id, c.String("status"), c.String("block-index"))
			if err != nil {
				return fmt.Errorf("failed to settle transaction: %w", err)
			}
			return output(c, tx, func(w io.Writer) {
				printTransactionDetailed(w, tx)
			})
		},
	}
}

func txSyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Merge the backend history into the server's ledger",
		Action: func(c *cli.Context) error {
			res, err := newClient(c).Sync(c.Context)
			if err != nil {
				return fmt.Errorf("failed to sync: %w", err)
			}
			return output(c, res, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Synced: %d fetched, %d appended, %d replaced, %d unchanged\n",
					res.Fetched, res.Appended, res.Replaced, res.Skipped)
			})
		},
	}
}

func txAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a ledger event matching every filter arrives",
		ArgsUsage: "[TOKEN]",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "id", Usage: "Match a record id"},
			&cli.StringFlag{Name: "status", Usage: "Match a status"},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter over the event that must be truthy (repeatable, all must match)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Minute,
				Usage: "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			token := c.Args().First()
			id := c.Uint64("id")
			status := c.String("status")
			jqFilters := c.StringSlice("must-jq")
			if id == 0 && status == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify at least one filter: --id, --status, or --must-jq")
			}

			filters := make([]*gojq.Code, len(jqFilters))
			for i, f := range jqFilters {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				filters[i] = code
			}

			logger := setupLogger(c)
			matcher := func(e client.Event) bool {
				if id != 0 && e.ID != id {
					return false
				}
				if status != "" && e.Status != status {
					return false
				}
				ok, err := matchJQ(filters, e)
				if err != nil {
					logger.Debug("jq filter error", "error", err)
					return false
				}
				return ok
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cl := client.NewClient(c.String("server-url"), &http.Client{}, logger)
			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(c.App.ErrWriter, "Waiting for ledger event (timeout %s)...\n", c.Duration("timeout"))
			}
			event, err := cl.Await(ctx, token, matcher)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("no matching event within %s", c.Duration("timeout"))
			}
			if err != nil {
				return fmt.Errorf("failed to await event: %w", err)
			}
			return output(c, event, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s: transaction %d %s %s %s units (%s)\n",
					event.Type, event.ID, event.Kind, event.Token, event.Amount, event.Status)
			})
		},
	}
}
