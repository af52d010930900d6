package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerwallet/service/db"
	"github.com/brojonat/ledgerwallet/service/display"
	"github.com/brojonat/ledgerwallet/service/ledger"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the ledger table if it does not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.ErrWriter, "✓ Schema is up to date")
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List stored records, newest first",
		Aliases: []string{"list", "txs"},
		Flags: append(criteriaFlags(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of records (0 for all)",
				Value:   50,
			},
		),
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListTransactions(c.Context)
			if err != nil {
				return err
			}

			criteria := ledger.Criteria{
				Kind:   c.String("kind"),
				Token:  c.String("token"),
				Status: c.String("status"),
				Search: c.String("search"),
			}
			matched := ledger.SortByTimestamp(ledger.Filter(records, criteria))
			if n := c.Int("limit"); n > 0 && len(matched) > n {
				matched = matched[:n]
			}

			return output(c, matched, func(w io.Writer) {
				t := newTable(w, "ID", "Time", "Kind", "Token", "Units", "Status", "Block", "From", "To")
				for _, tx := range matched {
					t.Append([]string{
						strconv.FormatUint(tx.ID, 10),
						tx.Time().UTC().Format(time.RFC3339),
						string(tx.Kind),
						tx.Token,
						tx.Amount.String(),
						string(tx.Status),
						tx.BlockIndexString(),
						display.Truncate(tx.From, 16),
						display.Truncate(tx.To, 16),
					})
				}
				t.Render()
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d of %d records\n", len(matched), len(records))
			})
		},
	}
}

func countsCommand() *cli.Command {
	return &cli.Command{
		Name:  "counts",
		Usage: "Count stored records by status",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			counts, err := store.CountByStatus(c.Context)
			if err != nil {
				return err
			}
			return output(c, counts, func(w io.Writer) {
				t := newTable(w, "Status", "Count")
				for _, s := range []ledger.Status{ledger.StatusConfirmed, ledger.StatusPending, ledger.StatusFailed} {
					t.Append([]string{string(s), strconv.FormatInt(counts[s], 10)})
				}
				t.Render()
			})
		},
	}
}

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}
