package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerwallet/service/config"
	"github.com/brojonat/ledgerwallet/service/temporal"
)

func pollFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mints",
			Usage:   "SPL mints to watch as mint=TOKEN,mint=TOKEN",
			EnvVars: []string{"DEPOSIT_TOKEN_MINTS"},
		},
		&cli.IntFlag{
			Name:    "limit",
			Usage:   "Signatures fetched per address per poll",
			EnvVars: []string{"DEPOSIT_SIGNATURE_LIMIT"},
			Value:   temporal.DefaultSignatureLimit,
		},
	}
}

// pollInput builds the workflow input from the custody argument (or
// CUSTODY_DEPOSIT_ADDRESS) and the poll flags.
func pollInput(c *cli.Context) (temporal.PollDepositsInput, error) {
	custody := c.Args().First()
	if custody == "" {
		custody = os.Getenv("CUSTODY_DEPOSIT_ADDRESS")
	}
	if custody == "" {
		return temporal.PollDepositsInput{}, fmt.Errorf("custody address is required (argument or CUSTODY_DEPOSIT_ADDRESS)")
	}
	mints, err := config.ParseMints(c.String("mints"))
	if err != nil {
		return temporal.PollDepositsInput{}, err
	}
	return temporal.PollDepositsInput{
		CustodyAddress: custody,
		Mints:          mints,
		Limit:          c.Int("limit"),
	}, nil
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		setupLogger(c),
	)
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-schedule",
		Aliases:   []string{"upsert-schedule"},
		Usage:     "Create or update the deposit polling schedule",
		ArgsUsage: "[CUSTODY_ADDRESS]",
		Flags: append(pollFlags(),
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Time between polls",
				EnvVars: []string{"DEPOSIT_POLL_INTERVAL"},
				Value:   30 * time.Second,
			},
		),
		Action: func(c *cli.Context) error {
			input, err := pollInput(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertDepositSchedule(c.Context, input, interval); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule ready for %s\n", input.CustodyAddress)
			fmt.Fprintf(c.App.Writer, "  Interval:   %v\n", interval)
			fmt.Fprintf(c.App.Writer, "  Mints:      %d\n", len(input.Mints))
			fmt.Fprintf(c.App.Writer, "  Task Queue: %s\n", c.String("task-queue"))
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete the deposit polling schedule",
		ArgsUsage: "[CUSTODY_ADDRESS]",
		Action: func(c *cli.Context) error {
			custody := c.Args().First()
			if custody == "" {
				custody = os.Getenv("CUSTODY_DEPOSIT_ADDRESS")
			}
			if custody == "" {
				return fmt.Errorf("custody address is required (argument or CUSTODY_DEPOSIT_ADDRESS)")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteDepositSchedule(c.Context, custody); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule deleted for %s\n", custody)
			return nil
		},
	}
}

func triggerPollCommand() *cli.Command {
	return &cli.Command{
		Name:      "poll",
		Usage:     "Run one deposit poll now and wait for its result",
		ArgsUsage: "[CUSTODY_ADDRESS]",
		Flags:     pollFlags(),
		Action: func(c *cli.Context) error {
			input, err := pollInput(c)
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			res, err := tc.TriggerPoll(c.Context, input)
			if err != nil {
				return err
			}
			return output(c, res, func(w io.Writer) {
				fmt.Fprintf(w, "Polled %s\n", strings.Join(res.PolledAddresses, ", "))
				fmt.Fprintf(w, "  Deposits:  %d\n", res.DepositCount)
				fmt.Fprintf(w, "  Inserted:  %d\n", res.Inserted)
				fmt.Fprintf(w, "  Settled:   %d\n", res.Settled)
				fmt.Fprintf(w, "  Unchanged: %d\n", res.Unchanged)
				fmt.Fprintf(w, "  Skipped:   %d\n", res.Skipped)
				if res.Error != nil {
					fmt.Fprintf(w, "  Error:     %s\n", *res.Error)
				}
			})
		},
	}
}
