package main

import (
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerwallet/service/amount"
	"github.com/brojonat/ledgerwallet/service/display"
	"github.com/brojonat/ledgerwallet/service/tokens"
	"github.com/brojonat/ledgerwallet/service/validator"
)

func loadTable(c *cli.Context) (*tokens.Table, error) {
	table, err := tokens.Load(c.String("token-rules"))
	if err != nil {
		return nil, fmt.Errorf("failed to load token rules: %w", err)
	}
	return table, nil
}

// decimalsFor resolves --decimals, falling back to the rule for --token.
func decimalsFor(c *cli.Context) (int, error) {
	if c.IsSet("decimals") {
		d := c.Int("decimals")
		if d < 0 {
			return 0, fmt.Errorf("decimals cannot be negative")
		}
		return d, nil
	}
	token := c.String("token")
	if token == "" {
		return 0, fmt.Errorf("either --token or --decimals is required")
	}
	table, err := loadTable(c)
	if err != nil {
		return 0, err
	}
	rule, err := table.Lookup(token)
	if err != nil {
		return 0, err
	}
	return rule.Decimals, nil
}

func unitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			Usage:   "Token whose decimals to use",
		},
		&cli.IntFlag{
			Name:    "decimals",
			Aliases: []string{"d"},
			Usage:   "Decimals to use instead of a token rule",
		},
	}
}

func amountCommands() *cli.Command {
	return &cli.Command{
		Name:  "amount",
		Usage: "Convert between decimal amounts and smallest units",
		Subcommands: []*cli.Command{
			{
				Name:      "parse",
				Usage:     "Convert a decimal amount to smallest units",
				ArgsUsage: "AMOUNT",
				Flags:     unitFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: amount")
					}
					decimals, err := decimalsFor(c)
					if err != nil {
						return err
					}
					units, normalized, err := amount.Parse(c.Args().First(), decimals)
					if err != nil {
						return err
					}
					result := map[string]interface{}{
						"input":      c.Args().First(),
						"units":      units.String(),
						"normalized": normalized,
						"decimals":   decimals,
					}
					return output(c, result, func(w io.Writer) {
						fmt.Fprintln(w, units.String())
					})
				},
			},
			{
				Name:      "format",
				Usage:     "Render smallest units as a decimal amount",
				ArgsUsage: "UNITS",
				Flags: append(unitFlags(),
					&cli.BoolFlag{
						Name:  "display",
						Usage: fmt.Sprintf("Truncate to %d fractional digits as the API does", display.AmountPlaces),
					},
				),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: units")
					}
					units, ok := new(big.Int).SetString(c.Args().First(), 10)
					if !ok {
						return fmt.Errorf("invalid units %q: must be an integer", c.Args().First())
					}
					decimals, err := decimalsFor(c)
					if err != nil {
						return err
					}
					formatted := amount.ToDecimalString(units, decimals)
					if c.Bool("display") {
						formatted = display.Amount(units, decimals)
					}
					return output(c, map[string]interface{}{
						"units":    units.String(),
						"amount":   formatted,
						"decimals": decimals,
					}, func(w io.Writer) {
						fmt.Fprintln(w, formatted)
					})
				},
			},
		},
	}
}

// printResult writes a validation verdict and turns a rejection into a
// non-zero exit.
func printResult(c *cli.Context, res validator.Result) error {
	err := output(c, res, func(w io.Writer) {
		if res.Valid {
			fmt.Fprintln(w, "✓ valid")
			return
		}
		fmt.Fprintf(w, "✗ %s: %s\n", res.Reason, res.Error)
	})
	if err != nil {
		return err
	}
	if !res.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func operationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "operation",
		Aliases: []string{"op"},
		Usage:   "Operation kind (TRANSFER, WITHDRAW, DEPOSIT)",
		Value:   string(tokens.OpTransfer),
	}
}

func operation(c *cli.Context) tokens.OperationKind {
	return tokens.OperationKind(strings.ToUpper(c.String("operation")))
}

func validateCommands() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate recipients and amounts against the token rules",
		Subcommands: []*cli.Command{
			{
				Name:      "address",
				Usage:     "Check that an address can receive a token",
				ArgsUsage: "ADDRESS",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Required: true, Usage: "Token to send"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: address")
					}
					table, err := loadTable(c)
					if err != nil {
						return err
					}
					return printResult(c, validator.New(table).ValidateAddress(c.Args().First(), c.String("token")))
				},
			},
			{
				Name:      "amount",
				Usage:     "Check an amount against a balance",
				ArgsUsage: "AMOUNT",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Required: true, Usage: "Token to send"},
					&cli.StringFlag{Name: "balance", Aliases: []string{"b"}, Required: true, Usage: "Available balance (decimal)"},
					operationFlag(),
					&cli.BoolFlag{Name: "includes-fees", Usage: "The amount already includes the fee"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: amount")
					}
					table, err := loadTable(c)
					if err != nil {
						return err
					}
					res := validator.New(table).ValidateAmount(c.Args().First(), c.String("balance"), c.String("token"), operation(c), c.Bool("includes-fees"))
					return printResult(c, res)
				},
			},
		},
	}
}

func maxAvailableCommand() *cli.Command {
	return &cli.Command{
		Name:  "max",
		Usage: "Largest amount a balance can send after fees",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Required: true, Usage: "Token to send"},
			&cli.StringFlag{Name: "balance", Aliases: []string{"b"}, Required: true, Usage: "Available balance (decimal)"},
			operationFlag(),
		},
		Action: func(c *cli.Context) error {
			table, err := loadTable(c)
			if err != nil {
				return err
			}
			sendable, err := validator.New(table).CalculateMaxAvailable(c.String("balance"), c.String("token"), operation(c))
			if err != nil {
				return err
			}
			return output(c, map[string]string{
				"token":         c.String("token"),
				"operation":     string(operation(c)),
				"max_available": sendable,
			}, func(w io.Writer) {
				fmt.Fprintln(w, sendable)
			})
		},
	}
}

func tokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Show the token rule table",
		Action: func(c *cli.Context) error {
			table, err := loadTable(c)
			if err != nil {
				return err
			}
			rules := table.Rules()
			configs := make([]tokens.RuleConfig, len(rules))
			for i, r := range rules {
				configs[i] = r.Config()
			}
			return output(c, configs, func(w io.Writer) {
				t := newTable(w, "Symbol", "Decimals", "Min Transfer", "Fee", "Scheme", "Multipliers")
				for _, cfg := range configs {
					t.Append([]string{
						cfg.Symbol,
						strconv.Itoa(cfg.Decimals),
						cfg.MinTransfer,
						cfg.Fee,
						string(cfg.AddressScheme),
						formatMultipliers(cfg.FeeMultipliers),
					})
				}
				t.Render()
			})
		},
	}
}

func formatMultipliers(ms map[string]string) string {
	ops := make([]string, 0, len(ms))
	for op := range ms {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op + "=" + ms[op]
	}
	return strings.Join(parts, " ")
}
