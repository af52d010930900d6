// Package tokens holds the static per-token rules: decimals, minimum
// transfer, base fee and the fee multiplier applied per operation.
package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/brojonat/ledgerwallet/service/amount"
)

// ErrUnknownToken is returned when a token has no rule in the table.
var ErrUnknownToken = errors.New("unknown token")

// OperationKind selects the fee multiplier for a balance-affecting action.
type OperationKind string

const (
	OpTransfer OperationKind = "TRANSFER"
	OpWithdraw OperationKind = "WITHDRAW"
	OpDeposit  OperationKind = "DEPOSIT"
)

// Operations lists every operation kind in a stable order.
var Operations = []OperationKind{OpTransfer, OpWithdraw, OpDeposit}

// Valid reports whether op is a known operation kind.
func (op OperationKind) Valid() bool {
	switch op {
	case OpTransfer, OpWithdraw, OpDeposit:
		return true
	}
	return false
}

// Scheme names the address format a token's recipients use.
type Scheme string

const (
	SchemeICP    Scheme = "icp"
	SchemeSolana Scheme = "solana"
	SchemeEVM    Scheme = "evm"
)

func (s Scheme) valid() bool {
	switch s {
	case SchemeICP, SchemeSolana, SchemeEVM:
		return true
	}
	return false
}

// DefaultMultipliers are applied for operations a config leaves unset.
func DefaultMultipliers() map[OperationKind]decimal.Decimal {
	return map[OperationKind]decimal.Decimal{
		OpTransfer: decimal.NewFromInt(1),
		OpWithdraw: decimal.RequireFromString("1.5"),
		OpDeposit:  decimal.Zero,
	}
}

// Rule is the immutable configuration of one token. Values handed out by
// Table.Lookup are copies; the unit accessors return fresh big.Ints.
type Rule struct {
	Symbol        string
	Decimals      int
	MinTransfer   string
	Fee           string
	AddressScheme Scheme

	multipliers map[OperationKind]decimal.Decimal
	minUnits    *big.Int
	feeUnits    *big.Int
}

// MinTransferUnits is MinTransfer in smallest units.
func (r Rule) MinTransferUnits() *big.Int { return amount.Clone(r.minUnits) }

// FeeUnits is the base fee in smallest units, before any multiplier.
func (r Rule) FeeUnits() *big.Int { return amount.Clone(r.feeUnits) }

// Multiplier returns the fee multiplier for op.
func (r Rule) Multiplier(op OperationKind) (decimal.Decimal, error) {
	m, ok := r.multipliers[op]
	if !ok {
		return decimal.Zero, fmt.Errorf("no fee multiplier for operation %q", op)
	}
	return m, nil
}

// FeeFor returns the fee charged for op in smallest units: the base fee
// scaled by the operation multiplier and rounded up to a whole unit.
func (r Rule) FeeFor(op OperationKind) (*big.Int, error) {
	m, err := r.Multiplier(op)
	if err != nil {
		return nil, err
	}
	return decimal.NewFromBigInt(r.feeUnits, 0).Mul(m).Ceil().BigInt(), nil
}

// RuleConfig is the serialized form of a rule, as read from YAML.
type RuleConfig struct {
	Symbol         string            `yaml:"symbol" json:"symbol"`
	Decimals       int               `yaml:"decimals" json:"decimals"`
	MinTransfer    string            `yaml:"min_transfer" json:"min_transfer"`
	Fee            string            `yaml:"fee" json:"fee"`
	AddressScheme  Scheme            `yaml:"address_scheme" json:"address_scheme"`
	FeeMultipliers map[string]string `yaml:"fee_multipliers,omitempty" json:"fee_multipliers,omitempty"`
}

// Config renders the rule back into its serialized form.
func (r Rule) Config() RuleConfig {
	ms := make(map[string]string, len(r.multipliers))
	for op, m := range r.multipliers {
		ms[string(op)] = m.String()
	}
	return RuleConfig{
		Symbol:         r.Symbol,
		Decimals:       r.Decimals,
		MinTransfer:    r.MinTransfer,
		Fee:            r.Fee,
		AddressScheme:  r.AddressScheme,
		FeeMultipliers: ms,
	}
}

func newRule(cfg RuleConfig) (Rule, error) {
	if cfg.Symbol == "" {
		return Rule{}, errors.New("symbol is required")
	}
	if cfg.Decimals < 0 {
		return Rule{}, fmt.Errorf("decimals must be >= 0, got %d", cfg.Decimals)
	}
	if !cfg.AddressScheme.valid() {
		return Rule{}, fmt.Errorf("unsupported address scheme %q", cfg.AddressScheme)
	}

	minUnits, minNorm, err := amount.Parse(cfg.MinTransfer, cfg.Decimals)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid min_transfer: %w", err)
	}
	feeUnits, feeNorm, err := amount.Parse(cfg.Fee, cfg.Decimals)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid fee: %w", err)
	}

	multipliers := DefaultMultipliers()
	for key, raw := range cfg.FeeMultipliers {
		op := OperationKind(key)
		if !op.Valid() {
			return Rule{}, fmt.Errorf("fee multiplier for unknown operation %q", key)
		}
		m, err := decimal.NewFromString(raw)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid fee multiplier for %s: %w", op, err)
		}
		if m.IsNegative() {
			return Rule{}, fmt.Errorf("fee multiplier for %s must be >= 0, got %s", op, raw)
		}
		multipliers[op] = m
	}

	return Rule{
		Symbol:        cfg.Symbol,
		Decimals:      cfg.Decimals,
		MinTransfer:   minNorm,
		Fee:           feeNorm,
		AddressScheme: cfg.AddressScheme,
		multipliers:   multipliers,
		minUnits:      minUnits,
		feeUnits:      feeUnits,
	}, nil
}

// Table is a read-only set of rules keyed by token symbol.
type Table struct {
	rules map[string]Rule
}

// NewTable builds a table, rejecting malformed rules and duplicate symbols.
func NewTable(configs []RuleConfig) (*Table, error) {
	rules := make(map[string]Rule, len(configs))
	for i, cfg := range configs {
		r, err := newRule(cfg)
		if err != nil {
			return nil, fmt.Errorf("token rule %d (%s): %w", i, cfg.Symbol, err)
		}
		if _, exists := rules[r.Symbol]; exists {
			return nil, fmt.Errorf("duplicate token rule for %s", r.Symbol)
		}
		rules[r.Symbol] = r
	}
	return &Table{rules: rules}, nil
}

// Lookup returns the rule for token.
func (t *Table) Lookup(token string) (Rule, error) {
	r, ok := t.rules[token]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return r, nil
}

// Has reports whether token has a rule.
func (t *Table) Has(token string) bool {
	_, ok := t.rules[token]
	return ok
}

// Symbols returns the known token symbols, sorted.
func (t *Table) Symbols() []string {
	out := make([]string, 0, len(t.rules))
	for s := range t.rules {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Rules returns every rule ordered by symbol.
func (t *Table) Rules() []Rule {
	symbols := t.Symbols()
	out := make([]Rule, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, t.rules[s])
	}
	return out
}
