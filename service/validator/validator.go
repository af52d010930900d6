// Package validator checks transfer requests against the token rules and
// computes the maximum amount a balance can send. Every check is pure:
// failures come back as a Result with a reason, never as an error.
package validator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/brojonat/ledgerwallet/service/amount"
	"github.com/brojonat/ledgerwallet/service/tokens"
)

// Reason classifies a validation failure.
type Reason string

const (
	ReasonInvalidFormat       Reason = "InvalidFormat"
	ReasonBelowMinimum        Reason = "BelowMinimum"
	ReasonInsufficientBalance Reason = "InsufficientBalance"
	ReasonUnknownToken        Reason = "UnknownToken"
)

// Result is the outcome of a validation. Invalid results always carry a
// reason and a message that can be shown to the user as is.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK is the valid result.
var OK = Result{Valid: true}

func fail(reason Reason, format string, args ...any) Result {
	return Result{Reason: reason, Error: fmt.Sprintf(format, args...)}
}

// Validator validates amounts and addresses against a rule table.
type Validator struct {
	tokens *tokens.Table
}

// New returns a validator over table.
func New(table *tokens.Table) *Validator {
	return &Validator{tokens: table}
}

// Tokens returns the rule table the validator reads.
func (v *Validator) Tokens() *tokens.Table {
	return v.tokens
}

func (v *Validator) lookup(token string) (tokens.Rule, *Result) {
	rule, err := v.tokens.Lookup(token)
	if err != nil {
		r := fail(ReasonUnknownToken, "token %q is not supported", token)
		return tokens.Rule{}, &r
	}
	return rule, nil
}

// ValidateAmount checks amount against the token minimum and, with fees
// included when includesFees is set, against balance.
func (v *Validator) ValidateAmount(amt, balance, token string, op tokens.OperationKind, includesFees bool) Result {
	_, _, res := v.checkAmount(amt, balance, token, op, includesFees)
	return res
}

func (v *Validator) checkAmount(amt, balance, token string, op tokens.OperationKind, includesFees bool) (*big.Int, *big.Int, Result) {
	rule, bad := v.lookup(token)
	if bad != nil {
		return nil, nil, *bad
	}
	if !op.Valid() {
		return nil, nil, fail(ReasonInvalidFormat, "operation %q is not supported", op)
	}

	units, err := amount.ToSmallestUnits(amt, rule.Decimals)
	if err != nil {
		if amt == "" {
			return nil, nil, fail(ReasonInvalidFormat, "amount is required")
		}
		return nil, nil, fail(ReasonInvalidFormat, "amount %q is not a valid %s amount (digits with at most %d decimal places)", amt, rule.Symbol, rule.Decimals)
	}
	available, err := amount.ToSmallestUnits(balance, rule.Decimals)
	if err != nil {
		return nil, nil, fail(ReasonInvalidFormat, "balance %q is not a valid %s amount", balance, rule.Symbol)
	}

	if units.Sign() <= 0 {
		return nil, nil, fail(ReasonBelowMinimum, "amount must be greater than zero")
	}
	if units.Cmp(rule.MinTransferUnits()) < 0 {
		return nil, nil, fail(ReasonBelowMinimum, "amount is below the minimum transfer of %s %s", rule.MinTransfer, rule.Symbol)
	}

	fee := new(big.Int)
	if includesFees {
		fee, err = rule.FeeFor(op)
		if err != nil {
			return nil, nil, fail(ReasonInvalidFormat, "no fee is defined for %s on %s", op, rule.Symbol)
		}
	}
	required := new(big.Int).Add(units, fee)
	if required.Cmp(available) > 0 {
		if fee.Sign() > 0 {
			return nil, nil, fail(ReasonInsufficientBalance, "insufficient balance: %s %s plus a %s fee exceeds the available %s",
				amount.ToDecimalString(units, rule.Decimals), rule.Symbol,
				amount.ToDecimalString(fee, rule.Decimals),
				amount.ToDecimalString(available, rule.Decimals))
		}
		return nil, nil, fail(ReasonInsufficientBalance, "insufficient balance: %s %s exceeds the available %s",
			amount.ToDecimalString(units, rule.Decimals), rule.Symbol,
			amount.ToDecimalString(available, rule.Decimals))
	}

	return units, fee, OK
}

// CalculateMaxAvailable returns the largest amount that balance can send
// once the fee for op is taken out, formatted with the token's decimals.
// A balance below the fee yields zero, never a negative amount.
func (v *Validator) CalculateMaxAvailable(balance, token string, op tokens.OperationKind) (string, error) {
	rule, err := v.tokens.Lookup(token)
	if err != nil {
		return "", err
	}
	available, err := amount.ToSmallestUnits(balance, rule.Decimals)
	if err != nil {
		return "", fmt.Errorf("invalid balance: %w", err)
	}
	fee, err := rule.FeeFor(op)
	if err != nil {
		return "", err
	}

	sendable := new(big.Int).Sub(available, fee)
	if sendable.Sign() < 0 {
		sendable.SetInt64(0)
	}
	return amount.ToDecimalString(sendable, rule.Decimals), nil
}

// Request is a transfer as entered by the user.
type Request struct {
	Token     string               `json:"token"`
	To        string               `json:"to"`
	Amount    string               `json:"amount"`
	Balance   string               `json:"balance"`
	Operation tokens.OperationKind `json:"operation"`
}

// Prepared is a validated request with its amounts in smallest units.
type Prepared struct {
	Token     string
	To        string
	Operation tokens.OperationKind
	Amount    *big.Int
	Fee       *big.Int
	Decimals  int
}

// ErrRejected wraps a failed Result when a caller needs an error value.
var ErrRejected = errors.New("request rejected")

// Prepare validates the recipient and the amount (fees included) and
// returns the parsed request ready for submission.
func (v *Validator) Prepare(req Request) (Prepared, Result) {
	if res := v.ValidateAddress(req.To, req.Token); !res.Valid {
		return Prepared{}, res
	}
	units, fee, res := v.checkAmount(req.Amount, req.Balance, req.Token, req.Operation, true)
	if !res.Valid {
		return Prepared{}, res
	}
	rule, _ := v.tokens.Lookup(req.Token)
	return Prepared{
		Token:     req.Token,
		To:        req.To,
		Operation: req.Operation,
		Amount:    units,
		Fee:       fee,
		Decimals:  rule.Decimals,
	}, OK
}

// Err converts an invalid result into an error wrapping ErrRejected.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrRejected, r.Reason, r.Error)
}
