// Package ledger holds the in-memory transaction history and the pure
// query functions (filter, paginate, stats, recent) computed over it.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/ledgerwallet/service/amount"
)

var (
	ErrDuplicateID       = errors.New("duplicate transaction id")
	ErrNotFound          = errors.New("transaction not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRecord     = errors.New("invalid transaction record")
)

// Kind is the direction of a transaction relative to the wallet owner.
type Kind string

const (
	KindSend     Kind = "send"
	KindReceive  Kind = "receive"
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindMint     Kind = "mint"
)

// Kinds lists every kind.
var Kinds = []Kind{KindSend, KindReceive, KindDeposit, KindWithdraw, KindMint}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSend, KindReceive, KindDeposit, KindWithdraw, KindMint:
		return true
	}
	return false
}

// Decreases reports whether the kind takes funds out of the wallet.
func (k Kind) Decreases() bool {
	return k == KindSend || k == KindWithdraw
}

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Transaction is one immutable history record. Amount is in smallest units
// of Token. BlockIndex is set only once the status leaves pending.
type Transaction struct {
	ID         uint64   `json:"id"`
	Kind       Kind     `json:"kind"`
	Token      string   `json:"token"`
	Amount     *big.Int `json:"amount"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Status     Status   `json:"status"`
	Timestamp  int64    `json:"timestamp"`
	BlockIndex *string  `json:"block_index,omitempty"`
}

// Time returns the timestamp as a time.Time.
func (t Transaction) Time() time.Time {
	return time.Unix(0, t.Timestamp)
}

// BlockIndexString returns the block index or "" when absent.
func (t Transaction) BlockIndexString() string {
	if t.BlockIndex == nil {
		return ""
	}
	return *t.BlockIndex
}

// Clone returns a deep copy.
func (t Transaction) Clone() Transaction {
	c := t
	c.Amount = amount.Clone(t.Amount)
	if t.BlockIndex != nil {
		bi := *t.BlockIndex
		c.BlockIndex = &bi
	}
	return c
}

// WithStatus returns a settled copy of t.
func (t Transaction) WithStatus(status Status, blockIndex string) Transaction {
	c := t.Clone()
	c.Status = status
	if blockIndex != "" {
		c.BlockIndex = &blockIndex
	}
	return c
}

// Validate checks the record's own invariants.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, t.Kind)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, t.Status)
	}
	if t.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidRecord)
	}
	if t.Amount == nil || t.Amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be >= 0", ErrInvalidRecord)
	}
	if t.Status == StatusPending && t.BlockIndex != nil {
		return fmt.Errorf("%w: pending transaction %d has a block index", ErrInvalidRecord, t.ID)
	}
	return nil
}

func (t Transaction) sameIdentity(o Transaction) bool {
	return t.ID == o.ID && t.Kind == o.Kind && t.Token == o.Token && t.Amount.Cmp(o.Amount) == 0
}

func (t Transaction) equal(o Transaction) bool {
	return t.sameIdentity(o) && t.From == o.From && t.To == o.To &&
		t.Status == o.Status && t.Timestamp == o.Timestamp &&
		t.BlockIndexString() == o.BlockIndexString()
}
