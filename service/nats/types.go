package nats

import (
	"time"

	"github.com/brojonat/ledgerwallet/service/ledger"
)

// EventType says how a ledger record changed.
type EventType string

const (
	EventAppended EventType = "appended"
	EventReplaced EventType = "replaced"
)

// LedgerEvent is published to the subject "ledger.{token}" whenever a
// record is added to or settled in the ledger.
type LedgerEvent struct {
	Type EventType `json:"type"`

	ID     uint64 `json:"id"`
	Kind   string `json:"kind"`
	Token  string `json:"token"`
	Status string `json:"status"`

	// Amount is in smallest units, as a decimal integer string.
	Amount string `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`

	TimestampNS int64   `json:"timestamp_ns"`
	BlockIndex  *string `json:"block_index,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromTransaction converts a ledger record into an event.
func FromTransaction(typ EventType, tx ledger.Transaction) *LedgerEvent {
	event := &LedgerEvent{
		Type:        typ,
		ID:          tx.ID,
		Kind:        string(tx.Kind),
		Token:       tx.Token,
		Status:      string(tx.Status),
		Amount:      "0",
		From:        tx.From,
		To:          tx.To,
		TimestampNS: tx.Timestamp,
		PublishedAt: time.Now().UTC(),
	}
	if tx.Amount != nil {
		event.Amount = tx.Amount.String()
	}
	if tx.BlockIndex != nil {
		bi := *tx.BlockIndex
		event.BlockIndex = &bi
	}
	return event
}

// Subject returns the subject an event for token is published on.
func Subject(token string) string {
	return SubjectPrefix + token
}
