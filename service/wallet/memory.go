package wallet

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/ledgerwallet/service/ledger"
)

// InitialStatus is the status a backend gives a freshly submitted record.
// Ledger-internal sends settle immediately; withdrawals and deposits wait
// for the external chain.
func InitialStatus(kind ledger.Kind) ledger.Status {
	if kind == ledger.KindSend {
		return ledger.StatusConfirmed
	}
	return ledger.StatusPending
}

// MemoryBackend is an in-process Backend for tests and local runs.
type MemoryBackend struct {
	mu        sync.Mutex
	records   []ledger.Transaction
	byRequest map[uuid.UUID]uint64
	nextID    uint64
	now       func() time.Time
	submitErr error
	listErr   error
	submits   int

	afterSubmit func()
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{nextID: 1, now: time.Now, byRequest: make(map[uuid.UUID]uint64)}
}

// SetClock overrides the timestamp source.
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetSubmitError makes SubmitTransfer fail with err.
func (b *MemoryBackend) SetSubmitError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
}

// SetListError makes ListTransactions fail with err.
func (b *MemoryBackend) SetListError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr = err
}

// SetAfterSubmit registers fn to run after SubmitTransfer commits, outside
// the backend lock.
func (b *MemoryBackend) SetAfterSubmit(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterSubmit = fn
}

// Submits returns how many times SubmitTransfer was called.
func (b *MemoryBackend) Submits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits
}

// Seed adds records as if they had come from elsewhere.
func (b *MemoryBackend) Seed(records ...ledger.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.records = append(b.records, r.Clone())
		if r.ID >= b.nextID {
			b.nextID = r.ID + 1
		}
	}
}

func (b *MemoryBackend) SubmitTransfer(ctx context.Context, req TransferRequest) (ledger.Transaction, error) {
	tx, err := b.submit(req)
	b.mu.Lock()
	hook := b.afterSubmit
	b.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return tx, err
}

func (b *MemoryBackend) submit(req TransferRequest) (ledger.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	if b.submitErr != nil {
		return ledger.Transaction{}, b.submitErr
	}
	if id, ok := b.byRequest[req.RequestID]; ok {
		for _, r := range b.records {
			if r.ID == id {
				return r.Clone(), nil
			}
		}
	}

	tx := ledger.Transaction{
		ID:        b.nextID,
		Kind:      req.Kind,
		Token:     req.Token,
		Amount:    req.Amount,
		From:      req.From,
		To:        req.To,
		Status:    InitialStatus(req.Kind),
		Timestamp: b.now().UnixNano(),
	}
	if tx.Status.Terminal() {
		bi := strconv.FormatUint(tx.ID, 10)
		tx.BlockIndex = &bi
	}
	b.nextID++
	b.records = append(b.records, tx.Clone())
	if req.RequestID != uuid.Nil {
		b.byRequest[req.RequestID] = tx.ID
	}
	return tx.Clone(), nil
}

func (b *MemoryBackend) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]ledger.Transaction, len(b.records))
	for i, r := range b.records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (b *MemoryBackend) SettleTransaction(ctx context.Context, id uint64, status ledger.Status, blockIndex string) (ledger.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.records {
		if r.ID != id {
			continue
		}
		if r.Status.Terminal() {
			return ledger.Transaction{}, fmt.Errorf("%w: transaction %d is already %s", ledger.ErrInvalidTransition, id, r.Status)
		}
		b.records[i] = r.WithStatus(status, blockIndex)
		return b.records[i].Clone(), nil
	}
	return ledger.Transaction{}, fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
}
