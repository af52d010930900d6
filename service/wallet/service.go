// Package wallet ties the validator, the in-memory ledger and the external
// backend together. A Service is the single owner of its ledger store.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/ledgerwallet/service/amount"
	"github.com/brojonat/ledgerwallet/service/ledger"
	"github.com/brojonat/ledgerwallet/service/metrics"
	"github.com/brojonat/ledgerwallet/service/nats"
	"github.com/brojonat/ledgerwallet/service/tokens"
	"github.com/brojonat/ledgerwallet/service/validator"
)

// TransferRequest is a validated transfer handed to the backend.
type TransferRequest struct {
	RequestID uuid.UUID
	Kind      ledger.Kind
	Token     string
	From      string
	To        string
	Amount    *big.Int
	Fee       *big.Int
}

// Transferer submits transfers, withdrawals and deposits. It returns the
// record the backend created, pending or already confirmed.
type Transferer interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) (ledger.Transaction, error)
}

// HistorySource returns the full transaction history on demand.
type HistorySource interface {
	ListTransactions(ctx context.Context) ([]ledger.Transaction, error)
}

// Settler records the final status of a pending transaction.
type Settler interface {
	SettleTransaction(ctx context.Context, id uint64, status ledger.Status, blockIndex string) (ledger.Transaction, error)
}

// Backend is everything the service needs from persistence.
type Backend interface {
	Transferer
	HistorySource
	Settler
}

// KindForOperation maps an operation to the ledger kind it creates.
func KindForOperation(op tokens.OperationKind) (ledger.Kind, error) {
	switch op {
	case tokens.OpTransfer:
		return ledger.KindSend, nil
	case tokens.OpWithdraw:
		return ledger.KindWithdraw, nil
	case tokens.OpDeposit:
		return ledger.KindDeposit, nil
	}
	return "", fmt.Errorf("no ledger kind for operation %q", op)
}

// operationForKind is the inverse of KindForOperation for debits.
func operationForKind(kind ledger.Kind) tokens.OperationKind {
	if kind == ledger.KindWithdraw {
		return tokens.OpWithdraw
	}
	return tokens.OpTransfer
}

// Service serializes access to the ledger store and runs submissions,
// syncs and settlements against the backend.
type Service struct {
	// submitMu orders submissions so each one sees the debits of the last.
	submitMu  sync.Mutex
	submitted map[uuid.UUID]uint64
	mu        sync.RWMutex
	store     *ledger.Store
	validator *validator.Validator
	backend   Backend
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a service with an empty ledger. publisher and m may be nil.
func New(v *validator.Validator, backend Backend, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:     ledger.NewStore(ledger.WithTokens(v.Tokens())),
		submitted: make(map[uuid.UUID]uint64),
		validator: v,
		backend:   backend,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Validator returns the validator used for submissions.
func (s *Service) Validator() *validator.Validator {
	return s.validator
}

// SubmitRequest is a user transfer plus the custodial account it debits.
// Balance is only read for deposits, which draw on an external wallet;
// transfers and withdrawals are checked against the ledger balance of From.
// A caller that retries must resend the same RequestID.
type SubmitRequest struct {
	validator.Request
	From      string    `json:"from"`
	RequestID uuid.UUID `json:"request_id,omitempty"`
}

// SubmitResult carries either the rejection or the created record.
type SubmitResult struct {
	Result      validator.Result    `json:"result"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

// Submit validates req and, when valid, sends it to the backend exactly
// once and appends the returned record. Rejections are reported in the
// result; the error is reserved for backend and ledger failures.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	start := time.Now()
	op := string(req.Operation)

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// a retry must not be validated against its own earlier debit
	if id, ok := s.submitted[req.RequestID]; ok {
		if tx, err := s.Get(id); err == nil {
			s.logger.InfoContext(ctx, "transfer already submitted", "id", id, "request_id", req.RequestID.String())
			return SubmitResult{Result: validator.OK, Transaction: &tx}, nil
		}
	}

	if kind, err := KindForOperation(req.Operation); err == nil && kind.Decreases() {
		if balance, ok := s.ledgerBalance(req.From, req.Token); ok {
			req.Balance = balance
		}
	}

	prepared, res := s.validator.Prepare(req.Request)
	s.metrics.RecordValidation("submit", req.Token, string(res.Reason))
	if !res.Valid {
		s.logger.DebugContext(ctx, "transfer rejected",
			"token", req.Token,
			"operation", op,
			"reason", res.Reason,
			"error", res.Error,
		)
		s.metrics.RecordSubmission(op, req.Token, "rejected", time.Since(start).Seconds())
		return SubmitResult{Result: res}, nil
	}

	kind, err := KindForOperation(prepared.Operation)
	if err != nil {
		return SubmitResult{}, err
	}

	requestID := req.RequestID
	if requestID == uuid.Nil {
		requestID = uuid.New()
	}

	tx, err := s.backend.SubmitTransfer(ctx, TransferRequest{
		RequestID: requestID,
		Kind:      kind,
		Token:     prepared.Token,
		From:      req.From,
		To:        prepared.To,
		Amount:    prepared.Amount,
		Fee:       prepared.Fee,
	})
	if err != nil {
		s.metrics.RecordSubmission(op, req.Token, "error", time.Since(start).Seconds())
		return SubmitResult{}, fmt.Errorf("failed to submit transfer: %w", err)
	}

	stored, added, err := s.ensure(tx)
	if err != nil {
		s.metrics.RecordLedgerMisuse("append", misuseKind(err))
		s.logger.ErrorContext(ctx, "backend returned a record the ledger rejected",
			"id", tx.ID,
			"error", err,
		)
		return SubmitResult{}, fmt.Errorf("failed to append transaction: %w", err)
	}

	s.submitted[requestID] = stored.ID
	s.metrics.RecordSubmission(op, req.Token, "success", time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "transfer submitted",
		"id", stored.ID,
		"request_id", requestID.String(),
		"kind", stored.Kind,
		"token", stored.Token,
		"amount", stored.Amount.String(),
		"status", stored.Status,
		"already_in_ledger", !added,
	)
	// a sync or an earlier attempt with the same request id already
	// published this record
	if added {
		s.publish(ctx, nats.EventAppended, stored)
	}

	return SubmitResult{Result: res, Transaction: &stored}, nil
}

func (s *Service) ensure(tx ledger.Transaction) (ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, added, err := s.store.Ensure(tx)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if added {
		s.updateGauges()
	}
	return stored, added, nil
}

// Balance is what account holds in token according to the ledger:
// confirmed credits minus every confirmed or pending debit and its fee,
// floored at zero.
func (s *Service) Balance(account, token string) (*big.Int, error) {
	rule, err := s.validator.Tokens().Lookup(token)
	if err != nil {
		return nil, err
	}
	fees := make(map[ledger.Kind]*big.Int, 2)
	for _, kind := range []ledger.Kind{ledger.KindSend, ledger.KindWithdraw} {
		fee, err := rule.FeeFor(operationForKind(kind))
		if err != nil {
			return nil, err
		}
		fees[kind] = fee
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	balance := new(big.Int)
	s.store.Each(func(tx ledger.Transaction) bool {
		if tx.Token != token || tx.Status == ledger.StatusFailed {
			return true
		}
		switch {
		case tx.Kind.Decreases() && tx.From == account:
			balance.Sub(balance, tx.Amount)
			balance.Sub(balance, fees[tx.Kind])
		case !tx.Kind.Decreases() && tx.To == account && tx.Status == ledger.StatusConfirmed:
			balance.Add(balance, tx.Amount)
		}
		return true
	})
	if balance.Sign() < 0 {
		balance.SetInt64(0)
	}
	return balance, nil
}

// ledgerBalance formats Balance for the validator. ok is false for an
// unknown token, which Prepare then rejects on its own.
func (s *Service) ledgerBalance(account, token string) (string, bool) {
	balance, err := s.Balance(account, token)
	if err != nil {
		return "", false
	}
	rule, err := s.validator.Tokens().Lookup(token)
	if err != nil {
		return "", false
	}
	return amount.ToDecimalString(balance, rule.Decimals), true
}

// SyncResult summarizes one history sync.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Appended int `json:"appended"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
}

// Sync pulls the full history from the backend and merges it into the
// ledger.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	records, err := s.backend.ListTransactions(ctx)
	if err != nil {
		s.metrics.RecordSync("error", 0, 0)
		return SyncResult{}, fmt.Errorf("failed to fetch history: %w", err)
	}

	s.mu.Lock()
	merged, err := s.store.Merge(records)
	s.updateGauges()
	s.mu.Unlock()

	res := SyncResult{
		Fetched:  len(records),
		Appended: len(merged.Appended),
		Replaced: len(merged.Replaced),
		Skipped:  merged.Skipped,
	}
	if err != nil {
		s.metrics.RecordSync("error", res.Appended, res.Replaced)
		s.metrics.RecordLedgerMisuse("merge", misuseKind(err))
		s.logger.ErrorContext(ctx, "history sync stopped on inconsistent record", "error", err)
		return res, fmt.Errorf("failed to merge history: %w", err)
	}

	s.metrics.RecordSync("success", res.Appended, res.Replaced)
	s.logger.InfoContext(ctx, "history synced",
		"fetched", res.Fetched,
		"appended", res.Appended,
		"replaced", res.Replaced,
	)

	for _, tx := range merged.Appended {
		s.publish(ctx, nats.EventAppended, tx)
	}
	for _, tx := range merged.Replaced {
		s.publish(ctx, nats.EventReplaced, tx)
	}
	return res, nil
}

// Settle moves a pending record to confirmed or failed, first in the
// backend and then in the ledger.
func (s *Service) Settle(ctx context.Context, id uint64, status ledger.Status, blockIndex string) (ledger.Transaction, error) {
	s.mu.RLock()
	existing, err := s.store.Get(id)
	s.mu.RUnlock()
	if err != nil {
		s.metrics.RecordLedgerMisuse("settle", misuseKind(err))
		return ledger.Transaction{}, err
	}
	if existing.Status.Terminal() || !status.Terminal() {
		err := fmt.Errorf("%w: transaction %d cannot move from %s to %s", ledger.ErrInvalidTransition, id, existing.Status, status)
		s.metrics.RecordLedgerMisuse("settle", misuseKind(err))
		return ledger.Transaction{}, err
	}

	settled, err := s.backend.SettleTransaction(ctx, id, status, blockIndex)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to settle transaction: %w", err)
	}

	s.mu.Lock()
	err = s.store.Replace(id, settled)
	s.updateGauges()
	s.mu.Unlock()
	if err != nil {
		s.metrics.RecordLedgerMisuse("replace", misuseKind(err))
		s.logger.ErrorContext(ctx, "ledger rejected settled record", "id", id, "error", err)
		return ledger.Transaction{}, err
	}

	s.logger.InfoContext(ctx, "transaction settled", "id", id, "status", status, "block_index", blockIndex)
	s.publish(ctx, nats.EventReplaced, settled)
	return settled.Clone(), nil
}

// Query renders one page of the history for view.
func (s *Service) Query(view ledger.View) ledger.Page {
	return view.Apply(s.records())
}

// Recent returns the limit newest records.
func (s *Service) Recent(limit int) []ledger.Transaction {
	return ledger.Recent(s.records(), limit)
}

// Stats summarizes the records matching c.
func (s *Service) Stats(c ledger.Criteria) ledger.Summary {
	return ledger.Stats(ledger.Filter(s.records(), c))
}

// Totals returns confirmed per-token flows for the records matching c.
func (s *Service) Totals(c ledger.Criteria) []ledger.TokenTotal {
	return ledger.Totals(ledger.Filter(s.records(), c))
}

// Get returns record id.
func (s *Service) Get(id uint64) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Get(id)
}

func (s *Service) records() []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Records()
}

// updateGauges must be called with mu held.
func (s *Service) updateGauges() {
	if s.metrics == nil {
		return
	}
	st := s.store.Stats()
	s.metrics.SetLedgerRecords(st.Confirmed, st.Pending, st.Failed)
}

func (s *Service) publish(ctx context.Context, typ nats.EventType, tx ledger.Transaction) {
	if s.publisher == nil {
		return
	}
	event := nats.FromTransaction(typ, tx)
	start := time.Now()
	err := s.publisher.PublishEvent(ctx, event)
	status := "success"
	if err != nil {
		status = "error"
		// the ledger is already updated; subscribers catch up on the next sync
		s.logger.WarnContext(ctx, "failed to publish ledger event", "id", tx.ID, "error", err)
	}
	s.metrics.RecordNATSPublish(nats.Subject(tx.Token), status, time.Since(start).Seconds())
}

func misuseKind(err error) string {
	switch {
	case errors.Is(err, ledger.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, tokens.ErrUnknownToken):
		return "unknown_token"
	default:
		return "invalid_record"
	}
}
