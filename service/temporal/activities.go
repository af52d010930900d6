package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/brojonat/ledgerwallet/service/db"
	"github.com/brojonat/ledgerwallet/service/ledger"
	"github.com/brojonat/ledgerwallet/service/metrics"
	natspkg "github.com/brojonat/ledgerwallet/service/nats"
	"github.com/brojonat/ledgerwallet/service/solana"
)

// maxSkipRefs bounds the settled refs handed to the watcher.
const maxSkipRefs = 1000

// FetchDepositsInput contains parameters for the FetchDeposits activity.
type FetchDepositsInput struct {
	Address string            `json:"address"`
	Mints   map[string]string `json:"mints"`
	Limit   int               `json:"limit"`
}

// FetchDepositsResult contains the deposits seen at one address.
type FetchDepositsResult struct {
	Deposits []*solana.Deposit `json:"deposits"`
}

// RecordDepositsInput contains parameters for the RecordDeposits activity.
type RecordDepositsInput struct {
	CustodyAddress string            `json:"custody_address"`
	Mints          map[string]string `json:"mints"`
	Deposits       []*solana.Deposit `json:"deposits"`
}

// RecordDepositsResult counts what RecordDeposits did.
type RecordDepositsResult struct {
	Inserted  int `json:"inserted"`
	Settled   int `json:"settled"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"` // unmapped mints
}

// DepositStore is the persistence the deposit activities need.
type DepositStore interface {
	UpsertDeposit(ctx context.Context, p db.DepositParams) (ledger.Transaction, db.DepositChange, error)
	SettledDepositRefs(ctx context.Context, limit int32) ([]string, error)
}

// DepositSource fetches deposits from the chain.
type DepositSource interface {
	GetDeposits(ctx context.Context, params solana.GetDepositsParams) ([]*solana.Deposit, error)
}

// EventPublisher publishes ledger changes.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []*natspkg.LedgerEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     DepositStore
	source    DepositSource
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance. publisher and m may be
// nil.
func NewActivities(store DepositStore, source DepositSource, publisher EventPublisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		source:    source,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// FetchDeposits returns deposits at input.Address that are not yet settled
// in the ledger.
func (a *Activities) FetchDeposits(ctx context.Context, input FetchDepositsInput) (*FetchDepositsResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("FetchDeposits", time.Since(start).Seconds())
	}()

	address, err := solanago.PublicKeyFromBase58(input.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	queryStart := time.Now()
	skip, err := a.store.SettledDepositRefs(ctx, maxSkipRefs)
	a.metrics.RecordDBQuery("settled_deposit_refs", time.Since(queryStart).Seconds(), err)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get settled deposit refs", "error", err)
		return nil, fmt.Errorf("failed to get settled deposit refs: %w", err)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}

	deposits, err := a.source.GetDeposits(ctx, solana.GetDepositsParams{
		Address: address,
		Limit:   limit,
		Skip:    skip,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch deposits", "address", input.Address, "error", err)
		return nil, fmt.Errorf("failed to fetch deposits: %w", err)
	}

	perToken := make(map[string]int)
	for _, d := range deposits {
		token, err := solana.TokenFor(d, input.Mints)
		if err != nil {
			token = "unknown"
		}
		perToken[token]++
	}
	for token, n := range perToken {
		a.metrics.RecordDepositsFetched(token, n)
	}

	a.logger.InfoContext(ctx, "fetched deposits",
		"address", input.Address,
		"count", len(deposits),
		"skipped_refs", len(skip),
	)
	return &FetchDepositsResult{Deposits: deposits}, nil
}

// RecordDeposits upserts each deposit and publishes the rows that changed.
// Publishing is best-effort; the ledger rows are the source of truth.
func (a *Activities) RecordDeposits(ctx context.Context, input RecordDepositsInput) (*RecordDepositsResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RecordDeposits", time.Since(start).Seconds())
	}()

	result := &RecordDepositsResult{}
	var events []*natspkg.LedgerEvent

	for _, d := range input.Deposits {
		rec, err := solana.DepositToRecord(d, input.CustodyAddress, input.Mints)
		if errors.Is(err, solana.ErrUnknownMint) {
			a.logger.WarnContext(ctx, "skipping deposit with unmapped mint",
				"signature", d.Signature,
				"error", err,
			)
			result.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to map deposit %s: %w", d.Signature, err)
		}

		queryStart := time.Now()
		tx, change, err := a.store.UpsertDeposit(ctx, db.DepositParams{
			ExternalRef: d.Signature,
			Token:       rec.Token,
			Amount:      rec.Amount,
			From:        rec.From,
			To:          rec.To,
			Status:      rec.Status,
			TimestampNS: rec.Timestamp,
			BlockIndex:  rec.BlockIndexString(),
		})
		a.metrics.RecordDBQuery("upsert_deposit", time.Since(queryStart).Seconds(), err)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to record deposit",
				"signature", d.Signature,
				"error", err,
			)
			return nil, fmt.Errorf("failed to record deposit %s: %w", d.Signature, err)
		}

		switch change {
		case db.DepositInserted:
			result.Inserted++
			events = append(events, natspkg.FromTransaction(natspkg.EventAppended, tx))
		case db.DepositSettled:
			result.Settled++
			events = append(events, natspkg.FromTransaction(natspkg.EventReplaced, tx))
		default:
			result.Unchanged++
			continue
		}
		a.metrics.RecordDepositRecorded(tx.Token, string(tx.Status))
	}

	if len(events) > 0 && a.publisher != nil {
		if err := a.publisher.PublishEvents(ctx, events); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish deposit events",
				"count", len(events),
				"error", err,
			)
		}
	}

	a.logger.InfoContext(ctx, "recorded deposits",
		"inserted", result.Inserted,
		"settled", result.Settled,
		"unchanged", result.Unchanged,
		"skipped", result.Skipped,
	)
	return result, nil
}
