package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/ledgerwallet/service/ledger"
	"github.com/brojonat/ledgerwallet/service/metrics"
	"github.com/brojonat/ledgerwallet/service/nats"
	"github.com/brojonat/ledgerwallet/service/tokens"
	"github.com/brojonat/ledgerwallet/service/validator"
)

func newTestService(t *testing.T) (*Service, *MemoryBackend, *nats.MockPublisher) {
	t.Helper()
	backend := NewMemoryBackend()
	backend.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	publisher := nats.NewMockPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(validator.New(tokens.Default()), backend, publisher, metrics.NewMetrics(prometheus.NewRegistry()), logger)
	return svc, backend, publisher
}

func transferRequest(op tokens.OperationKind, amt string) SubmitRequest {
	return SubmitRequest{
		Request: validator.Request{
			Token:     "ICP",
			To:        "aaaaa-aa",
			Amount:    amt,
			Balance:   "10",
			Operation: op,
		},
		From: "custody",
	}
}

// fund credits the custody account with a confirmed receive and syncs it
// into the ledger. It publishes one appended event.
func fund(t *testing.T, svc *Service, backend *MemoryBackend, units int64) {
	t.Helper()
	bi := "1"
	backend.Seed(ledger.Transaction{
		ID: 1000, Kind: ledger.KindReceive, Token: "ICP", Amount: big.NewInt(units),
		From: "faucet", To: "custody", Status: ledger.StatusConfirmed, Timestamp: 1, BlockIndex: &bi,
	})
	_, err := svc.Sync(context.Background())
	require.NoError(t, err)
}

const oneICP = 100000000

func TestSubmit(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	ctx := context.Background()

	res, err := svc.Submit(ctx, transferRequest(tokens.OpTransfer, "1.5"))
	require.NoError(t, err)
	require.True(t, res.Result.Valid, res.Result.Error)
	require.NotNil(t, res.Transaction)

	assert.Equal(t, ledger.KindSend, res.Transaction.Kind)
	assert.Equal(t, "150000000", res.Transaction.Amount.String())
	assert.Equal(t, ledger.StatusConfirmed, res.Transaction.Status)
	assert.Equal(t, 1, backend.Submits())

	page := svc.Query(ledger.NewView(10).WithKind(string(ledger.KindSend)))
	assert.Equal(t, 1, page.Filtered)

	events := publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, nats.EventAppended, events[1].Type)
	assert.Equal(t, "150000000", events[1].Amount)
}

func TestSubmitRejected(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	published := publisher.Len()

	res, err := svc.Submit(context.Background(), transferRequest(tokens.OpTransfer, "10"))
	require.NoError(t, err)
	assert.False(t, res.Result.Valid)
	assert.Equal(t, validator.ReasonInsufficientBalance, res.Result.Reason)
	assert.Nil(t, res.Transaction)

	assert.Equal(t, 0, backend.Submits(), "rejected requests never reach the backend")
	assert.Equal(t, published, publisher.Len())
}

func TestSubmitIgnoresClaimedBalanceForDebits(t *testing.T) {
	svc, backend, _ := newTestService(t)

	req := transferRequest(tokens.OpTransfer, "1")
	req.Balance = "1000000"
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Result.Valid, "an unfunded account cannot send")
	assert.Equal(t, validator.ReasonInsufficientBalance, res.Result.Reason)

	req = transferRequest(tokens.OpWithdraw, "1")
	req.Balance = "1000000"
	res, err = svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, validator.ReasonInsufficientBalance, res.Result.Reason)
	assert.Equal(t, 0, backend.Submits())
}

func TestSubmitDepositUsesCallerBalance(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := transferRequest(tokens.OpDeposit, "1")
	req.Balance = "5"
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Result.Valid, res.Result.Error)
	assert.Equal(t, ledger.KindDeposit, res.Transaction.Kind)
	assert.Equal(t, ledger.StatusPending, res.Transaction.Status)

	req.Balance = "0.5"
	res, err = svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, validator.ReasonInsufficientBalance, res.Result.Reason)
}

func TestPendingDebitsReserveBalance(t *testing.T) {
	svc, backend, _ := newTestService(t)
	fund(t, svc, backend, oneICP)
	ctx := context.Background()

	res, err := svc.Submit(ctx, transferRequest(tokens.OpWithdraw, "0.5"))
	require.NoError(t, err)
	require.True(t, res.Result.Valid, res.Result.Error)
	withdrawal := res.Transaction.ID

	balance, err := svc.Balance("custody", "ICP")
	require.NoError(t, err)
	assert.Equal(t, "49985000", balance.String(), "pending withdrawal and its 1.5x fee are held back")

	res, err = svc.Submit(ctx, transferRequest(tokens.OpTransfer, "0.6"))
	require.NoError(t, err)
	assert.Equal(t, validator.ReasonInsufficientBalance, res.Result.Reason)

	_, err = svc.Settle(ctx, withdrawal, ledger.StatusFailed, "")
	require.NoError(t, err)

	res, err = svc.Submit(ctx, transferRequest(tokens.OpTransfer, "0.6"))
	require.NoError(t, err)
	assert.True(t, res.Result.Valid, "a failed withdrawal releases its hold")

	balance, err = svc.Balance("custody", "ICP")
	require.NoError(t, err)
	assert.Equal(t, "39990000", balance.String())

	_, err = svc.Balance("custody", "DOGE")
	assert.ErrorIs(t, err, tokens.ErrUnknownToken)
}

func TestSubmitRacingSync(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	ctx := context.Background()

	// the record lands in the ledger through a sync before Submit appends it
	backend.SetAfterSubmit(func() {
		_, err := svc.Sync(ctx)
		require.NoError(t, err)
	})

	res, err := svc.Submit(ctx, transferRequest(tokens.OpTransfer, "1"))
	require.NoError(t, err, "a committed transfer is reported as submitted")
	require.True(t, res.Result.Valid)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, 1, backend.Submits())
	assert.Equal(t, 2, svc.Stats(ledger.Criteria{}).Total)

	events := publisher.EventsForToken("ICP")
	require.Len(t, events, 2, "the record is announced once")
	assert.Equal(t, res.Transaction.ID, events[1].ID)
}

func TestSubmitSameRequestIDIsIdempotent(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	ctx := context.Background()

	req := transferRequest(tokens.OpWithdraw, "1")
	req.RequestID = uuid.New()

	first, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Result.Valid, first.Result.Error)

	second, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Result.Valid, second.Result.Error)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, 1, backend.Submits(), "a known request id is answered from the ledger")
	assert.Equal(t, 1, svc.Stats(ledger.Criteria{Kind: string(ledger.KindWithdraw)}).Total)
	assert.Equal(t, 2, publisher.Len())

	req.RequestID = uuid.New()
	third, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Transaction.ID, third.Transaction.ID, "a new request id is a new transfer")
}

func TestRetryOfDrainingWithdrawal(t *testing.T) {
	svc, backend, _ := newTestService(t)
	// exactly one ICP plus the 1.5x withdrawal fee
	fund(t, svc, backend, oneICP+15000)
	ctx := context.Background()

	req := transferRequest(tokens.OpWithdraw, "1")
	req.RequestID = uuid.New()

	first, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Result.Valid, first.Result.Error)

	balance, err := svc.Balance("custody", "ICP")
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())

	retry, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	require.True(t, retry.Result.Valid, "retry is not checked against its own debit: %s", retry.Result.Error)
	assert.Equal(t, first.Transaction.ID, retry.Transaction.ID)
	assert.Equal(t, 1, backend.Submits())

	req.RequestID = uuid.New()
	fresh, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, fresh.Result.Valid, "a new request id sees the drained balance")
}

func TestSubmitBackendFailureIsNotRetried(t *testing.T) {
	svc, backend, _ := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	backend.SetSubmitError(errors.New("ledger canister unavailable"))

	_, err := svc.Submit(context.Background(), transferRequest(tokens.OpWithdraw, "1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger canister unavailable")
	assert.Equal(t, 1, backend.Submits())
	assert.Equal(t, 1, svc.Stats(ledger.Criteria{}).Total)
}

func TestSubmitPublishFailureKeepsRecord(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	publisher.FailPublish(errors.New("nats down"))

	res, err := svc.Submit(context.Background(), transferRequest(tokens.OpTransfer, "1"))
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, 2, svc.Stats(ledger.Criteria{}).Total)
}

func TestSettle(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	ctx := context.Background()

	res, err := svc.Submit(ctx, transferRequest(tokens.OpWithdraw, "1"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, res.Transaction.Status)
	id := res.Transaction.ID

	settled, err := svc.Settle(ctx, id, ledger.StatusConfirmed, "4242")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, settled.Status)
	assert.Equal(t, "4242", settled.BlockIndexString())

	_, err = svc.Settle(ctx, id, ledger.StatusFailed, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = svc.Settle(ctx, 999, ledger.StatusConfirmed, "1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	events := publisher.Events()
	require.Len(t, events, 3)
	assert.Equal(t, nats.EventReplaced, events[2].Type)
}

func TestSettleToPendingIsRejected(t *testing.T) {
	svc, backend, _ := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	res, err := svc.Submit(context.Background(), transferRequest(tokens.OpWithdraw, "1"))
	require.NoError(t, err)

	_, err = svc.Settle(context.Background(), res.Transaction.ID, ledger.StatusPending, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestSync(t *testing.T) {
	svc, backend, publisher := newTestService(t)
	ctx := context.Background()

	bi := "77"
	backend.Seed(
		ledger.Transaction{ID: 1, Kind: ledger.KindReceive, Token: "ICP", Amount: big.NewInt(5), From: "x", To: "custody", Status: ledger.StatusConfirmed, Timestamp: 10, BlockIndex: &bi},
		ledger.Transaction{ID: 2, Kind: ledger.KindDeposit, Token: "ckBTC", Amount: big.NewInt(9), From: "btc", To: "custody", Status: ledger.StatusPending, Timestamp: 20},
	)

	res, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Appended: 2}, res)

	_, err = backend.SettleTransaction(ctx, 2, ledger.StatusConfirmed, "88")
	require.NoError(t, err)

	res, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Replaced: 1, Skipped: 1}, res)

	got, err := svc.Get(2)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, got.Status)
	assert.Len(t, publisher.Events(), 3)

	totals := svc.Totals(ledger.Criteria{})
	require.Len(t, totals, 2)
}

func TestSyncBackendError(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.SetListError(errors.New("timeout"))
	_, err := svc.Sync(context.Background())
	assert.ErrorContains(t, err, "failed to fetch history")
}

func TestQueryAndRecent(t *testing.T) {
	svc, backend, _ := newTestService(t)
	fund(t, svc, backend, 10*oneICP)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		ts := time.Unix(1700000000+int64(i), 0)
		backend.SetClock(func() time.Time { return ts })
		_, err := svc.Submit(ctx, transferRequest(tokens.OpTransfer, "0.01"))
		require.NoError(t, err)
	}

	page := svc.Query(ledger.NewView(10).WithKind(string(ledger.KindSend)).WithPage(3))
	assert.Equal(t, 3, page.Page)
	assert.Len(t, page.Items, 5)

	recent := svc.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(1025), recent[0].ID)

	stats := svc.Stats(ledger.Criteria{Kind: string(ledger.KindSend)})
	assert.Equal(t, 25, stats.Confirmed)
}

func TestKindForOperation(t *testing.T) {
	k, err := KindForOperation(tokens.OpDeposit)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindDeposit, k)

	_, err = KindForOperation("STAKE")
	assert.Error(t, err)
}
