package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/ledgerwallet/service/ledger"
	"github.com/brojonat/ledgerwallet/service/metrics"
)

// NativeToken is the ledger symbol for native SOL transfers.
const NativeToken = "SOL"

// ErrUnknownMint is returned for SPL deposits whose mint is not mapped to
// a ledger token.
var ErrUnknownMint = errors.New("unknown token mint")

// RPCClient is the subset of the Solana RPC API the deposit watcher uses.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client watches a custody address for incoming transfers.
type Client struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics

	// requestDelay spaces GetTransaction calls to stay under public RPC
	// rate limits; backoff is the base retry delay.
	requestDelay time.Duration
	backoff      time.Duration
}

// NewClient creates a new Solana client. m may be nil.
func NewClient(rpcClient RPCClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		requestDelay: 600 * time.Millisecond,
		backoff:      time.Second,
	}
}

// GetDepositsParams selects which signatures to inspect.
type GetDepositsParams struct {
	Address solana.PublicKey
	Until   *solana.Signature
	Limit   int
	// Skip lists signatures already settled in the ledger.
	Skip []string
}

// GetDeposits returns transfers into params.Address, newest first.
// Outgoing transfers and instructions that move nothing are dropped.
// Transactions whose details cannot be fetched are skipped and picked up
// on a later poll.
func (c *Client) GetDeposits(ctx context.Context, params GetDepositsParams) ([]*Deposit, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &params.Limit,
	}
	if params.Until != nil {
		opts.Until = *params.Until
	}

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, params.Address, opts)
	c.metrics.RecordRPCCall("GetSignaturesForAddress", rpcStatus(err), time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", params.Address.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	c.logger.DebugContext(ctx, "fetched signatures",
		"address", params.Address.String(),
		"count", len(signatures),
		"skip_count", len(params.Skip),
	)

	skip := make(map[string]struct{}, len(params.Skip))
	for _, s := range params.Skip {
		skip[s] = struct{}{}
	}

	address := params.Address.String()
	deposits := make([]*Deposit, 0, len(signatures))
	for i, sig := range signatures {
		if _, ok := skip[sig.Signature.String()]; ok {
			continue
		}

		if sig.Err != nil {
			deposits = append(deposits, signatureToDeposit(sig))
			continue
		}

		if i > 0 && c.requestDelay > 0 {
			if err := sleep(ctx, c.requestDelay); err != nil {
				return nil, err
			}
		}

		result, err := c.fetchTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.WarnContext(ctx, "failed to get transaction details, will retry next poll",
				"signature", sig.Signature.String(),
				"error", err,
			)
			continue
		}

		d, err := parseDeposit(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction",
				"signature", sig.Signature.String(),
				"error", err,
			)
			continue
		}

		if !isIncoming(d, address) {
			continue
		}
		deposits = append(deposits, d)
	}

	c.logger.InfoContext(ctx, "fetched deposits",
		"address", address,
		"signatures", len(signatures),
		"deposits", len(deposits),
	)
	return deposits, nil
}

// fetchTransaction retries GetTransaction with exponential backoff, and
// falls back to legacy decoding when the node rejects the versioned form.
func (c *Client) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	const maxAttempts = 3
	version := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	}

	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		var result *rpc.GetTransactionResult
		result, err = c.rpc.GetTransaction(ctx, sig, opts)
		c.metrics.RecordRPCCall("GetTransaction", rpcStatus(err), time.Since(start).Seconds())
		if err == nil {
			return result, nil
		}

		if strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") && opts.MaxSupportedTransactionVersion != nil {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", sig.String(),
			)
			opts = &rpc.GetTransactionOpts{Encoding: solana.EncodingBase64, Commitment: rpc.CommitmentConfirmed}
			continue
		}

		backoff := c.backoff << uint(attempt)
		if strings.Contains(err.Error(), "429") {
			backoff *= 2
		}
		c.logger.WarnContext(ctx, "failed to get transaction",
			"signature", sig.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff", backoff,
		)
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, err
}

func isIncoming(d *Deposit, address string) bool {
	if d.Amount == 0 {
		return false
	}
	if d.FromAddress != nil && *d.FromAddress == address {
		return false
	}
	if d.ToAddress != nil && *d.ToAddress != address {
		return false
	}
	return true
}

func rpcStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TokenFor returns the ledger token a deposit is denominated in.
func TokenFor(d *Deposit, mints map[string]string) (string, error) {
	if d.TokenMint == nil {
		return NativeToken, nil
	}
	token, ok := mints[*d.TokenMint]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMint, *d.TokenMint)
	}
	return token, nil
}

// DepositToRecord maps a deposit onto a ledger record with no id. Failed
// transactions become failed records, finalized ones confirmed, and
// anything else stays pending. Settled records carry the slot as block
// index.
func DepositToRecord(d *Deposit, custody string, mints map[string]string) (ledger.Transaction, error) {
	token, err := TokenFor(d, mints)
	if err != nil {
		return ledger.Transaction{}, err
	}

	tx := ledger.Transaction{
		Kind:   ledger.KindDeposit,
		Token:  token,
		Amount: new(big.Int).SetUint64(d.Amount),
		To:     custody,
		Status: ledger.StatusPending,
	}
	if d.FromAddress != nil {
		tx.From = *d.FromAddress
	}
	if !d.BlockTime.IsZero() {
		tx.Timestamp = d.BlockTime.UnixNano()
	}

	switch {
	case d.Err != nil:
		tx.Status = ledger.StatusFailed
	case d.Finalized:
		tx.Status = ledger.StatusConfirmed
	}
	if tx.Status.Terminal() {
		slot := strconv.FormatUint(d.Slot, 10)
		tx.BlockIndex = &slot
	}
	return tx, nil
}
