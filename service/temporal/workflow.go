package temporal

import (
	"fmt"
	"sort"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/ledgerwallet/service/solana"
)

var a *Activities // for type-safe activity invocation

// DefaultSignatureLimit bounds how many signatures one poll inspects per
// address.
const DefaultSignatureLimit = 100

// PollDepositsInput is the schedule argument for PollDepositsWorkflow.
type PollDepositsInput struct {
	CustodyAddress string            `json:"custody_address"`
	Mints          map[string]string `json:"mints"` // SPL mint -> ledger token
	Limit          int               `json:"limit"`
}

// PollDepositsResult summarizes one poll.
type PollDepositsResult struct {
	CustodyAddress  string    `json:"custody_address"`
	PolledAddresses []string  `json:"polled_addresses"`
	DepositCount    int       `json:"deposit_count"`
	Inserted        int       `json:"inserted"`
	Settled         int       `json:"settled"`
	Unchanged       int       `json:"unchanged"`
	Skipped         int       `json:"skipped"`
	PollTime        time.Time `json:"poll_time"`
	Error           *string   `json:"error,omitempty"`
}

// depositAddresses returns the custody address followed by its associated
// token account for every mapped mint, in mint order.
func depositAddresses(custody string, mints map[string]string) ([]string, error) {
	owner, err := solanago.PublicKeyFromBase58(custody)
	if err != nil {
		return nil, fmt.Errorf("invalid custody address: %w", err)
	}

	keys := make([]string, 0, len(mints))
	for mint := range mints {
		keys = append(keys, mint)
	}
	sort.Strings(keys)

	out := []string{custody}
	for _, m := range keys {
		mint, err := solanago.PublicKeyFromBase58(m)
		if err != nil {
			return nil, fmt.Errorf("invalid token mint %q: %w", m, err)
		}
		ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, fmt.Errorf("failed to derive token account for %s: %w", m, err)
		}
		out = append(out, ata.String())
	}
	return out, nil
}

// PollDepositsWorkflow polls the custody address and its token accounts for
// incoming transfers and records them in the ledger. A schedule triggers it
// every DEPOSIT_POLL_INTERVAL.
func PollDepositsWorkflow(ctx workflow.Context, input PollDepositsInput) (*PollDepositsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollDepositsWorkflow started", "custody_address", input.CustodyAddress)

	result := &PollDepositsResult{
		CustodyAddress: input.CustodyAddress,
		PollTime:       workflow.Now(ctx),
	}
	fail := func(msg string, err error) (*PollDepositsResult, error) {
		errMsg := fmt.Sprintf("%s: %v", msg, err)
		result.Error = &errMsg
		return result, fmt.Errorf("%s: %w", msg, err)
	}

	addresses, err := depositAddresses(input.CustodyAddress, input.Mints)
	if err != nil {
		return fail("invalid poll input", temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err))
	}
	result.PolledAddresses = addresses

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	seen := make(map[string]struct{})
	var deposits []*solana.Deposit
	for i, addr := range addresses {
		var fetched *FetchDepositsResult
		err := workflow.ExecuteActivity(ctx, a.FetchDeposits, FetchDepositsInput{
			Address: addr,
			Mints:   input.Mints,
			Limit:   limit,
		}).Get(ctx, &fetched)
		if err != nil {
			if i == 0 {
				return fail("failed to fetch deposits", err)
			}
			// token account failures do not block native deposits
			logger.Warn("failed to fetch token account deposits", "address", addr, "error", err)
			continue
		}

		for _, d := range fetched.Deposits {
			if _, ok := seen[d.Signature]; ok {
				continue
			}
			seen[d.Signature] = struct{}{}
			deposits = append(deposits, d)
		}
	}
	result.DepositCount = len(deposits)

	if len(deposits) == 0 {
		logger.Info("no new deposits found", "custody_address", input.CustodyAddress)
		return result, nil
	}

	var recorded *RecordDepositsResult
	err = workflow.ExecuteActivity(ctx, a.RecordDeposits, RecordDepositsInput{
		CustodyAddress: input.CustodyAddress,
		Mints:          input.Mints,
		Deposits:       deposits,
	}).Get(ctx, &recorded)
	if err != nil {
		return fail("failed to record deposits", err)
	}

	result.Inserted = recorded.Inserted
	result.Settled = recorded.Settled
	result.Unchanged = recorded.Unchanged
	result.Skipped = recorded.Skipped

	logger.Info("PollDepositsWorkflow completed",
		"custody_address", input.CustodyAddress,
		"deposits", result.DepositCount,
		"inserted", result.Inserted,
		"settled", result.Settled,
	)
	return result, nil
}
