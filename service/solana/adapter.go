package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// rpcAdapter satisfies RPCClient with a solana-go client. GetTransaction is
// promoted unchanged; signature listing always goes through the opts variant.
type rpcAdapter struct {
	*rpc.Client
}

// NewRPCClient dials rpcURL lazily. Provider API keys ride in the URL.
func NewRPCClient(rpcURL string) RPCClient {
	return rpcAdapter{Client: rpc.New(rpcURL)}
}

func (a rpcAdapter) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return a.Client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}
