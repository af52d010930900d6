package solana

import (
	"time"
)

// Deposit is a transfer into the custody address observed on Solana.
type Deposit struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Amount      uint64  // lamports, or token base units for SPL transfers
	TokenMint   *string // nil for native SOL transfers
	FromAddress *string // nil if it cannot be determined from the instruction
	ToAddress   *string // nil for SPL transfers, which name a token account
	Memo        *string
	Err         *string // set when the transaction failed on chain
	Finalized   bool
}
