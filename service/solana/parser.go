package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	MemoProgramIDSPL    = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

const (
	SystemProgramTransferInstruction = uint32(2)

	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// signatureToDeposit builds a Deposit from signature metadata only.
func signatureToDeposit(sig *rpc.TransactionSignature) *Deposit {
	d := &Deposit{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
		Finalized: sig.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
	}
	if sig.BlockTime != nil {
		d.BlockTime = sig.BlockTime.Time()
	}
	if sig.Err != nil {
		msg := fmt.Sprintf("transaction failed: %v", sig.Err)
		d.Err = &msg
	}
	return d
}

// parseDeposit fills in amount, mint, and addresses from the full
// transaction. Failed transactions keep metadata only.
func parseDeposit(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Deposit, error) {
	d := signatureToDeposit(sig)
	if sig.Err != nil || result == nil || result.Transaction == nil {
		return d, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			continue
		}
		programID := keys[ix.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			amount, from, to, err := parseSystemTransfer(ix, keys)
			if err != nil {
				continue
			}
			d.Amount = amount
			d.FromAddress = keyString(from)
			d.ToAddress = keyString(to)

		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			amount, mint, from, err := parseTokenTransfer(ix, keys)
			if err != nil {
				continue
			}
			d.Amount = amount
			if !mint.IsZero() {
				m := mint.String()
				d.TokenMint = &m
			}
			d.FromAddress = keyString(from)

		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(ix.Data); memo != "" {
				d.Memo = &memo
			}
		}
	}
	return d, nil
}

func keyString(k *solana.PublicKey) *string {
	if k == nil {
		return nil
	}
	s := k.String()
	return &s
}

func accountAt(ix solana.CompiledInstruction, keys []solana.PublicKey, pos int) *solana.PublicKey {
	if pos >= len(ix.Accounts) {
		return nil
	}
	idx := int(ix.Accounts[pos])
	if idx >= len(keys) {
		return nil
	}
	k := keys[idx]
	return &k
}

// parseSystemTransfer decodes a System Program Transfer:
// data = u32 type | u64 lamports, accounts = [from, to].
func parseSystemTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	if len(ix.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(ix.Data))
	}
	if typ := binary.LittleEndian.Uint32(ix.Data[0:4]); typ != SystemProgramTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", typ)
	}
	amount := binary.LittleEndian.Uint64(ix.Data[4:12])
	return amount, accountAt(ix, keys, 0), accountAt(ix, keys, 1), nil
}

// parseTokenTransfer decodes SPL Transfer and TransferChecked. Only
// TransferChecked names the mint and the signing owner.
func parseTokenTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey) (uint64, solana.PublicKey, *solana.PublicKey, error) {
	if len(ix.Data) == 0 {
		return 0, solana.PublicKey{}, nil, fmt.Errorf("empty instruction data")
	}

	switch ix.Data[0] {
	case TokenProgramTransferInstruction:
		if len(ix.Data) < 9 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transfer instruction data too short")
		}
		return binary.LittleEndian.Uint64(ix.Data[1:9]), solana.PublicKey{}, nil, nil

	case TokenProgramTransferCheckedInstruction:
		// accounts: [source, mint, destination, authority]
		if len(ix.Data) < 10 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(ix.Accounts) < 4 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked missing accounts")
		}
		mint := accountAt(ix, keys, 1)
		if mint == nil {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("mint account index out of bounds")
		}
		return binary.LittleEndian.Uint64(ix.Data[1:9]), *mint, accountAt(ix, keys, 3), nil

	default:
		return 0, solana.PublicKey{}, nil, fmt.Errorf("unknown token instruction type: %d", ix.Data[0])
	}
}

// parseMemo returns memo text, decoding it first when it is base64 of
// valid UTF-8.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && len(decoded) > 0 && utf8.Valid(decoded) {
		return string(decoded)
	}
	return memo
}
