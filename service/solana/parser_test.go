package solana

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTransactionEnvelope builds a TransactionResultEnvelope through JSON,
// since its fields are unexported.
func makeTransactionEnvelope(t *testing.T, tx *solana.Transaction) *rpc.TransactionResultEnvelope {
	t.Helper()

	txJSON, err := json.Marshal(tx)
	require.NoError(t, err)

	envelopeJSON, err := json.Marshal(struct {
		Transaction json.RawMessage `json:"transaction"`
	}{Transaction: txJSON})
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(envelopeJSON, &result))
	return result.Transaction
}

func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func transferCheckedData(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = TokenProgramTransferCheckedInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

func testSignature(b byte) *rpc.TransactionSignature {
	now := solana.UnixTimeSeconds(time.Now().Unix())
	return &rpc.TransactionSignature{
		Signature:          solana.Signature{b},
		Slot:               100 + uint64(b),
		BlockTime:          &now,
		ConfirmationStatus: rpc.ConfirmationStatusFinalized,
	}
}

func TestParseDeposit_SOLTransfer(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{from, to, SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1000000000)},
			},
		},
	}
	sig := testSignature(1)

	d, err := parseDeposit(sig, &rpc.GetTransactionResult{Transaction: makeTransactionEnvelope(t, tx)})
	require.NoError(t, err)

	assert.Equal(t, sig.Signature.String(), d.Signature)
	assert.Equal(t, uint64(1000000000), d.Amount)
	assert.Nil(t, d.TokenMint)
	require.NotNil(t, d.FromAddress)
	assert.Equal(t, from.String(), *d.FromAddress)
	require.NotNil(t, d.ToAddress)
	assert.Equal(t, to.String(), *d.ToAddress)
	assert.True(t, d.Finalized)
	assert.Nil(t, d.Err)
}

func TestParseDeposit_SPLTransferChecked(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	dest := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{source, mint, dest, authority, TokenProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 2, 3}, Data: transferCheckedData(1000000, 6)},
			},
		},
	}

	d, err := parseDeposit(testSignature(2), &rpc.GetTransactionResult{Transaction: makeTransactionEnvelope(t, tx)})
	require.NoError(t, err)

	assert.Equal(t, uint64(1000000), d.Amount)
	require.NotNil(t, d.TokenMint)
	assert.Equal(t, mint.String(), *d.TokenMint)
	require.NotNil(t, d.FromAddress)
	assert.Equal(t, authority.String(), *d.FromAddress)
	assert.Nil(t, d.ToAddress)
}

func TestParseDeposit_Memo(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "plain text", data: []byte("deposit ref 42"), want: "deposit ref 42"},
		{name: "base64", data: []byte(base64.StdEncoding.EncodeToString([]byte("ref-7"))), want: "ref-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &solana.Transaction{
				Message: solana.Message{
					AccountKeys: []solana.PublicKey{from, to, SystemProgramID, MemoProgramIDSPL},
					Instructions: []solana.CompiledInstruction{
						{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(5)},
						{ProgramIDIndex: 3, Accounts: []uint16{}, Data: tt.data},
					},
				},
			}

			d, err := parseDeposit(testSignature(3), &rpc.GetTransactionResult{Transaction: makeTransactionEnvelope(t, tx)})
			require.NoError(t, err)
			require.NotNil(t, d.Memo)
			assert.Equal(t, tt.want, *d.Memo)
		})
	}
}

func TestParseDeposit_FailedKeepsMetadata(t *testing.T) {
	sig := testSignature(4)
	sig.Err = map[string]any{"InstructionError": []any{0, "InsufficientFunds"}}

	d, err := parseDeposit(sig, nil)
	require.NoError(t, err)
	require.NotNil(t, d.Err)
	assert.Contains(t, *d.Err, "transaction failed")
	assert.Zero(t, d.Amount)
	assert.Equal(t, uint64(104), d.Slot)
}

func TestParseSystemTransfer_Errors(t *testing.T) {
	keys := []solana.PublicKey{solana.NewWallet().PublicKey()}

	_, _, _, err := parseSystemTransfer(solana.CompiledInstruction{Data: []byte{1, 2}}, keys)
	assert.ErrorContains(t, err, "too short")

	data := systemTransferData(1)
	binary.LittleEndian.PutUint32(data[0:4], 0)
	_, _, _, err = parseSystemTransfer(solana.CompiledInstruction{Data: data}, keys)
	assert.ErrorContains(t, err, "not a transfer")
}

func TestParseTokenTransfer_Errors(t *testing.T) {
	keys := []solana.PublicKey{solana.NewWallet().PublicKey()}

	tests := []struct {
		name    string
		ix      solana.CompiledInstruction
		wantErr string
	}{
		{name: "empty", ix: solana.CompiledInstruction{}, wantErr: "empty instruction data"},
		{name: "short transfer", ix: solana.CompiledInstruction{Data: []byte{TokenProgramTransferInstruction, 1}}, wantErr: "too short"},
		{name: "missing accounts", ix: solana.CompiledInstruction{Data: transferCheckedData(1, 6), Accounts: []uint16{0}}, wantErr: "missing accounts"},
		{name: "mint out of bounds", ix: solana.CompiledInstruction{Data: transferCheckedData(1, 6), Accounts: []uint16{0, 9, 0, 0}}, wantErr: "out of bounds"},
		{name: "unknown type", ix: solana.CompiledInstruction{Data: []byte{99}}, wantErr: "unknown token instruction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := parseTokenTransfer(tt.ix, keys)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
