package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/ledgerwallet/service/tokens"
)

func strPtr(s string) *string { return &s }

func pendingTx(id uint64) Transaction {
	return Transaction{
		ID:        id,
		Kind:      KindSend,
		Token:     "ICP",
		Amount:    big.NewInt(int64(id) * 100),
		From:      "aaaaa-aa",
		To:        "bbbbb-bb",
		Status:    StatusPending,
		Timestamp: int64(id) * 1_000,
	}
}

func TestAppend(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(pendingTx(1)))
	require.NoError(t, s.Append(pendingTx(5)))

	err := s.Append(pendingTx(1))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(6), s.NextID())
}

func TestAppendRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Transaction)
	}{
		{name: "negative amount", mutate: func(tx *Transaction) { tx.Amount = big.NewInt(-1) }},
		{name: "nil amount", mutate: func(tx *Transaction) { tx.Amount = nil }},
		{name: "unknown kind", mutate: func(tx *Transaction) { tx.Kind = "burn" }},
		{name: "unknown status", mutate: func(tx *Transaction) { tx.Status = "lost" }},
		{name: "missing token", mutate: func(tx *Transaction) { tx.Token = "" }},
		{name: "pending with block index", mutate: func(tx *Transaction) { tx.BlockIndex = strPtr("12") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := pendingTx(1)
			tt.mutate(&tx)
			err := NewStore().Append(tx)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestAppendUnknownToken(t *testing.T) {
	s := NewStore(WithTokens(tokens.Default()))
	tx := pendingTx(1)
	tx.Token = "DOGE"
	assert.ErrorIs(t, s.Append(tx), tokens.ErrUnknownToken)
	assert.NoError(t, s.Append(pendingTx(2)))
}

func TestRecordsAreCopies(t *testing.T) {
	s := NewStore()
	tx := pendingTx(1)
	require.NoError(t, s.Append(tx))

	tx.Amount.SetInt64(999)
	records := s.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "100", records[0].Amount.String())

	records[0].Amount.SetInt64(7)
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Amount.String())
}

func TestReplace(t *testing.T) {
	tests := []struct {
		name    string
		initial Status
		updated func(Transaction) Transaction
		wantErr error
	}{
		{
			name:    "pending to confirmed",
			initial: StatusPending,
			updated: func(tx Transaction) Transaction { return tx.WithStatus(StatusConfirmed, "42") },
		},
		{
			name:    "pending to failed",
			initial: StatusPending,
			updated: func(tx Transaction) Transaction { return tx.WithStatus(StatusFailed, "") },
		},
		{
			name:    "confirmed back to pending",
			initial: StatusConfirmed,
			updated: func(tx Transaction) Transaction { tx.Status = StatusPending; tx.BlockIndex = nil; return tx },
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "failed to confirmed",
			initial: StatusFailed,
			updated: func(tx Transaction) Transaction { return tx.WithStatus(StatusConfirmed, "1") },
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "pending to pending",
			initial: StatusPending,
			updated: func(tx Transaction) Transaction { return tx },
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "amount changed",
			initial: StatusPending,
			updated: func(tx Transaction) Transaction {
				u := tx.WithStatus(StatusConfirmed, "1")
				u.Amount = big.NewInt(1)
				return u
			},
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			tx := pendingTx(1)
			if tt.initial.Terminal() {
				tx = tx.WithStatus(tt.initial, "7")
			}
			require.NoError(t, s.Append(tx))

			err := s.Replace(1, tt.updated(tx))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				got, _ := s.Get(1)
				assert.Equal(t, tt.initial, got.Status, "failed replace leaves the record untouched")
				return
			}
			require.NoError(t, err)
			got, err := s.Get(1)
			require.NoError(t, err)
			assert.True(t, got.Status.Terminal())
		})
	}
}

func TestReplaceNotFound(t *testing.T) {
	err := NewStore().Replace(9, pendingTx(9).WithStatus(StatusConfirmed, "1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceKeepsOrder(t *testing.T) {
	s := NewStore()
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, s.Append(pendingTx(id)))
	}
	require.NoError(t, s.Replace(2, pendingTx(2).WithStatus(StatusConfirmed, "900")))

	records := s.Records()
	require.Len(t, records, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{records[0].ID, records[1].ID, records[2].ID})
	assert.Equal(t, "900", records[1].BlockIndexString())
}

func TestMerge(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(pendingTx(1)))
	require.NoError(t, s.Append(pendingTx(2).WithStatus(StatusConfirmed, "20")))
	require.NoError(t, s.Append(pendingTx(3)))

	res, err := s.Merge([]Transaction{
		pendingTx(1).WithStatus(StatusConfirmed, "10"),
		pendingTx(2),
		pendingTx(3),
		pendingTx(4),
	})
	require.NoError(t, err)
	assert.Len(t, res.Appended, 1)
	assert.Len(t, res.Replaced, 1)
	assert.Equal(t, 2, res.Skipped)

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)

	got, err = s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status, "stale pending copy does not roll back")

	_, err = s.Merge([]Transaction{pendingTx(2).WithStatus(StatusFailed, "")})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEnsure(t *testing.T) {
	s := NewStore()
	tx := pendingTx(1)

	got, added, err := s.Ensure(tx)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, uint64(1), got.ID)

	// a sync already merged the settled copy of the same record
	settled := tx.WithStatus(StatusConfirmed, "9")
	require.NoError(t, s.Replace(1, settled))

	got, added, err = s.Ensure(tx)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, StatusConfirmed, got.Status, "the stored record wins")
	assert.Equal(t, 1, s.Len())

	other := pendingTx(1)
	other.Amount = big.NewInt(1)
	_, _, err = s.Ensure(other)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestStoreStats(t *testing.T) {
	s := NewStore()
	for _, tx := range sampleHistory() {
		require.NoError(t, s.Append(tx))
	}
	assert.Equal(t, Stats(s.Records()), s.Stats())

	var seen []uint64
	s.Each(func(tx Transaction) bool {
		seen = append(seen, tx.ID)
		return len(seen) < 2
	})
	assert.Equal(t, []uint64{1, 2}, seen)
}
