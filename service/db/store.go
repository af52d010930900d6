package db

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/ledgerwallet/service/ledger"
	"github.com/brojonat/ledgerwallet/service/wallet"
)

// Store persists ledger transactions in Postgres. It implements
// wallet.Backend and the deposit writes used by the poller.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Schema creates the ledger table. Amounts are NUMERIC so values beyond
// 64 bits (18 decimal tokens) round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	id           BIGSERIAL PRIMARY KEY,
	request_id   UUID UNIQUE,
	external_ref TEXT UNIQUE,
	kind         TEXT NOT NULL,
	token        TEXT NOT NULL,
	amount       NUMERIC(78, 0) NOT NULL CHECK (amount >= 0),
	fee          NUMERIC(78, 0) NOT NULL DEFAULT 0,
	from_address TEXT NOT NULL DEFAULT '',
	to_address   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'failed')),
	timestamp_ns BIGINT NOT NULL,
	block_index  TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_transactions_timestamp_idx ON ledger_transactions (timestamp_ns DESC);
`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const txColumns = `id, kind, token, amount::text, from_address, to_address, status, timestamp_ns, block_index`

// scanTransaction reads txColumns followed by any extra destinations.
func scanTransaction(row pgx.Row, extra ...any) (ledger.Transaction, error) {
	var (
		tx         ledger.Transaction
		id         int64
		kind       string
		status     string
		amountText string
		blockIndex pgtype.Text
	)
	dest := append([]any{&id, &kind, &tx.Token, &amountText, &tx.From, &tx.To, &status, &tx.Timestamp, &blockIndex}, extra...)
	if err := row.Scan(dest...); err != nil {
		return ledger.Transaction{}, err
	}

	amt, ok := new(big.Int).SetString(amountText, 10)
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("invalid amount %q for transaction %d", amountText, id)
	}
	tx.ID = uint64(id)
	tx.Kind = ledger.Kind(kind)
	tx.Status = ledger.Status(status)
	tx.Amount = amt
	if blockIndex.Valid {
		bi := blockIndex.String
		tx.BlockIndex = &bi
	}
	return tx, nil
}

func pgtextFromString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func amountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// SubmitTransfer records a submitted transfer. Retrying with the same
// request id returns the existing record instead of inserting twice.
func (s *Store) SubmitTransfer(ctx context.Context, req wallet.TransferRequest) (ledger.Transaction, error) {
	status := wallet.InitialStatus(req.Kind)
	requestID := pgtype.UUID{Bytes: req.RequestID, Valid: req.RequestID != uuid.Nil}

	var out ledger.Transaction
	err := pgx.BeginFunc(ctx, s.pool, func(dbtx pgx.Tx) error {
		var id int64
		err := dbtx.QueryRow(ctx, `
			INSERT INTO ledger_transactions (request_id, kind, token, amount, fee, from_address, to_address, status, timestamp_ns)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, (extract(epoch from clock_timestamp()) * 1000000000)::bigint)
			ON CONFLICT (request_id) DO UPDATE SET request_id = EXCLUDED.request_id
			RETURNING id`,
			requestID, string(req.Kind), req.Token, amountString(req.Amount), amountString(req.Fee),
			req.From, req.To, string(status),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		// ledger-internal sends are final at submission; the row id is
		// their block index
		if status.Terminal() {
			if _, err := dbtx.Exec(ctx,
				`UPDATE ledger_transactions SET block_index = $2 WHERE id = $1 AND block_index IS NULL`,
				id, strconv.FormatInt(id, 10),
			); err != nil {
				return fmt.Errorf("failed to set block index: %w", err)
			}
		}

		out, err = scanTransaction(dbtx.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

// ListTransactions returns every record in id order.
func (s *Store) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+txColumns+` FROM ledger_transactions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// GetTransaction returns record id, or ledger.ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, id uint64) (ledger.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	return tx, err
}

// SettleTransaction moves a pending record to a terminal status.
func (s *Store) SettleTransaction(ctx context.Context, id uint64, status ledger.Status, blockIndex string) (ledger.Transaction, error) {
	if !status.Terminal() {
		return ledger.Transaction{}, fmt.Errorf("%w: cannot settle %d as %s", ledger.ErrInvalidTransition, id, status)
	}

	tx, err := scanTransaction(s.pool.QueryRow(ctx, `
		UPDATE ledger_transactions
		SET status = $2, block_index = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+txColumns,
		int64(id), string(status), pgtextFromString(blockIndex),
	))
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("failed to settle transaction: %w", err)
	}

	existing, err := s.GetTransaction(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{}, fmt.Errorf("%w: transaction %d is already %s", ledger.ErrInvalidTransition, id, existing.Status)
}

// DepositParams describes a deposit observed on an external chain.
type DepositParams struct {
	ExternalRef string
	Token       string
	Amount      *big.Int
	From        string
	To          string
	Status      ledger.Status
	TimestampNS int64
	BlockIndex  string
}

// DepositChange says what UpsertDeposit did.
type DepositChange int

const (
	DepositUnchanged DepositChange = iota
	DepositInserted
	DepositSettled
)

// UpsertDeposit inserts a deposit keyed by its external reference, or
// settles the existing pending row. Settled rows are never touched again.
func (s *Store) UpsertDeposit(ctx context.Context, p DepositParams) (ledger.Transaction, DepositChange, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ledger_transactions (external_ref, kind, token, amount, from_address, to_address, status, timestamp_ns, block_index)
		VALUES ($1, 'deposit', $2, $3::numeric, $4, $5, $6, $7, $8)
		ON CONFLICT (external_ref) DO UPDATE
			SET status = EXCLUDED.status, block_index = EXCLUDED.block_index, updated_at = now()
			WHERE ledger_transactions.status = 'pending' AND EXCLUDED.status <> 'pending'
		RETURNING `+txColumns+`, (xmax = 0) AS inserted`,
		p.ExternalRef, p.Token, amountString(p.Amount), p.From, p.To, string(p.Status), p.TimestampNS, pgtextFromString(p.BlockIndex),
	)

	var inserted bool
	tx, err := scanTransaction(row, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, DepositUnchanged, nil
	}
	if err != nil {
		return ledger.Transaction{}, DepositUnchanged, fmt.Errorf("failed to upsert deposit: %w", err)
	}

	if inserted {
		return tx, DepositInserted, nil
	}
	return tx, DepositSettled, nil
}

// SettledDepositRefs returns the external refs of the most recently
// settled deposits, newest first, so the poller can skip them.
func (s *Store) SettledDepositRefs(ctx context.Context, limit int32) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_ref FROM ledger_transactions
		WHERE external_ref IS NOT NULL AND status <> 'pending'
		ORDER BY timestamp_ns DESC, id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposit refs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan deposit ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of rows per status.
func (s *Store) CountByStatus(ctx context.Context) (map[ledger.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM ledger_transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	out := map[ledger.Status]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[ledger.Status(status)] = n
	}
	return out, rows.Err()
}
