package ledger

import (
	"fmt"

	"github.com/brojonat/ledgerwallet/service/tokens"
)

// Store is the in-memory transaction collection. It keeps insertion order
// and is not safe for concurrent use; its owner serializes access.
type Store struct {
	records []Transaction
	index   map[uint64]int
	nextID  uint64
	tokens  *tokens.Table
}

// Option configures a Store.
type Option func(*Store)

// WithTokens rejects records whose token is not in table.
func WithTokens(table *tokens.Table) Option {
	return func(s *Store) { s.tokens = table }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{index: make(map[uint64]int), nextID: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) check(tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if s.tokens != nil && !s.tokens.Has(tx.Token) {
		return fmt.Errorf("%w: %s", tokens.ErrUnknownToken, tx.Token)
	}
	return nil
}

// Append adds a new record. The id must not be in use.
func (s *Store) Append(tx Transaction) error {
	if _, exists := s.index[tx.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, tx.ID)
	}
	if err := s.check(tx); err != nil {
		return err
	}
	s.index[tx.ID] = len(s.records)
	s.records = append(s.records, tx.Clone())
	if tx.ID >= s.nextID {
		s.nextID = tx.ID + 1
	}
	return nil
}

// Replace settles the pending record id with updated, which must carry the
// same id, kind, token and amount and a terminal status.
func (s *Store) Replace(id uint64, updated Transaction) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	existing := s.records[i]
	if existing.Status.Terminal() {
		return fmt.Errorf("%w: transaction %d is already %s", ErrInvalidTransition, id, existing.Status)
	}
	if !updated.Status.Terminal() {
		return fmt.Errorf("%w: transaction %d cannot move from %s to %s", ErrInvalidTransition, id, existing.Status, updated.Status)
	}
	if err := s.check(updated); err != nil {
		return err
	}
	if !existing.sameIdentity(updated) {
		return fmt.Errorf("%w: replacement for %d changes id, kind, token or amount", ErrInvalidTransition, id)
	}
	s.records[i] = updated.Clone()
	return nil
}

// Get returns a copy of record id.
func (s *Store) Get(id uint64) (Transaction, error) {
	i, ok := s.index[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.records[i].Clone(), nil
}

// Records returns copies of every record in insertion order.
func (s *Store) Records() []Transaction {
	out := make([]Transaction, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Each calls fn for every record in insertion order until fn returns
// false. fn sees the stored value and must not modify its amount or
// block index.
func (s *Store) Each(fn func(tx Transaction) bool) {
	for _, r := range s.records {
		if !fn(r) {
			return
		}
	}
}

// Stats is Stats(s.Records()) without copying the history.
func (s *Store) Stats() Summary {
	var sum Summary
	s.Each(func(tx Transaction) bool {
		sum.add(tx.Status)
		return true
	})
	return sum
}

// Ensure appends tx unless the store already holds a record with the same
// id, kind, token and amount, in which case it returns that record and
// false. The same id with a different identity is ErrDuplicateID.
func (s *Store) Ensure(tx Transaction) (Transaction, bool, error) {
	if i, exists := s.index[tx.ID]; exists {
		existing := s.records[i]
		if !existing.sameIdentity(tx) {
			return Transaction{}, false, fmt.Errorf("%w: %d already holds a different record", ErrDuplicateID, tx.ID)
		}
		return existing.Clone(), false, nil
	}
	if err := s.Append(tx); err != nil {
		return Transaction{}, false, err
	}
	return tx.Clone(), true, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// NextID returns an id greater than every id seen so far.
func (s *Store) NextID() uint64 {
	return s.nextID
}

// MergeResult reports what Merge changed.
type MergeResult struct {
	Appended []Transaction
	Replaced []Transaction
	Skipped  int
}

// Merge folds a full history snapshot into the store: unseen ids are
// appended, pending records that the snapshot shows settled are replaced,
// and everything else is left alone. A snapshot that contradicts a
// settled record stops the merge with ErrInvalidTransition.
func (s *Store) Merge(snapshot []Transaction) (MergeResult, error) {
	var res MergeResult
	for _, tx := range snapshot {
		i, exists := s.index[tx.ID]
		if !exists {
			if err := s.Append(tx); err != nil {
				return res, err
			}
			res.Appended = append(res.Appended, tx.Clone())
			continue
		}

		existing := s.records[i]
		switch {
		case existing.equal(tx), existing.Status == tx.Status:
			res.Skipped++
		case existing.Status == StatusPending:
			if err := s.Replace(tx.ID, tx); err != nil {
				return res, err
			}
			res.Replaced = append(res.Replaced, tx.Clone())
		case tx.Status == StatusPending:
			// stale copy of a record that has since settled
			res.Skipped++
		default:
			return res, fmt.Errorf("%w: snapshot has %d as %s, store has %s", ErrInvalidTransition, tx.ID, tx.Status, existing.Status)
		}
	}
	return res, nil
}
