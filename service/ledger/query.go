package ledger

import (
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// All is the wildcard value for the kind, token and status filters.
const All = "all"

// Criteria selects transactions. Empty fields and All match everything;
// the fields combine with AND.
type Criteria struct {
	Kind   string `json:"kind,omitempty"`
	Token  string `json:"token,omitempty"`
	Status string `json:"status,omitempty"`
	Search string `json:"search,omitempty"`
}

func wildcard(v string) bool {
	return v == "" || strings.EqualFold(v, All)
}

// Match reports whether tx satisfies every criterion.
func (c Criteria) Match(tx Transaction) bool {
	if !wildcard(c.Kind) && string(tx.Kind) != c.Kind {
		return false
	}
	if !wildcard(c.Token) && tx.Token != c.Token {
		return false
	}
	if !wildcard(c.Status) && string(tx.Status) != c.Status {
		return false
	}
	if c.Search == "" {
		return true
	}
	q := strings.ToLower(c.Search)
	if strings.Contains(strings.ToLower(tx.From), q) ||
		strings.Contains(strings.ToLower(tx.To), q) ||
		strings.Contains(strconv.FormatUint(tx.ID, 10), q) {
		return true
	}
	return tx.BlockIndex != nil && strings.Contains(strings.ToLower(*tx.BlockIndex), q)
}

// Filter returns the records matching c, in their original order.
func Filter(records []Transaction, c Criteria) []Transaction {
	out := make([]Transaction, 0, len(records))
	for _, tx := range records {
		if c.Match(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// Paginate returns page (1-indexed) of records. Pages outside the range
// yield an empty slice.
func Paginate(records []Transaction, page, pageSize int) []Transaction {
	if page < 1 || pageSize < 1 || len(records) == 0 {
		return []Transaction{}
	}
	// compare page numbers first so huge pages cannot overflow the offset
	if page-1 > (len(records)-1)/pageSize {
		return []Transaction{}
	}
	start := (page - 1) * pageSize
	end := start + min(pageSize, len(records)-start)
	out := make([]Transaction, end-start)
	copy(out, records[start:end])
	return out
}

// TotalPages is the number of pages needed for count records, at least 1.
func TotalPages(count, pageSize int) int {
	if pageSize < 1 || count <= 0 {
		return 1
	}
	return (count-1)/pageSize + 1
}

// Summary counts records by status. Confirmed+Pending+Failed == Total.
type Summary struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

func (s *Summary) add(status Status) {
	switch status {
	case StatusConfirmed:
		s.Confirmed++
	case StatusPending:
		s.Pending++
	case StatusFailed:
		s.Failed++
	default:
		return
	}
	s.Total++
}

// Stats summarizes records by status. Records with an unknown status are
// not counted.
func Stats(records []Transaction) Summary {
	var s Summary
	for _, tx := range records {
		s.add(tx.Status)
	}
	return s
}

// SortByTimestamp returns a copy of records ordered newest first, ties
// broken by higher id first.
func SortByTimestamp(records []Transaction) []Transaction {
	out := make([]Transaction, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Recent returns the limit newest records.
func Recent(records []Transaction, limit int) []Transaction {
	if limit <= 0 {
		return []Transaction{}
	}
	sorted := SortByTimestamp(records)
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// TokenTotal is the confirmed flow of one token in smallest units.
type TokenTotal struct {
	Token   string   `json:"token"`
	Inflow  *big.Int `json:"inflow"`
	Outflow *big.Int `json:"outflow"`
	Net     *big.Int `json:"net"`
}

// Totals sums confirmed records per token, ordered by token.
func Totals(records []Transaction) []TokenTotal {
	byToken := map[string]*TokenTotal{}
	for _, tx := range records {
		if tx.Status != StatusConfirmed || tx.Amount == nil {
			continue
		}
		t, ok := byToken[tx.Token]
		if !ok {
			t = &TokenTotal{Token: tx.Token, Inflow: new(big.Int), Outflow: new(big.Int), Net: new(big.Int)}
			byToken[tx.Token] = t
		}
		if tx.Kind.Decreases() {
			t.Outflow.Add(t.Outflow, tx.Amount)
			t.Net.Sub(t.Net, tx.Amount)
		} else {
			t.Inflow.Add(t.Inflow, tx.Amount)
			t.Net.Add(t.Net, tx.Amount)
		}
	}

	out := make([]TokenTotal, 0, len(byToken))
	for _, t := range byToken {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
