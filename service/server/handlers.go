package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/ledgerwallet/service/display"
	"github.com/brojonat/ledgerwallet/service/ledger"
	"github.com/brojonat/ledgerwallet/service/tokens"
	"github.com/brojonat/ledgerwallet/service/validator"
	"github.com/brojonat/ledgerwallet/service/wallet"
)

const (
	maxRequestBodySize = 1 << 16
	defaultRecentLimit = 5
)

type pageLimits struct {
	defaultSize int
	maxSize     int
}

// transactionResponse is the JSON form of a ledger record. Amounts are
// strings of smallest units so no client loses precision.
type transactionResponse struct {
	ID            uint64    `json:"id"`
	Kind          string    `json:"kind"`
	Token         string    `json:"token"`
	Amount        string    `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Status        string    `json:"status"`
	Timestamp     int64     `json:"timestamp"`
	Time          time.Time `json:"time"`
	BlockIndex    *string   `json:"block_index,omitempty"`
}

type pageResponse struct {
	Items      []transactionResponse `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
	Filtered   int                   `json:"filtered"`
	Stats      ledger.Summary        `json:"stats"`
}

type tokenTotalResponse struct {
	Token          string `json:"token"`
	Inflow         string `json:"inflow"`
	Outflow        string `json:"outflow"`
	Net            string `json:"net"`
	InflowDisplay  string `json:"inflow_display"`
	OutflowDisplay string `json:"outflow_display"`
	NetDisplay     string `json:"net_display"`
}

type statsResponse struct {
	Criteria ledger.Criteria      `json:"criteria"`
	Summary  ledger.Summary       `json:"summary"`
	Totals   []tokenTotalResponse `json:"totals"`
}

type submitResponse struct {
	Result      validator.Result     `json:"result"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
}

// decimalsFor returns the token's decimals, or 0 for tokens not in the
// table so their amounts render as raw units.
func decimalsFor(table *tokens.Table, token string) int {
	rule, err := table.Lookup(token)
	if err != nil {
		return 0
	}
	return rule.Decimals
}

func transactionToResponse(table *tokens.Table, tx ledger.Transaction) transactionResponse {
	d := decimalsFor(table, tx.Token)
	return transactionResponse{
		ID:            tx.ID,
		Kind:          string(tx.Kind),
		Token:         tx.Token,
		Amount:        unitsString(tx.Amount),
		AmountDisplay: display.Amount(tx.Amount, d),
		From:          tx.From,
		To:            tx.To,
		Status:        string(tx.Status),
		Timestamp:     tx.Timestamp,
		Time:          tx.Time().UTC(),
		BlockIndex:    tx.BlockIndex,
	}
}

func transactionsToResponse(table *tokens.Table, txs []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = transactionToResponse(table, tx)
	}
	return out
}

func unitsString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func signedDisplay(n *big.Int, decimals int) string {
	if n != nil && n.Sign() < 0 {
		return "-" + display.Amount(new(big.Int).Neg(n), decimals)
	}
	return display.Amount(n, decimals)
}

// handleListTokens returns the token rule table.
// GET /api/v1/tokens
func handleListTokens(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rules := svc.Validator().Tokens().Rules()
		out := make([]tokens.RuleConfig, len(rules))
		for i, rule := range rules {
			out[i] = rule.Config()
		}
		writeJSON(w, map[string]interface{}{
			"tokens": out,
			"count":  len(out),
		}, http.StatusOK)
	})
}

type validateAddressRequest struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// handleValidateAddress checks a recipient for a token. The verdict is in
// the body; the status is 200 whenever the request itself is well-formed.
// POST /api/v1/validate/address
func handleValidateAddress(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateAddressRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, svc.Validator().ValidateAddress(req.Address, req.Token), http.StatusOK)
	})
}

type validateAmountRequest struct {
	Amount       string               `json:"amount"`
	Balance      string               `json:"balance"`
	Token        string               `json:"token"`
	Operation    tokens.OperationKind `json:"operation"`
	IncludesFees bool                 `json:"includes_fees"`
}

// handleValidateAmount checks an amount against a balance.
// POST /api/v1/validate/amount
func handleValidateAmount(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateAmountRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		res := svc.Validator().ValidateAmount(req.Amount, req.Balance, req.Token, req.Operation, req.IncludesFees)
		writeJSON(w, res, http.StatusOK)
	})
}

// handleMaxAvailable returns the largest sendable amount for a balance.
// GET /api/v1/max-available?token=ICP&balance=1.5&operation=TRANSFER
func handleMaxAvailable(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get("token")
		balance := q.Get("balance")
		op := tokens.OperationKind(q.Get("operation"))
		if op == "" {
			op = tokens.OpTransfer
		}

		sendable, err := svc.Validator().CalculateMaxAvailable(balance, token, op)
		if err != nil {
			logger.Debug("max available rejected", "token", token, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{
			"token":         token,
			"operation":     string(op),
			"max_available": sendable,
		}, http.StatusOK)
	})
}

// handleSubmitTransfer validates and submits a transfer. Transfers and
// withdrawals are checked against the ledger balance of "from"; the body's
// balance only counts for deposits. An invalid request answers 422 with the
// validation result. A repeated request_id returns the original record.
// POST /api/v1/transfers
func handleSubmitTransfer(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wallet.SubmitRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeLedgerError(w, logger, "submit transfer", err)
			return
		}
		if !res.Result.Valid {
			writeJSON(w, submitResponse{Result: res.Result}, http.StatusUnprocessableEntity)
			return
		}

		tx := transactionToResponse(svc.Validator().Tokens(), *res.Transaction)
		writeJSON(w, submitResponse{Result: res.Result, Transaction: &tx}, http.StatusCreated)
	})
}

// handleListTransactions returns one page of filtered history.
// GET /api/v1/transactions?kind=&token=&status=&q=&page=&page_size=
func handleListTransactions(svc *wallet.Service, limits pageLimits, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		pageSize, err := parseIntParam(q.Get("page_size"), limits.defaultSize, 1, limits.maxSize)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid page_size: %v", err), http.StatusBadRequest)
			return
		}
		page, err := parseIntParam(q.Get("page"), 1, 1, 0)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid page: %v", err), http.StatusBadRequest)
			return
		}

		view := ledger.NewView(pageSize).WithCriteria(criteriaFromQuery(r)).WithPage(page)
		result := svc.Query(view)

		logger.Debug("transactions listed", "filtered", result.Filtered, "page", result.Page)

		writeJSON(w, pageResponse{
			Items:      transactionsToResponse(svc.Validator().Tokens(), result.Items),
			Page:       result.Page,
			PageSize:   result.PageSize,
			TotalPages: result.TotalPages,
			Filtered:   result.Filtered,
			Stats:      result.Stats,
		}, http.StatusOK)
	})
}

// handleRecentTransactions returns the newest records.
// GET /api/v1/transactions/recent?limit=5
func handleRecentTransactions(svc *wallet.Service, limits pageLimits, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseIntParam(r.URL.Query().Get("limit"), defaultRecentLimit, 1, limits.maxSize)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}
		items := transactionsToResponse(svc.Validator().Tokens(), svc.Recent(limit))
		writeJSON(w, map[string]interface{}{
			"transactions": items,
			"count":        len(items),
		}, http.StatusOK)
	})
}

// handleTransactionStats returns status counts and per-token totals over
// the filtered set.
// GET /api/v1/transactions/stats?kind=&token=&status=&q=
func handleTransactionStats(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := criteriaFromQuery(r)
		table := svc.Validator().Tokens()

		totals := svc.Totals(c)
		out := make([]tokenTotalResponse, len(totals))
		for i, t := range totals {
			d := decimalsFor(table, t.Token)
			out[i] = tokenTotalResponse{
				Token:          t.Token,
				Inflow:         unitsString(t.Inflow),
				Outflow:        unitsString(t.Outflow),
				Net:            unitsString(t.Net),
				InflowDisplay:  display.Amount(t.Inflow, d),
				OutflowDisplay: display.Amount(t.Outflow, d),
				NetDisplay:     signedDisplay(t.Net, d),
			}
		}

		writeJSON(w, statsResponse{
			Criteria: c,
			Summary:  svc.Stats(c),
			Totals:   out,
		}, http.StatusOK)
	})
}

// handleGetTransaction returns one record.
// GET /api/v1/transactions/{id}
func handleGetTransaction(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		tx, err := svc.Get(id)
		if err != nil {
			writeLedgerError(w, logger, "get transaction", err)
			return
		}
		writeJSON(w, transactionToResponse(svc.Validator().Tokens(), tx), http.StatusOK)
	})
}

type settleRequest struct {
	Status     ledger.Status `json:"status"`
	BlockIndex string        `json:"block_index"`
}

// handleSettleTransaction moves a pending record to confirmed or failed.
// POST /api/v1/transactions/{id}/settle
func handleSettleTransaction(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req settleRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Status.Valid() {
			writeError(w, fmt.Sprintf("invalid status %q", req.Status), http.StatusBadRequest)
			return
		}

		tx, err := svc.Settle(r.Context(), id, req.Status, req.BlockIndex)
		if err != nil {
			writeLedgerError(w, logger, "settle transaction", err)
			return
		}
		writeJSON(w, transactionToResponse(svc.Validator().Tokens(), tx), http.StatusOK)
	})
}

// handleSync merges the backend history into the ledger.
// POST /api/v1/sync
func handleSync(svc *wallet.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Sync(r.Context())
		if err != nil {
			writeLedgerError(w, logger, "sync", err)
			return
		}
		writeJSON(w, res, http.StatusOK)
	})
}

func criteriaFromQuery(r *http.Request) ledger.Criteria {
	q := r.URL.Query()
	return ledger.Criteria{
		Kind:   q.Get("kind"),
		Token:  q.Get("token"),
		Status: q.Get("status"),
		Search: strings.TrimSpace(q.Get("q")),
	}
}

// parseIntParam parses an optional integer in [lo, hi]; hi <= 0 means no
// upper bound.
func parseIntParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("must be an integer")
	}
	if n < lo {
		return 0, errorf("must be at least %d", lo)
	}
	if hi > 0 && n > hi {
		return 0, errorf("cannot exceed %d", hi)
	}
	return n, nil
}

func parseID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errorf("invalid transaction id %q", r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errorf("invalid request body: %v", err)
	}
	return nil
}

// writeLedgerError maps ledger misuse onto 404/409. Those are consistency
// bugs and are logged at error level; anything else is a backend failure.
func writeLedgerError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidTransition), errors.Is(err, ledger.ErrDuplicateID):
		logger.Error("ledger misuse", "op", op, "error", err)
		writeError(w, err.Error(), http.StatusConflict)
	default:
		logger.Error("backend failure", "op", op, "error", err)
		writeError(w, err.Error(), http.StatusBadGateway)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
