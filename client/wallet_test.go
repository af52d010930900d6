package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListTokens_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/tokens", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"tokens": []map[string]interface{}{
				{"symbol": "ICP", "decimals": 8, "min_transfer": "0.0001", "fee": "0.0001", "address_scheme": "icp"},
				{"symbol": "ckETH", "decimals": 18, "min_transfer": "0.001", "fee": "0.002", "address_scheme": "eth"},
			},
			"count": 2,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	tokens, err := client.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "ICP", tokens[0].Symbol)
	assert.Equal(t, 18, tokens[1].Decimals)
}

func TestValidateAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/validate/address", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ckBTC", body["token"])

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"valid":  false,
			"reason": "InvalidFormat",
			"error":  "invalid ckBTC address",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.ValidateAddress(context.Background(), "not-an-address", "ckBTC")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "InvalidFormat", res.Reason)
}

func TestValidateAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1.5", body["amount"])
		assert.Equal(t, "WITHDRAW", body["operation"])
		assert.Equal(t, true, body["includes_fees"])
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"valid": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.ValidateAmount(context.Background(), "1.5", "2", "ICP", "WITHDRAW", true)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestMaxAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/max-available", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("balance"))
		assert.Equal(t, "ICP", r.URL.Query().Get("token"))
		assert.Equal(t, "TRANSFER", r.URL.Query().Get("operation"))
		writeJSON(t, w, http.StatusOK, map[string]string{
			"token":         "ICP",
			"operation":     "TRANSFER",
			"max_available": "0.99990000",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	sendable, err := client.MaxAvailable(context.Background(), "1", "ICP", "TRANSFER")
	require.NoError(t, err)
	assert.Equal(t, "0.99990000", sendable)
}

func TestSubmitTransfer(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      interface{}
		wantValid bool
		wantErr   string
	}{
		{
			name:   "created",
			status: http.StatusCreated,
			body: map[string]interface{}{
				"result":      map[string]interface{}{"valid": true},
				"transaction": map[string]interface{}{"id": 7, "kind": "send", "token": "ICP", "amount": "150000000", "status": "confirmed"},
			},
			wantValid: true,
		},
		{
			name:   "rejected",
			status: http.StatusUnprocessableEntity,
			body: map[string]interface{}{
				"result": map[string]interface{}{"valid": false, "reason": "InsufficientBalance", "error": "insufficient balance"},
			},
		},
		{
			name:    "backend down",
			status:  http.StatusBadGateway,
			body:    map[string]string{"error": "ledger canister unavailable"},
			wantErr: "ledger canister unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/v1/transfers", r.URL.Path)
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "0b4f3c1e-8f6a-4d8e-9a51-3c2f1e7d9b10", body["request_id"])
				_, hasBalance := body["balance"]
				assert.False(t, hasBalance, "an empty balance is not sent")
				writeJSON(t, w, tt.status, tt.body)
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			res, err := client.SubmitTransfer(context.Background(), TransferRequest{
				Token: "ICP", To: "aaaaa-aa", Amount: "1.5", Operation: "TRANSFER", From: "custody",
				RequestID: "0b4f3c1e-8f6a-4d8e-9a51-3c2f1e7d9b10",
			})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.status, apiErr.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Result.Valid)
			if tt.wantValid {
				require.NotNil(t, res.Transaction)
				assert.Equal(t, uint64(7), res.Transaction.ID)
				assert.Equal(t, "150000000", res.Transaction.Amount)
			} else {
				assert.Nil(t, res.Transaction)
				assert.Equal(t, "InsufficientBalance", res.Result.Reason)
			}
		})
	}
}

func TestListTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		assert.Equal(t, "deposit", q.Get("kind"))
		assert.Equal(t, "abc", q.Get("q"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "", q.Get("token"), "empty criteria are not sent")
		assert.Equal(t, "", q.Get("page_size"))

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"items":       []map[string]interface{}{{"id": 11, "kind": "deposit"}},
			"page":        2,
			"page_size":   10,
			"total_pages": 2,
			"filtered":    11,
			"stats":       map[string]int{"total": 11, "confirmed": 11},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	page, err := client.ListTransactions(context.Background(), Criteria{Kind: "deposit", Search: "abc"}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 11, page.Filtered)
	assert.Equal(t, 11, page.Stats.Confirmed)
	require.Len(t, page.Items, 1)
	assert.Equal(t, uint64(11), page.Items[0].ID)
}

func TestRecentAndStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/transactions/recent":
			assert.Equal(t, "3", r.URL.Query().Get("limit"))
			writeJSON(t, w, http.StatusOK, map[string]interface{}{
				"transactions": []map[string]interface{}{{"id": 3}, {"id": 2}, {"id": 1}},
				"count":        3,
			})
		case "/api/v1/transactions/stats":
			assert.Equal(t, "ICP", r.URL.Query().Get("token"))
			writeJSON(t, w, http.StatusOK, map[string]interface{}{
				"criteria": map[string]string{"token": "ICP"},
				"summary":  map[string]int{"total": 2, "confirmed": 2},
				"totals":   []map[string]string{{"token": "ICP", "net": "-200000000", "net_display": "-2.00000000"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	recent, err := client.Recent(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(3), recent[0].ID)

	stats, err := client.Stats(context.Background(), Criteria{Token: "ICP"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Summary.Total)
	require.Len(t, stats.Totals, 1)
	assert.Equal(t, "-2.00000000", stats.Totals[0].NetDisplay)
}

func TestGetAndSettle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/api/v1/transactions/4":
			writeJSON(t, w, http.StatusOK, map[string]interface{}{"id": 4, "status": "pending"})
		case r.Method == "POST" && r.URL.Path == "/api/v1/transactions/4/settle":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "confirmed", body["status"])
			assert.Equal(t, "991", body["block_index"])
			writeJSON(t, w, http.StatusOK, map[string]interface{}{"id": 4, "status": "confirmed", "block_index": "991"})
		case r.URL.Path == "/api/v1/transactions/5/settle":
			writeJSON(t, w, http.StatusConflict, map[string]string{"error": "invalid status transition: transaction 5 is already failed"})
		default:
			writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "pending", tx.Status)

	tx, err = client.Settle(ctx, 4, "confirmed", "991")
	require.NoError(t, err)
	require.NotNil(t, tx.BlockIndex)
	assert.Equal(t, "991", *tx.BlockIndex)

	_, err = client.Settle(ctx, 5, "confirmed", "1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	tx, err = client.GetTransaction(ctx, 99)
	require.Error(t, err)
	assert.Nil(t, tx)
	assert.Contains(t, err.Error(), "transaction not found")
}

func TestSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/sync", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]int{"fetched": 4, "appended": 3, "skipped": 1})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 4, Appended: 3, Skipped: 1}, *res)
}

func TestErrorResponse_PlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Recent(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func sseServer(t *testing.T, wantPath string, events []Event) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, wantPath, r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")

		fmt.Fprintf(w, "event: connected\ndata: {\"token\":\"ICP\"}\n\n")
		fmt.Fprintf(w, ": keepalive\n\n")
		for _, e := range events {
			data, err := json.Marshal(e)
			require.NoError(t, err)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
		}
		flusher.Flush()
	}))
}

func TestStream(t *testing.T) {
	server := sseServer(t, "/api/v1/stream/transactions/ICP", []Event{
		{Type: "appended", ID: 1, Token: "ICP", Amount: "5"},
		{Type: "replaced", ID: 1, Token: "ICP", Status: "confirmed"},
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	var got []Event
	err := client.Stream(context.Background(), "ICP", func(e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2, "handshake and keepalives are not delivered")
	assert.Equal(t, "appended", got[0].Type)
	assert.Equal(t, "confirmed", got[1].Status)
}

func TestAwait_Matching(t *testing.T) {
	server := sseServer(t, "/api/v1/stream/transactions/ICP", []Event{
		{Type: "appended", ID: 1, Token: "ICP", Amount: "5", Status: "pending"},
		{Type: "replaced", ID: 1, Token: "ICP", Amount: "5", Status: "confirmed"},
		{Type: "appended", ID: 2, Token: "ICP", Amount: "9", Status: "pending"},
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := client.Await(ctx, "ICP", func(e Event) bool {
		return e.ID == 1 && e.Status == "confirmed"
	})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "replaced", event.Type)
}

func TestAwait_StreamClosed(t *testing.T) {
	server := sseServer(t, "/api/v1/stream/transactions", []Event{
		{Type: "appended", ID: 1, Token: "ckBTC"},
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	event, err := client.Await(context.Background(), "", func(e Event) bool { return e.Token == "ICP" })
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Nil(t, event)
}

func TestAwait_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Await(ctx, "ICP", func(Event) bool { return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
