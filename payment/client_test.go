package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlierventures/buyco_settlement/common"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "100.50", FormatAmount(10050))
	assert.Equal(t, "0.07", FormatAmount(7))
	assert.Equal(t, "77.24", FormatAmount(7724))
}

func TestAccountsWithBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v0/me/cards", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`[
			{"id":"card-1","label":"main","currency":"EUR","balance":"120.00","available":"100.50"},
			{"id":"card-2","label":"empty","currency":"EUR","balance":"0.00","available":"0.00"}
		]`))
	}))
	defer server.Close()

	accounts, err := NewClient(Config{BaseURL: server.URL}).AccountsWithBalance(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "card-1", accounts[0].ID)
	assert.Equal(t, "EUR", accounts[0].Currency)
	assert.Equal(t, "100.5", accounts[0].Available.String())
}

func TestTransferCommits(t *testing.T) {
	var committed bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/me/cards/card-1/transactions":
			var req createTransaction
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "77.24", req.Denomination.Amount)
			assert.Equal(t, "EUR", req.Denomination.Currency)
			assert.Equal(t, "vault", req.Destination)
			_, _ = w.Write([]byte(`{"id":"tx-1","status":"pending"}`))
		case "/v0/me/cards/card-1/transactions/tx-1/commit":
			committed = true
			_, _ = w.Write([]byte(`{"id":"tx-1","status":"completed","denomination":{"amount":"77.24","currency":"EUR"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	tx, err := NewClient(Config{BaseURL: server.URL}).Transfer(context.Background(), "tok", TransferRequest{
		From:     "card-1",
		To:       "vault",
		Amount:   7724,
		Currency: "EUR",
	})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, StatusCompleted, tx.Status)
	assert.Equal(t, "77.24", tx.Amount.StringFixed(2))
}

func TestTransferErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient_balance"}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	_, err := c.Transfer(context.Background(), "tok", TransferRequest{From: "card-1", To: "vault", Amount: 100, Currency: "EUR"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrPaymentGateway))
	assert.Contains(t, err.Error(), "insufficient_balance")

	_, err = c.Transfer(context.Background(), "tok", TransferRequest{From: "card-1", To: "vault", Amount: 0})
	assert.True(t, errors.Is(err, common.ErrPaymentGateway))
}

func TestTransferRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v0/me/cards/card-1/transactions" {
			_, _ = w.Write([]byte(`{"id":"tx-2","status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"tx-2","status":"failed"}`))
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).Transfer(context.Background(), "tok", TransferRequest{From: "card-1", To: "vault", Amount: 100, Currency: "EUR"})
	assert.True(t, errors.Is(err, common.ErrPaymentGateway))
}
