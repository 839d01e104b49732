// Package paymenttest provides an in-memory payment.Gateway recording every
// transfer.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/payment"
)

type Transfer struct {
	Token string
	payment.TransferRequest
	ID string
}

type Gateway struct {
	mu        sync.Mutex
	next      int
	transfers []Transfer
	failFrom  map[string]error
	balances  map[string][]payment.Account
}

var _ payment.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		failFrom: make(map[string]error),
		balances: make(map[string][]payment.Account),
	}
}

// FailFrom makes every transfer out of card fail.
func (g *Gateway) FailFrom(card string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failFrom, card)
		return
	}
	g.failFrom[card] = err
}

func (g *Gateway) SetAccounts(token string, accounts []payment.Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[token] = accounts
}

func (g *Gateway) Transfers() []Transfer {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Transfer, len(g.transfers))
	copy(out, g.transfers)
	return out
}

func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transfers)
}

func (g *Gateway) AccountsWithBalance(ctx context.Context, token string) ([]payment.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[token], nil
}

func (g *Gateway) Transfer(ctx context.Context, token string, req payment.TransferRequest) (*payment.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failFrom[req.From]; ok {
		return nil, xerrors.Errorf("transfer from %s: %v: %w", req.From, err, common.ErrPaymentGateway)
	}
	g.next++
	id := fmt.Sprintf("tx-%d", g.next)
	g.transfers = append(g.transfers, Transfer{Token: token, TransferRequest: req, ID: id})
	return &payment.Transaction{
		ID:       id,
		Status:   payment.StatusCompleted,
		Amount:   decimal.New(req.Amount, -payment.MinorUnitExponent),
		Currency: req.Currency,
	}, nil
}
