package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) AccountsWithBalance(ctx context.Context, token string) ([]Account, error) {
	body, err := c.do(ctx, token, http.MethodGet, "/v0/me/cards", nil)
	if err != nil {
		return nil, err
	}

	cards := gjson.ParseBytes(body)
	if !cards.IsArray() {
		return nil, xerrors.Errorf("list cards: unexpected response: %w", common.ErrPaymentGateway)
	}

	var accounts []Account
	for _, card := range cards.Array() {
		available, err := decimal.NewFromString(card.Get("available").String())
		if err != nil {
			return nil, xerrors.Errorf("card %s available %q: %v: %w", card.Get("id").String(), card.Get("available").String(), err, common.ErrPaymentGateway)
		}
		if !available.IsPositive() {
			continue
		}
		balance, err := decimal.NewFromString(card.Get("balance").String())
		if err != nil {
			balance = available
		}
		accounts = append(accounts, Account{
			ID:        card.Get("id").String(),
			Label:     card.Get("label").String(),
			Currency:  card.Get("currency").String(),
			Balance:   balance,
			Available: available,
		})
	}
	return accounts, nil
}

type denomination struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createTransaction struct {
	Denomination denomination `json:"denomination"`
	Destination  string       `json:"destination"`
	Message      string       `json:"message,omitempty"`
}

// Transfer creates the transaction as a quote and commits it in a second
// request. A quote that is created but never committed moves no funds.
func (c *Client) Transfer(ctx context.Context, token string, req TransferRequest) (*Transaction, error) {
	if req.Amount <= 0 {
		return nil, xerrors.Errorf("transfer amount %d: %w", req.Amount, common.ErrPaymentGateway)
	}

	start := time.Now()
	defer func() {
		log.Debugw("transfer", "from", req.From, "to", req.To, "amount", FormatAmount(req.Amount), "duration", time.Since(start).String())
	}()

	payload, err := json.Marshal(createTransaction{
		Denomination: denomination{Amount: FormatAmount(req.Amount), Currency: req.Currency},
		Destination:  req.To,
		Message:      req.Message,
	})
	if err != nil {
		return nil, xerrors.Errorf("marshal transaction: %w", err)
	}

	cardPath := "/v0/me/cards/" + url.PathEscape(req.From) + "/transactions"
	body, err := c.do(ctx, token, http.MethodPost, cardPath, payload)
	if err != nil {
		return nil, xerrors.Errorf("create transaction: %w", err)
	}
	quote := gjson.GetBytes(body, "id").String()
	if quote == "" {
		return nil, xerrors.Errorf("create transaction: no id in response: %w", common.ErrPaymentGateway)
	}

	body, err = c.do(ctx, token, http.MethodPost, cardPath+"/"+url.PathEscape(quote)+"/commit", nil)
	if err != nil {
		return nil, xerrors.Errorf("commit transaction %s: %w", quote, err)
	}

	tx := parseTransaction(body)
	if tx.ID == "" {
		tx.ID = quote
	}
	if tx.Status != StatusCompleted && tx.Status != StatusPending {
		return nil, xerrors.Errorf("transaction %s status %q: %w", tx.ID, tx.Status, common.ErrPaymentGateway)
	}
	return tx, nil
}

func parseTransaction(body []byte) *Transaction {
	res := gjson.ParseBytes(body)
	amount, _ := decimal.NewFromString(res.Get("denomination.amount").String())
	return &Transaction{
		ID:       res.Get("id").String(),
		Status:   res.Get("status").String(),
		Amount:   amount,
		Currency: res.Get("denomination.currency").String(),
	}
}

func (c *Client) do(ctx context.Context, token, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, xerrors.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Errorf("%s %s: %v: %w", method, path, err, common.ErrPaymentGateway)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("read response: %v: %w", err, common.ErrPaymentGateway)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = string(body)
		}
		log.Warnw("payment api error", "method", method, "path", path, "status", resp.StatusCode, "error", msg)
		return nil, xerrors.Errorf("%s %s: %s: %s: %w", method, path, resp.Status, msg, common.ErrPaymentGateway)
	}
	return body, nil
}
