package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/consentgate/internal/metrics"
)

// HTTPClient implementa todos los puertos contra un backend JSON.
//
// Rutas (relativas a BaseURL):
//
//	GET  /customers/{c}/accounts[/{id}[/balances|/transactions]]
//	GET  /customers/{c}/cards[/{id}[/balances|/transactions]]
//	POST /customers/{c}/payments            GET /customers/{c}/payments/{id}
//	POST /customers/{c}/funds-confirmations
//	GET  /customers/{c}/contacts/{channel}  → {"target": "..."}
//	POST /notifications
type HTTPClient struct {
	base *url.URL
	http *http.Client
	// header opcional para autenticarse contra el backend
	authHeader, authValue string
}

// HTTPOptions configura el cliente.
type HTTPOptions struct {
	BaseURL    string
	Timeout    time.Duration
	AuthHeader string
	AuthValue  string
}

func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("downstream: invalid base url %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base:       u,
		http:       &http.Client{Timeout: timeout},
		authHeader: opts.AuthHeader,
		authValue:  opts.AuthValue,
	}, nil
}

// Services expone el cliente como todos los puertos.
func (c *HTTPClient) Services() Services {
	return Services{Accounts: c, Cards: c, Payments: c, Funds: c, Directory: c, Notifier: c}
}

func (c *HTTPClient) do(ctx context.Context, op, method string, query url.Values, body any, out any, segments ...string) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.DownstreamCalls.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	u := c.base.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", ErrRejected, op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
		*raw = b
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrUnavailable, op, err)
	}
	return nil
}

func (c *HTTPClient) getRaw(ctx context.Context, op string, q url.Values, segs ...string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, q, nil, &raw, segs...); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *HTTPClient) ListAccounts(ctx context.Context, customerID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "list_accounts", nil, "customers", customerID, "accounts")
}

func (c *HTTPClient) GetAccount(ctx context.Context, customerID, accountID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "get_account", nil, "customers", customerID, "accounts", accountID)
}

func (c *HTTPClient) GetBalances(ctx context.Context, customerID, accountID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "get_balances", nil, "customers", customerID, "accounts", accountID, "balances")
}

func (c *HTTPClient) GetTransactions(ctx context.Context, customerID, accountID string, q url.Values) (json.RawMessage, error) {
	return c.getRaw(ctx, "get_transactions", q, "customers", customerID, "accounts", accountID, "transactions")
}

func (c *HTTPClient) ListCards(ctx context.Context, customerID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "list_cards", nil, "customers", customerID, "cards")
}

func (c *HTTPClient) GetCard(ctx context.Context, customerID, cardID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "get_card", nil, "customers", customerID, "cards", cardID)
}

func (c *HTTPClient) GetCardBalances(ctx context.Context, customerID, cardID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "get_card_balances", nil, "customers", customerID, "cards", cardID, "balances")
}

func (c *HTTPClient) GetCardTransactions(ctx context.Context, customerID, cardID string, q url.Values) (json.RawMessage, error) {
	return c.getRaw(ctx, "get_card_transactions", q, "customers", customerID, "cards", cardID, "transactions")
}

func (c *HTTPClient) InitiatePayment(ctx context.Context, customerID string, req PaymentRequest) (*PaymentStatus, error) {
	var out PaymentStatus
	if err := c.do(ctx, "initiate_payment", http.MethodPost, nil, req, &out, "customers", customerID, "payments"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetPaymentStatus(ctx context.Context, customerID, paymentID string) (*PaymentStatus, error) {
	var out PaymentStatus
	if err := c.do(ctx, "payment_status", http.MethodGet, nil, nil, &out, "customers", customerID, "payments", paymentID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ConfirmFunds(ctx context.Context, customerID string, req FundsRequest) (*FundsResult, error) {
	var out FundsResult
	if err := c.do(ctx, "confirm_funds", http.MethodPost, nil, req, &out, "customers", customerID, "funds-confirmations"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Contact(ctx context.Context, customerID, channel string) (string, error) {
	var out struct {
		Target string `json:"target"`
	}
	if err := c.do(ctx, "contact", http.MethodGet, nil, nil, &out, "customers", customerID, "contacts", strings.ToLower(channel)); err != nil {
		return "", err
	}
	if out.Target == "" {
		return "", ErrNotFound
	}
	return out.Target, nil
}

func (c *HTTPClient) Notify(ctx context.Context, n Notification) error {
	return c.do(ctx, "notify", http.MethodPost, nil, n, nil, "notifications")
}
