package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The financial-connections transactions feed is still behind a beta flag,
// so every call pins the API version.
const apiVersion = "2020-08-27; financial_connections_transactions_beta=v1"

const defaultTimeout = 15 * time.Second

// Client is a thin adapter over the payment processor's HTTP API. It holds no
// state beyond credentials; all persisted memory lives in the ledger.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
	}
}

// ListTransactions fetches a page of bank transactions for the connected
// account. after is the opaque refresh cursor; empty means from the start.
func (c *Client) ListTransactions(ctx context.Context, accountID, after string) (*TransactionList, error) {
	q := url.Values{}
	q.Set("account", accountID)
	q.Set("limit", "100")
	if after != "" {
		q.Set("transaction_refresh[after]", after)
	}

	var list TransactionList
	if err := c.do(ctx, http.MethodGet, "/v1/financial_connections/transactions?"+q.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// RefreshAccount asks the processor to re-poll its upstream bank feed.
// The result is only observable through a later ListTransactions call.
func (c *Client) RefreshAccount(ctx context.Context, accountID string) error {
	form := url.Values{}
	form.Add("features[]", "transactions")
	path := fmt.Sprintf("/v1/financial_connections/accounts/%s/refresh", accountID)
	return c.do(ctx, http.MethodPost, path, form, "", nil)
}

// CreateTopUp moves funds into the pooled balance. An idempotency key guards
// against double submission on retries.
func (c *Client) CreateTopUp(ctx context.Context, params TopUpParams) (*TopUp, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", params.Currency)
	form.Set("description", params.Description)
	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var topUp TopUp
	if err := c.do(ctx, http.MethodPost, "/v1/topups", form, uuid.NewString(), &topUp); err != nil {
		return nil, err
	}
	return &topUp, nil
}

// CreateFinancialConnectionsSession opens an onboarding session whose client
// secret the admin frontend uses to connect a bank account.
func (c *Client) CreateFinancialConnectionsSession(ctx context.Context, customerID string) (*Session, error) {
	form := url.Values{}
	form.Set("account_holder[type]", "customer")
	form.Set("account_holder[customer]", customerID)
	form.Add("permissions[]", "transactions")
	form.Add("permissions[]", "ownership")
	form.Add("permissions[]", "payment_method")
	form.Add("filters[countries][]", "US")

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/financial_connections/sessions", form, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) RetrieveFinancialConnectionsSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	path := "/v1/financial_connections/sessions/" + sessionID
	if err := c.do(ctx, http.MethodGet, path, nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSource provisions an ACH credit-transfer source for the given owner.
func (c *Client) CreateSource(ctx context.Context, ownerEmail string) (*Source, error) {
	form := url.Values{}
	form.Set("type", "ach_credit_transfer")
	form.Set("currency", "usd")
	form.Set("owner[email]", ownerEmail)

	var source Source
	if err := c.do(ctx, http.MethodPost, "/v1/sources", form, "", &source); err != nil {
		return nil, err
	}
	return &source, nil
}

// RetrieveSource fetches an existing source by id.
func (c *Client) RetrieveSource(ctx context.Context, sourceID string) (*Source, error) {
	var source Source
	if err := c.do(ctx, http.MethodGet, "/v1/sources/"+sourceID, nil, "", &source); err != nil {
		return nil, err
	}
	return &source, nil
}

// AttachSource binds a source to a processor customer.
func (c *Client) AttachSource(ctx context.Context, customerID, sourceID string) error {
	form := url.Values{}
	form.Set("source", sourceID)
	path := fmt.Sprintf("/v1/customers/%s/sources", customerID)
	return c.do(ctx, http.MethodPost, path, form, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out interface{}) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Message == "" {
			return &APIError{
				Type:    "api_error",
				Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			}
		}
		return &errResp.Error
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode processor response: %w", err)
	}
	return nil
}
