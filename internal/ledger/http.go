package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eaglebank/transaction-service/shared/models"
	"github.com/shopspring/decimal"
)

// HTTPClient calls the accounts service REST API.
type HTTPClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

type mutationBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type mutationResponse struct {
	Message string   `json:"message"`
	Account *Account `json:"account"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *HTTPClient) Debit(ctx context.Context, req MutationRequest) (*Account, error) {
	return c.mutate(ctx, OpDebit, "withdraw", req)
}

func (c *HTTPClient) Credit(ctx context.Context, req MutationRequest) (*Account, error) {
	return c.mutate(ctx, OpCredit, "deposit", req)
}

func (c *HTTPClient) Balance(ctx context.Context, accountID, authorization string) (*Account, error) {
	var acc Account
	if err := c.do(ctx, OpBalance, http.MethodGet, accountID, "balance", authorization, "", nil, &acc); err != nil {
		return nil, err
	}
	if acc.ID == "" {
		acc.ID = ledgerID(accountID)
	}
	return &acc, nil
}

func (c *HTTPClient) mutate(ctx context.Context, op, action string, req MutationRequest) (*Account, error) {
	body, err := json.Marshal(mutationBody{Amount: req.Amount})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	var resp mutationResponse
	if err := c.do(ctx, op, http.MethodPost, req.AccountID, action, req.Authorization, req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.Account == nil {
		return &Account{ID: ledgerID(req.AccountID)}, nil
	}
	return resp.Account, nil
}

// do issues one request bounded by the client timeout and decodes a 2xx body
// into out. Non-2xx responses and transport failures come back as *Error.
func (c *HTTPClient) do(ctx context.Context, op, method, accountID, action, authorization, idempotencyKey string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/accounts/%s/%s", c.baseURL, url.PathEscape(accountID), action)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		httpReq.Header.Set("Authorization", authorization)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		msg := "transport error"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timed out"
		}
		return &Error{Op: op, AccountID: accountID, Err: ErrUnavailable, Message: fmt.Sprintf("%s: %v", msg, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, AccountID: accountID, Status: resp.StatusCode, Err: ErrUnavailable, Message: "failed to read response"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(op, accountID, resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) > 0 && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			// the mutation was applied; an unreadable body does not undo it
			return nil
		}
	}
	return nil
}

func classify(op, accountID string, status int, raw []byte) *Error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	message := body.Message
	if message == "" {
		message = body.Error
	}
	e := &Error{Op: op, AccountID: accountID, Status: status, Message: message}

	switch strings.ToUpper(body.Code) {
	case "ACCOUNT_NOT_FOUND":
		e.Err = ErrNotFound
		return e
	case "ACCOUNT_INACTIVE":
		e.Err = ErrInactive
		return e
	case "INSUFFICIENT_FUNDS":
		e.Err = ErrInsufficientFunds
		return e
	case "UNAUTHORIZED", "FORBIDDEN":
		e.Err = ErrUnauthorized
		return e
	}

	lower := strings.ToLower(message)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Err = ErrUnauthorized
	case status == http.StatusNotFound:
		if strings.Contains(lower, "inactive") && !strings.Contains(lower, "not found") {
			e.Err = ErrInactive
		} else {
			e.Err = ErrNotFound
		}
	case status == http.StatusConflict || status == http.StatusLocked:
		e.Err = ErrInactive
	case (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && strings.Contains(lower, "insufficient"):
		e.Err = ErrInsufficientFunds
	case status >= 500:
		e.Err = ErrUnavailable
	default:
		e.Err = ErrRejected
	}
	return e
}

func ledgerID(accountID string) models.FlexibleID {
	return models.FlexibleID(accountID)
}
