// Package gateway creates payment bills on Bizappay. Payment confirmation
// arrives later as an asynchronous callback handled by the ingress package.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://bizappay.my"

// ErrNoPaymentURL is returned when the gateway accepts a bill but reports no redirect URL.
var ErrNoPaymentURL = errors.New("gateway returned no payment url")

// Error is a failed call to the gateway API.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("bizappay %s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("bizappay %s: status %d: %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("bizappay %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	BaseURL     string
	APIKey      string
	Category    string
	ReturnURL   string
	CallbackURL string
	Timeout     time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type BillRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Description   string
}

// Bill is a created payment bill. Code is the external reference that later
// notifications carry as "billcode".
type Bill struct {
	Code string
	URL  string
}

type apiResponse struct {
	Status   string `json:"status"`
	Msg      string `json:"msg"`
	Token    string `json:"token"`
	BillCode string `json:"billCode"`
	Billcode string `json:"billcode"`
	URL      string `json:"url"`
}

func (r apiResponse) ok() bool { return strings.EqualFold(r.Status, "ok") }

// CreateBill fetches an API token and creates a bill whose ext_reference is the order id.
func (c *Client) CreateBill(ctx context.Context, req BillRequest) (*Bill, error) {
	if c.cfg.APIKey == "" {
		return nil, &Error{Op: "token", Message: "BIZAPPAY_API_KEY not set"}
	}
	if !req.Amount.IsPositive() {
		return nil, &Error{Op: "bill", Message: "amount must be positive"}
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	desc := req.Description
	if desc == "" {
		desc = "Booking " + req.OrderID
	}
	form := url.Values{
		"apiKey":           {c.cfg.APIKey},
		"category":         {c.cfg.Category},
		"name":             {desc},
		"amount":           {req.Amount.StringFixed(2)},
		"payer_name":       {req.CustomerName},
		"payer_email":      {req.CustomerEmail},
		"payer_phone":      {req.CustomerPhone},
		"webreturn_url":    {c.cfg.ReturnURL},
		"callback_url":     {c.cfg.CallbackURL},
		"ext_reference":    {req.OrderID},
		"bill_description": {desc},
	}

	var resp apiResponse
	if err := c.post(ctx, "bill", "/api/bill/create", token, form, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &Error{Op: "bill", Message: nonEmpty(resp.Msg, "status "+resp.Status)}
	}

	bill := &Bill{Code: strings.TrimSpace(nonEmpty(resp.BillCode, resp.Billcode)), URL: strings.TrimSpace(resp.URL)}
	if bill.URL == "" {
		return nil, &Error{Op: "bill", Err: ErrNoPaymentURL}
	}
	return bill, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	var resp apiResponse
	if err := c.post(ctx, "token", "/api/token", "", url.Values{"apiKey": {c.cfg.APIKey}}, &resp); err != nil {
		return "", err
	}
	if !resp.ok() || resp.Token == "" {
		return "", &Error{Op: "token", Message: nonEmpty(resp.Msg, "no token returned")}
	}
	return resp.Token, nil
}

func (c *Client) post(ctx context.Context, op, path, token string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authentication", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func nonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
