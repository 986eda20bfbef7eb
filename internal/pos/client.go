// Package pos talks to the Loyverse point-of-sale API and propagates paid
// orders to it as sales receipts.
package pos

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
)

const (
	DefaultBaseURL = "https://api.loyverse.com/v1.0"
	maxErrorBody   = 4 << 10
)

// Client is a minimal Loyverse REST client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the POS.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pos api: status %d: %s", e.Status, e.Body)
}

type VariantStore struct {
	StoreID          string `json:"store_id"`
	AvailableForSale bool   `json:"available_for_sale"`
}

type Variant struct {
	ID        string         `json:"id"`
	VariantID string         `json:"variant_id"`
	ItemID    string         `json:"item_id"`
	SKU       string         `json:"sku"`
	DeletedAt string         `json:"deleted_at,omitempty"`
	Stores    []VariantStore `json:"stores,omitempty"`
}

// Ref returns the identifier receipts expect. Older payloads carry "id",
// current ones "variant_id".
func (v Variant) Ref() string {
	if v.VariantID != "" {
		return v.VariantID
	}
	return v.ID
}

// SellableIn reports whether the variant can be sold in storeID. A variant
// without per-store data is treated as sellable everywhere.
func (v Variant) SellableIn(storeID string) bool {
	if v.DeletedAt != "" || v.Ref() == "" {
		return false
	}
	if len(v.Stores) == 0 || storeID == "" {
		return true
	}
	for _, s := range v.Stores {
		if s.StoreID == storeID {
			return s.AvailableForSale
		}
	}
	return false
}

type Customer struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type ReceiptLineItem struct {
	VariantID string  `json:"variant_id"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	LineNote  string  `json:"line_note,omitempty"`
}

type ReceiptPayment struct {
	PaymentTypeID string  `json:"payment_type_id"`
	MoneyAmount   float64 `json:"money_amount"`
}

type ReceiptRequest struct {
	StoreID     string            `json:"store_id"`
	CustomerID  string            `json:"customer_id,omitempty"`
	Order       string            `json:"order,omitempty"`
	Source      string            `json:"source"`
	ReceiptDate string            `json:"receipt_date,omitempty"`
	Note        string            `json:"note,omitempty"`
	LineItems   []ReceiptLineItem `json:"line_items"`
	Payments    []ReceiptPayment  `json:"payments"`
}

type Receipt struct {
	ReceiptNumber string  `json:"receipt_number"`
	Order         string  `json:"order,omitempty"`
	TotalMoney    float64 `json:"total_money"`
}

type StoreInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PaymentType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// FindVariantsBySKU returns every variant the POS lists for sku.
func (c *Client) FindVariantsBySKU(ctx context.Context, sku string) ([]Variant, error) {
	var out struct {
		Variants []Variant `json:"variants"`
	}
	q := url.Values{"sku": {sku}}
	if err := c.do(ctx, http.MethodGet, "/variants?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Variants, nil
}

// FindCustomerByEmail returns nil, nil when no customer has that email.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var out struct {
		Customers []Customer `json:"customers"`
	}
	q := url.Values{"email": {email}}
	if err := c.do(ctx, http.MethodGet, "/customers?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	for _, cu := range out.Customers {
		if strings.EqualFold(cu.Email, email) {
			return &cu, nil
		}
	}
	return nil, nil
}

func (c *Client) CreateCustomer(ctx context.Context, in Customer) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, "/customers", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateReceipt(ctx context.Context, in ReceiptRequest) (*Receipt, error) {
	var out Receipt
	if err := c.do(ctx, http.MethodPost, "/receipts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListStores(ctx context.Context) ([]StoreInfo, error) {
	var out struct {
		Stores []StoreInfo `json:"stores"`
	}
	if err := c.do(ctx, http.MethodGet, "/stores", nil, &out); err != nil {
		return nil, err
	}
	return out.Stores, nil
}

func (c *Client) ListPaymentTypes(ctx context.Context) ([]PaymentType, error) {
	var out struct {
		PaymentTypes []PaymentType `json:"payment_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/payment_types", nil, &out); err != nil {
		return nil, err
	}
	return out.PaymentTypes, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.token == "" {
		return fmt.Errorf("LOYVERSE_TOKEN not set")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
