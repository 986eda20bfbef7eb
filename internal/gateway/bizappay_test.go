package gateway

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newServer(t *testing.T, billBody string, seen *map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("apiKey") != "key-1" {
			_, _ = w.Write([]byte(`{"status":"error","msg":"invalid apiKey"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","token":"tok-1"}`))
	})
	mux.HandleFunc("/api/bill/create", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if seen != nil {
			m := map[string]string{"Authentication": r.Header.Get("Authentication")}
			for k := range r.PostForm {
				m[k] = r.PostForm.Get(k)
			}
			*seen = m
		}
		_, _ = w.Write([]byte(billBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func billRequest() BillRequest {
	return BillRequest{
		OrderID:       "order-1",
		Amount:        decimal.RequireFromString("75"),
		CustomerName:  "Aina",
		CustomerEmail: "aina@example.com",
		CustomerPhone: "0123",
	}
}

func TestCreateBill(t *testing.T) {
	var seen map[string]string
	srv := newServer(t, `{"status":"ok","billCode":" ab12cd ","url":"https://pay.example/ab12cd"}`, &seen)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-1", Category: "cat-9", CallbackURL: "https://shop/cb"})

	bill, err := c.CreateBill(context.Background(), billRequest())
	require.NoError(t, err)
	assert.Equal(t, "ab12cd", bill.Code)
	assert.Equal(t, "https://pay.example/ab12cd", bill.URL)

	assert.Equal(t, "tok-1", seen["Authentication"])
	assert.Equal(t, "75.00", seen["amount"])
	assert.Equal(t, "order-1", seen["ext_reference"])
	assert.Equal(t, "cat-9", seen["category"])
	assert.Equal(t, "https://shop/cb", seen["callback_url"])
	assert.Equal(t, "aina@example.com", seen["payer_email"])
}

func TestCreateBillWithoutURL(t *testing.T) {
	srv := newServer(t, `{"status":"ok","billCode":"ab12cd"}`, nil)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-1"})

	_, err := c.CreateBill(context.Background(), billRequest())
	require.ErrorIs(t, err, ErrNoPaymentURL)
}

func TestCreateBillRejected(t *testing.T) {
	srv := newServer(t, `{"status":"error","msg":"category not found"}`, nil)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-1"})

	_, err := c.CreateBill(context.Background(), billRequest())
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "bill", gerr.Op)
	assert.Contains(t, gerr.Error(), "category not found")
}

func TestCreateBillBadAPIKey(t *testing.T) {
	srv := newServer(t, `{}`, nil)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "wrong"})

	_, err := c.CreateBill(context.Background(), billRequest())
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "token", gerr.Op)
}

func TestCreateBillHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-1"})

	_, err := c.CreateBill(context.Background(), billRequest())
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusServiceUnavailable, gerr.Status)
}

func TestCreateBillValidatesInput(t *testing.T) {
	c := NewClient(Config{APIKey: ""})
	_, err := c.CreateBill(context.Background(), billRequest())
	assert.ErrorContains(t, err, "BIZAPPAY_API_KEY")

	c = NewClient(Config{APIKey: "k"})
	req := billRequest()
	req.Amount = decimal.Zero
	_, err = c.CreateBill(context.Background(), req)
	assert.ErrorContains(t, err, "positive")
}
