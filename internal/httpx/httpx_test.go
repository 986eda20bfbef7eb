package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/shahruladnn-prog/LRC-Course/internal/gateway"
	"github.com/shahruladnn-prog/LRC-Course/internal/memstore"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/shahruladnn-prog/LRC-Course/internal/reconcile"
	"github.com/shahruladnn-prog/LRC-Course/internal/redisx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const adminToken = "s3cret"

type stubPOS struct {
	mu       sync.Mutex
	fail     bool
	receipts int
}

func (s *stubPOS) FindVariantsBySKU(_ context.Context, sku string) ([]pos.Variant, error) {
	return []pos.Variant{{VariantID: "var-" + sku, SKU: sku}}, nil
}

func (s *stubPOS) FindCustomerByEmail(context.Context, string) (*pos.Customer, error) {
	return &pos.Customer{ID: "cust-1"}, nil
}

func (s *stubPOS) CreateCustomer(context.Context, pos.Customer) (*pos.Customer, error) {
	return &pos.Customer{ID: "cust-1"}, nil
}

func (s *stubPOS) CreateReceipt(context.Context, pos.ReceiptRequest) (*pos.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, &pos.APIError{Status: http.StatusServiceUnavailable, Body: "maintenance"}
	}
	s.receipts++
	return &pos.Receipt{ReceiptNumber: "1-1001"}, nil
}

type stubGateway struct {
	bill *gateway.Bill
	err  error
	reqs []gateway.BillRequest
}

func (g *stubGateway) CreateBill(_ context.Context, req gateway.BillRequest) (*gateway.Bill, error) {
	g.reqs = append(g.reqs, req)
	return g.bill, g.err
}

type env struct {
	store   *memstore.Store
	pos     *stubPOS
	gateway *stubGateway
	mr      *miniredis.Miniredis
	router  *chi.Mux
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	st.PutCourse(orders.Course{ID: "kayak", Name: "Kayak Basics", Price: decimal.RequireFromString("37.50"), SKU: "KYK-1", Category: "water"})
	st.PutCourse(orders.Course{ID: "climb", Name: "Climbing", Price: decimal.RequireFromString("20")})
	st.PutSession(orders.Session{ID: "s1", CourseID: "kayak", Date: "2026-11-01", CapacityTotal: 10, CapacityRemaining: 5})
	st.PutSession(orders.Session{ID: "s2", CourseID: "climb", Date: "2026-11-02", CapacityTotal: 10, CapacityRemaining: 10})

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redisx.NewStatusCache(rdb)

	stub := &stubPOS{}
	p := reconcile.NewPipeline(st)
	p.POS = &pos.Syncer{POS: stub, Store: st, StoreID: "store-1", PaymentTypeID: "pt-1"}
	p.Cache = cache
	p.Dedup = redisx.NewDedup(rdb, redisx.ScopeNotify)

	gw := &stubGateway{bill: &gateway.Bill{Code: "BC-1", URL: "https://pay.example/BC-1"}}

	r := NewRouter()
	(&OrdersHandler{Store: st, Cache: cache}).Register(r)
	(&CheckoutHandler{Store: st, Gateway: gw}).Register(r)
	(&WebhookHandler{Pipeline: p}).Register(r)
	(&AdminHandler{Pipeline: p, Store: st, Token: adminToken}).Register(r)

	return &env{store: st, pos: stub, gateway: gw, mr: mr, router: r}
}

func (e *env) do(t *testing.T, method, target string, body io.Reader, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) createOrder(t *testing.T, qty int) string {
	t.Helper()
	body := `{"customer":{"name":"Aina","email":"aina@example.com","phone":"0123"},"items":[{"courseId":"kayak","sessionId":"s1","quantity":` +
		decimal.NewFromInt(int64(qty)).String() + `}]}`
	rec := e.do(t, http.MethodPost, "/orders", strings.NewReader(body), "Content-Type", "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.OrderID
}

func (e *env) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := e.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (e *env) remaining(t *testing.T, id string) int {
	t.Helper()
	s, err := e.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s.CapacityRemaining
}

func TestCreateOrderPricesFromCatalog(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/orders",
		strings.NewReader(`{"customer":{"name":"Aina"},"items":[{"courseId":"kayak","sessionId":"s1","quantity":2}]}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "75.00", resp.TotalAmount)

	o := e.order(t, resp.OrderID)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "Kayak Basics", o.LineItems[0].CourseName)
	assert.Equal(t, "2026-11-01", o.LineItems[0].SessionDate)
}

func TestCreateOrderValidation(t *testing.T) {
	e := newEnv(t)
	cases := map[string]string{
		"bad json":         `{`,
		"no items":         `{"items":[]}`,
		"unknown course":   `{"items":[{"courseId":"nope","sessionId":"s1","quantity":1}]}`,
		"session mismatch": `{"items":[{"courseId":"kayak","sessionId":"s2","quantity":1}]}`,
		"zero quantity":    `{"items":[{"courseId":"kayak","sessionId":"s1","quantity":0}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/orders", strings.NewReader(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestWebhookAmountFallbackSettlesOrder(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 2)

	rec := e.do(t, http.MethodGet, "/webhooks/bizappay?billcode=X1&billstatus=1&billamount=75.00", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	o := e.order(t, id)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.SyncSynced, o.SyncStatus)
	assert.Equal(t, 3, e.remaining(t, "s1"))
	assert.Equal(t, 1, e.pos.receipts)
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 1)

	for _, target := range []string{
		"/webhooks/bizappay?billcode=UNKNOWN&billstatus=1&billamount=999",
		"/webhooks/bizappay?billcode=X&billstatus=3&billamount=37.50",
		"/webhooks/bizappay",
	} {
		rec := e.do(t, http.MethodPost, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
	assert.Equal(t, orders.PaymentPending, e.order(t, id).PaymentStatus)
	assert.Equal(t, 5, e.remaining(t, "s1"))
}

func TestWebhookDuplicateIsIdempotent(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 1)
	require.NoError(t, e.store.SetExternalReference(context.Background(), id, "BC-9"))

	body := "billcode=bc-9&billstatus=1&billamount=37.50"
	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, "/webhooks/bizappay", strings.NewReader(body), "Content-Type", "application/x-www-form-urlencoded")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 4, e.remaining(t, "s1"))
	assert.Equal(t, 1, e.pos.receipts)
	assert.True(t, e.mr.Exists("dedup:notify:bc-9"))
}

func TestWebhookReplayAfterDedupExpiryLeavesOtherOrderPending(t *testing.T) {
	e := newEnv(t)
	first := e.createOrder(t, 1)
	target := "/webhooks/bizappay?billcode=BC-20&billstatus=1&billamount=37.50"

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, target, nil).Code)
	require.Equal(t, orders.PaymentPaid, e.order(t, first).PaymentStatus)
	assert.Equal(t, "BC-20", e.order(t, first).ExternalReference)

	second := e.createOrder(t, 1)
	e.mr.FlushAll()

	rec := e.do(t, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.PaymentPending, e.order(t, second).PaymentStatus)
	assert.Equal(t, 4, e.remaining(t, "s1"))
	assert.Equal(t, 1, e.pos.receipts)
	assert.True(t, e.mr.Exists("dedup:notify:bc-20"))
}

func TestWebhookPOSFailureKeepsPayment(t *testing.T) {
	e := newEnv(t)
	e.pos.fail = true
	id := e.createOrder(t, 1)

	rec := e.do(t, http.MethodGet, "/webhooks/bizappay?billcode=none&billstatus=paid&billamount=37.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	o := e.order(t, id)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.SyncFailed, o.SyncStatus)
	assert.Equal(t, 4, e.remaining(t, "s1"))
}

func TestOrderStatusReadThroughCache(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 1)

	rec := e.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st redisx.OrderStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, orders.PaymentPending, st.PaymentStatus)
	assert.True(t, e.mr.Exists("order_status:"+id))

	e.do(t, http.MethodGet, "/webhooks/bizappay?billstatus=1&billamount=37.50", nil)

	rec = e.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, orders.PaymentPaid, st.PaymentStatus)
	assert.Equal(t, orders.SyncSynced, st.SyncStatus)

	rec = e.do(t, http.MethodGet, "/orders/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutCreatesBillAndStoresReference(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 2)

	body, _ := json.Marshal(map[string]any{"orderId": id, "amount": "75.00", "customerName": "Aina"})
	rec := e.do(t, http.MethodPost, "/checkout/bills", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/BC-1", resp["url"])
	assert.Equal(t, "BC-1", e.order(t, id).ExternalReference)
	require.Len(t, e.gateway.reqs, 1)
	assert.Equal(t, id, e.gateway.reqs[0].OrderID)
	assert.Equal(t, "aina@example.com", e.gateway.reqs[0].CustomerEmail)
}

func TestCheckoutFailures(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 2)

	post := func(amount string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]any{"orderId": id, "amount": amount})
		return e.do(t, http.MethodPost, "/checkout/bills", bytes.NewReader(body))
	}

	assert.Equal(t, http.StatusBadRequest, post("70.00").Code)

	e.gateway.err = &gateway.Error{Op: "bill", Status: 500, Message: "down"}
	rec := post("75.00")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not start payment")

	e.gateway.err = &gateway.Error{Op: "bill", Err: gateway.ErrNoPaymentURL}
	assert.Equal(t, http.StatusInternalServerError, post("75.00").Code)

	e.gateway.err = nil
	e.do(t, http.MethodGet, "/webhooks/bizappay?billstatus=1&billamount=75", nil)
	assert.Equal(t, http.StatusConflict, post("75.00").Code)
}

func TestAdminRequiresToken(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/admin/orders/sync?orderId=x", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/admin/orders/sync?orderId=x", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminManualSync(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 1)
	auth := []string{"Authorization", "Bearer " + adminToken}

	rec := e.do(t, http.MethodGet, "/admin/orders/sync?orderId=nope&amount=37.50", nil, auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Error: ID nope not found.", rec.Body.String())
	assert.Equal(t, orders.PaymentPending, e.order(t, id).PaymentStatus)

	rec = e.do(t, http.MethodGet, "/admin/orders/sync?orderId="+id, nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Successfully updated "+id), rec.Body.String())
	assert.Contains(t, rec.Body.String(), "1-1001")

	rec = e.do(t, http.MethodPost, "/admin/orders/sync?orderId="+id, nil, auth...)
	assert.Equal(t, "Already paid.", rec.Body.String())
	assert.Equal(t, 4, e.remaining(t, "s1"))

	rec = e.do(t, http.MethodGet, "/admin/orders/sync", nil, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPOSRetry(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t, 1)
	auth := []string{"Authorization", "Bearer " + adminToken}

	decode := func(rec *httptest.ResponseRecorder) posSyncResp {
		var r posSyncResp
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
		return r
	}

	rec := e.do(t, http.MethodPost, "/admin/orders/"+id+"/pos-sync", nil, auth...)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.False(t, decode(rec).Success)

	e.pos.fail = true
	e.do(t, http.MethodGet, "/admin/orders/sync?orderId="+id, nil, auth...)
	require.Equal(t, orders.SyncFailed, e.order(t, id).SyncStatus)

	rec = e.do(t, http.MethodPost, "/admin/orders/"+id+"/pos-sync", nil, auth...)
	r := decode(rec)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "receipt")

	e.pos.fail = false
	rec = e.do(t, http.MethodPost, "/admin/orders/"+id+"/pos-sync", nil, auth...)
	r = decode(rec)
	assert.True(t, r.Success)
	assert.Equal(t, "1-1001", r.Receipt)
	assert.Equal(t, orders.SyncSynced, e.order(t, id).SyncStatus)
	assert.Equal(t, orders.PaymentPaid, e.order(t, id).PaymentStatus)

	rec = e.do(t, http.MethodPost, "/admin/orders/missing/pos-sync", nil, auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireBearerDisabledWithoutToken(t *testing.T) {
	h := RequireBearer("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
