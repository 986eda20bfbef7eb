package ingress

import (
	"bytes"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func parse(t *testing.T, r *http.Request) *Notification {
	t.Helper()
	n, err := Parse(r)
	require.NoError(t, err)
	return n
}

func assertAmount(t *testing.T, want string, got decimal.NullDecimal) {
	t.Helper()
	require.True(t, got.Valid, "amount not parsed")
	assert.True(t, got.Decimal.Equal(decimal.RequireFromString(want)), "got %s", got.Decimal)
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/webhooks/bizappay?billcode=%20ab12cd.&billstatus=1&billamount=75.00", nil)
	n := parse(t, r)
	assert.Equal(t, "ab12cd", n.Reference)
	assert.True(t, n.Paid)
	assertAmount(t, "75", n.Amount)
	assert.Equal(t, "query", n.Source)
}

func TestParseForm(t *testing.T) {
	body := "billcode=XY99&billstatus=paid&billamount=RM+1%2C075.50&ext_reference=order-7"
	r := httptest.NewRequest(http.MethodPost, "/webhooks/bizappay", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	n := parse(t, r)
	assert.Equal(t, "XY99", n.Reference)
	assert.True(t, n.Paid)
	assertAmount(t, "1075.50", n.Amount)
	assert.Equal(t, "order-7", n.OrderID)
	assert.Equal(t, "form", n.Source)
}

func TestParseJSONCoercesTypes(t *testing.T) {
	body := `{"billCode":"ab12cd","billStatus":1,"billAmount":75}`
	r := httptest.NewRequest(http.MethodPost, "/webhooks/bizappay", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	n := parse(t, r)
	assert.Equal(t, "ab12cd", n.Reference)
	assert.True(t, n.Paid)
	assertAmount(t, "75", n.Amount)
	assert.Equal(t, "json", n.Source)
}

func TestParseMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("billcode", "MP-1 "))
	require.NoError(t, mw.WriteField("billstatus", "1"))
	require.NoError(t, mw.WriteField("billamount", "20.00"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/webhooks/bizappay", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	n := parse(t, r)
	assert.Equal(t, "MP-1", n.Reference)
	assert.True(t, n.Paid)
	assertAmount(t, "20", n.Amount)
	assert.Equal(t, "multipart", n.Source)
}

func TestParseRawFallbackLF(t *testing.T) {
	body := "------x\n" +
		"Content-Disposition: form-data; name=\"BILLCODE\"\n" +
		"\n" +
		"raw-77\n" +
		"------x\n" +
		"Content-Disposition: form-data; name=\"billstatus\"\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"PAID\n" +
		"------x\n" +
		"Content-Disposition: form-data; name=\"billamount\"\n" +
		"\n" +
		"75.00\n" +
		"------x--\n"
	r := httptest.NewRequest(http.MethodPost, "/webhooks/bizappay", strings.NewReader(body))
	r.Header.Set("Content-Type", "multipart/form-data")
	n := parse(t, r)
	assert.Equal(t, "raw-77", n.Reference)
	assert.True(t, n.Paid)
	assertAmount(t, "75", n.Amount)
	assert.Equal(t, "raw", n.Source)
}

func TestParseRawFallbackCRLF(t *testing.T) {
	body := "--b\r\n" +
		"Content-Disposition: form-data; name=\"billcode\"\r\n" +
		"\r\n" +
		"crlf-1\r\n" +
		"--b\r\n" +
		"Content-Disposition: form-data; name=\"billstatus\"\r\n" +
		"\r\n" +
		"1\r\n" +
		"--b--\r\n"
	r := httptest.NewRequest(http.MethodPost, "/webhooks/bizappay", strings.NewReader(body))
	r.Header.Set("Content-Type", "text/plain")
	n := parse(t, r)
	assert.Equal(t, "crlf-1", n.Reference)
	assert.True(t, n.Paid)
	assert.False(t, n.Amount.Valid)
}

func TestBodyWinsOverQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/bizappay?billcode=from-query&billstatus=1", strings.NewReader("billcode=from-body"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	n := parse(t, r)
	assert.Equal(t, "from-body", n.Reference)
	assert.True(t, n.Paid)
}

func TestIsPaidStatus(t *testing.T) {
	for _, s := range []string{"1", " 1 ", "paid", "PAID", "Paid"} {
		assert.True(t, IsPaidStatus(s), s)
	}
	for _, s := range []string{"", "0", "3", "pending", "unpaid", "11"} {
		assert.False(t, IsPaidStatus(s), s)
	}
}

func TestParseAmount(t *testing.T) {
	assertAmount(t, "75", ParseAmount("75.00"))
	assertAmount(t, "1075.5", ParseAmount("RM 1,075.50"))
	assert.False(t, ParseAmount("").Valid)
	assert.False(t, ParseAmount("abc").Valid)
}

func TestHint(t *testing.T) {
	n := Notification{Reference: "R1", OrderID: "o-1", Amount: ParseAmount("5")}
	h := n.Hint()
	assert.Equal(t, "R1", h.Reference)
	assert.Equal(t, "o-1", h.OrderID)
	assert.True(t, h.Amount.Valid)
}
