// Package ingress normalizes payment gateway callbacks. The gateway sends
// the same fields as query parameters, form bodies, JSON or multipart, and
// some multipart bodies arrive without a usable boundary, so a raw pattern
// fallback reads fields straight from the bytes.
package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/reconcile"
	"github.com/shopspring/decimal"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const maxBody = 1 << 20

// Field aliases, most specific first.
var (
	referenceFields = []string{"billcode", "bill_code", "reference"}
	statusFields    = []string{"billstatus", "bill_status", "status"}
	amountFields    = []string{"billamount", "bill_amount", "amount"}
	orderIDFields   = []string{"ext_reference", "order_id", "orderid", "booking_id"}
)

// Notification is the canonical gateway callback.
type Notification struct {
	Reference string
	Status    string
	Paid      bool
	Amount    decimal.NullDecimal
	OrderID   string
	Source    string // query, form, json, multipart, raw
}

// Hint converts the notification into resolver input. The order id hint is
// only as trustworthy as the gateway's echo of ext_reference.
func (n Notification) Hint() reconcile.Hint {
	return reconcile.Hint{OrderID: n.OrderID, Reference: n.Reference, Amount: n.Amount}
}

// IsPaidStatus reports whether a gateway status means success: "1" or "paid".
func IsPaidStatus(s string) bool {
	s = strings.TrimSpace(s)
	return s == "1" || strings.EqualFold(s, "paid")
}

// ParseAmount accepts "75", "75.00", "RM 1,075.50". Anything else is invalid.
func ParseAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.EqualFold(s[:2], "RM") {
		s = strings.TrimSpace(s[2:])
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Parse reads r's query and body into a Notification. Body fields win over
// query fields. It fails only when the body cannot be read.
func Parse(r *http.Request) (*Notification, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("read notification body: %w", err)
		}
		body = b
	}

	fields := map[string]string{}
	source := ""
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			fields[strings.ToLower(k)] = v[0]
			source = "query"
		}
	}

	if len(bytes.TrimSpace(body)) > 0 {
		bodyFields, src := parseBody(r.Header.Get("Content-Type"), body)
		for k, v := range bodyFields {
			fields[k] = v
		}
		if len(bodyFields) > 0 {
			source = src
		}
	}

	n := &Notification{
		Reference: orders.NormalizeReference(lookup(fields, referenceFields)),
		Status:    strings.TrimSpace(lookup(fields, statusFields)),
		Amount:    ParseAmount(lookup(fields, amountFields)),
		OrderID:   strings.TrimSpace(lookup(fields, orderIDFields)),
		Source:    source,
	}
	n.Paid = IsPaidStatus(n.Status)
	return n, nil
}

func lookup(fields map[string]string, names []string) string {
	for _, name := range names {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBody(contentType string, body []byte) (map[string]string, string) {
	mediaType, params, _ := mime.ParseMediaType(contentType)

	switch mediaType {
	case "application/json":
		if f, err := parseJSON(body); err == nil {
			return f, "json"
		}
	case "application/x-www-form-urlencoded":
		if f, err := parseForm(body); err == nil {
			return f, "form"
		}
	case "multipart/form-data":
		if f, err := parseMultipart(body, params["boundary"]); err == nil && len(f) > 0 {
			return f, "multipart"
		}
	default:
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			if f, err := parseJSON(body); err == nil {
				return f, "json"
			}
		}
		if !bytes.Contains(body, []byte("Content-Disposition")) && bytes.Contains(body, []byte("=")) {
			if f, err := parseForm(body); err == nil && len(f) > 0 {
				return f, "form"
			}
		}
	}
	return parseRaw(body), "raw"
}

func parseJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := coerce(v); ok {
			out[strings.ToLower(k)] = s
		}
	}
	return out, nil
}

// coerce turns weakly typed JSON values into strings: 1, "1", true all count.
func coerce(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "1", true
		}
		return "0", true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func parseForm(body []byte) (map[string]string, error) {
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out, nil
}

func parseMultipart(body []byte, boundary string) (map[string]string, error) {
	if boundary == "" {
		return nil, errors.New("multipart without boundary")
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	out := map[string]string{}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		name := p.FormName()
		if name == "" || p.FileName() != "" {
			continue
		}
		v, err := io.ReadAll(io.LimitReader(p, 4096))
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = strings.TrimSpace(string(v))
	}
}

// rawField matches a multipart part header naming a field followed by its
// value line, with CRLF or LF line endings and optional extra part headers.
var rawField = regexp.MustCompile(`(?i)name="?([a-z0-9_]+)"?[^\r\n]*\r?\n(?:[^\r\n]+\r?\n)*\r?\n([^\r\n]*)`)

func parseRaw(body []byte) map[string]string {
	out := map[string]string{}
	for _, m := range rawField.FindAllSubmatch(body, -1) {
		name := strings.ToLower(string(m[1]))
		if _, ok := out[name]; ok {
			continue
		}
		out[name] = strings.TrimSpace(string(m[2]))
	}
	return out
}
