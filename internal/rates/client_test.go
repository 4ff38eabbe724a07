package rates

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/austindbirch/tml_hook/internal/tenant"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
)

type stubTenants map[int64]tenant.Settings

func (s stubTenants) Lookup(_ context.Context, id int64) (tenant.Settings, error) {
	v, ok := s[id]
	if !ok {
		return tenant.Settings{}, tenant.ErrNotFound
	}
	return v, nil
}

var tenants = stubTenants{
	1: {TenantID: 1, Enabled: true, ClientID: "client-1", ClientSecret: "top-secret"},
	2: {TenantID: 2, Enabled: false, ClientID: "client-2", ClientSecret: "x"},
}

func ratesServer(t *testing.T, status int, body string) (*httptest.Server, *http.Header, *string) {
	t.Helper()
	var gotHeader http.Header
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/carrier/rates" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotHeader, gotBody = r.Header.Clone(), string(b)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gotHeader, &gotBody
}

func newRatesClient(url string) *Client {
	return NewClient(tmlapi.NewClient(), tenants, tmlapi.Resolver{ProdBaseURL: url}, "", nil)
}

func TestQuote(t *testing.T) {
	srv, header, body := ratesServer(t, http.StatusOK, `{"serviceName":"Estándar","serviceCode":"STD","totalPrice":"1520,50"}`)

	got, err := newRatesClient(srv.URL).Quote(context.Background(), 1, 1500, "5000")
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}

	if *body != `{"totalWeightInGrams":1500,"postalCode":"5000"}` {
		t.Errorf("request body = %s", *body)
	}
	h := *header
	if h.Get("X-Provider") != "MAGENTO" || h.Get("X-ClientId") != "client-1" {
		t.Errorf("X-Provider = %q X-ClientId = %q", h.Get("X-Provider"), h.Get("X-ClientId"))
	}
	if sig := h.Get("X-Hmac-Sha256"); sig != "zxXRjfqi/Tkji0xFCKIFYPY/TgxnDQZj5oOrBy6faS4=" {
		t.Errorf("X-Hmac-Sha256 = %q", sig)
	}
	if h.Get("X-EventType") != "" {
		t.Error("rates request carries X-EventType")
	}
	if !got.TotalPrice.Equal(decimal.RequireFromString("1520.5")) || got.ServiceCode != "STD" {
		t.Errorf("Quote() = %+v", got)
	}
}

func TestQuoteFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		tenant int64
		check  func(error) bool
	}{
		{"server error", 500, "boom", 1, func(err error) bool {
			var e *tmlapi.HTTPError
			return errors.As(err, &e) && e.Status == 500
		}},
		{"not an object", 200, `[{"totalPrice":1}]`, 1, func(err error) bool { return errors.Is(err, ErrInvalidResponse) }},
		{"unknown tenant", 200, `{}`, 99, func(err error) bool {
			var e *tmlapi.ConfigError
			return errors.As(err, &e)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := ratesServer(t, tt.status, tt.body)
			_, err := newRatesClient(srv.URL).Quote(context.Background(), tt.tenant, 100, "8300")
			if !tt.check(err) {
				t.Errorf("Quote() error = %v", err)
			}
		})
	}
}
