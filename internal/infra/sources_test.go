package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"percolator_keeper/internal/domain"
)

func TestCoinGeckoSource_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("ids") != "bitcoin" {
			t.Errorf("unexpected ids: %s", r.URL.Query().Get("ids"))
		}
		w.Write([]byte(`{"bitcoin":{"usd":43250.12}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, 5)
	quote, err := src.Quote(context.Background(), "bitcoin")
	if err != nil {
		t.Fatal(err)
	}
	if got := domain.PriceE6FromDecimal(quote); got != 43250120000 {
		t.Errorf("quote = %d micro-USD, want 43250120000", got)
	}
}

func TestCoinGeckoSource_MissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, 5)
	if _, err := src.Quote(context.Background(), "bitcoin"); err == nil {
		t.Error("a missing usd field must be an error, not a zero quote")
	}
}

func TestCoinbaseSource_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/prices/bitcoin-USD/spot" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"amount":"43250.12","currency":"USD"}}`))
	}))
	defer srv.Close()

	src := NewCoinbaseSource(srv.URL, 5)
	quote, err := src.Quote(context.Background(), "bitcoin")
	if err != nil {
		t.Fatal(err)
	}
	if got := domain.PriceE6FromDecimal(quote); got != 43250120000 {
		t.Errorf("quote = %d micro-USD, want 43250120000", got)
	}
}

func TestCoinbaseSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewCoinbaseSource(srv.URL, 5)
	_, err := src.Quote(context.Background(), "bitcoin")
	if err == nil {
		t.Fatal("expected an error on 502")
	}
	if !domain.IsRetriable(err) {
		t.Error("a transient source failure should be retriable")
	}
}
