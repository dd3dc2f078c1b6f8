package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestHTTPFetchMissingBaseURL(t *testing.T) {
	a := NewHTTPAccessor(HTTPOptions{}, noopLogger())
	_, err := a.Fetch(context.Background(), Tweets, "m1", time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("missing base url should return an error")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error should be a *FetchError, got %T", err)
	}
}

func TestHTTPFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream unavailable"})
	}))
	defer srv.Close()

	a := NewHTTPAccessor(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	_, err := a.Fetch(context.Background(), Reviews, "m1", time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("HTTP 502 should return an error")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Stream != Reviews {
		t.Fatalf("error should be a *FetchError for reviews, got %v", err)
	}
}

func TestHTTPFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("stream"); got != "tweets" {
			t.Fatalf("stream query should be tweets, got %s", got)
		}
		if got := r.URL.Query().Get("merchant_id"); got != "m1" {
			t.Fatalf("merchant_id query should be m1, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"documents": []map[string]any{
				{"observed_at": "2026-01-10T00:10:00Z", "polarity": "-0.25"},
				{"observed_at": "2026-01-10T00:40:00Z", "polarity": "0.50"},
			},
		})
	}))
	defer srv.Close()

	a := NewHTTPAccessor(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	docs, err := a.Fetch(context.Background(), Tweets, "m1",
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("successful response should not error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Polarity == nil || !docs[0].Polarity.Equal(decimalFromString(t, "-0.25")) {
		t.Fatalf("first polarity wrong: %#v", docs[0].Polarity)
	}
	if docs[0].Stream != Tweets || docs[0].MerchantID != "m1" {
		t.Fatalf("document identity not filled in: %#v", docs[0])
	}
}

func TestHTTPFetchBadDecimal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"documents": []map[string]any{{"observed_at": "2026-01-10T00:10:00Z", "rating": "five"}},
		})
	}))
	defer srv.Close()

	a := NewHTTPAccessor(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := a.Fetch(context.Background(), Reviews, "m1", time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Fatal("unparseable rating should return an error")
	}
}
